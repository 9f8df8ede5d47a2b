package message

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infodancer/mailfiler/errors"
)

const sample = "Received: from a.example\r\n" +
	"Received: from b.example\r\n" +
	"From: \"Bill\" <Bill@X.com>\r\n" +
	"To: joe@example.com, \"Smith, Jane\" <jane@example.com>, broken<<\r\n" +
	"Subject: one\r\n two\r\n" +
	"X-Spam-Level: ***\r\n" +
	"Message-Id: <123@x.com>\r\n" +
	"\r\n" +
	"Hello.\r\n"

func parseSample(t *testing.T) *Message {
	t.Helper()
	msg, err := ParseBytes([]byte(sample))
	require.NoError(t, err)
	return msg
}

func TestParseAndBytes(t *testing.T) {
	msg := parseSample(t)
	assert.Equal(t, "Hello.\r\n", string(msg.Body))
	assert.Equal(t, "<123@x.com>", msg.MessageID())

	again, err := ParseBytes(msg.Bytes())
	require.NoError(t, err)
	assert.Equal(t, msg.Body, again.Body)
	assert.Equal(t, msg.Header.Values("Received"), again.Header.Values("Received"))
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse(strings.NewReader("this is not a header\r\n\r\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMalformedMessage)
}

func TestMessageIDMissing(t *testing.T) {
	msg, err := ParseBytes([]byte("Subject: x\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "-", msg.MessageID())
}

func TestCloneIsIndependent(t *testing.T) {
	msg := parseSample(t)
	msg.Flags.Set(FlagSeen)
	c := msg.Clone()
	c.Header.Set("Subject", "changed")
	c.Flags.Set(FlagFlagged)

	assert.NotEqual(t, "changed", msg.Header.Get("Subject"))
	assert.False(t, msg.Flags.Has(FlagFlagged))
	assert.True(t, c.Flags.Has(FlagSeen))
}

func TestSetHeaderValuesKeepsOrder(t *testing.T) {
	msg := parseSample(t)
	msg.SetHeaderValues("received", []string{"first", "second"})
	hv := msg.View(slog.Default())
	assert.Equal(t, []string{"first", "second"}, hv.Values("Received"))

	var buf bytes.Buffer
	require.NoError(t, msg.WriteTo(&buf))
	out := buf.String()
	assert.Less(t, strings.Index(out, "Received: first"), strings.Index(out, "Received: second"))
}

func TestHeaderView(t *testing.T) {
	hv := parseSample(t).View(slog.Default())

	assert.Equal(t, "from b.example", hv.Value("received"))
	assert.Equal(t, []string{"from a.example", "from b.example"}, hv.Values("Received"))
	assert.NotContains(t, hv.Value("Subject"), "\n")
	assert.Contains(t, hv.Value("Subject"), "one")
	assert.Contains(t, hv.Value("Subject"), "two")
	assert.Equal(t, "", hv.Value("X-Missing"))
	assert.True(t, hv.Has("x-spam-level"))
	assert.False(t, hv.Has("cc"))

	to := hv.Addresses("to")
	assert.Equal(t, []CoreAddress{"jane@example.com", "joe@example.com"}, to.Sorted())

	all := hv.Addresses("from", "to", "cc")
	assert.Len(t, all, 3)
	assert.True(t, all.Has("bill@x.com"))

	m := hv.HeaderMap()
	assert.Equal(t, "***", m["x_spam_level"])
	assert.Equal(t, "from b.example", m["received"])
}

func TestHeaderViewDecodesEncodedWords(t *testing.T) {
	msg, err := ParseBytes([]byte("Subject: =?ISO-8859-1?Q?caf=E9?= time\r\n\r\n"))
	require.NoError(t, err)
	hv := msg.View(slog.Default())
	assert.Equal(t, "café time", hv.Text("subject"))
	assert.Equal(t, "=?ISO-8859-1?Q?caf=E9?= time", hv.Value("subject"))
}

func TestVariableName(t *testing.T) {
	assert.Equal(t, "x_spam_level", VariableName("X-Spam-Level"))
	assert.Equal(t, "subject", VariableName("Subject"))
}

func TestCoreAddressRoundTrip(t *testing.T) {
	a, err := ParseCoreAddress("Bill <bill@x.com>")
	require.NoError(t, err)
	b, err := ParseCoreAddress("bill@x.com (Bill)")
	require.NoError(t, err)
	c, err := ParseCoreAddress("BILL@X.COM")
	require.NoError(t, err)

	assert.Equal(t, CoreAddress("bill@x.com"), a)
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
	assert.Equal(t, "x.com", a.Domain())
	assert.Equal(t, "bill", a.LocalPart())
}

func TestParseCoreAddressList(t *testing.T) {
	addrs, bad := ParseCoreAddressList(`a@x.com, "Doe, John" <john@y.com>, bad@@x, c@z.com (C, the third)`)
	assert.Equal(t, []CoreAddress{"a@x.com", "john@y.com", "c@z.com"}, addrs)
	assert.Equal(t, []string{" bad@@x"}, bad)

	addrs, bad = ParseCoreAddressList("   ")
	assert.Empty(t, addrs)
	assert.Empty(t, bad)
}

func TestAddressSet(t *testing.T) {
	s := NewAddressSet("a@x.com", "b@x.com")
	other := NewAddressSet("c@x.com")
	assert.False(t, s.Intersects(other))
	other.Add("b@x.com")
	assert.True(t, s.Intersects(other))
	s.Merge(other)
	assert.Equal(t, []CoreAddress{"a@x.com", "b@x.com", "c@x.com"}, s.Sorted())
}

func TestFlags(t *testing.T) {
	var fs Flags
	fs.Set(FlagSeen)
	fs.Set(FlagDraft)
	fs.Set(FlagSeen)
	assert.True(t, fs.Has(FlagSeen))
	assert.False(t, fs.Has(FlagTrashed))
	assert.Equal(t, "DS", fs.String())
	assert.Equal(t, []Flag{FlagDraft, FlagSeen}, fs.List())

	fs.Clear(FlagDraft)
	assert.Equal(t, "S", fs.String())
	assert.Equal(t, FlagsOf(FlagSeen), fs)

	f, err := ParseFlag("R")
	require.NoError(t, err)
	assert.Equal(t, FlagReplied, f)
	assert.Equal(t, "replied", f.Name())

	_, err = ParseFlag("x")
	assert.Error(t, err)
}
