package rules

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infodancer/mailfiler/message"
)

func testMessage(t *testing.T, headers ...string) *message.Message {
	t.Helper()
	raw := strings.Join(headers, "\r\n") + "\r\n\r\nbody\r\n"
	msg, err := message.ParseBytes([]byte(raw))
	require.NoError(t, err)
	return msg
}

func testView(t *testing.T, headers ...string) *message.HeaderView {
	t.Helper()
	return testMessage(t, headers...).View(slog.Default())
}

func mustCondition(t *testing.T, text string) Condition {
	t.Helper()
	c, err := ParseCondition(text)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func TestAddressConditionMatch(t *testing.T) {
	hv := testView(t,
		`From: "Bill" <Bill@Example.com>`,
		"To: someone@lists.example.org, broken<<",
		"Cc: other@elsewhere.net")

	tests := []struct {
		cond string
		want bool
	}{
		{"from:bill@example.com", true},
		{"from:bill@x.com (Bill)", false},
		{"from:@example.com", true},
		{"from:@EXAMPLE.COM", true},
		{"from:@other.com", false},
		{"someone@lists.example.org", true},
		{"other@elsewhere.net", true},
		{"to:other@elsewhere.net", false},
		{"(@elsewhere.net|nobody@x.com)", true},
	}
	for _, tc := range tests {
		t.Run(tc.cond, func(t *testing.T) {
			c := mustCondition(t, tc.cond)
			assert.Equal(t, tc.want, c.Match(hv))
		})
	}
}

func TestAddressConditionGroups(t *testing.T) {
	c := mustCondition(t, "from:(FRIENDS|@work.com)").(*AddressCondition)
	err := c.bindGroups(map[string]message.AddressSet{
		"friends": message.NewAddressSet("alice@example.com"),
	})
	require.NoError(t, err)

	assert.True(t, c.Match(testView(t, "From: Alice <ALICE@example.com>")))
	assert.True(t, c.Match(testView(t, "From: boss@work.com")))
	assert.False(t, c.Match(testView(t, "From: mallory@example.com")))

	unbound := mustCondition(t, "from:ENEMIES").(*AddressCondition)
	assert.Error(t, unbound.bindGroups(map[string]message.AddressSet{}))
}

func TestRegexCondition(t *testing.T) {
	tests := []struct {
		name    string
		cond    string
		headers []string
		want    bool
	}{
		{"default subject", "/^FAIL:", []string{"Subject: FAIL: test"}, true},
		{"unanchored", "/test", []string{"Subject: FAIL: test"}, true},
		{"no match", "/^FAIL:", []string{"Subject: hello"}, false},
		{"missing header", "x-spam:/yes", []string{"Subject: hello"}, false},
		{"any occurrence", "received:/evil\\.example", []string{
			"Received: from good.example",
			"Received: from evil.example",
		}, true},
		{"encoded word", "/^Grüße", []string{"Subject: =?UTF-8?Q?Gr=C3=BC=C3=9Fe?= aus Berlin"}, true},
		{"folded", "/one two", []string{"Subject: one\r\n two"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := mustCondition(t, tc.cond)
			assert.Equal(t, tc.want, c.Match(testView(t, tc.headers...)))
		})
	}
}

func TestFunctionCondition(t *testing.T) {
	hv := testView(t,
		"List-Id: Go Nuts <golang-nuts.googlegroups.com>",
		"Subject: Hello World")

	tests := []struct {
		cond string
		want bool
	}{
		{`list-id.contains("<golang-nuts.googlegroups.com>")`, true},
		{`list-id.contains("<GOLANG-nuts.googlegroups.com>")`, false},
		{`list-id.icontains("<GOLANG-nuts.googlegroups.com>")`, true},
		{`subject.equals("Hello World")`, true},
		{`subject.startswith("Hello")`, true},
		{`subject.endswith("Hello")`, false},
		{`x-missing.contains("")`, false},
	}
	for _, tc := range tests {
		t.Run(tc.cond, func(t *testing.T) {
			c := mustCondition(t, tc.cond)
			assert.Equal(t, tc.want, c.Match(hv))
		})
	}
}

func TestNegationLaw(t *testing.T) {
	views := []*message.HeaderView{
		testView(t, "From: a@example.com", "Subject: FAIL: x"),
		testView(t, "From: b@other.com", "Subject: hello"),
		testView(t, "Subject: no from"),
	}
	conds := []string{
		"from:@example.com",
		"/^FAIL:",
		`subject.contains("hello")`,
		"to:nobody@example.com",
	}
	for _, text := range conds {
		c := mustCondition(t, text)
		n := Not{Cond: c}
		for i, hv := range views {
			assert.Equal(t, !c.Match(hv), n.Match(hv), "%s on view %d", text, i)
		}
	}

	negDot, err := ParseCondition("! .")
	require.NoError(t, err)
	assert.False(t, negDot.Match(views[0]))
}

func TestConditionIdempotent(t *testing.T) {
	hv := testView(t, "From: a@example.com", "Subject: FAIL: x")
	c := mustCondition(t, "from:(@example.com|b@x.com)")
	first := c.Match(hv)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, c.Match(hv))
	}
}

type panicCondition struct{}

func (panicCondition) Match(*message.HeaderView) bool { panic("boom") }
func (panicCondition) String() string                 { return "panic" }
func (panicCondition) condition()                     {}

func TestMatchSafelyRecovers(t *testing.T) {
	hv := testView(t, "Subject: x")
	assert.False(t, matchSafely(panicCondition{}, hv, slog.Default()))

	r := &Rule{Conditions: []Condition{Always{}, panicCondition{}}}
	assert.False(t, r.Match(hv, slog.Default()))
}

func TestNotOfPanickingConditionIsNonMatch(t *testing.T) {
	hv := testView(t, "Subject: x")
	assert.False(t, matchSafely(panicCondition{}, hv, slog.Default()))
	assert.False(t, matchSafely(Not{Cond: panicCondition{}}, hv, slog.Default()))
}
