package transport

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infodancer/mailfiler"
	mferrors "github.com/infodancer/mailfiler/errors"
)

// fakeSendmail writes a script that records its arguments and stdin
// under dir and exits with the given status.
func fakeSendmail(t *testing.T, status int) (program, dir string) {
	t.Helper()
	dir = t.TempDir()
	program = filepath.Join(dir, "sendmail")
	script := "#!/bin/sh\n" +
		"printf '%s\\n' \"$@\" > " + filepath.Join(dir, "args") + "\n" +
		"cat > " + filepath.Join(dir, "stdin") + "\n" +
		"echo 'recipient refused' >&2\n" +
		"exit " + strconv.Itoa(status) + "\n"
	require.NoError(t, os.WriteFile(program, []byte(script), 0o755))
	return program, dir
}

func TestSendmailSend(t *testing.T) {
	program, dir := fakeSendmail(t, 0)
	s := NewSendmail(program, nil)

	env := mailfiler.Envelope{From: "me@example.com", Recipients: []string{"a@example.org", "b@example.org"}}
	require.NoError(t, s.Send(context.Background(), env, strings.NewReader(relayMessage)))

	args, err := os.ReadFile(filepath.Join(dir, "args"))
	require.NoError(t, err)
	assert.Equal(t, "-oi\n-f\nme@example.com\n--\na@example.org\nb@example.org\n", string(args))

	stdin, err := os.ReadFile(filepath.Join(dir, "stdin"))
	require.NoError(t, err)
	assert.Equal(t, relayMessage, string(stdin))
}

func TestSendmailNoSender(t *testing.T) {
	program, dir := fakeSendmail(t, 0)
	s := NewSendmail(program, nil)

	env := mailfiler.Envelope{Recipients: []string{"a@example.org"}}
	require.NoError(t, s.Send(context.Background(), env, strings.NewReader(relayMessage)))

	args, err := os.ReadFile(filepath.Join(dir, "args"))
	require.NoError(t, err)
	assert.Equal(t, "-oi\n--\na@example.org\n", string(args))
}

func TestSendmailFailure(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{67, true},
		{75, false},
		{1, false},
	}
	for _, tc := range tests {
		program, _ := fakeSendmail(t, tc.status)
		s := NewSendmail(program, nil)
		err := s.Send(context.Background(), mailfiler.Envelope{Recipients: []string{"a@example.org"}}, strings.NewReader(relayMessage))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "recipient refused")
		assert.Equal(t, tc.permanent, IsPermanentError(err), "status %d", tc.status)
	}
}

func TestSendmailMissingProgram(t *testing.T) {
	s := NewSendmail(filepath.Join(t.TempDir(), "nope"), nil)
	err := s.Send(context.Background(), mailfiler.Envelope{Recipients: []string{"a@example.org"}}, strings.NewReader(relayMessage))
	require.Error(t, err)
	assert.False(t, IsPermanentError(err))

	err = s.Send(context.Background(), mailfiler.Envelope{}, strings.NewReader(relayMessage))
	assert.ErrorIs(t, err, mferrors.ErrNoRecipients)
}
