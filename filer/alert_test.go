package filer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mferrors "github.com/infodancer/mailfiler/errors"
	"github.com/infodancer/mailfiler/rules"
)

func TestFormatAlert(t *testing.T) {
	hv := testMessage(t, "From: Bill <Bill@X.com>", "Subject: =?UTF-8?Q?caf=C3=A9?=").View(nil)
	env := rules.Env{"HOST": "box"}

	tests := []struct {
		format string
		labels []string
		want   string
	}{
		{"", nil, "Bill <Bill@X.com>: café"},
		{"{short_from}: {subject}", nil, "bill: café"},
		{"$HOST {label}", []string{"a", "b"}, "box a,b"},
	}
	for _, tc := range tests {
		t.Run(tc.format, func(t *testing.T) {
			assert.Equal(t, tc.want, FormatAlert(tc.format, hv, env, tc.labels))
		})
	}
}

func TestShellRunner(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	r := ShellRunner{}

	err := r.Run(context.Background(), "cat > \"$OUT\"", []string{"OUT=" + out}, strings.NewReader("hello"))
	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	err = r.Run(context.Background(), "echo nope >&2; exit 3", nil, strings.NewReader(""))
	require.Error(t, err)
	assert.ErrorIs(t, err, mferrors.ErrCommandFailed)
	assert.Contains(t, err.Error(), "exit status 3")
	assert.Contains(t, err.Error(), "nope")
}
