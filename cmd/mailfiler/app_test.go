package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infodancer/mailfiler/config"
	"github.com/infodancer/mailfiler/transport"
)

func testApp(t *testing.T) *app {
	t.Helper()
	root := t.TempDir()
	cfg := config.NewDefault()
	cfg.Maildirs.Root = root
	cfg.MailDB.Path = filepath.Join(root, "maildb")
	return &app{cfg: cfg, logger: slog.Default()}
}

func TestAppEnv(t *testing.T) {
	t.Setenv("MAILFILER_TEST", "yes")
	a := testApp(t)
	a.cfg.Filer.Operator = "me@example.com"

	env := a.env()
	assert.Equal(t, a.cfg.Maildirs.Root, env["MAILDIR"])
	assert.Equal(t, a.cfg.MailDB.Path, env["MAILDB"])
	assert.Equal(t, "me@example.com", env["EMAIL"])
	assert.Equal(t, "yes", env["MAILFILER_TEST"])
}

func TestAppRulesPath(t *testing.T) {
	a := testApp(t)
	root := a.cfg.Maildirs.Root

	assert.Equal(t, filepath.Join(root, ".rules"), a.rulesPath(""))
	assert.Equal(t, "/etc/rules", a.rulesPath("/etc/rules"))

	a.cfg.Filer.RulesPath = "filter.rules"
	assert.Equal(t, filepath.Join(root, "filter.rules"), a.rulesPath(""))
}

func TestAppWatchFiles(t *testing.T) {
	a := testApp(t)
	p := a.cfg.MailDB.Path
	assert.Equal(t, []string{p, p + "-wal"}, a.watchFiles())

	a.cfg.MailDB.Path = ""
	assert.Empty(t, a.watchFiles())
}

func TestAppTransport(t *testing.T) {
	a := testApp(t)
	assert.IsType(t, &transport.Sendmail{}, a.transport())

	a.cfg.SMTP.Addr = "localhost:25"
	assert.IsType(t, &transport.SMTP{}, a.transport())
}

func TestCheckCommand(t *testing.T) {
	a := testApp(t)
	path := filepath.Join(a.cfg.Maildirs.Root, ".rules")
	require.NoError(t, os.WriteFile(path, []byte("DEFAULT=inbox\n=spam . /^FAIL:\n"), 0o600))

	cmd := checkCmd(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"-q"})
	cmd.SetContext(context.Background())
	require.NoError(t, cmd.Execute())
	t.Cleanup(a.close)

	assert.Equal(t, "2 rules from 1 files, 0 groups\n", out.String())
}

func TestFileCommand(t *testing.T) {
	a := testApp(t)
	root := a.cfg.Maildirs.Root
	require.NoError(t, os.WriteFile(filepath.Join(root, ".rules"), []byte("spam . /^FAIL:\n"), 0o600))
	msgPath := filepath.Join(t.TempDir(), "msg")
	require.NoError(t, os.WriteFile(msgPath, []byte("Subject: FAIL: x\r\n\r\nbody\r\n"), 0o600))

	cmd := fileCmd(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{msgPath})
	cmd.SetContext(context.Background())
	require.NoError(t, cmd.Execute())
	t.Cleanup(a.close)

	assert.True(t, strings.HasPrefix(out.String(), "OK folder "+filepath.Join(root, "spam")), out.String())
	entries, err := os.ReadDir(filepath.Join(root, "spam", "new"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGroupsCommands(t *testing.T) {
	a := testApp(t)
	t.Cleanup(a.close)
	run := func(args ...string) string {
		t.Helper()
		cmd := groupsCmd(a)
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs(args)
		cmd.SetContext(context.Background())
		require.NoError(t, cmd.Execute())
		return out.String()
	}

	run("add", "friends", "Alice <alice@example.com>", "bob@example.com")
	assert.Equal(t, "alice@example.com\nbob@example.com\n", run("show", "friends"))
	assert.Equal(t, "friends\t2\n", run())
	assert.Equal(t, "friends\n", run("of", "BOB@example.com"))

	run("remove", "friends", "bob@example.com")
	assert.Equal(t, "alice@example.com\n", run("show", "friends"))

	run("delete", "friends")
	assert.Equal(t, "", run())
}
