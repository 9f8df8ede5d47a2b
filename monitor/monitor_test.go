package monitor

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-maildir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mferrors "github.com/infodancer/mailfiler/errors"
	"github.com/infodancer/mailfiler/filer"
	mfmaildir "github.com/infodancer/mailfiler/maildir"
	"github.com/infodancer/mailfiler/rules"

	_ "github.com/infodancer/mailfiler/mbox"
)

type fixture struct {
	root  string
	inbox string
	opts  Options
}

func newFixture(t *testing.T, rulesText string) *fixture {
	t.Helper()
	root := t.TempDir()
	inbox := filepath.Join(root, "inbox")
	require.NoError(t, os.MkdirAll(inbox, 0o700))
	require.NoError(t, maildir.Dir(inbox).Init())
	writeRules(t, filepath.Join(inbox, DefaultRulesName), rulesText)

	return &fixture{
		root:  root,
		inbox: inbox,
		opts: Options{
			Filer: filer.New(filer.Options{Runner: failRunner{}}),
			Env:   rules.Env{"MAILDIR": root},
		},
	}
}

// failRunner fails every command named "false" and accepts the rest.
type failRunner struct{}

func (failRunner) Run(_ context.Context, command string, _ []string, _ io.Reader) error {
	if command == "false" {
		return mferrors.ErrCommandFailed
	}
	return nil
}

func writeRules(t *testing.T, path, text string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(text), 0o600))
	// Make sure a rewrite is seen even within the filesystem's timestamp
	// granularity.
	future := time.Now().Add(time.Duration(len(text)) * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
}

func (fx *fixture) deliver(t *testing.T, subjects ...string) {
	t.Helper()
	store := mfmaildir.NewStore(fx.inbox, false)
	for _, s := range subjects {
		raw := "From: alice@example.com\r\nSubject: " + s + "\r\n\r\nbody\r\n"
		require.NoError(t, store.Append(context.Background(), []byte(raw), 0))
	}
}

func (fx *fixture) monitor(t *testing.T) *Monitor {
	t.Helper()
	m, err := New([]string{"inbox"}, fx.opts)
	require.NoError(t, err)
	return m
}

func count(t *testing.T, path string) int {
	t.Helper()
	n := 0
	for _, sub := range []string{"new", "cur"} {
		entries, err := os.ReadDir(filepath.Join(path, sub))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		require.NoError(t, err)
		n += len(entries)
	}
	return n
}

func TestPassFilesAndRemoves(t *testing.T) {
	fx := newFixture(t, "DEFAULT=unmatched\n=spam . /^FAIL:\n")
	fx.deliver(t, "FAIL: one", "hello", "FAIL: two")

	m := fx.monitor(t)
	stats, err := m.Pass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Filed)
	assert.Equal(t, 0, count(t, fx.inbox))
	assert.Equal(t, 2, count(t, filepath.Join(fx.root, "spam")))
	assert.Equal(t, 1, count(t, filepath.Join(fx.root, "unmatched")))
}

func TestFailedMessagesLurk(t *testing.T) {
	fx := newFixture(t, "spam,|false,S . /^FAIL:\nok . /^hello\n")
	fx.deliver(t, "FAIL: one", "hello")

	m := fx.monitor(t)
	w := m.Folders()[0]
	stats, err := m.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Filed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, w.Lurking())

	// The failed message stays, with its flag change saved.
	msgs, err := maildir.Dir(fx.inbox).Messages()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Flags(), maildir.FlagSeen)

	// Spam got its copy even though the pipe failed.
	assert.Equal(t, 1, count(t, filepath.Join(fx.root, "spam")))

	// Later passes skip the lurker.
	stats, err = m.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Filed+stats.Failed)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, count(t, filepath.Join(fx.root, "spam")))

	w.Flush()
	stats, err = m.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
}

func TestNoRemove(t *testing.T) {
	fx := newFixture(t, "spam . .\n")
	fx.opts.NoRemove = true
	fx.deliver(t, "one")

	m := fx.monitor(t)
	_, err := m.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, fx.inbox))
	assert.Equal(t, 1, count(t, filepath.Join(fx.root, "spam")))

	// Not filed twice.
	_, err = m.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, filepath.Join(fx.root, "spam")))
}

func TestJustOne(t *testing.T) {
	fx := newFixture(t, "spam . .\n")
	fx.opts.JustOne = true
	fx.deliver(t, "one", "two")

	m := fx.monitor(t)
	stats, err := m.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Filed)
	assert.Equal(t, 1, count(t, fx.inbox))
}

func TestDefaultToSourceLeavesMessage(t *testing.T) {
	fx := newFixture(t, "DEFAULT=.\n")
	fx.deliver(t, "stay")

	m := fx.monitor(t)
	_, err := m.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, fx.inbox))
	assert.Equal(t, 1, m.Folders()[0].Lurking())
}

func TestRulesReload(t *testing.T) {
	fx := newFixture(t, "first . .\n")
	m := fx.monitor(t)
	w := m.Folders()[0]

	rs1, err := w.Rules(context.Background())
	require.NoError(t, err)
	rs2, err := w.Rules(context.Background())
	require.NoError(t, err)
	assert.Same(t, rs1, rs2)

	writeRules(t, w.RulesPath(), "second,more . .\n")
	rs3, err := w.Rules(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, rs1, rs3)
	assert.Equal(t, "second", rs3.Rules[0].Targets[0].String())

	// A broken rewrite keeps the last good rules.
	writeRules(t, w.RulesPath(), "broken . /bad(\n")
	rs4, err := w.Rules(context.Background())
	require.NoError(t, err)
	assert.Same(t, rs3, rs4)
}

func TestRulesReloadOnIncludedFile(t *testing.T) {
	fx := newFixture(t, "< shared.rules\n")
	shared := filepath.Join(fx.inbox, "shared.rules")
	writeRules(t, shared, "a . .\n")

	w := fx.monitor(t).Folders()[0]
	rs1, err := w.Rules(context.Background())
	require.NoError(t, err)

	writeRules(t, shared, "bb . .\n")
	rs2, err := w.Rules(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, rs1, rs2)
	assert.Equal(t, "bb", rs2.Rules[0].Targets[0].String())
}

func TestRulesReloadOnWatchedFile(t *testing.T) {
	fx := newFixture(t, "a . .\n")
	groups := filepath.Join(fx.root, "groups.sqlite")
	writeRules(t, groups, "x")
	fx.opts.WatchFiles = []string{groups}

	w := fx.monitor(t).Folders()[0]
	rs1, err := w.Rules(context.Background())
	require.NoError(t, err)

	writeRules(t, groups, "xyz")
	rs2, err := w.Rules(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, rs1, rs2)
}

func TestMissingRulesFails(t *testing.T) {
	fx := newFixture(t, "a . .\n")
	require.NoError(t, os.Remove(filepath.Join(fx.inbox, DefaultRulesName)))
	fx.deliver(t, "one")

	_, err := fx.monitor(t).Pass(context.Background())
	assert.ErrorIs(t, err, mferrors.ErrNoRules)
	assert.Equal(t, 1, count(t, fx.inbox))
}

func TestNewErrors(t *testing.T) {
	_, err := New(nil, Options{})
	assert.ErrorIs(t, err, ErrNoFolders)

	_, err = New([]string{filepath.Join(t.TempDir(), "absent")}, Options{})
	assert.ErrorIs(t, err, mferrors.ErrFolderNotFound)
}

func TestRunStopsOnCancel(t *testing.T) {
	fx := newFixture(t, "spam . .\n")
	fx.opts.Delay = 10 * time.Millisecond
	m := fx.monitor(t)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var runErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = m.Run(ctx)
	}()

	fx.deliver(t, "later")
	require.Eventually(t, func() bool {
		return count(t, filepath.Join(fx.root, "spam")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	wg.Wait()
	assert.NoError(t, runErr)
}

func TestRunSinglePass(t *testing.T) {
	fx := newFixture(t, "spam . .\n")
	fx.deliver(t, "one")
	require.NoError(t, fx.monitor(t).Run(context.Background()))
	assert.Equal(t, 0, count(t, fx.inbox))
}

func TestMalformedMessageLurks(t *testing.T) {
	fx := newFixture(t, "spam . .\n")
	store := mfmaildir.NewStore(fx.inbox, false)
	require.NoError(t, store.Append(context.Background(), []byte("not a header\r\n\r\n"), 0))

	m := fx.monitor(t)
	stats, err := m.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, m.Folders()[0].Lurking())
	assert.Equal(t, 1, count(t, fx.inbox))
}
