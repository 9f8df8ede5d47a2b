package maildir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/emersion/go-maildir"

	"github.com/infodancer/mailfiler"
	mferrors "github.com/infodancer/mailfiler/errors"
	"github.com/infodancer/mailfiler/message"
)

// MaildirStore implements mailfiler.FolderStore for a single Maildir.
// It uses emersion/go-maildir for low-level maildir operations.
type MaildirStore struct {
	path   string
	create bool

	initMu sync.Mutex
	ready  bool
}

// NewStore creates a MaildirStore for the folder at path. When create is
// set, the folder is created on first use if it does not exist.
func NewStore(path string, create bool) *MaildirStore {
	return &MaildirStore{path: filepath.Clean(path), create: create}
}

// Path implements mailfiler.FolderStore.
func (s *MaildirStore) Path() string {
	return s.path
}

// IsMaildir reports whether path has the new, cur and tmp subdirectories.
func IsMaildir(path string) bool {
	for _, sub := range []string{"new", "cur", "tmp"} {
		fi, err := os.Stat(filepath.Join(path, sub))
		if err != nil || !fi.IsDir() {
			return false
		}
	}
	return true
}

// ensureMaildir ensures the maildir exists, creating it if allowed.
func (s *MaildirStore) ensureMaildir() (maildir.Dir, error) {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	dir := maildir.Dir(s.path)
	if s.ready {
		return dir, nil
	}
	if !IsMaildir(s.path) {
		if !s.create {
			return "", mferrors.ErrFolderNotFound
		}
		// Ensure parent directories exist for nested folder names
		if err := os.MkdirAll(s.path, 0700); err != nil {
			return "", err
		}
		if err := dir.Init(); err != nil {
			return "", err
		}
	}
	s.ready = true
	return dir, nil
}

// fileSyncer is the tmp file writer returned by maildir.Dir.Create.
type fileSyncer interface {
	Sync() error
	Name() string
}

// Test hooks.
var (
	syncFile = func(f fileSyncer) error { return f.Sync() }
	syncDir  = fsyncDir
)

func fsyncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}

// Append implements mailfiler.FolderStore. Unflagged messages are
// delivered to new/; flagged messages go to cur/ carrying their flags in
// the info suffix. The message file and the directory it lands in are
// synced before Append returns.
func (s *MaildirStore) Append(ctx context.Context, msg []byte, flags message.Flags) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.ensureMaildir()
	if err != nil {
		return err
	}

	m, w, err := dir.Create(toMaildirFlags(flags))
	if err != nil {
		return err
	}
	// Closing moves the partial file into cur/; discard it from there.
	discard := func() {
		_ = w.Close()
		_ = os.Remove(m.Filename())
	}
	f, ok := w.(fileSyncer)
	if !ok {
		discard()
		return fmt.Errorf("maildir %s: writer cannot sync", s.path)
	}
	if _, err := w.Write(msg); err != nil {
		discard()
		return err
	}
	if err := syncFile(f); err != nil {
		discard()
		return fmt.Errorf("sync %s: %w", f.Name(), err)
	}
	// Close renames tmp/ into cur/.
	if err := w.Close(); err != nil {
		return err
	}

	dest := filepath.Join(s.path, "cur")
	if flags == 0 {
		// Unflagged mail belongs in new/.
		if err := os.Rename(m.Filename(), filepath.Join(s.path, "new", m.Key())); err != nil {
			return err
		}
		if err := syncDir(dest); err != nil {
			return err
		}
		dest = filepath.Join(s.path, "new")
	}
	return syncDir(dest)
}

func toMaildirFlags(flags message.Flags) []maildir.Flag {
	var out []maildir.Flag
	for _, f := range flags.List() {
		out = append(out, maildir.Flag(f))
	}
	return out
}

func fromMaildirFlags(flags []maildir.Flag) message.Flags {
	var out message.Flags
	for _, f := range flags {
		out.Set(message.Flag(f))
	}
	return out
}

// isMissing reports whether err means the message is not there: a key
// matching no file, or a file removed between lookup and use.
func isMissing(err error) bool {
	var ke *maildir.KeyError
	if errors.As(err, &ke) {
		return ke.N == 0
	}
	return errors.Is(err, fs.ErrNotExist)
}

// Compile-time interface verification.
var _ mailfiler.FolderStore = (*MaildirStore)(nil)
