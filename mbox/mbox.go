// Package mbox provides an append-only mbox folder store.
//
// Each Append takes an exclusive flock on the mbox file, writes one
// "From "-separated message with go-mbox, and syncs the file before the
// lock is released. The package registers itself under the name "mbox".
package mbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/emersion/go-mbox"
	"golang.org/x/sys/unix"

	"github.com/infodancer/mailfiler"
	mferrors "github.com/infodancer/mailfiler/errors"
	"github.com/infodancer/mailfiler/message"
)

const (
	defaultSender = "MAILER-DAEMON"
	lockRetry     = 50 * time.Millisecond
)

func init() {
	mailfiler.Register("mbox", func(config mailfiler.StoreConfig) (mailfiler.FolderStore, error) {
		if config.Path == "" {
			return nil, mferrors.ErrStoreConfigInvalid
		}
		return NewStore(config.Path), nil
	})
}

// Store appends messages to a single mbox file.
type Store struct {
	path string
	now  func() time.Time
}

// NewStore returns a Store for the mbox file at path. The file is created
// on first append.
func NewStore(path string) *Store {
	return &Store{path: filepath.Clean(path), now: time.Now}
}

// Path implements mailfiler.FolderStore.
func (s *Store) Path() string {
	return s.path
}

// IsMbox reports whether path is an existing regular file.
func IsMbox(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// Append implements mailfiler.FolderStore. Flags are not recorded in
// mbox folders.
func (s *Store) Append(ctx context.Context, msg []byte, _ message.Flags) (err error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := lock(ctx, f); err != nil {
		return fmt.Errorf("%s: %w", s.path, err)
	}
	defer func() { _ = unix.Flock(int(f.Fd()), unix.LOCK_UN) }()

	w := mbox.NewWriter(f)
	mw, err := w.CreateMessage(envelopeSender(msg), s.now())
	if err != nil {
		return err
	}
	if _, err := mw.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return f.Sync()
}

// lock takes an exclusive flock, polling until ctx is done.
func lock(ctx context.Context, f *os.File) error {
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			return err
		}
		select {
		case <-ctx.Done():
			return mferrors.ErrFolderLocked
		case <-time.After(lockRetry):
		}
	}
}

// envelopeSender picks the address for the "From " separator line:
// Return-Path, then From, then MAILER-DAEMON.
func envelopeSender(raw []byte) string {
	msg, err := message.ParseBytes(raw)
	if err != nil {
		return defaultSender
	}
	hv := msg.View(nil)
	for _, h := range []string{"return-path", "from"} {
		if addrs := hv.Addresses(h).Sorted(); len(addrs) > 0 {
			return string(addrs[0])
		}
	}
	return defaultSender
}

// Compile-time interface verification.
var _ mailfiler.FolderStore = (*Store)(nil)
