package maildir

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/emersion/go-maildir"

	"github.com/infodancer/mailfiler"
	mferrors "github.com/infodancer/mailfiler/errors"
	"github.com/infodancer/mailfiler/message"
)

// Source implements mailfiler.Source over an existing Maildir.
type Source struct {
	path string
	dir  maildir.Dir
}

// NewSource opens the Maildir at path for scanning. The folder must exist.
func NewSource(path string) (*Source, error) {
	path = filepath.Clean(path)
	if !IsMaildir(path) {
		return nil, fmt.Errorf("%w: %s", mferrors.ErrFolderNotFound, path)
	}
	return &Source{path: path, dir: maildir.Dir(path)}, nil
}

// Path implements mailfiler.Source.
func (s *Source) Path() string {
	return s.path
}

// List implements mailfiler.Source. Messages waiting in new/ are moved to
// cur/ first, so keys stay stable while they are filed.
func (s *Source) List(ctx context.Context) ([]mailfiler.MessageInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Unseen() moves messages from new/ to cur/
	if _, err := s.dir.Unseen(); err != nil {
		return nil, err
	}
	msgs, err := s.dir.Messages()
	if err != nil {
		return nil, err
	}

	infos := make([]mailfiler.MessageInfo, 0, len(msgs))
	for _, msg := range msgs {
		fi, err := os.Stat(msg.Filename())
		if err != nil {
			continue // Removed underneath us
		}
		infos = append(infos, mailfiler.MessageInfo{
			Key:   msg.Key(),
			Size:  fi.Size(),
			Flags: fromMaildirFlags(msg.Flags()),
		})
	}
	return infos, nil
}

func (s *Source) message(key string) (*maildir.Message, error) {
	msg, err := s.dir.MessageByKey(key)
	if err != nil {
		if isMissing(err) {
			return nil, fmt.Errorf("%w: %s", mferrors.ErrMessageNotFound, key)
		}
		return nil, err
	}
	return msg, nil
}

// Open implements mailfiler.Source.
func (s *Source) Open(_ context.Context, key string) (io.ReadCloser, error) {
	msg, err := s.message(key)
	if err != nil {
		return nil, err
	}
	return msg.Open()
}

// SetFlags implements mailfiler.Source.
func (s *Source) SetFlags(_ context.Context, key string, flags message.Flags) error {
	msg, err := s.message(key)
	if err != nil {
		return err
	}
	return msg.SetFlags(toMaildirFlags(flags))
}

// Remove implements mailfiler.Source. Removing a message that is already
// gone is not an error.
func (s *Source) Remove(_ context.Context, key string) error {
	msg, err := s.dir.MessageByKey(key)
	if err != nil {
		if isMissing(err) {
			return nil
		}
		return err
	}
	if err := msg.Remove(); err != nil && !isMissing(err) {
		return err
	}
	return nil
}

// Compile-time interface verification.
var _ mailfiler.Source = (*Source)(nil)
