// Package mailfiler defines the folder and transport boundaries of the
// mail filer: the stores messages are filed into, the source folders they
// are read from, and the outbound transport used for address targets.
//
// Concrete stores register themselves by type name, in the style of
// database/sql drivers:
//
//	import _ "github.com/infodancer/mailfiler/maildir"
//
//	store, err := mailfiler.Open(mailfiler.StoreConfig{Type: "maildir", Path: dir})
package mailfiler

import (
	"context"
	"io"

	"github.com/infodancer/mailfiler/message"
)

// FolderStore appends messages to one mail folder.
type FolderStore interface {
	// Append writes msg to the folder with the given flags. The message
	// is complete on disk when Append returns without error.
	Append(ctx context.Context, msg []byte, flags message.Flags) error

	// Path returns the folder location.
	Path() string
}

// Source is a folder whose messages are read, filed and then removed.
type Source interface {
	// Path returns the folder location.
	Path() string

	// List returns metadata for every message currently in the folder.
	List(ctx context.Context) ([]MessageInfo, error)

	// Open returns the full message content.
	// The caller is responsible for closing the returned ReadCloser.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// SetFlags replaces the flags of a message.
	SetFlags(ctx context.Context, key string, flags message.Flags) error

	// Remove deletes a message.
	Remove(ctx context.Context, key string) error
}

// MessageInfo contains metadata about a message in a Source.
type MessageInfo struct {
	// Key is the unique identifier for the message within the folder.
	Key string

	// Size is the message size in bytes.
	Size int64

	// Flags are the message flags recorded in the folder.
	Flags message.Flags
}
