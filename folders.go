package mailfiler

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/infodancer/mailfiler/errors"
)

// Store type names used by FolderKind.
const (
	KindMaildir = "maildir"
	KindMbox    = "mbox"
)

// FolderKind reports which store type holds path. A directory with
// new/, cur/ and tmp/ (or any path ending in a slash) is a maildir, an
// existing regular file is an mbox, and anything else will be created as
// a maildir.
func FolderKind(path string) string {
	if strings.HasSuffix(path, "/") {
		return KindMaildir
	}
	if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
		return KindMbox
	}
	return KindMaildir
}

// ResolveFolderPath returns the full path of the folder named by a
// folder target. "." is the source folder, "./" and "../" names are
// relative to the working directory, absolute names are used as is and
// everything else is relative to mailRoot and may not escape it.
func ResolveFolderPath(name, mailRoot, source string) (string, error) {
	switch {
	case name == "":
		return "", errors.ErrInvalidPath
	case name == ".":
		if source == "" {
			return "", errors.ErrInvalidPath
		}
		return source, nil
	case filepath.IsAbs(name):
		return keepSlash(name, filepath.Clean(name)), nil
	case strings.HasPrefix(name, "./"), strings.HasPrefix(name, "../"):
		abs, err := filepath.Abs(name)
		if err != nil {
			return "", err
		}
		return keepSlash(name, abs), nil
	}

	if mailRoot == "" {
		return "", errors.ErrInvalidPath
	}
	root := filepath.Clean(mailRoot)
	full := filepath.Join(root, name)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", errors.ErrPathTraversal
	}
	return keepSlash(name, full), nil
}

// keepSlash preserves a trailing slash, which marks a maildir.
func keepSlash(name, path string) string {
	if strings.HasSuffix(name, "/") && !strings.HasSuffix(path, "/") {
		return path + "/"
	}
	return path
}

// FolderResolver opens folder stores by target name and caches them by
// resolved path.
type FolderResolver struct {
	keys KeyProvider

	mu    sync.Mutex
	cache map[string]FolderStore
}

// NewFolderResolver returns a resolver. When keys is non-nil every store
// is wrapped in an EncryptingStore.
func NewFolderResolver(keys KeyProvider) *FolderResolver {
	return &FolderResolver{keys: keys, cache: make(map[string]FolderStore)}
}

// Folder resolves name and returns its store.
func (r *FolderResolver) Folder(name, mailRoot, source string) (FolderStore, error) {
	path, err := ResolveFolderPath(name, mailRoot, source)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSuffix(path, "/")

	r.mu.Lock()
	defer r.mu.Unlock()
	if store, ok := r.cache[key]; ok {
		return store, nil
	}

	store, err := Open(StoreConfig{Type: FolderKind(path), Path: key})
	if err != nil {
		return nil, err
	}
	if r.keys != nil {
		store = NewEncryptingStore(store, r.keys)
	}
	r.cache[key] = store
	return store, nil
}

// Forget drops every cached store.
func (r *FolderResolver) Forget() {
	r.mu.Lock()
	r.cache = make(map[string]FolderStore)
	r.mu.Unlock()
}
