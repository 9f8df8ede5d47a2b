package mailfiler

import (
	"maps"
	"slices"
	"sync"

	"github.com/infodancer/mailfiler/errors"
)

// StoreFactory opens the folder a StoreConfig describes.
type StoreFactory func(config StoreConfig) (FolderStore, error)

// StoreConfig selects a folder format and location.
type StoreConfig struct {
	// Type is a registered format name: "maildir" or "mbox".
	Type string
	Path string
	// Options holds format-specific settings, such as "create".
	Options map[string]string
}

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]StoreFactory)
)

// Register makes a folder format available to Open. Formats register
// from an init function; registering an empty name, a nil factory or
// the same name twice panics.
func Register(name string, factory StoreFactory) {
	switch {
	case name == "":
		panic("mailfiler: Register with empty format name")
	case factory == nil:
		panic("mailfiler: Register with nil factory for " + name)
	}

	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[name]; dup {
		panic("mailfiler: format registered twice: " + name)
	}
	factories[name] = factory
}

// Open opens a folder with the factory registered for config.Type.
func Open(config StoreConfig) (FolderStore, error) {
	factoriesMu.RLock()
	factory := factories[config.Type]
	factoriesMu.RUnlock()

	if factory == nil {
		return nil, errors.ErrStoreNotRegistered
	}
	return factory(config)
}

// RegisteredTypes returns the registered format names, sorted.
func RegisteredTypes() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	return slices.Sorted(maps.Keys(factories))
}
