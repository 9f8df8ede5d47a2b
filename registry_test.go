package mailfiler_test

import (
	"errors"
	"testing"

	"github.com/infodancer/mailfiler"
	mferrors "github.com/infodancer/mailfiler/errors"

	// Import stores to trigger registration
	_ "github.com/infodancer/mailfiler/maildir"
	_ "github.com/infodancer/mailfiler/mbox"
)

func TestRegisteredTypes(t *testing.T) {
	types := mailfiler.RegisteredTypes()
	want := []string{"maildir", "mbox"}
	if len(types) != len(want) {
		t.Fatalf("RegisteredTypes = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("RegisteredTypes = %v, want %v", types, want)
		}
	}
}

func TestOpen(t *testing.T) {
	for _, typ := range []string{"maildir", "mbox"} {
		store, err := mailfiler.Open(mailfiler.StoreConfig{
			Type: typ,
			Path: t.TempDir(),
		})
		if err != nil {
			t.Fatalf("Open(%s) failed: %v", typ, err)
		}
		if store == nil {
			t.Fatalf("Open(%s) returned nil store", typ)
		}
	}
}

func TestOpenUnregistered(t *testing.T) {
	_, err := mailfiler.Open(mailfiler.StoreConfig{
		Type: "nonexistent",
		Path: "/tmp",
	})
	if !errors.Is(err, mferrors.ErrStoreNotRegistered) {
		t.Fatalf("expected ErrStoreNotRegistered, got %v", err)
	}
}

func TestOpenInvalidConfig(t *testing.T) {
	for _, typ := range []string{"maildir", "mbox"} {
		_, err := mailfiler.Open(mailfiler.StoreConfig{Type: typ})
		if !errors.Is(err, mferrors.ErrStoreConfigInvalid) {
			t.Fatalf("Open(%s) with empty path: expected ErrStoreConfigInvalid, got %v", typ, err)
		}
	}
}

func TestRegisterPanics(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		factory mailfiler.StoreFactory
	}{
		{"empty name", "", func(mailfiler.StoreConfig) (mailfiler.FolderStore, error) { return nil, nil }},
		{"nil factory", "other", nil},
		{"duplicate", "maildir", func(mailfiler.StoreConfig) (mailfiler.FolderStore, error) { return nil, nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatal("expected panic")
				}
			}()
			mailfiler.Register(tt.typ, tt.factory)
		})
	}
}
