package mailfiler

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/infodancer/mailfiler/errors"
)

// KeyProvider retrieves public keys for folder encryption.
// Used by EncryptingStore to encrypt messages before they are written.
type KeyProvider interface {
	// HasEncryption reports whether messages filed into folder are encrypted.
	HasEncryption(ctx context.Context, folder string) (bool, error)

	// GetPublicKey returns the public key for encrypting messages to a folder.
	// Returns an error if no key is available for the folder.
	GetPublicKey(ctx context.Context, folder string) ([]byte, error)
}

// KeyFileProvider maps folder paths to key files. A key file holds a
// 32-byte X25519 public key, either raw or base64 encoded.
// Keys are read on first use and cached.
type KeyFileProvider struct {
	files map[string]string

	mu    sync.Mutex
	cache map[string][]byte
}

// NewKeyFileProvider returns a provider for the given folder → key file
// mapping. Folder paths are cleaned before lookup.
func NewKeyFileProvider(files map[string]string) *KeyFileProvider {
	cleaned := make(map[string]string, len(files))
	for folder, file := range files {
		cleaned[filepath.Clean(folder)] = file
	}
	return &KeyFileProvider{files: cleaned, cache: make(map[string][]byte)}
}

func (p *KeyFileProvider) HasEncryption(_ context.Context, folder string) (bool, error) {
	_, ok := p.files[filepath.Clean(folder)]
	return ok, nil
}

func (p *KeyFileProvider) GetPublicKey(_ context.Context, folder string) ([]byte, error) {
	folder = filepath.Clean(folder)
	file, ok := p.files[folder]
	if !ok {
		return nil, errors.ErrKeyNotFound
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if key, ok := p.cache[folder]; ok {
		return key, nil
	}

	key, err := ReadPublicKey(file)
	if err != nil {
		return nil, err
	}
	p.cache[folder] = key
	return key, nil
}

// ReadPublicKey reads a public key file.
func ReadPublicKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", path, err)
	}
	if len(data) == PublicKeySize {
		return data, nil
	}
	key, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil || len(key) != PublicKeySize {
		return nil, fmt.Errorf("%s: %w", path, errors.ErrInvalidKeyFormat)
	}
	return key, nil
}

// Compile-time interface verification.
var _ KeyProvider = (*KeyFileProvider)(nil)
