package mailfiler

import (
	"context"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"

	"github.com/infodancer/mailfiler/message"
)

const (
	// EncryptionAlgorithm is the algorithm identifier for encrypted messages.
	EncryptionAlgorithm = "x25519-xsalsa20-poly1305"

	// PublicKeySize is the size of an X25519 public key.
	PublicKeySize = 32

	// NonceSize is the size of the NaCl box nonce.
	NonceSize = 24
)

// EncryptingStore wraps a FolderStore to encrypt messages before they are
// appended. It uses the KeyProvider to look up the folder's public key.
// Messages are sealed with NaCl box (X25519 + XSalsa20-Poly1305) using a
// fresh ephemeral key per message.
type EncryptingStore struct {
	underlying  FolderStore
	keyProvider KeyProvider
}

// NewEncryptingStore creates a new encrypting store around underlying.
func NewEncryptingStore(underlying FolderStore, keyProvider KeyProvider) *EncryptingStore {
	return &EncryptingStore{
		underlying:  underlying,
		keyProvider: keyProvider,
	}
}

// Path returns the wrapped folder location.
func (e *EncryptingStore) Path() string {
	return e.underlying.Path()
}

// Append encrypts msg when the folder has encryption enabled and appends it.
// Folders without encryption receive the plaintext. A folder that has
// encryption enabled but no usable key fails the append rather than
// writing plaintext.
func (e *EncryptingStore) Append(ctx context.Context, msg []byte, flags message.Flags) error {
	folder := e.underlying.Path()

	hasEncryption, err := e.keyProvider.HasEncryption(ctx, folder)
	if err != nil {
		return fmt.Errorf("encryption status for %s: %w", folder, err)
	}
	if !hasEncryption {
		return e.underlying.Append(ctx, msg, flags)
	}

	pubKey, err := e.keyProvider.GetPublicKey(ctx, folder)
	if err != nil {
		return fmt.Errorf("public key for %s: %w", folder, err)
	}

	encrypted, err := encryptMessage(msg, pubKey)
	if err != nil {
		return fmt.Errorf("encrypt for %s: %w", folder, err)
	}
	return e.underlying.Append(ctx, encrypted, flags)
}

// encryptMessage encrypts message data using NaCl box with an ephemeral key pair.
// Returns: ephemeral_public_key (32B) || nonce (24B) || ciphertext
func encryptMessage(message []byte, recipientPubKey []byte) ([]byte, error) {
	if len(recipientPubKey) != PublicKeySize {
		return nil, fmt.Errorf("invalid recipient public key size: %d", len(recipientPubKey))
	}

	ephemeralPub, ephemeralPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}

	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	var recipientKey [PublicKeySize]byte
	copy(recipientKey[:], recipientPubKey)

	ciphertext := box.Seal(nil, message, &nonce, &recipientKey, ephemeralPriv)

	result := make([]byte, PublicKeySize+NonceSize+len(ciphertext))
	copy(result[:PublicKeySize], ephemeralPub[:])
	copy(result[PublicKeySize:PublicKeySize+NonceSize], nonce[:])
	copy(result[PublicKeySize+NonceSize:], ciphertext)

	return result, nil
}

// DecryptMessage decrypts a filed message using the folder's private key.
// Input format: ephemeral_public_key (32B) || nonce (24B) || ciphertext
func DecryptMessage(encryptedData []byte, privateKey []byte) ([]byte, error) {
	if len(privateKey) != PublicKeySize {
		return nil, fmt.Errorf("invalid private key size: %d", len(privateKey))
	}

	minSize := PublicKeySize + NonceSize + box.Overhead
	if len(encryptedData) < minSize {
		return nil, fmt.Errorf("encrypted data too short: %d < %d", len(encryptedData), minSize)
	}

	var ephemeralPub [PublicKeySize]byte
	copy(ephemeralPub[:], encryptedData[:PublicKeySize])

	var nonce [NonceSize]byte
	copy(nonce[:], encryptedData[PublicKeySize:PublicKeySize+NonceSize])

	ciphertext := encryptedData[PublicKeySize+NonceSize:]

	var privKey [PublicKeySize]byte
	copy(privKey[:], privateKey)

	plaintext, ok := box.Open(nil, ciphertext, &nonce, &ephemeralPub, &privKey)
	if !ok {
		return nil, fmt.Errorf("decryption failed")
	}

	return plaintext, nil
}

// Compile-time interface verification.
var _ FolderStore = (*EncryptingStore)(nil)
