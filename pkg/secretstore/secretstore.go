// Package secretstore manages the local symmetric master key and the
// encryption of credential fields at rest. Ciphertexts are
// base64(nonce|ciphertext) under AES-256-GCM.
package secretstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const keySize = 32

// EnvMasterKey overrides the on-disk key file when set (base64 or hex, 32 bytes).
const EnvMasterKey = "BINANCE_VAULT_MASTER_KEY"

// DecryptionError signals a ciphertext that is corrupt or was produced under a
// different key. Losing the key file makes every stored secret unrecoverable,
// so callers must surface this instead of swallowing it.
type DecryptionError struct {
	Cause error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("secretstore: decryption failed: %v", e.Cause)
}

func (e *DecryptionError) Unwrap() error { return e.Cause }

// Store encrypts and decrypts strings under one process-wide key.
type Store struct {
	key []byte
}

// Open loads the key from keyPath, creating a fresh random key (owner-only
// permissions) on first use. BINANCE_VAULT_MASTER_KEY takes precedence over
// the file when set.
func Open(keyPath string) (*Store, error) {
	if raw := strings.TrimSpace(os.Getenv(EnvMasterKey)); raw != "" {
		key, err := ParseKey(raw)
		if err != nil {
			return nil, fmt.Errorf("secretstore: %s: %w", EnvMasterKey, err)
		}
		return &Store{key: key}, nil
	}
	key, err := getOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}
	return &Store{key: key}, nil
}

// NewWithKey builds a store around an explicit 32-byte key. Used by tests and
// by callers that manage key material themselves.
func NewWithKey(key []byte) (*Store, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("secretstore: key length must be %d, got %d", keySize, len(key))
	}
	return &Store{key: append([]byte(nil), key...)}, nil
}

func getOrCreateKey(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err == nil {
		if len(b) != keySize {
			return nil, fmt.Errorf("secretstore: key file %s has %d bytes, want %d", path, len(b), keySize)
		}
		return b, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("secretstore: read key file %s: %w", path, err)
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	// 0600 from the start: the key must never be readable by other users.
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("secretstore: write key file %s: %w", path, err)
	}
	return key, nil
}

// Encrypt returns base64(nonce|ciphertext) for the given plaintext.
func (s *Store) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ct := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, ct...)), nil
}

// Decrypt reverses Encrypt. Corrupt input or a foreign key yields *DecryptionError.
func (s *Store) Decrypt(enc string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(enc))
	if err != nil {
		return "", &DecryptionError{Cause: err}
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", &DecryptionError{Cause: errors.New("ciphertext too short")}
	}
	nonce, ct := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", &DecryptionError{Cause: err}
	}
	return string(pt), nil
}

// ParseKey expects 32 bytes (base64 or hex, optional 0x prefix).
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("key is empty")
	}
	rawHex := strings.TrimPrefix(raw, "0x")
	if b, err := hex.DecodeString(rawHex); err == nil {
		if len(b) != keySize {
			return nil, fmt.Errorf("decoded key length must be %d, got %d", keySize, len(b))
		}
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if len(b) != keySize {
			return nil, fmt.Errorf("decoded key length must be %d, got %d", keySize, len(b))
		}
		return b, nil
	}
	return nil, errors.New("key must be base64(32 bytes) or hex(32 bytes)")
}
