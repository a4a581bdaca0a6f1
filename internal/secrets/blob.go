// Package secrets stores toolkit OAuth tokens as AES-256-GCM blobs on disk,
// keyed by a master key held in the system keyring.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "butler.toolkits"
	keyringUser    = "master-key"
	keyFileName    = "master.key"
)

type encryptedBlob struct {
	Version    string `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// EncryptBlobWithKey encrypts plain bytes using the given 32-byte AES key.
func EncryptBlobWithKey(plain, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := encryptedBlob{
		Version:    "v1",
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(gcm.Seal(nil, nonce, plain, nil)),
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecryptBlobWithKey decrypts a blob produced by EncryptBlobWithKey.
func DecryptBlobWithKey(data, key []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty encrypted blob")
	}
	var wrapped encryptedBlob
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse encrypted blob: %w", err)
	}
	if wrapped.Version != "v1" {
		return nil, fmt.Errorf("unsupported blob version: %q", wrapped.Version)
	}
	nonce, err := base64.RawStdEncoding.DecodeString(strings.TrimSpace(wrapped.Nonce))
	if err != nil {
		return nil, err
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(strings.TrimSpace(wrapped.Ciphertext))
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// DecodeMasterKey base64-decodes a master key and validates its length (32 bytes).
func DecodeMasterKey(raw string) ([]byte, error) {
	decoded, err := base64.RawStdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if len(decoded) != 32 {
		return nil, fmt.Errorf("invalid master key length: %d", len(decoded))
	}
	return decoded, nil
}

// LoadOrCreateMasterKey returns the master key from the keyring, creating
// one on first use. When no keyring is available the key is kept in
// <dir>/master.key with 0600 permissions.
func LoadOrCreateMasterKey(dir string) ([]byte, error) {
	if val, err := keyring.Get(keyringService, keyringUser); err == nil {
		return DecodeMasterKey(val)
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	encoded := base64.RawStdEncoding.EncodeToString(key)
	if err := keyring.Set(keyringService, keyringUser, encoded); err == nil {
		return key, nil
	}
	return loadOrCreateMasterKeyFile(dir, encoded)
}

func loadOrCreateMasterKeyFile(dir, fresh string) ([]byte, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	keyPath := filepath.Join(dir, keyFileName)
	if data, err := os.ReadFile(keyPath); err == nil {
		return DecodeMasterKey(string(data))
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	if err := os.WriteFile(keyPath, []byte(fresh+"\n"), 0o600); err != nil {
		return nil, err
	}
	return DecodeMasterKey(fresh)
}
