package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNoToken is returned when no token is stored for a toolkit.
var ErrNoToken = errors.New("no token stored")

// Token is an OAuth credential for one external toolkit.
type Token struct {
	Toolkit      string    `json:"toolkit"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
	ObtainedAt   time.Time `json:"obtained_at"`
}

// IsExpired reports whether the token is expired (with a 60-second grace margin).
// Tokens without an expiry never expire.
func IsExpired(t *Token, now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return true
	}
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt.Add(-60 * time.Second))
}

// TokenStore keeps encrypted toolkit tokens in a directory.
type TokenStore struct {
	dir string
	key []byte
}

// NewTokenStore opens the token directory, loading the master key.
func NewTokenStore(dir string) (*TokenStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create token dir: %w", err)
	}
	key, err := LoadOrCreateMasterKey(dir)
	if err != nil {
		return nil, fmt.Errorf("load master key: %w", err)
	}
	return &TokenStore{dir: dir, key: key}, nil
}

func (s *TokenStore) path(toolkit string) string {
	return filepath.Join(s.dir, normalizeToolkit(toolkit)+".token")
}

// Save encrypts and writes the token of t.Toolkit.
func (s *TokenStore) Save(t *Token) error {
	if t == nil || strings.TrimSpace(t.Toolkit) == "" {
		return fmt.Errorf("token requires a toolkit")
	}
	t.Toolkit = normalizeToolkit(t.Toolkit)
	if t.ObtainedAt.IsZero() {
		t.ObtainedAt = time.Now()
	}
	plain, err := json.Marshal(t)
	if err != nil {
		return err
	}
	sealed, err := EncryptBlobWithKey(plain, s.key)
	if err != nil {
		return fmt.Errorf("encrypt token for %s: %w", t.Toolkit, err)
	}
	return os.WriteFile(s.path(t.Toolkit), sealed, 0o600)
}

// Load reads and decrypts the token of toolkit.
func (s *TokenStore) Load(toolkit string) (*Token, error) {
	data, err := os.ReadFile(s.path(toolkit))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", toolkit, ErrNoToken)
	}
	if err != nil {
		return nil, fmt.Errorf("load token for %s: %w", toolkit, err)
	}
	plain, err := DecryptBlobWithKey(data, s.key)
	if err != nil {
		return nil, fmt.Errorf("decrypt token for %s: %w", toolkit, err)
	}
	var tok Token
	if err := json.Unmarshal(plain, &tok); err != nil {
		return nil, fmt.Errorf("parse token for %s: %w", toolkit, err)
	}
	return &tok, nil
}

// Delete removes the token of toolkit. Deleting a missing token is not an error.
func (s *TokenStore) Delete(toolkit string) error {
	err := os.Remove(s.path(toolkit))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns the toolkits that have a stored token.
func (s *TokenStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".token"); ok && !e.IsDir() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func normalizeToolkit(toolkit string) string {
	return strings.ToLower(strings.TrimSpace(toolkit))
}
