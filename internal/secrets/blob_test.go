package secrets

import (
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

func TestEncryptDecryptBlobWithKey_Roundtrip(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	plain := []byte("xoxb-secret")
	encrypted, err := EncryptBlobWithKey(plain, key)
	if err != nil {
		t.Fatalf("EncryptBlobWithKey: %v", err)
	}
	decrypted, err := DecryptBlobWithKey(encrypted, key)
	if err != nil {
		t.Fatalf("DecryptBlobWithKey: %v", err)
	}
	if string(decrypted) != string(plain) {
		t.Fatalf("roundtrip mismatch: got %q, want %q", decrypted, plain)
	}

	other := make([]byte, 32)
	_, _ = rand.Read(other)
	if _, err := DecryptBlobWithKey(encrypted, other); err == nil {
		t.Fatal("expected wrong key to fail")
	}
}

func TestDecryptBlobWithKey_RejectsGarbage(t *testing.T) {
	key := make([]byte, 32)
	if _, err := DecryptBlobWithKey(nil, key); err == nil {
		t.Fatal("expected error for empty blob")
	}
	if _, err := DecryptBlobWithKey([]byte(`{"version":"v9"}`), key); err == nil {
		t.Fatal("expected error for unknown version")
	}
}

func TestTokenStoreRoundTrip(t *testing.T) {
	keyring.MockInit()
	store, err := NewTokenStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewTokenStore: %v", err)
	}

	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if err := store.Save(&Token{Toolkit: "Slack", AccessToken: "xoxb-1", ExpiresAt: exp}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	tok, err := store.Load("slack")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tok.AccessToken != "xoxb-1" || !tok.ExpiresAt.Equal(exp) {
		t.Fatalf("unexpected token: %+v", tok)
	}
	names, _ := store.List()
	if len(names) != 1 || names[0] != "slack" {
		t.Fatalf("unexpected list: %v", names)
	}

	if err := store.Delete("slack"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load("slack"); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
	if err := store.Delete("slack"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
}

func TestTokenStoreFileIsEncrypted(t *testing.T) {
	keyring.MockInit()
	dir := t.TempDir()
	store, err := NewTokenStore(dir)
	if err != nil {
		t.Fatalf("NewTokenStore: %v", err)
	}
	if err := store.Save(&Token{Toolkit: "gmail", AccessToken: "ya29.plain"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "gmail.token"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) == 0 || strings.Contains(string(data), "ya29.plain") {
		t.Fatal("token must not be stored in plaintext")
	}
}

func TestMasterKeyFileFallback(t *testing.T) {
	keyring.MockInitWithError(errors.New("no keyring"))
	dir := t.TempDir()
	k1, err := LoadOrCreateMasterKey(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateMasterKey: %v", err)
	}
	k2, err := LoadOrCreateMasterKey(dir)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if string(k1) != string(k2) {
		t.Fatal("expected the file-backed key to be reused")
	}
	keyring.MockInit()
}

func TestIsExpired(t *testing.T) {
	now := time.Now()
	if !IsExpired(nil, now) {
		t.Fatal("nil token is expired")
	}
	if IsExpired(&Token{AccessToken: "a"}, now) {
		t.Fatal("token without expiry never expires")
	}
	if !IsExpired(&Token{AccessToken: "a", ExpiresAt: now.Add(30 * time.Second)}, now) {
		t.Fatal("token inside the grace window is expired")
	}
	if IsExpired(&Token{AccessToken: "a", ExpiresAt: now.Add(time.Hour)}, now) {
		t.Fatal("fresh token is not expired")
	}
}
