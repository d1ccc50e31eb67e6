package identity

import (
	"os"
	"path/filepath"
	"testing"
)

func writeKey(t *testing.T, content string) string {
	t.Helper()
	home := t.TempDir()
	if err := os.MkdirAll(filepath.Join(home, ".ssh"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, ed25519PubKeyFile), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return home
}

func TestEd25519PubKey(t *testing.T) {
	home := writeKey(t, "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIExample user@host\n")
	key, err := Ed25519PubKey(home)
	if err != nil {
		t.Fatal(err)
	}
	if key != "AAAAC3NzaC1lZDI1NTE5AAAAIExample" {
		t.Fatalf("got %q", key)
	}
}

func TestEd25519PubKeyInvalid(t *testing.T) {
	home := writeKey(t, "ssh-rsa AAAAB3NzaC1yc2E user@host\n")
	if _, err := Ed25519PubKey(home); err != errInvalidKey {
		t.Fatalf("got %v, want %v", err, errInvalidKey)
	}
	if _, err := Ed25519PubKey(t.TempDir()); err == nil {
		t.Fatal("missing key should be an error")
	}
}

func TestSenderIDFallback(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if id := SenderID(); id == "" {
		t.Fatal("empty sender id")
	}
}
