// Package identity names this host when it signals over a shared broker.
package identity

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const ed25519PubKeyFile = ".ssh/id_ed25519.pub"

var errInvalidKey = errors.New("invalid id_ed25519 pub key")

// Ed25519PubKey returns the base64 body of the ed25519 public key in home.
func Ed25519PubKey(home string) (string, error) {
	id, err := os.ReadFile(filepath.Join(home, ed25519PubKeyFile))
	if err != nil {
		return "", err
	}
	fields := bytes.Fields(id)
	if len(fields) < 2 || string(fields[0]) != "ssh-ed25519" {
		return "", errInvalidKey
	}
	return string(fields[1]), nil
}

// SenderID returns the user's ed25519 public key, or a random id if there is none.
func SenderID() string {
	home, err := os.UserHomeDir()
	if err == nil {
		if key, err := Ed25519PubKey(home); err == nil {
			return key
		}
	}
	return uuid.NewString()
}
