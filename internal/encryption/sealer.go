// Package encryption seals published documents so only holders of the matching
// key can read them back.
package encryption

import (
	"fmt"

	"github.com/TheSeeker/Sone-sub000/internal/config"
)

// Sealer encrypts documents before publishing and decrypts fetched ones.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// NewSealerFromConfig creates a Sealer based on the configuration type. It
// returns nil without error when documents are published in the clear.
func NewSealerFromConfig(cfg config.EncryptionConfig) (Sealer, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		if cfg.IdentityPath == "" {
			return nil, fmt.Errorf("age encryption requires identity_path to be set")
		}
		s, err := LoadAgeSealer(cfg.IdentityPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "test":
		return NewTestSealer(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
