package config

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var defaultEnvLoaded sync.Once

// Secrets carries the credential material that never goes in the config
// file.
type Secrets struct {
	// PrivateKey is the integration's RSA private key material, inline.
	PrivateKey string `env:"SIGNBRIDGE_PRIVATE_KEY"`
	// PrivateKeyFile points at a PEM file holding the key instead.
	PrivateKeyFile string `env:"SIGNBRIDGE_PRIVATE_KEY_FILE"`
}

// LoadSecrets reads Secrets from the environment. A .env file in the working
// directory is consulted first when present.
func LoadSecrets() (*Secrets, error) {
	defaultEnvLoaded.Do(func() {
		// Ignore errors - the .env file might not exist and that's ok
		_ = godotenv.Load()
	})

	var s Secrets
	if err := env.Parse(&s); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &s, nil
}

// KeyMaterial resolves the private key, preferring the inline value over the
// file path.
func (s *Secrets) KeyMaterial() (string, error) {
	if s.PrivateKey != "" {
		return s.PrivateKey, nil
	}
	if s.PrivateKeyFile != "" {
		data, err := os.ReadFile(s.PrivateKeyFile)
		if err != nil {
			return "", fmt.Errorf("failed to read private key file: %w", err)
		}
		return string(data), nil
	}
	return "", errors.New("no private key configured: set SIGNBRIDGE_PRIVATE_KEY or SIGNBRIDGE_PRIVATE_KEY_FILE")
}
