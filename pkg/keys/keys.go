// Copyright © 2025 SignBridge Contributors
//
// SPDX-License-Identifier: MIT

// Package keys imports, generates, and persists the RSA keys used to sign
// grant assertions.
//
// Signing authorities hand integration keys out in several shapes: a PEM file
// on disk, a PEM string pasted into an environment variable with literal \n
// sequences in place of newlines, or the bare base64 body with the envelope
// already stripped. ParsePrivateKey accepts all of them.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MinRSAKeySize is the smallest RSA modulus used for generated signing keys
// (FIPS 186-4).
const MinRSAKeySize = 2048

// ParsePrivateKey imports RSA private key material.
//
// The envelope markers and all whitespace are stripped, the remaining base64
// body is decoded, and the DER bytes are parsed first as PKCS#8 and then as
// PKCS#1. Anything that does not yield an RSA private key fails with a
// *KeyFormatError.
func ParsePrivateKey(material string) (*rsa.PrivateKey, error) {
	body := stripEnvelope(material)
	if body == "" {
		return nil, &KeyFormatError{Reason: "empty key body"}
	}

	der, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		// Some authorities hand out the body without padding.
		raw, rawErr := base64.RawStdEncoding.DecodeString(body)
		if rawErr != nil {
			return nil, &KeyFormatError{Reason: "decode base64 body", Err: err}
		}
		der = raw
	}

	return parsePrivateKeyDER(der)
}

// LoadPrivateKey reads a PEM file and imports the RSA private key it holds.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	material, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	return ParsePrivateKey(string(material))
}

// GenerateRSAKeyPair generates a new RSA signing key with a FIPS-compliant
// key size.
func GenerateRSAKeyPair() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, MinRSAKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key pair: %w", err)
	}
	return key, nil
}

// EncodePrivateKeyPEM renders the private key as a PKCS#8 PEM block.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// EncodePublicKeyPEM renders the public half as a PKIX PEM block, the shape
// signing authorities expect when an integration key is registered.
func EncodePublicKeyPEM(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// SavePrivateKey writes the private key to a PEM file readable only by the
// owner, creating the parent directory if needed.
func SavePrivateKey(path string, key *rsa.PrivateKey) error {
	pemBytes, err := EncodePrivateKeyPEM(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, pemBytes, 0600); err != nil {
		return fmt.Errorf("failed to write private key file: %w", err)
	}
	return nil
}

// SavePublicKey writes the public key to a PEM file.
func SavePublicKey(path string, key *rsa.PublicKey) error {
	pemBytes, err := EncodePublicKeyPEM(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, pemBytes, 0644); err != nil {
		return fmt.Errorf("failed to write public key file: %w", err)
	}
	return nil
}

// stripEnvelope reduces key material to its base64 body: literal \n sequences
// become newlines, envelope markers are removed, and all remaining whitespace
// is dropped. Markers are matched as substrings, which covers a PEM collapsed
// onto a single line.
func stripEnvelope(material string) string {
	normalized := strings.ReplaceAll(material, `\n`, "\n")

	for {
		start := strings.Index(normalized, "-----")
		if start < 0 {
			break
		}
		rest := normalized[start+len("-----"):]
		end := strings.Index(rest, "-----")
		if end < 0 {
			normalized = normalized[:start]
			break
		}
		normalized = normalized[:start] + rest[end+len("-----"):]
	}

	return strings.Join(strings.Fields(normalized), "")
}

func parsePrivateKeyDER(der []byte) (*rsa.PrivateKey, error) {
	// PKCS#8 first; it is what authorities issue today. PKCS#1 covers the
	// older "BEGIN RSA PRIVATE KEY" files.
	if parsed, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, &KeyFormatError{Reason: fmt.Sprintf("%T is not an RSA private key", parsed)}
		}
		return key, nil
	}

	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, &KeyFormatError{Reason: "parse key DER", Err: err}
	}
	return key, nil
}
