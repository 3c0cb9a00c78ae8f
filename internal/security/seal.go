package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const sealInfo = "activation-seal-v1"

// Sealer binds an activation flag to a serial key and this machine. A seal
// copied to another machine does not verify.
type Sealer struct {
	machineSignature string
}

// NewSealer creates a sealer keyed by the machine signature
func NewSealer(machineSignature string) *Sealer {
	if machineSignature == "" {
		panic("security: sealer requires a machine signature")
	}
	return &Sealer{machineSignature: machineSignature}
}

// Seal returns the hex seal for serialKey
func (s *Sealer) Seal(serialKey string) (string, error) {
	key, err := s.deriveKey(serialKey)
	if err != nil {
		return "", err
	}
	defer clearKey(key)

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(serialKey))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether seal was produced for serialKey on this machine
func (s *Sealer) Verify(serialKey, seal string) bool {
	if seal == "" {
		return false
	}
	expected, err := s.Seal(serialKey)
	if err != nil {
		return false
	}
	return SecureCompare([]byte(expected), []byte(seal))
}

func (s *Sealer) deriveKey(serialKey string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(s.machineSignature), []byte(serialKey), []byte(sealInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return key, nil
}

func clearKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}

// SecureCompare performs constant-time comparison to prevent timing attacks
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
