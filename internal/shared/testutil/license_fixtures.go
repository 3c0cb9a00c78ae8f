package testutil

import (
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// KeyFields describes the plaintext record behind a serial key fixture
type KeyFields struct {
	Version int
	Type    string
	Edition string
	Owner   string
	Seats   int
	Email   string
	Company string
	Warn    time.Time
	Expire  time.Time
	Flags   []string
}

// DefaultKeyFields returns a permanent v3 pro key record
func DefaultKeyFields() KeyFields {
	return KeyFields{
		Version: 3,
		Edition: "pro",
		Owner:   "Test User",
		Seats:   1,
		Email:   "test@example.com",
		Company: "Example Ltd",
	}
}

// Plaintext renders the decoded form of the key
func (f KeyFields) Plaintext() string {
	fields := []string{fmt.Sprintf("v%d", f.Version)}
	if f.Version != 1 {
		fields = append(fields, f.Type)
	}
	fields = append(fields,
		f.Edition,
		f.Owner,
		strconv.Itoa(f.Seats),
		f.Email,
		f.Company,
		unixOrZero(f.Warn),
		unixOrZero(f.Expire),
	)
	if f.Version >= 3 {
		fields = append(fields, strings.Join(f.Flags, ","))
		prefix := "{" + strings.Join(fields, ";")
		fields = append(fields, fmt.Sprintf("%08x", crc32.ChecksumIEEE([]byte(prefix))))
	}
	return "{" + strings.Join(fields, ";") + "}"
}

// Hex returns the serial key string
func (f KeyFields) Hex() string {
	return hex.EncodeToString([]byte(f.Plaintext()))
}

func unixOrZero(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.Unix(), 10)
}

// PermanentKey returns a valid key for the edition that never expires
func PermanentKey(edition string) string {
	f := DefaultKeyFields()
	f.Edition = edition
	return f.Hex()
}

// OfflineKey returns a valid permanent key that needs no activation
func OfflineKey(edition string) string {
	f := DefaultKeyFields()
	f.Edition = edition
	f.Flags = []string{"offline"}
	return f.Hex()
}

// TrialKey returns a trial key for the edition expiring at expire
func TrialKey(edition string, expire time.Time) string {
	return timeLimitedKey("trial", edition, expire)
}

// SubscriptionKey returns a subscription key for the edition expiring at expire
func SubscriptionKey(edition string, expire time.Time) string {
	return timeLimitedKey("subscription", edition, expire)
}

func timeLimitedKey(keyType, edition string, expire time.Time) string {
	f := DefaultKeyFields()
	f.Type = keyType
	f.Edition = edition
	f.Warn = expire.Add(-7 * 24 * time.Hour)
	f.Expire = expire
	return f.Hex()
}

// CorruptChecksumKey returns a v3 key whose checksum does not match
func CorruptChecksumKey() string {
	f := DefaultKeyFields()
	plain := f.Plaintext()
	// flip the last checksum digit
	last := plain[len(plain)-2]
	replacement := byte('0')
	if last == '0' {
		replacement = '1'
	}
	plain = plain[:len(plain)-2] + string(replacement) + "}"
	return hex.EncodeToString([]byte(plain))
}

// ActivationResponses returns canned activation endpoint bodies
func ActivationResponses() map[string]string {
	return map[string]string{
		"success":       `{"status":"success"}`,
		"seat_limit":    `{"status":"error","message":"seat limit reached"}`,
		"no_message":    `{"status":"error"}`,
		"empty_message": `{"status":"failed","message":""}`,
		"empty":         ``,
		"not_json":      `<html>bad gateway</html>`,
	}
}

// WriteSettingsFile writes raw YAML settings content under dir
func WriteSettingsFile(dir, name, content string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create settings dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write settings file: %w", err)
	}
	return path, nil
}
