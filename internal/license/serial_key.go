package license

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
	"time"
)

// Serial key parse errors
var (
	ErrEmptySerialKey       = errors.New("serial key is empty")
	ErrSerialKeyTooLong     = errors.New("serial key is too long")
	ErrSerialKeyNotHex      = errors.New("serial key is not hex encoded")
	ErrSerialKeyMalformed   = errors.New("serial key is malformed")
	ErrUnsupportedVersion   = errors.New("unsupported serial key version")
	ErrChecksumMismatch     = errors.New("serial key checksum mismatch")
	ErrUnknownEdition       = errors.New("unknown product edition")
	ErrUnknownKeyType       = errors.New("unknown serial key type")
	ErrInvalidSeats         = errors.New("invalid seat count")
	ErrInvalidTimestamp     = errors.New("invalid timestamp")
	ErrMissingExpiry        = errors.New("time limited serial key has no expiry")
	ErrExpiryBeforeWarning  = errors.New("serial key expires before its warning time")
	ErrUnknownSerialKeyFlag = errors.New("unknown serial key flag")
)

// maxSerialKeyLength bounds the hex input accepted by the parser
const maxSerialKeyLength = 4096

// SerialKeyType distinguishes permanent keys from time limited ones
type SerialKeyType string

const (
	TypePermanent    SerialKeyType = ""
	TypeTrial        SerialKeyType = "trial"
	TypeSubscription SerialKeyType = "subscription"
)

// SerialKey is the parsed form of a hex encoded serial key.
// The zero value is an invalid key.
type SerialKey struct {
	HexString  string
	IsValid    bool
	IsOffline  bool
	Version    int
	Type       SerialKeyType
	Edition    Edition
	Owner      string
	Seats      int
	Email      string
	Company    string
	WarnTime   time.Time
	ExpireTime time.Time
}

// Equal reports whether both keys have the same canonical hex string
func (k SerialKey) Equal(other SerialKey) bool {
	return k.HexString == other.HexString
}

// IsTimeLimited reports whether the key carries an expiry
func (k SerialKey) IsTimeLimited() bool {
	return k.IsValid && !k.ExpireTime.IsZero()
}

// ParseSerialKey parses a hex encoded serial key.
// Malformed input yields a key with IsValid false.
func ParseSerialKey(hexString string) SerialKey {
	key, _ := Parse(hexString)
	return key
}

// Parse parses a hex encoded serial key and reports why it is invalid.
// The returned key is always usable; IsValid is false whenever err is non-nil.
func Parse(hexString string) (SerialKey, error) {
	canonical := strings.ToLower(strings.TrimSpace(hexString))
	invalid := SerialKey{HexString: canonical}

	if canonical == "" {
		return invalid, ErrEmptySerialKey
	}
	if len(canonical) > maxSerialKeyLength {
		return invalid, ErrSerialKeyTooLong
	}

	raw, err := hex.DecodeString(canonical)
	if err != nil {
		return invalid, fmt.Errorf("%w: %v", ErrSerialKeyNotHex, err)
	}

	key, err := parsePlaintext(string(raw))
	if err != nil {
		return invalid, err
	}

	key.HexString = canonical
	key.IsValid = true
	return key, nil
}

// parsePlaintext parses the decoded {vN;...} form
func parsePlaintext(text string) (SerialKey, error) {
	if len(text) < 2 || text[0] != '{' || text[len(text)-1] != '}' {
		return SerialKey{}, ErrSerialKeyMalformed
	}

	parts := strings.Split(text[1:len(text)-1], ";")
	switch parts[0] {
	case "v1":
		if len(parts) != 8 {
			return SerialKey{}, fmt.Errorf("%w: v1 expects 8 fields, got %d", ErrSerialKeyMalformed, len(parts))
		}
		// v1 has no type field
		fields := append([]string{"v1", string(TypePermanent)}, parts[1:]...)
		return parseFields(1, fields)

	case "v2":
		if len(parts) != 9 {
			return SerialKey{}, fmt.Errorf("%w: v2 expects 9 fields, got %d", ErrSerialKeyMalformed, len(parts))
		}
		return parseFields(2, parts)

	case "v3":
		if len(parts) != 11 {
			return SerialKey{}, fmt.Errorf("%w: v3 expects 11 fields, got %d", ErrSerialKeyMalformed, len(parts))
		}
		if err := verifyChecksum(text, parts[10]); err != nil {
			return SerialKey{}, err
		}
		key, err := parseFields(3, parts[:9])
		if err != nil {
			return SerialKey{}, err
		}
		offline, err := parseFlags(parts[9])
		if err != nil {
			return SerialKey{}, err
		}
		key.IsOffline = offline
		return key, nil

	default:
		return SerialKey{}, fmt.Errorf("%w: %q", ErrUnsupportedVersion, parts[0])
	}
}

// parseFields parses version;type;edition;owner;seats;email;company;warn;expire
func parseFields(version int, f []string) (SerialKey, error) {
	key := SerialKey{
		Version: version,
		Owner:   f[3],
		Email:   f[5],
		Company: f[6],
	}

	switch SerialKeyType(f[1]) {
	case TypePermanent, TypeTrial, TypeSubscription:
		key.Type = SerialKeyType(f[1])
	default:
		return SerialKey{}, fmt.Errorf("%w: %q", ErrUnknownKeyType, f[1])
	}

	edition, ok := parseEdition(f[2])
	if !ok {
		return SerialKey{}, fmt.Errorf("%w: %q", ErrUnknownEdition, f[2])
	}
	key.Edition = edition

	seats, err := strconv.Atoi(f[4])
	if err != nil || seats < 1 {
		return SerialKey{}, fmt.Errorf("%w: %q", ErrInvalidSeats, f[4])
	}
	key.Seats = seats

	warn, err := parseTimestamp(f[7])
	if err != nil {
		return SerialKey{}, err
	}
	expire, err := parseTimestamp(f[8])
	if err != nil {
		return SerialKey{}, err
	}
	key.WarnTime = warn
	key.ExpireTime = expire

	if key.Type != TypePermanent && expire.IsZero() {
		return SerialKey{}, ErrMissingExpiry
	}
	if !expire.IsZero() && !warn.IsZero() && expire.Before(warn) {
		return SerialKey{}, ErrExpiryBeforeWarning
	}

	return key, nil
}

// parseTimestamp parses unix seconds; zero means unset
func parseTimestamp(s string) (time.Time, error) {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil || secs < 0 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	if secs == 0 {
		return time.Time{}, nil
	}
	return time.Unix(secs, 0).UTC(), nil
}

func parseFlags(s string) (offline bool, err error) {
	if s == "" {
		return false, nil
	}
	for _, flag := range strings.Split(s, ",") {
		switch strings.TrimSpace(flag) {
		case "offline":
			offline = true
		case "":
		default:
			return false, fmt.Errorf("%w: %q", ErrUnknownSerialKeyFlag, flag)
		}
	}
	return offline, nil
}

// verifyChecksum checks the CRC-32 of everything before the final field
func verifyChecksum(text, sum string) error {
	prefix := text[:strings.LastIndex(text, ";")]
	expected := Checksum(prefix)
	if !strings.EqualFold(sum, expected) {
		return ErrChecksumMismatch
	}
	return nil
}

// Checksum returns the v3 checksum field for the given key prefix
func Checksum(prefix string) string {
	return fmt.Sprintf("%08x", crc32.ChecksumIEEE([]byte(prefix)))
}
