package license

import (
	"time"
)

// ExpiringSoonWindow is how far ahead of expiry a license starts warning
const ExpiringSoonWindow = 10 * 24 * time.Hour

const secondsPerDay = 24 * 60 * 60

// NowFunc returns the current time
type NowFunc func() time.Time

// License wraps a serial key and a clock. Every query is derived from the key
// and the clock at call time.
type License struct {
	serialKey SerialKey
	now       NowFunc
}

// New creates a license for the given key using the wall clock
func New(key SerialKey) *License {
	return &License{serialKey: key, now: time.Now}
}

// FromHex parses hexString and wraps the result
func FromHex(hexString string) *License {
	return New(ParseSerialKey(hexString))
}

// Invalid returns a license with no serial key
func Invalid() *License {
	return New(SerialKey{})
}

// SetNowFunc overrides the clock. A nil func restores the wall clock.
func (l *License) SetNowFunc(now NowFunc) {
	if now == nil {
		now = time.Now
	}
	l.now = now
}

// Clone returns an independent copy sharing the key and clock
func (l *License) Clone() *License {
	c := *l
	return &c
}

// SerialKey returns the wrapped key
func (l *License) SerialKey() SerialKey {
	return l.serialKey
}

// SameKey reports whether both licenses carry the same serial key
func (l *License) SameKey(other *License) bool {
	if other == nil {
		return false
	}
	return l.serialKey.Equal(other.serialKey)
}

func (l *License) IsValid() bool {
	return l.serialKey.IsValid
}

func (l *License) IsOffline() bool {
	return l.serialKey.IsValid && l.serialKey.IsOffline
}

func (l *License) IsTimeLimited() bool {
	return l.serialKey.IsTimeLimited()
}

func (l *License) IsTrial() bool {
	return l.serialKey.IsValid && l.serialKey.Type == TypeTrial
}

func (l *License) IsSubscription() bool {
	return l.serialKey.IsValid && l.serialKey.Type == TypeSubscription
}

// SecondsLeft returns the whole seconds until expiry, rounded up and
// clamped at zero. Licenses that are not time limited report zero.
func (l *License) SecondsLeft() int64 {
	if !l.IsTimeLimited() {
		return 0
	}
	remaining := l.serialKey.ExpireTime.Sub(l.now())
	if remaining <= 0 {
		return 0
	}
	secs := int64(remaining / time.Second)
	if remaining%time.Second != 0 {
		secs++
	}
	return secs
}

// DaysLeft returns the number of whole days until expiry
func (l *License) DaysLeft() int64 {
	return l.SecondsLeft() / secondsPerDay
}

// TimeLeft returns SecondsLeft as a duration
func (l *License) TimeLeft() time.Duration {
	return time.Duration(l.SecondsLeft()) * time.Second
}

// IsExpired reports whether a time limited license has reached its expiry
func (l *License) IsExpired() bool {
	return l.IsTimeLimited() && l.SecondsLeft() == 0
}

// IsExpiringSoon reports whether a live time limited license expires
// within ExpiringSoonWindow
func (l *License) IsExpiringSoon() bool {
	if !l.IsTimeLimited() || l.IsExpired() {
		return false
	}
	return l.TimeLeft() <= ExpiringSoonWindow
}

// ExpireTime returns the expiry, or the zero time when not time limited
func (l *License) ExpireTime() time.Time {
	if !l.IsTimeLimited() {
		return time.Time{}
	}
	return l.serialKey.ExpireTime
}

func (l *License) ProductEdition() Edition {
	if !l.serialKey.IsValid {
		return EditionUnregistered
	}
	return l.serialKey.Edition
}

// ProductName returns the edition name with a trial or subscription suffix
func (l *License) ProductName() string {
	name := l.ProductEdition().ProductName()
	switch {
	case l.IsTrial():
		return name + " (Trial)"
	case l.IsSubscription():
		return name + " (Subscription)"
	default:
		return name
	}
}

// IsTLSAvailable reports whether secure connections are licensed
func (l *License) IsTLSAvailable() bool {
	return l.IsValid() && l.ProductEdition().tlsAvailable()
}

// IsInvertConnectionAvailable reports whether client-initiated connection
// inversion is licensed
func (l *License) IsInvertConnectionAvailable() bool {
	return l.IsValid() && l.ProductEdition().businessFeaturesAvailable()
}

// IsSettingsScopeAvailable reports whether system wide settings are licensed
func (l *License) IsSettingsScopeAvailable() bool {
	return l.IsValid() && l.ProductEdition().businessFeaturesAvailable()
}
