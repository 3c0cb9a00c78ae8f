package entitlement

import (
	"time"
)

// SetResult is the outcome of offering a serial key to the manager
type SetResult int

const (
	// ResultSuccess means the key replaced a different one
	ResultSuccess SetResult = iota
	// ResultUnchanged means the key was already current
	ResultUnchanged
	// ResultInvalid means the key failed to parse; nothing changed
	ResultInvalid
	// ResultExpired means the key has expired; nothing changed
	ResultExpired
	// ResultNotWritable means the settings could not be persisted; nothing changed
	ResultNotWritable
)

func (r SetResult) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultUnchanged:
		return "unchanged"
	case ResultInvalid:
		return "invalid"
	case ResultExpired:
		return "expired"
	case ResultNotWritable:
		return "not_writable"
	default:
		return "unknown"
	}
}

// Message returns the user facing text for r
func (r SetResult) Message() string {
	switch r {
	case ResultSuccess:
		return "Thanks for entering your serial key."
	case ResultUnchanged:
		return "Heads up, the serial key you entered is valid but was the same as last time. " +
			"Perhaps you intended to enter a different serial key."
	case ResultInvalid:
		return "Invalid serial key."
	case ResultExpired:
		return "Sorry, that serial key has expired."
	case ResultNotWritable:
		return "The settings file is not writable. Please check the file permissions and try again."
	default:
		return ""
	}
}

// ActivationResult is the immediate answer to an activation request
type ActivationResult int

const (
	// ActivationStarted means a request was sent; the outcome arrives as an event
	ActivationStarted ActivationResult = iota
	// ActivationSkipped means another request is outstanding
	ActivationSkipped
	// ActivationNotRequired means the key is offline or already activated
	ActivationNotRequired
	// ActivationInvalidLicense means there is no valid key to activate
	ActivationInvalidLicense
	// ActivationNotWritable means the settings cannot be saved, so no request
	// was sent
	ActivationNotWritable
)

// MsgActivationNotSaved is published when the server accepted the key but
// the activation state could not be written
const MsgActivationNotSaved = "License activation succeeded but could not be saved. " +
	"Please check the settings file permissions and try again."

func (r ActivationResult) String() string {
	switch r {
	case ActivationStarted:
		return "started"
	case ActivationSkipped:
		return "skipped"
	case ActivationNotRequired:
		return "not_required"
	case ActivationInvalidLicense:
		return "invalid_license"
	case ActivationNotWritable:
		return "not_writable"
	default:
		return "unknown"
	}
}

// State is the engine state derived from the license and activation flags
type State string

const (
	StateUninitialized     State = "uninitialized"
	StateInvalid           State = "invalid"
	StateExpired           State = "expired"
	StateValidNotActivated State = "valid_not_activated"
	StateValidActivated    State = "valid_activated"
	StateActivating        State = "activating"
	StateDisabled          State = "disabled"
)

// Status is a point in time snapshot for the presentation layer. It never
// carries the raw serial key.
type Status struct {
	State            State      `json:"state"`
	Enabled          bool       `json:"enabled"`
	Valid            bool       `json:"valid"`
	Expired          bool       `json:"expired"`
	ExpiringSoon     bool       `json:"expiringSoon"`
	Activated        bool       `json:"activated"`
	Activating       bool       `json:"activating"`
	Offline          bool       `json:"offline"`
	Trial            bool       `json:"trial"`
	Subscription     bool       `json:"subscription"`
	Edition          string     `json:"edition"`
	ProductName      string     `json:"productName"`
	DaysLeft         int64      `json:"daysLeft"`
	SecondsLeft      int64      `json:"secondsLeft"`
	ExpireTime       *time.Time `json:"expireTime,omitempty"`
	Notice           string     `json:"notice,omitempty"`
	SerialKeyMasked  string     `json:"serialKeyMasked,omitempty"`
	SettingsLocation string     `json:"settingsLocation"`
	NextCheck        *time.Time `json:"nextCheck,omitempty"`
	Capabilities     struct {
		TLS              bool `json:"tls"`
		InvertConnection bool `json:"invertConnection"`
		SettingsScope    bool `json:"settingsScope"`
	} `json:"capabilities"`
}
