// Package license holds the client side license model: the serial key parser
// and the License value derived from a parsed key and a clock.
//
// # Serial Keys
//
// A serial key is the hex encoding of a short text record:
//
//	{v1;edition;owner;seats;email;company;warn;expire}
//	{v2;type;edition;owner;seats;email;company;warn;expire}
//	{v3;type;edition;owner;seats;email;company;warn;expire;flags;crc}
//
// type is empty for permanent keys, or one of trial and subscription.
// Timestamps are Unix seconds and an expire of 0 means unlimited. The v3 crc
// field is the CRC-32 (IEEE) of the text before it, as 8 lowercase hex
// digits. The flags field is a comma separated list; "offline" marks a key
// that never needs server activation.
//
// Parsing never fails loudly:
//
//	key := license.ParseSerialKey(hexString)
//	if !key.IsValid {
//		// prompt for a new key
//	}
//
// Use Parse when the reason matters, for example when logging.
//
// # Licenses
//
// A License is built once per serial key and replaced, never mutated, when
// the key changes. Time based queries read the injected clock:
//
//	lic := license.New(key)
//	lic.SetNowFunc(func() time.Time { return fixed })
//	lic.SecondsLeft()  // rounded up, never negative
//	lic.IsExpired()    // true exactly when SecondsLeft() == 0
//
// An invalid key yields an invalid License that is never time limited and
// has every capability switched off.
package license
