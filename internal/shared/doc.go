// Package shared holds code used by more than one layer of the license engine
// that does not belong to any single domain package.
//
// Today that is only the testutil subpackage:
//
//   - license fixtures: serial keys for every product and expiry case
//   - a fake clock for driving expiry and reminder timers
//   - a buffered slog handler for asserting on log output
//   - canned activation server responses
//
// Example usage:
//
//	func TestExpiredTrial(t *testing.T) {
//	    logger, logs := testutil.NewTestLogger(t)
//	    clock := testutil.NewFakeClock(time.Now())
//	    key := testutil.TrialKey("pro", clock.Now().Add(-time.Hour))
//	    // ...
//	}
//
// testutil depends only on the scheduler package, so every domain package can
// use it in tests.
package shared
