package license

import "fmt"

// Notice returns the user facing expiry text for a time limited license.
// It returns an empty string when no notice applies.
func Notice(l *License) string {
	if l == nil || !l.IsTimeLimited() {
		return ""
	}

	subject := "license"
	switch {
	case l.IsTrial():
		subject = "trial"
	case l.IsSubscription():
		subject = "subscription"
	}

	if l.IsExpired() {
		return fmt.Sprintf("Your %s has ended.", subject)
	}

	days := l.DaysLeft()
	switch days {
	case 0:
		return fmt.Sprintf("Your %s ends today.", subject)
	case 1:
		return fmt.Sprintf("Your %s ends in 1 day.", subject)
	default:
		return fmt.Sprintf("Your %s ends in %d days.", subject, days)
	}
}
