// Package devprofile defines per-device timing profiles for the session
// bootstrap. Mobile networks get looser budgets than desktop ones; the
// failsafe ceiling is the same everywhere.
package devprofile

import "time"

// Profile bundles the timing knobs the bootstrap flow consumes.
type Profile struct {
	Name string

	// SessionTimeout bounds the cookie-session check round trip.
	SessionTimeout time.Duration

	// ResolveTimeout bounds one full organization resolution, including
	// lookup retries and the setup fallback.
	ResolveTimeout time.Duration

	// Failsafe is the hard ceiling on the whole bootstrap; when it fires the
	// flow is forced out of its loading state no matter what is in flight.
	Failsafe time.Duration
}

// Desktop returns the timing profile for desktop browsers.
func Desktop() Profile {
	return Profile{
		Name:           "desktop",
		SessionTimeout: 12 * time.Second,
		ResolveTimeout: 18 * time.Second,
		Failsafe:       60 * time.Second,
	}
}

// Mobile returns the timing profile for mobile browsers, which see slower
// and flakier networks.
func Mobile() Profile {
	return Profile{
		Name:           "mobile",
		SessionTimeout: 15 * time.Second,
		ResolveTimeout: 20 * time.Second,
		Failsafe:       60 * time.Second,
	}
}
