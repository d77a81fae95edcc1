package mafather

import (
	"strings"
	"time"
)

// RedirectPolicy sends the user to sign-in after a fatal auth failure, but only
// while they are on a page that is useless without a session. Elsewhere the
// failure is only surfaced to the caller.
type RedirectPolicy struct {
	// SensitivePaths are matched as substrings of the current location.
	SensitivePaths []string
	// SignInPath is handed to Navigate.
	SignInPath string
	// Delay leaves the UI time to show a message first.
	Delay time.Duration
	// Location returns the current location.
	Location func() string
	// Navigate performs the redirect.
	Navigate func(target string)
}

// DefaultRedirectPolicy returns the policy used by the web frontend, without
// Location/Navigate hooks.
func DefaultRedirectPolicy() RedirectPolicy {
	return RedirectPolicy{
		SensitivePaths: []string{"/dashboard", "/profile", "/children"},
		SignInPath:     "/login",
		Delay:          time.Second,
	}
}

func (p RedirectPolicy) sensitive(location string) bool {
	for _, path := range p.SensitivePaths {
		if path != "" && strings.Contains(location, path) {
			return true
		}
	}
	return false
}

// apply schedules the redirect. The returned timer is nil when nothing was
// scheduled.
func (p RedirectPolicy) apply(afterFunc func(time.Duration, func()) *time.Timer) *time.Timer {
	if p.Location == nil || p.Navigate == nil {
		return nil
	}
	if !p.sensitive(p.Location()) {
		return nil
	}
	target, navigate := p.SignInPath, p.Navigate
	return afterFunc(p.Delay, func() { navigate(target) })
}
