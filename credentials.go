package mafather

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ============================================================================
// Credential Store
// ============================================================================

// Credential is the current access/refresh token pair and the identity it
// belongs to. ExpiresAt is zero when unknown.
type Credential struct {
	AccessToken  string
	RefreshToken string
	Identity     UserIdentity
	ExpiresAt    time.Time
}

func (c Credential) clone() Credential {
	c.Identity = c.Identity.clone()
	return c
}

// CredentialStore holds the credential shared by the gateway and the realtime
// connector. Construct one per signed-in user and pass it to NewClient.
// It never fails and never touches the network.
type CredentialStore struct {
	mu        sync.RWMutex
	cred      *Credential
	listeners []func(Credential, bool)
}

// NewCredentialStore returns an empty store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{}
}

// Get returns a copy of the current credential.
func (s *CredentialStore) Get() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return Credential{}, false
	}
	return s.cred.clone(), true
}

// AccessToken returns the current access token, or "".
func (s *CredentialStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return ""
	}
	return s.cred.AccessToken
}

// RefreshToken returns the current refresh token, or "".
func (s *CredentialStore) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return ""
	}
	return s.cred.RefreshToken
}

// Set replaces the credential.
func (s *CredentialStore) Set(cred Credential) {
	cred = cred.clone()
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = tokenExpiry(cred.AccessToken)
	}
	s.mu.Lock()
	s.cred = &cred
	s.mu.Unlock()
	s.notify()
}

// SetTokens swaps the tokens and keeps the identity. An empty refresh keeps
// the stored refresh token.
func (s *CredentialStore) SetTokens(access, refresh string) {
	s.mu.Lock()
	next := Credential{}
	if s.cred != nil {
		next = s.cred.clone()
	}
	next.AccessToken = access
	if refresh != "" {
		next.RefreshToken = refresh
	}
	next.ExpiresAt = tokenExpiry(access)
	s.cred = &next
	s.mu.Unlock()
	s.notify()
}

// Clear drops the credential. Clearing an empty store does nothing.
func (s *CredentialStore) Clear() {
	s.mu.Lock()
	if s.cred == nil {
		s.mu.Unlock()
		return
	}
	s.cred = nil
	s.mu.Unlock()
	s.notify()
}

// UpdateIdentity merges partial into the stored identity. Tokens are untouched.
func (s *CredentialStore) UpdateIdentity(partial map[string]any) {
	if len(partial) == 0 {
		return
	}
	s.mu.Lock()
	if s.cred == nil {
		s.mu.Unlock()
		return
	}
	next := s.cred.clone()
	if next.Identity == nil {
		next.Identity = make(UserIdentity, len(partial))
	}
	for k, v := range partial {
		next.Identity[k] = v
	}
	s.cred = &next
	s.mu.Unlock()
	s.notify()
}

// OnChange registers fn to run after every mutation. ok is false after Clear.
func (s *CredentialStore) OnChange(fn func(cred Credential, ok bool)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *CredentialStore) notify() {
	s.mu.RLock()
	listeners := append([]func(Credential, bool){}, s.listeners...)
	var cred Credential
	ok := s.cred != nil
	if ok {
		cred = s.cred.clone()
	}
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(cred, ok)
	}
}

// tokenExpiry reads the exp claim of a JWT without verifying it. The signing
// key lives on the backend; the value only schedules a pre-emptive refresh.
func tokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
