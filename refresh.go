package mafather

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Token Refresh Coordinator
// ============================================================================

// refreshFunc exchanges a refresh token for a new access token. A non-empty
// rotated value replaces the stored refresh token.
type refreshFunc func(ctx context.Context, refreshToken string) (access, rotated string, err error)

type refreshOutcome struct {
	token string
	err   error
}

// refreshFlight is one in-progress refresh and the callers queued behind it.
type refreshFlight struct {
	waiters []chan refreshOutcome
}

// tokenRefresher keeps at most one refresh in flight and hands its result to
// every caller that arrived while it ran.
type tokenRefresher struct {
	store   *CredentialStore
	refresh refreshFunc
	timeout time.Duration
	onFatal func(error)
	log     *zap.Logger

	mu       sync.Mutex
	inflight *refreshFlight
}

func newTokenRefresher(store *CredentialStore, refresh refreshFunc, timeout time.Duration, onFatal func(error), log *zap.Logger) *tokenRefresher {
	return &tokenRefresher{
		store:   store,
		refresh: refresh,
		timeout: timeout,
		onFatal: onFatal,
		log:     log,
	}
}

// ensureFresh returns an access token newer than stale. trigger is the error
// that made the caller ask; when the refresh fails each caller gets its own
// trigger back. With a nil trigger a failure is reported as ErrSessionExpired.
// A credential without a refresh token is treated as a failed refresh.
func (r *tokenRefresher) ensureFresh(ctx context.Context, stale string, trigger error) (string, error) {
	r.mu.Lock()
	if f := r.inflight; f != nil {
		ch := make(chan refreshOutcome, 1)
		f.waiters = append(f.waiters, ch)
		queued := len(f.waiters)
		r.mu.Unlock()
		r.log.Debug("refresh in flight, queued", zap.Int("position", queued))
		return r.await(ctx, ch, trigger)
	}

	cred, ok := r.store.Get()
	if ok && cred.AccessToken != "" && cred.AccessToken != stale {
		r.mu.Unlock()
		return cred.AccessToken, nil
	}
	if !ok {
		r.mu.Unlock()
		return "", orExpired(trigger, nil)
	}
	if cred.RefreshToken == "" {
		// Cleared under r.mu so concurrent callers see the empty store and
		// the fatal hook fires once.
		r.store.Clear()
		r.mu.Unlock()
		r.log.Warn("no refresh token, session ended")
		if r.onFatal != nil {
			r.onFatal(fmt.Errorf("%w: no refresh token", ErrSessionExpired))
		}
		return "", orExpired(trigger, nil)
	}

	f := &refreshFlight{}
	r.inflight = f
	r.mu.Unlock()

	token, err := r.run(ctx, cred.RefreshToken)

	r.mu.Lock()
	r.inflight = nil
	waiters := f.waiters
	r.mu.Unlock()

	outcome := refreshOutcome{token: token, err: err}
	for _, ch := range waiters {
		ch <- outcome
	}

	if err != nil {
		r.log.Warn("token refresh failed", zap.Error(err), zap.Int("rejected", len(waiters)))
		if r.onFatal != nil {
			r.onFatal(fmt.Errorf("%w: %v", ErrSessionExpired, err))
		}
		return "", orExpired(trigger, err)
	}
	r.log.Debug("token refreshed", zap.Int("resumed", len(waiters)))
	return token, nil
}

// run performs the refresh call. The store is updated before any waiter is
// released so a resumed caller always reads the new token.
func (r *tokenRefresher) run(ctx context.Context, refreshToken string) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	access, rotated, err := r.refresh(ctx, refreshToken)
	if err == nil && access == "" {
		err = fmt.Errorf("refresh response carried no access token")
	}
	if err != nil {
		r.store.Clear()
		return "", err
	}
	r.store.SetTokens(access, rotated)
	return access, nil
}

func (r *tokenRefresher) await(ctx context.Context, ch <-chan refreshOutcome, trigger error) (string, error) {
	select {
	case out := <-ch:
		if out.err != nil {
			return "", orExpired(trigger, out.err)
		}
		return out.token, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func orExpired(trigger, cause error) error {
	if trigger != nil {
		return trigger
	}
	if cause != nil {
		return fmt.Errorf("%w: %v", ErrSessionExpired, cause)
	}
	return ErrSessionExpired
}
