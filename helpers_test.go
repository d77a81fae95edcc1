package mafather

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// ============================================================================
// Test Helpers
// ============================================================================

func makeJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp":     exp.Unix(),
		"user_id": 7,
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	CSRF   string
	Body   []byte
}

// fakeBackend mimics the auth surface of the backend: CSRF cookie, refresh
// endpoint, session handshake and a catch-all protected resource.
type fakeBackend struct {
	srv *httptest.Server

	mu            sync.Mutex
	valid         string // access token accepted by protected paths
	rejectAll     bool
	refreshTo     string
	rotate        string
	refreshStatus int
	refreshDelay  time.Duration
	csrfStatus    int
	logoutStatus  int
	sessionID     string
	requests      []recordedRequest
	refreshBodies []string

	refreshCalls atomic.Int32
	csrfCalls    atomic.Int32
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{valid: "tok1", refreshTo: "tok2", sessionID: "sess-1"}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	switch r.URL.Path {
	case "/csrf":
		b.csrfCalls.Add(1)
		b.mu.Lock()
		status := b.csrfStatus
		b.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "csrf-123", Path: "/"})
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return

	case "/token/refresh":
		b.refreshCalls.Add(1)
		b.mu.Lock()
		delay, status, next, rotate := b.refreshDelay, b.refreshStatus, b.refreshTo, b.rotate
		b.refreshBodies = append(b.refreshBodies, string(body))
		b.mu.Unlock()
		time.Sleep(delay)
		if status != 0 {
			writeJSON(w, status, map[string]any{"detail": "Token is invalid or expired", "code": "token_not_valid"})
			return
		}
		b.mu.Lock()
		b.valid = next
		b.mu.Unlock()
		if rotate != "" {
			writeJSON(w, http.StatusOK, map[string]any{"access_token": next, "refresh_token": rotate})
		} else {
			writeJSON(w, http.StatusOK, map[string]any{"access": next})
		}
		return
	}

	b.mu.Lock()
	b.requests = append(b.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Auth:   r.Header.Get("Authorization"),
		CSRF:   r.Header.Get("X-CSRFToken"),
		Body:   body,
	})
	ok := !b.rejectAll && r.Header.Get("Authorization") == "Bearer "+b.valid
	logoutStatus, sessionID := b.logoutStatus, b.sessionID
	b.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"detail": "Given token not valid for " + r.URL.Path,
			"code":   "token_not_valid",
		})
		return
	}

	switch r.URL.Path {
	case "/session":
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": sessionID,
			"type":       req["type"],
			"message":    "session created",
		})
	case "/auth/profile/":
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"id": "u-1", "email": "dad@example.com"}})
	case "/auth/logout":
		if logoutStatus != 0 {
			writeJSON(w, logoutStatus, map[string]any{"detail": "logout failed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{})
	case "/missing":
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "path": r.URL.Path, "query": r.URL.RawQuery})
	}
}

func (b *fakeBackend) set(fn func(b *fakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

// requestsTo returns the recorded requests for path.
func (b *fakeBackend) requestsTo(path string) []recordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []recordedRequest
	for _, r := range b.requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (b *fakeBackend) client(t *testing.T, store *CredentialStore, opts ...ClientOption) *Client {
	t.Helper()
	base := []ClientOption{
		WithBaseURL(b.srv.URL),
		WithLogger(zaptest.NewLogger(t)),
	}
	return NewClient(store, append(base, opts...)...)
}

func storeWith(access, refresh string) *CredentialStore {
	s := NewCredentialStore()
	s.Set(Credential{AccessToken: access, RefreshToken: refresh})
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
