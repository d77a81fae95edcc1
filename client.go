// Package mafather is the Go SDK for the mafather parenting platform backend.
//
// It covers the authenticated request gateway (bearer credentials, CSRF,
// single-flight token refresh with one replay) and the realtime chat
// connector (session handshake, websocket stream, heartbeat, reconnect).
//
// Example:
//
//	store := mafather.NewCredentialStore()
//	store.Set(mafather.Credential{AccessToken: access, RefreshToken: refresh})
//	client := mafather.NewClient(store, mafather.WithBaseURL("https://api.example.com"))
//
//	// Any backend call goes through the gateway
//	data, _ := client.Do(ctx, "GET", "/users/children/", nil, nil)
//
//	// Realtime chat
//	conn := client.Chat.Connector(nil)
//	conn.Subscribe(func(f mafather.Frame) { fmt.Println(f.Message) })
//	_ = conn.Start(ctx, mafather.SessionAIExpert, mafather.CategoryGeneral)
//	_ = conn.SendMessage(ctx, "When do babies start teething?")
package mafather

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"
)

// ============================================================================
// Defaults
// ============================================================================

const (
	DefaultBaseURL     = "http://localhost:8000"
	DefaultTimeout     = 30 * time.Second
	DefaultRefreshSkew = 5 * time.Minute
)

// Endpoints are the backend paths the SDK calls itself.
type Endpoints struct {
	Session    string // chat session handshake
	Refresh    string // access token refresh
	CSRF       string // anti-forgery cookie
	Logout     string
	Profile    string
	Stream     string // chat stream path, %s is the session id
	CSRFCookie string
	CSRFHeader string
}

// DefaultEndpoints returns the backend's standard paths.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Session:    "/session",
		Refresh:    "/token/refresh",
		CSRF:       "/csrf",
		Logout:     "/auth/logout",
		Profile:    "/auth/profile/",
		Stream:     "/ws/chat/%s/",
		CSRFCookie: "csrftoken",
		CSRFHeader: "X-CSRFToken",
	}
}

// merge fills empty fields of e from def.
func (e Endpoints) merge(def Endpoints) Endpoints {
	pick := func(v, d string) string {
		if v == "" {
			return d
		}
		return v
	}
	return Endpoints{
		Session:    pick(e.Session, def.Session),
		Refresh:    pick(e.Refresh, def.Refresh),
		CSRF:       pick(e.CSRF, def.CSRF),
		Logout:     pick(e.Logout, def.Logout),
		Profile:    pick(e.Profile, def.Profile),
		Stream:     pick(e.Stream, def.Stream),
		CSRFCookie: pick(e.CSRFCookie, def.CSRFCookie),
		CSRFHeader: pick(e.CSRFHeader, def.CSRFHeader),
	}
}

// ============================================================================
// Client
// ============================================================================

// Client is the authenticated request gateway. Every backend call made by the
// SDK, and by callers through Do, passes through it.
type Client struct {
	baseURL     string
	streamURL   string
	userAgent   string
	timeout     time.Duration
	timeoutSet  bool
	refreshSkew time.Duration
	endpoints   Endpoints
	httpClient  *http.Client
	store       *CredentialStore
	log         *zap.Logger

	redirect    *RedirectPolicy
	onFatalAuth func(error)
	afterFunc   func(time.Duration, func()) *time.Timer
	csrfGroup   singleflight.Group
	refresher   *tokenRefresher

	Auth *AuthClient
	Chat *ChatClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithStreamURL sets the websocket base URL. By default it is derived from the
// base URL (http -> ws, https -> wss).
func WithStreamURL(url string) ClientOption {
	return func(c *Client) { c.streamURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
		c.timeoutSet = true
	}
}

// WithHTTPClient sets the HTTP client. The gateway works on a copy: a cookie
// jar is added when it has none, and WithTimeout, if given, overrides its
// Timeout. A nil client is ignored.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// WithEndpoints overrides backend paths; empty fields keep their defaults.
func WithEndpoints(e Endpoints) ClientOption {
	return func(c *Client) { c.endpoints = e.merge(DefaultEndpoints()) }
}

// WithRefreshSkew sets how long before expiry a token is refreshed ahead of
// use. Zero disables the pre-emptive refresh.
func WithRefreshSkew(d time.Duration) ClientOption {
	return func(c *Client) { c.refreshSkew = d }
}

// WithRedirectPolicy enables the sign-in redirect after a fatal auth failure.
func WithRedirectPolicy(p RedirectPolicy) ClientOption {
	return func(c *Client) { c.redirect = &p }
}

// WithFatalAuthHandler is called once per failed refresh, with an error
// wrapping ErrSessionExpired.
func WithFatalAuthHandler(fn func(error)) ClientOption {
	return func(c *Client) { c.onFatalAuth = fn }
}

func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a gateway bound to store. A nil store gets a fresh one.
func NewClient(store *CredentialStore, opts ...ClientOption) *Client {
	if store == nil {
		store = NewCredentialStore()
	}
	c := &Client{
		baseURL:     DefaultBaseURL,
		timeout:     DefaultTimeout,
		refreshSkew: DefaultRefreshSkew,
		endpoints:   DefaultEndpoints(),
		userAgent:   "mafather-go",
		store:       store,
		log:         zap.NewNop(),
		afterFunc:   time.AfterFunc,
	}

	for _, opt := range opts {
		opt(c)
	}

	hc := http.Client{Timeout: c.timeout}
	if c.httpClient != nil {
		hc = *c.httpClient
		if c.timeoutSet {
			hc.Timeout = c.timeout
		}
	}
	if hc.Jar == nil {
		hc.Jar, _ = cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	}
	c.httpClient = &hc
	if c.streamURL == "" {
		c.streamURL = httpToWS(c.baseURL)
	}

	c.refresher = newTokenRefresher(c.store, c.refreshToken, c.timeout, c.fatalAuth, c.log.Named("refresh"))
	c.Auth = &AuthClient{client: c}
	c.Chat = &ChatClient{client: c}
	return c
}

// Store returns the credential store the client reads from.
func (c *Client) Store() *CredentialStore {
	return c.store
}

func httpToWS(base string) string {
	u := strings.Replace(base, "https://", "wss://", 1)
	return strings.Replace(u, "http://", "ws://", 1)
}

// fatalAuth applies the fatal-failure policy after the store was cleared.
func (c *Client) fatalAuth(err error) {
	if c.onFatalAuth != nil {
		c.onFatalAuth(err)
	}
	if c.redirect != nil {
		if t := c.redirect.apply(c.afterFunc); t != nil {
			c.log.Info("session expired, redirecting to sign-in",
				zap.String("target", c.redirect.SignInPath), zap.Duration("delay", c.redirect.Delay))
		}
	}
}

// ============================================================================
// Request pipeline
// ============================================================================

// Do sends one logical call: CSRF for mutating verbs, bearer credential, and
// at most one replay after a successful refresh triggered by a 401. body is
// JSON-encoded when non-nil. Non-2xx responses are returned as *APIError.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		payload = b
	}

	call := &outboundCall{method: method, url: u, path: path, body: payload, requestID: uuid.NewString()}
	if isMutating(method) {
		call.csrf = c.ensureCSRF(ctx)
	}

	token := c.currentToken(ctx)
	status, data, err := c.send(ctx, call, token)
	if err != nil {
		return nil, err
	}
	if status != http.StatusUnauthorized {
		return checkStatus(status, data)
	}

	unauthorized := newAPIError(status, data)
	if _, ok := c.store.Get(); !ok {
		c.log.Info("unauthenticated", zap.String("path", path))
		return nil, unauthorized
	}

	fresh, err := c.refresher.ensureFresh(ctx, token, unauthorized)
	if err != nil {
		return nil, err
	}

	c.log.Debug("replaying after refresh", zap.String("path", path), zap.String("request_id", call.requestID))
	status, data, err = c.send(ctx, call, fresh)
	if err != nil {
		return nil, err
	}
	return checkStatus(status, data)
}

type outboundCall struct {
	method    string
	url       string
	path      string
	body      []byte
	csrf      string
	requestID string
}

// currentToken returns the stored access token, refreshing it first when it
// is about to expire.
func (c *Client) currentToken(ctx context.Context) string {
	cred, ok := c.store.Get()
	if !ok {
		return ""
	}
	if c.refreshSkew > 0 && !cred.ExpiresAt.IsZero() && cred.RefreshToken != "" &&
		time.Until(cred.ExpiresAt) < c.refreshSkew {
		fresh, err := c.refresher.ensureFresh(ctx, cred.AccessToken, nil)
		if err != nil {
			c.log.Warn("pre-emptive refresh failed", zap.Error(err))
			return c.store.AccessToken()
		}
		return fresh
	}
	return cred.AccessToken
}

func (c *Client) send(ctx context.Context, call *outboundCall, token string) (int, []byte, error) {
	var bodyReader io.Reader
	if call.body != nil {
		bodyReader = bytes.NewReader(call.body)
	}

	req, err := http.NewRequestWithContext(ctx, call.method, call.url, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	if call.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", call.requestID)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if call.csrf != "" {
		req.Header.Set(c.endpoints.CSRFHeader, call.csrf)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		c.log.Warn("no access token, sending unauthenticated", zap.String("path", call.path))
	}

	c.log.Debug("request", zap.String("method", call.method), zap.String("path", call.path),
		zap.String("request_id", call.requestID))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func checkStatus(status int, data []byte) ([]byte, error) {
	if status < 200 || status >= 300 {
		return nil, newAPIError(status, data)
	}
	return data, nil
}

// refreshToken is the raw refresh call. It bypasses Do: a 401 here must not
// trigger another refresh.
func (c *Client) refreshToken(ctx context.Context, refreshToken string) (string, string, error) {
	b, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal refresh request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.endpoints.Refresh, bytes.NewReader(b))
	if err != nil {
		return "", "", fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to read refresh response: %w", err)
	}
	if _, err := checkStatus(resp.StatusCode, data); err != nil {
		return "", "", err
	}
	out, err := Decode[refreshResponse](data)
	if err != nil {
		return "", "", err
	}
	access, rotated := out.tokens()
	return access, rotated, nil
}

// Decode unmarshals a response body returned by Do.
func Decode[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}
