package mafather

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// AuthClient handles session lifecycle calls.
type AuthClient struct{ client *Client }

// Refresh forces a token refresh through the coordinator, sharing any refresh
// already in flight. It returns the new access token.
func (a *AuthClient) Refresh(ctx context.Context) (string, error) {
	return a.client.refresher.ensureFresh(ctx, a.client.store.AccessToken(), nil)
}

// Logout tells the backend to end the session and clears the local
// credential whatever the backend answers.
func (a *AuthClient) Logout(ctx context.Context) error {
	_, err := a.client.Do(ctx, http.MethodPost, a.client.endpoints.Logout, nil, nil)
	a.client.store.Clear()
	if err != nil {
		a.client.log.Warn("logout call failed, local credential cleared anyway", zap.Error(err))
	}
	return err
}

// Profile fetches the signed-in user's profile and merges it into the stored
// identity.
func (a *AuthClient) Profile(ctx context.Context) (UserIdentity, error) {
	data, err := a.client.Do(ctx, http.MethodGet, a.client.endpoints.Profile, nil, nil)
	if err != nil {
		return nil, err
	}
	out, err := Decode[map[string]any](data)
	if err != nil {
		return nil, err
	}
	profile := *out
	if inner, ok := profile["data"].(map[string]any); ok {
		profile = inner
	}
	a.client.store.UpdateIdentity(profile)
	return UserIdentity(profile), nil
}

// ChatClient creates chat sessions and realtime connectors.
type ChatClient struct{ client *Client }

// CreateSession performs the session handshake. An empty category means
// "general".
func (ch *ChatClient) CreateSession(ctx context.Context, kind SessionKind, category string) (*ChatSession, error) {
	if category == "" {
		category = CategoryGeneral
	}
	data, err := ch.client.Do(ctx, http.MethodPost, ch.client.endpoints.Session,
		createSessionRequest{Kind: kind, Category: category}, nil)
	if err != nil {
		return nil, err
	}
	session, err := Decode[ChatSession](data)
	if err != nil {
		return nil, err
	}
	if session.SessionID == "" {
		return nil, &APIError{StatusCode: http.StatusOK, Code: "INVALID_SESSION", Message: "handshake returned no session_id"}
	}
	if session.Kind == "" {
		session.Kind = kind
	}
	if session.Category == "" {
		session.Category = category
	}
	return session, nil
}

// Connector creates a realtime connector. Call CreateSession and Connect, or
// Start, to open the stream. config may be nil.
func (ch *ChatClient) Connector(config *ConnectorConfig) *Connector {
	var cfg ConnectorConfig
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return newConnector(ch.client, cfg)
}
