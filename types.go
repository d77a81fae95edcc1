package mafather

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	code := e.Code
	if code == "" {
		code = fmt.Sprintf("HTTP_%d", e.StatusCode)
	}
	return code + ": " + e.Message
}

// Unauthorized reports whether the backend rejected the access credential.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == 401
}

// errorBody covers both `{"message": ...}` and the backend's `{"detail": ...}` shape.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
	Error   string `json:"error"`
}

func newAPIError(status int, data []byte) *APIError {
	e := &APIError{StatusCode: status, Message: "the server returned an error"}
	var body errorBody
	if json.Unmarshal(data, &body) == nil {
		e.Code = body.Code
		switch {
		case body.Message != "":
			e.Message = body.Message
		case body.Detail != "":
			e.Message = body.Detail
		case body.Error != "":
			e.Message = body.Error
		}
	}
	return e
}

// ============================================================================
// Identity
// ============================================================================

// UserIdentity describes the authenticated principal. The SDK passes it through
// unchanged; use Decode to map it onto your own struct.
type UserIdentity map[string]any

// Decode maps the identity onto out (a pointer to a struct) using its json tags.
func (u UserIdentity) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "json",
	})
	if err != nil {
		return fmt.Errorf("failed to build identity decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(u)); err != nil {
		return fmt.Errorf("failed to decode identity: %w", err)
	}
	return nil
}

// ID returns the "id" field as a string.
func (u UserIdentity) ID() string { return u.str("id") }

// Email returns the "email" field.
func (u UserIdentity) Email() string { return u.str("email") }

func (u UserIdentity) str(key string) string {
	v, ok := u[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (u UserIdentity) clone() UserIdentity {
	if u == nil {
		return nil
	}
	out := make(UserIdentity, len(u))
	for k, v := range u {
		out[k] = v
	}
	return out
}

// ============================================================================
// Chat Session Types
// ============================================================================

// SessionKind selects the chat backend a session talks to.
type SessionKind string

const (
	SessionAIExpert  SessionKind = "ai_expert"
	SessionCommunity SessionKind = "community"
	SessionDoc       SessionKind = "doc"
)

// Chat categories understood by the AI expert backend.
const (
	CategoryGeneral     = "general"
	CategorySpecialized = "specialized"
	CategoryNutrition   = "nutrition"
	CategoryBehavior    = "behavior"
	CategoryPsychology  = "psychology"
	CategoryEducation   = "education"
)

// ChatSession is the result of the session handshake. It is immutable; a new
// handshake is needed to replace it.
type ChatSession struct {
	SessionID string      `json:"session_id"`
	Kind      SessionKind `json:"type"`
	Category  string      `json:"category"`
	Message   string      `json:"message,omitempty"`
}

type createSessionRequest struct {
	Kind     SessionKind `json:"type"`
	Category string      `json:"category"`
}

// ============================================================================
// Stream Frames
// ============================================================================

// Frame types seen on the chat stream.
const (
	FrameHeartbeat  = "heartbeat"
	FrameChat       = "chat"
	FrameAIResponse = "ai_response"
	FrameError      = "error"
	FrameTyping     = "typing"
)

// Frame is one JSON object on the chat stream. Raw holds the bytes exactly as
// they were received (or sent).
type Frame struct {
	Type        string            `json:"type"`
	Message     string            `json:"message,omitempty"`
	Error       string            `json:"error,omitempty"`
	IsTyping    *bool             `json:"is_typing,omitempty"`
	Timestamp   string            `json:"timestamp,omitempty"`
	Sources     []json.RawMessage `json:"sources,omitempty"`
	SessionType string            `json:"session_type,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// parseFrame accepts any JSON value. Typed fields are filled best-effort: one
// whose JSON type does not match is left zero and is still readable in Raw.
func parseFrame(data []byte) (Frame, error) {
	if !json.Valid(data) {
		return Frame{}, fmt.Errorf("frame is not valid JSON")
	}
	var f Frame
	// A type mismatch skips only the offending field.
	_ = json.Unmarshal(data, &f)
	f.Raw = append(json.RawMessage(nil), data...)
	return f, nil
}

func (f Frame) encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame: %w", err)
	}
	return data, nil
}

// ============================================================================
// Token Types
// ============================================================================

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// refreshResponse accepts both the documented field names and the short
// `access`/`refresh` names some backend versions emit.
type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Access       string `json:"access"`
	Refresh      string `json:"refresh"`
}

func (r refreshResponse) tokens() (access, refresh string) {
	access, refresh = r.AccessToken, r.RefreshToken
	if access == "" {
		access = r.Access
	}
	if refresh == "" {
		refresh = r.Refresh
	}
	return access, refresh
}
