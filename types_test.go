package mafather

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAPIError(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		code    string
		message string
		text    string
	}{
		{"message field", `{"code":"BAD","message":"bad input"}`, "BAD", "bad input", "BAD: bad input"},
		{"detail field", `{"detail":"Not found."}`, "", "Not found.", "HTTP_404: Not found."},
		{"error field", `{"error":"nope"}`, "", "nope", "HTTP_404: nope"},
		{"not json", `<html>`, "", "the server returned an error", "HTTP_404: the server returned an error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := newAPIError(http.StatusNotFound, []byte(tc.body))
			assert.Equal(t, tc.code, err.Code)
			assert.Equal(t, tc.message, err.Message)
			assert.Equal(t, tc.text, err.Error())
			assert.False(t, err.Unauthorized())
		})
	}

	assert.True(t, IsUnauthorized(newAPIError(http.StatusUnauthorized, nil)))
	assert.False(t, IsUnauthorized(ErrSessionExpired))
}

func TestParseFrame(t *testing.T) {
	raw := []byte(`{"type":"ai_response","message":"Around six months.","sources":[{"title":"WHO"}],"extra":1}`)

	f, err := parseFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, FrameAIResponse, f.Type)
	assert.Equal(t, "Around six months.", f.Message)
	assert.Len(t, f.Sources, 1)
	assert.JSONEq(t, string(raw), string(f.Raw), "unknown fields survive in Raw")

	raw[2] = 'X'
	assert.Equal(t, byte('t'), f.Raw[2], "Raw is a copy")

	f, err = parseFrame([]byte(`{"message":"typeless"}`))
	require.NoError(t, err)
	assert.Empty(t, f.Type)
	assert.Equal(t, "typeless", f.Message)

	_, err = parseFrame([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseFrame_MismatchedFieldTypes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		typ  string
		msg  string
	}{
		{"numeric timestamp", `{"type":"ai_response","message":"hi","timestamp":1700000000}`, FrameAIResponse, "hi"},
		{"object error", `{"type":"error","error":{"detail":"quota"}}`, FrameError, ""},
		{"numeric message", `{"type":"chat","message":42}`, FrameChat, ""},
		{"array", `[1,2]`, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := parseFrame([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.typ, f.Type)
			assert.Equal(t, tc.msg, f.Message)
			assert.JSONEq(t, tc.raw, string(f.Raw))
		})
	}
}

func TestFrameEncode(t *testing.T) {
	data, err := Frame{Type: FrameChat, Message: "hello"}.encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"chat","message":"hello"}`, string(data))

	typing := true
	data, err = Frame{Type: FrameTyping, IsTyping: &typing}.encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"typing","is_typing":true}`, string(data))
}

func TestRefreshResponseTokens(t *testing.T) {
	var r refreshResponse
	require.NoError(t, json.Unmarshal([]byte(`{"access":"a","refresh":"r"}`), &r))
	access, refresh := r.tokens()
	assert.Equal(t, "a", access)
	assert.Equal(t, "r", refresh)

	r = refreshResponse{}
	require.NoError(t, json.Unmarshal([]byte(`{"access_token":"a2"}`), &r))
	access, refresh = r.tokens()
	assert.Equal(t, "a2", access)
	assert.Empty(t, refresh)
}
