package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetConfigValue(t *testing.T) {
	cfg := &Config{}

	require.NoError(t, setConfigValue(cfg, "default.base_url", "https://api.example.com"))
	require.NoError(t, setConfigValue(cfg, "realtime.max_reconnect_attempts", "8"))
	require.NoError(t, setConfigValue(cfg, "realtime.heartbeat_interval", "15s"))
	require.NoError(t, setConfigValue(cfg, "endpoints.session", "/chatbot/api/websocket/session/"))

	assert.Equal(t, "https://api.example.com", cfg.Default.BaseURL)
	assert.Equal(t, 8, cfg.Realtime.MaxReconnectAttempts)
	assert.Equal(t, "/chatbot/api/websocket/session/", cfg.Endpoints.Session)

	assert.Error(t, setConfigValue(cfg, "base_url", "x"))
	assert.Error(t, setConfigValue(cfg, "default.api_key", "x"))
	assert.Error(t, setConfigValue(cfg, "realtime.max_reconnect_attempts", "many"))
	assert.Error(t, setConfigValue(cfg, "nope.field", "x"))
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "", maskToken(""))
	assert.Equal(t, "sh...", maskToken("short"))
	assert.Equal(t, "eyJhbGci...wxyz", maskToken("eyJhbGciOiJIUzI1NiJ9.payload.wxyz"))
}

func TestSessionPersistsCredentialChanges(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, saveConfig(&Config{
		Default: ConfigDefault{BaseURL: "http://localhost:8000"},
		Auth:    ConfigAuth{AccessToken: "a1", RefreshToken: "r1", Email: "dad@example.com"},
	}))

	s, err := newSession()
	require.NoError(t, err)
	require.NoError(t, s.requireLogin())

	s.client.Store().SetTokens("a2", "")
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "a2", cfg.Auth.AccessToken)
	assert.Equal(t, "r1", cfg.Auth.RefreshToken)
	assert.Equal(t, "dad@example.com", cfg.Auth.Email)

	s.client.Store().Clear()
	cfg, err = loadConfig()
	require.NoError(t, err)
	assert.Equal(t, ConfigAuth{}, cfg.Auth)
	assert.Equal(t, "http://localhost:8000", cfg.Default.BaseURL)
}

func TestConnectorConfig(t *testing.T) {
	s := &session{cfg: &Config{Realtime: ConfigRealtime{MaxReconnectAttempts: 3, HeartbeatInterval: "15s"}}}

	cc, err := s.connectorConfig()
	require.NoError(t, err)
	assert.Equal(t, 3, cc.MaxReconnectAttempts)
	assert.Equal(t, 15*time.Second, cc.HeartbeatInterval)

	s.cfg.Realtime.HeartbeatInterval = "soon"
	_, err = s.connectorConfig()
	assert.Error(t, err)
}
