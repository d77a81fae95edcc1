package main

import (
	"fmt"
	"sync"
	"time"

	mafather "github.com/SKNETWORKS-FAMILY-AICAMP/SKN11-4th-2Team-sub000/sdk/golang"
	"go.uber.org/zap"
)

// session bundles what a command needs to talk to the backend.
type session struct {
	cfg    *Config
	client *mafather.Client
	log    *zap.Logger
}

// newSession builds a client from the config file. The credential store is
// seeded from [auth] and every change the SDK makes to it (refresh, clear) is
// written back.
func newSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := newLogger()

	store := mafather.NewCredentialStore()
	if cfg.Auth.AccessToken != "" || cfg.Auth.RefreshToken != "" {
		identity := mafather.UserIdentity{}
		if cfg.Auth.UserID != "" {
			identity["id"] = cfg.Auth.UserID
		}
		if cfg.Auth.Email != "" {
			identity["email"] = cfg.Auth.Email
		}
		store.Set(mafather.Credential{
			AccessToken:  cfg.Auth.AccessToken,
			RefreshToken: cfg.Auth.RefreshToken,
			Identity:     identity,
		})
	}

	var mu sync.Mutex
	store.OnChange(func(cred mafather.Credential, ok bool) {
		mu.Lock()
		defer mu.Unlock()
		if ok {
			cfg.Auth.AccessToken = cred.AccessToken
			cfg.Auth.RefreshToken = cred.RefreshToken
			cfg.Auth.UserID = valueOrDefault(cred.Identity.ID(), cfg.Auth.UserID)
			cfg.Auth.Email = valueOrDefault(cred.Identity.Email(), cfg.Auth.Email)
		} else {
			cfg.Auth = ConfigAuth{}
		}
		if err := saveConfig(cfg); err != nil {
			log.Warn("failed to persist credential", zap.Error(err))
		}
	})

	opts := []mafather.ClientOption{
		mafather.WithLogger(log),
		mafather.WithEndpoints(mafather.Endpoints{
			Session: cfg.Endpoints.Session,
			Refresh: cfg.Endpoints.Refresh,
			CSRF:    cfg.Endpoints.CSRF,
			Logout:  cfg.Endpoints.Logout,
			Profile: cfg.Endpoints.Profile,
			Stream:  cfg.Endpoints.Stream,
		}),
		mafather.WithFatalAuthHandler(func(err error) {
			log.Error("signed out", zap.Error(err))
		}),
	}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, mafather.WithBaseURL(cfg.Default.BaseURL))
	}
	if cfg.Default.StreamURL != "" {
		opts = append(opts, mafather.WithStreamURL(cfg.Default.StreamURL))
	}
	if cfg.Default.Timeout != "" {
		d, err := time.ParseDuration(cfg.Default.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid default.timeout %q: %w", cfg.Default.Timeout, err)
		}
		opts = append(opts, mafather.WithTimeout(d))
	}

	return &session{
		cfg:    cfg,
		client: mafather.NewClient(store, opts...),
		log:    log,
	}, nil
}

// requireLogin fails early when there is nothing to authenticate with.
func (s *session) requireLogin() error {
	if s.client.Store().AccessToken() == "" && s.client.Store().RefreshToken() == "" {
		return fmt.Errorf("not signed in: run 'mafather login --access <token> --refresh <token>' first")
	}
	return nil
}

// connectorConfig maps [realtime] onto the SDK connector config.
func (s *session) connectorConfig() (*mafather.ConnectorConfig, error) {
	cc := &mafather.ConnectorConfig{
		MaxReconnectAttempts: s.cfg.Realtime.MaxReconnectAttempts,
	}
	if s.cfg.Realtime.HeartbeatInterval != "" {
		d, err := time.ParseDuration(s.cfg.Realtime.HeartbeatInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid realtime.heartbeat_interval %q: %w", s.cfg.Realtime.HeartbeatInterval, err)
		}
		cc.HeartbeatInterval = d
	}
	return cc, nil
}

// maskToken shows the first 8 and last 4 characters of a token.
func maskToken(tok string) string {
	switch {
	case tok == "":
		return ""
	case len(tok) <= 16:
		return tok[:2] + "..."
	default:
		return tok[:8] + "..." + tok[len(tok)-4:]
	}
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
