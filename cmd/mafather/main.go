package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.mafather/config.toml.
type Config struct {
	Default   ConfigDefault   `toml:"default"`
	Auth      ConfigAuth      `toml:"auth"`
	Realtime  ConfigRealtime  `toml:"realtime"`
	Endpoints ConfigEndpoints `toml:"endpoints"`
}

// ConfigDefault holds general SDK settings.
type ConfigDefault struct {
	BaseURL   string `toml:"base_url"`
	StreamURL string `toml:"stream_url"`
	Timeout   string `toml:"timeout"`
}

// ConfigAuth holds the signed-in credential. The CLI rewrites it whenever the
// SDK refreshes or clears tokens.
type ConfigAuth struct {
	AccessToken  string `toml:"access_token"`
	RefreshToken string `toml:"refresh_token"`
	UserID       string `toml:"user_id"`
	Email        string `toml:"email"`
}

// ConfigRealtime tunes the chat connector.
type ConfigRealtime struct {
	MaxReconnectAttempts int    `toml:"max_reconnect_attempts"`
	HeartbeatInterval    string `toml:"heartbeat_interval"`
}

// ConfigEndpoints overrides backend paths. Empty fields keep SDK defaults.
type ConfigEndpoints struct {
	Session string `toml:"session"`
	Refresh string `toml:"refresh"`
	CSRF    string `toml:"csrf"`
	Logout  string `toml:"logout"`
	Profile string `toml:"profile"`
	Stream  string `toml:"stream"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.mafather, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".mafather")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.base_url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.base_url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "base_url":
			cfg.Default.BaseURL = value
		case "stream_url":
			cfg.Default.StreamURL = value
		case "timeout":
			cfg.Default.Timeout = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "auth":
		switch field {
		case "access_token":
			cfg.Auth.AccessToken = value
		case "refresh_token":
			cfg.Auth.RefreshToken = value
		case "user_id":
			cfg.Auth.UserID = value
		case "email":
			cfg.Auth.Email = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	case "realtime":
		switch field {
		case "max_reconnect_attempts":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("max_reconnect_attempts must be an integer: %w", err)
			}
			cfg.Realtime.MaxReconnectAttempts = n
		case "heartbeat_interval":
			cfg.Realtime.HeartbeatInterval = value
		default:
			return fmt.Errorf("unknown field %q in section [realtime]", field)
		}
	case "endpoints":
		switch field {
		case "session":
			cfg.Endpoints.Session = value
		case "refresh":
			cfg.Endpoints.Refresh = value
		case "csrf":
			cfg.Endpoints.CSRF = value
		case "logout":
			cfg.Endpoints.Logout = value
		case "profile":
			cfg.Endpoints.Profile = value
		case "stream":
			cfg.Endpoints.Stream = value
		default:
			return fmt.Errorf("unknown field %q in section [endpoints]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, auth, realtime, endpoints)", section)
	}
	return nil
}

// ============================================================================
// Logging
// ============================================================================

var verbose bool

// newLogger writes console-encoded logs to stderr so command output on stdout
// stays clean.
func newLogger() *zap.Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		CallerKey:    "caller",
		MessageKey:   "msg",
		LineEnding:   zapcore.DefaultLineEnding,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.CapitalLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}

	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(os.Stderr),
		level,
	)
	return zap.New(core, zap.AddCaller()).Named("mafather")
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:          "mafather",
	Short:        "mafather SDK CLI",
	Long:         "Command-line interface for the mafather Go SDK.\nStore credentials, call the backend through the gateway, and chat over the realtime stream.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log SDK activity at debug level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
