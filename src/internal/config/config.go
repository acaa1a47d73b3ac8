// FILE: src/internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"saslwisp/src/internal/core"

	lconfig "github.com/lixenwraith/config"
)

// Config is the complete saslwisp daemon configuration.
type Config struct {
	// Suppress all log output
	Quiet bool `toml:"quiet"`

	// Runtime behavior
	DisableStatusReporter bool `toml:"disable_status_reporter"`
	ConfigAutoReload      bool `toml:"config_auto_reload"`

	Logging   *LogConfig       `toml:"logging"`
	TCP       *TCPConfig       `toml:"tcp"`
	HTTP      *HTTPConfig      `toml:"http"`
	Scram     *ScramConfig     `toml:"scram"`
	Token     *TokenConfig     `toml:"token"`
	RateLimit *RateLimitConfig `toml:"ratelimit"`
	Audit     *AuditConfig     `toml:"audit"`

	// Mechanism preference list offered to clients, strongest first
	Mechanisms []string `toml:"mechanisms"`

	// Authorization rules applied after authentication, all must pass
	Access []AccessRule `toml:"access"`

	// Static user database
	Users []UserConfig `toml:"users"`
}

func defaults() *Config {
	return &Config{
		Logging: DefaultLogConfig(),
		TCP: &TCPConfig{
			Enabled:             true,
			Host:                "0.0.0.0",
			Port:                7070,
			MaxLineBytes:        core.MaxMessageLength,
			HandshakeTimeoutSec: int64(core.HandshakeTimeout.Seconds()),
		},
		HTTP: &HTTPConfig{
			Enabled:             true,
			Host:                "0.0.0.0",
			Port:                7080,
			MaxBodySize:         core.MaxMessageLength,
			ReadTimeoutMs:       5000,
			WriteTimeoutMs:      5000,
			HandshakeTimeoutSec: int64(core.HandshakeTimeout.Seconds()),
			TLS: &TLSServerConfig{
				MinVersion: "TLS1.2",
				MaxVersion: "TLS1.3",
			},
		},
		Scram: &ScramConfig{
			MinIterations:     core.ScramMinIterations,
			DefaultIterations: core.ScramDefaultIterations,
			SaltLength:        core.ScramSaltLen,
			NonceLength:       core.ScramNonceLen,
			MaskUnknownUsers:  true,
		},
		Token: &TokenConfig{
			Issuer:     "saslwisp",
			TTLSeconds: int64(core.DefaultTokenTTL.Seconds()),
		},
		RateLimit: &RateLimitConfig{
			Enabled:           true,
			AttemptsPerMinute: 5,
			Burst:             3,
			MaxTrackedIPs:     10000,
			IdleTimeoutSec:    600,
		},
		Audit: &AuditConfig{
			Format:          "json",
			Template:        "[{{.Timestamp | FmtTime}}] {{.Outcome | ToUpper}} {{.Mechanism}} {{.AuthID}} from {{.RemoteAddr}}{{if .Reason}} ({{.Reason}}){{end}}",
			TimestampFormat: "2006-01-02T15:04:05Z07:00",
		},
		Mechanisms: append([]string(nil), core.DefaultMechanisms...),
	}
}

// LoadWithCLI loads configuration from defaults, file, environment and CLI
// args, in increasing precedence.
func LoadWithCLI(cliArgs []string) (*Config, error) {
	return load(GetConfigPath(), cliArgs)
}

// LoadFile loads configuration from path plus environment, without CLI args.
func LoadFile(path string) (*Config, error) {
	return load(path, nil)
}

func load(configPath string, cliArgs []string) (*Config, error) {
	cfg, err := lconfig.NewBuilder().
		WithDefaults(defaults()).
		WithEnvPrefix("SASLWISP_").
		WithFile(configPath).
		WithArgs(cliArgs).
		WithEnvTransform(customEnvTransform).
		WithSources(
			lconfig.SourceCLI,
			lconfig.SourceEnv,
			lconfig.SourceFile,
			lconfig.SourceDefault,
		).
		Build()

	if err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	finalConfig := &Config{}
	if err := cfg.Scan(finalConfig, ""); err != nil {
		return nil, fmt.Errorf("failed to scan config: %w", err)
	}

	return finalConfig, validateConfig(finalConfig)
}

// isNotFound reports a missing config file, which is not an error.
func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "not found")
}

func customEnvTransform(path string) string {
	env := strings.ReplaceAll(path, ".", "_")
	env = strings.ToUpper(env)
	env = "SASLWISP_" + env
	return env
}

// GetConfigPath resolves the config file from SASLWISP_CONFIG_FILE,
// SASLWISP_CONFIG_DIR or the user config directory.
func GetConfigPath() string {
	if configFile := os.Getenv("SASLWISP_CONFIG_FILE"); configFile != "" {
		if filepath.IsAbs(configFile) {
			return configFile
		}
		if configDir := os.Getenv("SASLWISP_CONFIG_DIR"); configDir != "" {
			return filepath.Join(configDir, configFile)
		}
		return configFile
	}

	if configDir := os.Getenv("SASLWISP_CONFIG_DIR"); configDir != "" {
		return filepath.Join(configDir, "saslwisp.toml")
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".config", "saslwisp.toml")
	}

	return "saslwisp.toml"
}

// FindUser returns the user entry for username.
func (c *Config) FindUser(username string) (*UserConfig, bool) {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i], true
		}
	}
	return nil, false
}

// Defaults returns a fresh copy of the built-in configuration.
func Defaults() *Config {
	return defaults()
}

// Validate checks the configuration and normalizes mechanism names.
func (c *Config) Validate() error {
	return validateConfig(c)
}
