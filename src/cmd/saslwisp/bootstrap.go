// FILE: src/cmd/saslwisp/bootstrap.go
package main

import (
	"fmt"
	"strings"
	"time"

	"saslwisp/src/internal/auth"
	"saslwisp/src/internal/config"
	"saslwisp/src/internal/credential"
	"saslwisp/src/internal/session"
	"saslwisp/src/internal/transport"
	"saslwisp/src/internal/version"

	"github.com/lixenwraith/log"
)

// Daemon holds the running authentication service
type Daemon struct {
	cfg      *config.Config
	store    *credential.Store
	auth     *auth.Authenticator
	sessions *session.Manager
	tcp      *transport.TCPServer
	http     *transport.HTTPServer
}

// bootstrapDaemon loads the user store and starts the configured listeners
func bootstrapDaemon(cfg *config.Config) (*Daemon, error) {
	store := credential.NewStore(logger)
	if err := store.Replace(cfg.Users); err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	if store.Len() == 0 {
		logger.Warn("msg", "No users configured, every exchange will fail",
			"component", "main",
			"hint", "add users with 'saslwisp passwd -u <name> -s <config>'")
	}

	a, err := auth.New(cfg, store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	// Authenticated sessions live as long as their token
	sessions := session.NewManager(time.Duration(cfg.Token.TTLSeconds) * time.Second)

	d := &Daemon{
		cfg:      cfg,
		store:    store,
		auth:     a,
		sessions: sessions,
	}

	if cfg.TCP.Enabled {
		d.tcp = transport.NewTCPServer(cfg.TCP, a, sessions, logger)
		if err := d.tcp.Start(); err != nil {
			d.Shutdown()
			return nil, fmt.Errorf("failed to start TCP listener: %w", err)
		}
		logger.Info("msg", "TCP endpoint configured",
			"component", "main",
			"listen", fmt.Sprintf("%s:%d", cfg.TCP.Host, cfg.TCP.Port))
	}

	if cfg.HTTP.Enabled {
		httpServer, err := transport.NewHTTPServer(cfg.HTTP, a, sessions, logger)
		if err != nil {
			d.Shutdown()
			return nil, err
		}
		d.http = httpServer
		if d.tcp != nil {
			d.http.SetStatusProvider(func() map[string]any {
				return map[string]any{"tcp": d.tcp.GetStats()}
			})
		}
		if err := d.http.Start(); err != nil {
			d.Shutdown()
			return nil, fmt.Errorf("failed to start HTTP listener: %w", err)
		}
		logger.Info("msg", "HTTP endpoints configured",
			"component", "main",
			"listen", fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
			"auth_url", httpEndpoint(cfg.HTTP, "/v1/auth"),
			"status_url", httpEndpoint(cfg.HTTP, "/v1/status"))
	}

	logger.Info("msg", "SASLWisp started",
		"version", version.Short(),
		"mechanisms", a.Mechanisms(),
		"users", store.Len())

	return d, nil
}

// ReloadUsers swaps the user database without touching running exchanges
func (d *Daemon) ReloadUsers(users []config.UserConfig) error {
	return d.store.Replace(users)
}

// GetStats collects statistics from every component
func (d *Daemon) GetStats() map[string]any {
	stats := map[string]any{
		"auth":     d.auth.GetStats(),
		"sessions": d.sessions.GetStats(),
	}
	if d.tcp != nil {
		stats["tcp"] = d.tcp.GetStats()
	}
	return stats
}

// Shutdown stops listeners first, then sessions and the authenticator
func (d *Daemon) Shutdown() {
	if d.http != nil {
		d.http.Stop()
	}
	if d.tcp != nil {
		d.tcp.Stop()
	}
	d.sessions.Stop()
	d.auth.Shutdown()
}

// initializeLogger sets up the logger based on configuration
func initializeLogger(cfg *config.Config) error {
	logger = log.NewLogger()

	var configArgs []string

	if cfg.Quiet {
		configArgs = append(configArgs,
			"disable_file=true",
			"enable_stdout=false",
			"level=255")

		return logger.InitWithDefaults(configArgs...)
	}

	levelValue, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	configArgs = append(configArgs, fmt.Sprintf("level=%d", levelValue))

	switch cfg.Logging.Output {
	case "none":
		configArgs = append(configArgs, "disable_file=true", "enable_stdout=false")

	case "stdout":
		configArgs = append(configArgs,
			"disable_file=true",
			"enable_stdout=true",
			"stdout_target=stdout")

	case "stderr":
		configArgs = append(configArgs,
			"disable_file=true",
			"enable_stdout=true",
			"stdout_target=stderr")

	case "file":
		configArgs = append(configArgs, "enable_stdout=false")
		configureFileLogging(&configArgs, cfg)

	case "both":
		configArgs = append(configArgs, "enable_stdout=true")
		configureFileLogging(&configArgs, cfg)
		configureConsoleTarget(&configArgs, cfg)

	default:
		return fmt.Errorf("invalid log output mode: %s", cfg.Logging.Output)
	}

	if cfg.Logging.Console != nil && cfg.Logging.Console.Format != "" {
		configArgs = append(configArgs, fmt.Sprintf("format=%s", cfg.Logging.Console.Format))
	}

	return logger.InitWithDefaults(configArgs...)
}

func configureFileLogging(configArgs *[]string, cfg *config.Config) {
	if cfg.Logging.WritesFile() && cfg.Logging.File != nil {
		*configArgs = append(*configArgs,
			fmt.Sprintf("directory=%s", cfg.Logging.File.Directory),
			fmt.Sprintf("name=%s", cfg.Logging.File.Name),
			fmt.Sprintf("max_size_mb=%d", cfg.Logging.File.MaxSizeMB),
			fmt.Sprintf("max_total_size_mb=%d", cfg.Logging.File.MaxTotalSizeMB))

		if cfg.Logging.File.RetentionHours > 0 {
			*configArgs = append(*configArgs,
				fmt.Sprintf("retention_period_hrs=%.1f", cfg.Logging.File.RetentionHours))
		}
	}
}

func configureConsoleTarget(configArgs *[]string, cfg *config.Config) {
	target := "stderr"

	if cfg.Logging.Console != nil && cfg.Logging.Console.Target != "" {
		target = cfg.Logging.Console.Target
	}

	if target == "split" {
		*configArgs = append(*configArgs, "stdout_split_mode=true")
		*configArgs = append(*configArgs, "stdout_target=split")
	} else {
		*configArgs = append(*configArgs, fmt.Sprintf("stdout_target=%s", target))
	}
}

func parseLogLevel(level string) (int, error) {
	switch strings.ToLower(level) {
	case "debug":
		return int(log.LevelDebug), nil
	case "info":
		return int(log.LevelInfo), nil
	case "warn", "warning":
		return int(log.LevelWarn), nil
	case "error":
		return int(log.LevelError), nil
	default:
		return 0, fmt.Errorf("unknown log level: %s", level)
	}
}
