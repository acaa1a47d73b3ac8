// FILE: src/cmd/saslwisp/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"saslwisp/src/cmd/saslwisp/commands"
	"saslwisp/src/internal/config"
	"saslwisp/src/internal/version"

	"github.com/lixenwraith/log"
)

var logger *log.Logger

func main() {
	router := commands.NewCommandRouter()
	router.Register("serve", &serveCommand{})

	handled, err := router.Route(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if handled {
		os.Exit(0)
	}

	// No subcommand: run the daemon with the remaining args as config overrides
	if err := runDaemon(os.Args[1:]); err != nil {
		fatal(1, "Error: %v\n", err)
	}
}

type serveCommand struct{}

func (c *serveCommand) Execute(args []string) error {
	return runDaemon(args)
}

func (c *serveCommand) Description() string {
	return "Run the authentication daemon (default)"
}

func (c *serveCommand) Help() string {
	return `Serve Command - Run the SASLWisp authentication daemon

Usage:
  saslwisp serve [--key.path=value ...]
  saslwisp [--key.path=value ...]

Any configuration key can be overridden on the command line:
  --tcp.port=7070 --http.enabled=false --logging.level=debug

Signals:
  SIGHUP     Reload [[users]] from the config file
  SIGUSR1    Log a status report
  SIGINT     Graceful shutdown
  SIGTERM    Graceful shutdown
`
}

func runDaemon(args []string) error {
	for _, arg := range args {
		if arg == "-v" || arg == "--version" {
			fmt.Println(version.String())
			return nil
		}
	}

	cfg, err := config.LoadWithCLI(args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out.quiet = cfg.Quiet

	if err := initializeLogger(cfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer shutdownLogger()

	configPath := config.GetConfigPath()
	logger.Info("msg", "SASLWisp starting",
		"version", version.String(),
		"config_file", configPath,
		"log_output", cfg.Logging.Output)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := bootstrapDaemon(cfg)
	if err != nil {
		logger.Error("msg", "Failed to bootstrap daemon", "error", err)
		return err
	}
	out.announce(cfg, d.auth.Mechanisms(), d.store.Len())

	rm := NewReloadManager(configPath, d, logger)
	if err := rm.Start(ctx, cfg.ConfigAutoReload); err != nil {
		logger.Warn("msg", "Config reload unavailable",
			"component", "main",
			"error", err)
	}

	if !cfg.DisableStatusReporter {
		go statusReporter(ctx, d)
	}

	sh := NewSignalHandler(rm, logger)
	defer sh.Stop()

	sig := sh.Handle(ctx, d)
	logger.Info("msg", "Shutdown signal received, starting graceful shutdown",
		"signal", sig)

	cancel()
	rm.Shutdown()

	done := make(chan struct{})
	go func() {
		d.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("msg", "Shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Error("msg", "Shutdown timeout exceeded, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
	return nil
}

func shutdownLogger() {
	if logger != nil {
		if err := logger.Shutdown(2 * time.Second); err != nil {
			out.errorf("Logger shutdown error: %v\n", err)
		}
	}
}
