// FILE: src/cmd/saslwisp/output.go
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"saslwisp/src/internal/config"
)

// console carries the few lines meant for an operator at a terminal rather
// than the log: where clients connect, and why the daemon could not start.
// Quiet mode silences it.
type console struct {
	quiet  bool
	stdout io.Writer
	stderr io.Writer
}

var out = &console{stdout: os.Stdout, stderr: os.Stderr}

func (c *console) printf(format string, args ...any) {
	if !c.quiet {
		fmt.Fprintf(c.stdout, format, args...)
	}
}

func (c *console) errorf(format string, args ...any) {
	if !c.quiet {
		fmt.Fprintf(c.stderr, format, args...)
	}
}

// announce lists the endpoints clients authenticate against.
func (c *console) announce(cfg *config.Config, mechanisms []string, users int) {
	c.printf("SASLWisp ready: %d user(s), mechanisms %s\n", users, strings.Join(mechanisms, " "))
	if cfg.TCP.Enabled {
		c.printf("  line protocol  %s:%d\n", cfg.TCP.Host, cfg.TCP.Port)
	}
	if cfg.HTTP.Enabled {
		c.printf("  auth API       %s\n", httpEndpoint(cfg.HTTP, "/v1/auth"))
		c.printf("  status         %s\n", httpEndpoint(cfg.HTTP, "/v1/status"))
	}
}

// httpEndpoint renders a URL on the HTTP listener as a local client would dial it.
func httpEndpoint(h *config.HTTPConfig, path string) string {
	host := h.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	scheme := "http"
	if h.TLS != nil && h.TLS.Enabled {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, host, h.Port, path)
}

// fatal prints regardless of quiet mode and exits.
func fatal(code int, format string, args ...any) {
	fmt.Fprintf(out.stderr, format, args...)
	os.Exit(code)
}
