// FILE: src/cmd/saslwisp/status.go
package main

import (
	"context"
	"time"
)

// Periodically logs daemon status
func statusReporter(ctx context.Context, d *Daemon) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logStatus(d, false)
		}
	}
}

// logStatus logs at debug for periodic reports and info when requested by signal
func logStatus(d *Daemon, requested bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("msg", "Panic in status reporter",
				"component", "status_reporter",
				"panic", r)
		}
	}()

	stats := d.GetStats()
	fields := []any{
		"msg", "Status report",
		"component", "status_reporter",
	}

	if authStats, ok := stats["auth"].(map[string]any); ok {
		fields = append(fields,
			"users", authStats["users"],
			"successes", authStats["successes"],
			"failures", authStats["failures"],
			"active_exchanges", authStats["active_exchanges"],
			"tracked_ips", authStats["tracked_ips"])
	}
	if sessionStats, ok := stats["sessions"].(map[string]any); ok {
		fields = append(fields,
			"pending_sessions", sessionStats["pending"],
			"authenticated_sessions", sessionStats["authenticated"])
	}
	if tcpStats, ok := stats["tcp"].(map[string]any); ok {
		if conns, ok := tcpStats["active_connections"].(int64); ok && conns > 0 {
			fields = append(fields, "tcp_connections", conns)
		}
	}

	if requested {
		logger.Info(fields...)
		return
	}
	logger.Debug(fields...)
}
