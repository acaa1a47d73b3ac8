// FILE: src/cmd/saslwisp/signal.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/lixenwraith/log"
)

// Manages OS signals
type SignalHandler struct {
	reloadManager *ReloadManager
	logger        *log.Logger
	sigChan       chan os.Signal
}

func NewSignalHandler(rm *ReloadManager, logger *log.Logger) *SignalHandler {
	sh := &SignalHandler{
		reloadManager: rm,
		logger:        logger,
		sigChan:       make(chan os.Signal, 1),
	}

	signal.Notify(sh.sigChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGHUP,  // Reload users
		syscall.SIGUSR1, // Log a status report
	)

	return sh
}

// Handle blocks until a termination signal arrives or ctx ends
func (sh *SignalHandler) Handle(ctx context.Context, d *Daemon) os.Signal {
	for {
		select {
		case sig := <-sh.sigChan:
			switch sig {
			case syscall.SIGHUP:
				sh.logger.Info("msg", "Reload signal received",
					"component", "signal",
					"signal", sig)
				go sh.reloadManager.triggerReload(ctx)
			case syscall.SIGUSR1:
				logStatus(d, true)
			default:
				return sig
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (sh *SignalHandler) Stop() {
	signal.Stop(sh.sigChan)
}
