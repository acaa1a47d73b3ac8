// FILE: src/cmd/saslwisp/reload.go
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"saslwisp/src/internal/config"

	lconfig "github.com/lixenwraith/config"
	"github.com/lixenwraith/log"
)

// ReloadManager reloads the user database when the config file changes.
// Listener and policy settings need a restart; only [[users]] is hot.
type ReloadManager struct {
	configPath  string
	daemon      *Daemon
	lcfg        *lconfig.Config
	logger      *log.Logger
	reloadingMu sync.Mutex
	isReloading bool
	shutdownCh  chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func NewReloadManager(configPath string, d *Daemon, logger *log.Logger) *ReloadManager {
	return &ReloadManager{
		configPath: configPath,
		daemon:     d,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}
}

// Start begins watching the config file. Without auto reload only
// signal-triggered reloads happen.
func (rm *ReloadManager) Start(ctx context.Context, watch bool) error {
	if _, err := os.Stat(rm.configPath); err != nil {
		rm.logger.Info("msg", "No config file, user reload disabled",
			"component", "reload",
			"config_file", rm.configPath)
		return nil
	}

	lcfg, err := lconfig.NewBuilder().
		WithFile(rm.configPath).
		WithTarget(config.Defaults()).
		WithFileFormat("toml").
		WithSecurityOptions(lconfig.SecurityOptions{
			PreventPathTraversal: true,
			MaxFileSize:          10 * 1024 * 1024,
		}).
		Build()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	rm.lcfg = lcfg

	if !watch {
		return nil
	}

	lcfg.AutoUpdateWithOptions(lconfig.WatchOptions{
		PollInterval:  time.Second,
		Debounce:      500 * time.Millisecond,
		ReloadTimeout: 30 * time.Second,
	})

	rm.wg.Add(1)
	go rm.watchLoop(ctx)

	rm.logger.Info("msg", "User database hot reload enabled",
		"component", "reload",
		"config_file", rm.configPath)
	return nil
}

func (rm *ReloadManager) watchLoop(ctx context.Context) {
	defer rm.wg.Done()

	changeCh := rm.lcfg.Watch()

	for {
		select {
		case <-ctx.Done():
			return
		case <-rm.shutdownCh:
			return
		case changedPath, ok := <-changeCh:
			if !ok {
				return
			}
			switch changedPath {
			case "file_deleted":
				rm.logger.Error("msg", "Configuration file deleted",
					"component", "reload",
					"action", "keeping current users")
				continue
			case "permissions_changed":
				rm.logger.Error("msg", "Configuration file permissions changed",
					"component", "reload",
					"action", "reload blocked")
				continue
			case "reload_timeout":
				rm.logger.Error("msg", "Configuration reload timed out",
					"component", "reload",
					"action", "keeping current users")
				continue
			default:
				if strings.HasPrefix(changedPath, "reload_error:") {
					rm.logger.Error("msg", "Configuration reload error",
						"component", "reload",
						"error", strings.TrimPrefix(changedPath, "reload_error:"),
						"action", "keeping current users")
					continue
				}
			}

			if shouldReload(changedPath) {
				rm.triggerReload(ctx)
			} else {
				rm.logger.Warn("msg", "Configuration change requires restart",
					"component", "reload",
					"path", changedPath)
			}
		}
	}
}

// shouldReload reports whether a changed key belongs to the user database
func shouldReload(path string) bool {
	return path == "users" || strings.HasPrefix(path, "users.") || strings.HasPrefix(path, "users[")
}

// triggerReload re-reads the file and swaps the user store.
func (rm *ReloadManager) triggerReload(ctx context.Context) {
	if rm.lcfg == nil {
		rm.logger.Warn("msg", "Reload requested but no config file is loaded",
			"component", "reload")
		return
	}

	rm.reloadingMu.Lock()
	if rm.isReloading {
		rm.reloadingMu.Unlock()
		rm.logger.Debug("msg", "Reload already in progress, skipping",
			"component", "reload")
		return
	}
	rm.isReloading = true
	rm.reloadingMu.Unlock()

	defer func() {
		rm.reloadingMu.Lock()
		rm.isReloading = false
		rm.reloadingMu.Unlock()
	}()

	if err := rm.performReload(ctx); err != nil {
		rm.logger.Error("msg", "User reload failed",
			"component", "reload",
			"error", err,
			"action", "keeping current users")
		return
	}
	rm.logger.Info("msg", "User database reloaded",
		"component", "reload",
		"users", rm.daemon.store.Len())
}

func (rm *ReloadManager) performReload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	newCfg, err := config.LoadFile(rm.configPath)
	if err != nil {
		return fmt.Errorf("failed to reload %s: %w", rm.configPath, err)
	}
	return rm.daemon.ReloadUsers(newCfg.Users)
}

// Shutdown stops watching
func (rm *ReloadManager) Shutdown() {
	rm.stopOnce.Do(func() {
		close(rm.shutdownCh)
		rm.wg.Wait()
		if rm.lcfg != nil {
			rm.lcfg.StopAutoUpdate()
		}
	})
}
