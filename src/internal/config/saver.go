// FILE: src/internal/config/saver.go
package config

import (
	"fmt"

	lconfig "github.com/lixenwraith/config"
)

// SaveToFile writes the configuration to path as TOML.
func (c *Config) SaveToFile(path string) error {
	if path == "" {
		return fmt.Errorf("cannot save config: path is empty")
	}

	// A throwaway lconfig instance avoids carrying one around the application
	lcfg, err := lconfig.NewBuilder().
		WithFile(path).
		WithTarget(c).
		WithFileFormat("toml").
		Build()
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to create config builder: %w", err)
	}
	if lcfg == nil {
		return fmt.Errorf("failed to create config builder for %s", path)
	}

	// lconfig's Save handles atomic writes
	if err := lcfg.Save(path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// UpsertUser replaces the entry with the same username or appends a new one.
func (c *Config) UpsertUser(user UserConfig) {
	if existing, ok := c.FindUser(user.Username); ok {
		*existing = user
		return
	}
	c.Users = append(c.Users, user)
}
