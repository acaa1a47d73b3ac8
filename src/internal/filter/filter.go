// FILE: src/internal/filter/filter.go
package filter

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"saslwisp/src/internal/config"
	"saslwisp/src/internal/core"

	"github.com/lixenwraith/log"
)

// Filter is one regex access rule
type Filter struct {
	config   config.AccessRule
	patterns []*regexp.Regexp
	mu       sync.RWMutex
	logger   *log.Logger

	// Statistics
	totalChecked atomic.Uint64
	totalMatched atomic.Uint64
	totalDenied  atomic.Uint64
}

// NewFilter compiles an access rule
func NewFilter(cfg config.AccessRule, logger *log.Logger) (*Filter, error) {
	if cfg.Type == "" {
		cfg.Type = config.AccessTypeAllow
	}
	if cfg.Logic == "" {
		cfg.Logic = config.AccessLogicOr
	}

	f := &Filter{
		config:   cfg,
		patterns: make([]*regexp.Regexp, 0, len(cfg.Patterns)),
		logger:   logger,
	}

	for i, pattern := range cfg.Patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern[%d] '%s': %w", i, pattern, err)
		}
		f.patterns = append(f.patterns, re)
	}

	logger.Debug("msg", "Access rule created",
		"component", "filter",
		"type", cfg.Type,
		"logic", cfg.Logic,
		"pattern_count", len(cfg.Patterns))

	return f, nil
}

// Subject renders an attempt as the text patterns are matched against.
// The address port is dropped so rules can anchor on the IP.
func Subject(a core.Attempt) string {
	addr := a.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	var b strings.Builder
	b.WriteString("mechanism=")
	b.WriteString(a.Mechanism)
	b.WriteString(" authcid=")
	b.WriteString(a.AuthID)
	b.WriteString(" authzid=")
	b.WriteString(a.AuthzID)
	b.WriteString(" addr=")
	b.WriteString(addr)
	return b.String()
}

// Allow reports whether the attempt passes this rule
func (f *Filter) Allow(a core.Attempt) bool {
	f.totalChecked.Add(1)

	f.mu.RLock()
	patterns := f.patterns
	f.mu.RUnlock()

	// No patterns means allow everything
	if len(patterns) == 0 {
		return true
	}

	matched := f.matches(patterns, Subject(a))
	if matched {
		f.totalMatched.Add(1)
	}

	allowed := false
	switch f.config.Type {
	case config.AccessTypeAllow:
		allowed = matched
	case config.AccessTypeDeny:
		allowed = !matched
	}

	if !allowed {
		f.totalDenied.Add(1)
	}
	return allowed
}

func (f *Filter) matches(patterns []*regexp.Regexp, text string) bool {
	switch f.config.Logic {
	case config.AccessLogicOr:
		for _, re := range patterns {
			if re.MatchString(text) {
				return true
			}
		}
		return false

	case config.AccessLogicAnd:
		for _, re := range patterns {
			if !re.MatchString(text) {
				return false
			}
		}
		return true

	default:
		// Shouldn't happen after validation
		f.logger.Warn("msg", "Unknown access rule logic",
			"component", "filter",
			"logic", f.config.Logic)
		return false
	}
}

// GetStats returns rule statistics
func (f *Filter) GetStats() map[string]any {
	f.mu.RLock()
	count := len(f.patterns)
	f.mu.RUnlock()

	return map[string]any{
		"type":          f.config.Type,
		"logic":         f.config.Logic,
		"pattern_count": count,
		"total_checked": f.totalChecked.Load(),
		"total_matched": f.totalMatched.Load(),
		"total_denied":  f.totalDenied.Load(),
	}
}

// UpdatePatterns replaces the rule's patterns. On error the old set stays.
func (f *Filter) UpdatePatterns(patterns []string) error {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for i, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid regex pattern[%d] '%s': %w", i, pattern, err)
		}
		compiled = append(compiled, re)
	}

	f.mu.Lock()
	f.patterns = compiled
	f.config.Patterns = patterns
	f.mu.Unlock()

	f.logger.Info("msg", "Access rule patterns updated",
		"component", "filter",
		"pattern_count", len(patterns))
	return nil
}
