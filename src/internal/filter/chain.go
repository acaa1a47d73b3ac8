// FILE: src/internal/filter/chain.go
package filter

import (
	"fmt"
	"sync/atomic"

	"saslwisp/src/internal/config"
	"saslwisp/src/internal/core"

	"github.com/lixenwraith/log"
)

// Chain is an ordered set of access rules. An attempt must pass all of them.
type Chain struct {
	filters []*Filter
	logger  *log.Logger

	// Statistics
	totalChecked atomic.Uint64
	totalAllowed atomic.Uint64
}

// NewChain compiles the configured access rules.
func NewChain(rules []config.AccessRule, logger *log.Logger) (*Chain, error) {
	chain := &Chain{
		filters: make([]*Filter, 0, len(rules)),
		logger:  logger,
	}

	for i, rule := range rules {
		filter, err := NewFilter(rule, logger)
		if err != nil {
			return nil, fmt.Errorf("access[%d]: %w", i, err)
		}
		chain.filters = append(chain.filters, filter)
	}

	logger.Info("msg", "Access rules loaded",
		"component", "filter_chain",
		"rule_count", len(rules))
	return chain, nil
}

// Allow runs the attempt through every rule and returns the index of the
// first rule that rejected it, or -1.
func (c *Chain) Allow(a core.Attempt) (bool, int) {
	c.totalChecked.Add(1)

	for i, filter := range c.filters {
		if !filter.Allow(a) {
			c.logger.Debug("msg", "Attempt denied by access rule",
				"component", "filter_chain",
				"rule_index", i,
				"rule_type", filter.config.Type,
				"authcid", a.AuthID)
			return false, i
		}
	}

	c.totalAllowed.Add(1)
	return true, -1
}

// Len returns the number of rules.
func (c *Chain) Len() int {
	return len(c.filters)
}

// GetStats returns aggregated statistics for the chain.
func (c *Chain) GetStats() map[string]any {
	ruleStats := make([]map[string]any, len(c.filters))
	for i, filter := range c.filters {
		ruleStats[i] = filter.GetStats()
	}

	return map[string]any{
		"rule_count":    len(c.filters),
		"total_checked": c.totalChecked.Load(),
		"total_allowed": c.totalAllowed.Load(),
		"rules":         ruleStats,
	}
}
