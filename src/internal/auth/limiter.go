// FILE: src/internal/auth/limiter.go
package auth

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"saslwisp/src/internal/config"

	"github.com/lixenwraith/log"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a client IP exceeded its attempt budget.
var ErrRateLimited = errors.New("too many authentication attempts")

// Per-IP attempt tracking
type ipAuthState struct {
	limiter      *rate.Limiter
	failCount    int
	lastAttempt  time.Time
	blockedUntil time.Time
}

// Limiter is the brute-force protection in front of every exchange start.
// A nil *Limiter allows everything.
type Limiter struct {
	cfg    config.RateLimitConfig
	logger *log.Logger
	now    func() time.Time

	states map[string]*ipAuthState
	mu     sync.Mutex

	done        chan struct{}
	cleanupDone chan struct{}
}

// NewLimiter starts a limiter with its cleanup goroutine; disabled config yields nil.
func NewLimiter(cfg *config.RateLimitConfig, logger *log.Logger) *Limiter {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	l := &Limiter{
		cfg:         *cfg,
		logger:      logger,
		now:         time.Now,
		states:      make(map[string]*ipAuthState),
		done:        make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow charges one attempt to the client IP.
func (l *Limiter) Allow(remoteAddr string) error {
	if l == nil {
		return nil
	}
	ip := hostOf(remoteAddr)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	state, exists := l.states[ip]
	if !exists {
		if int64(len(l.states)) >= l.cfg.MaxTrackedIPs {
			l.evictOldest(now)
		}
		interval := time.Duration(float64(time.Minute) / l.cfg.AttemptsPerMinute)
		state = &ipAuthState{
			limiter:     rate.NewLimiter(rate.Every(interval), int(l.cfg.Burst)),
			lastAttempt: now,
		}
		l.states[ip] = state
	}

	if now.Before(state.blockedUntil) {
		remaining := state.blockedUntil.Sub(now)
		l.logger.Warn("msg", "IP temporarily blocked",
			"component", "auth",
			"ip", ip,
			"remaining", remaining)
		return fmt.Errorf("%w: blocked for %v", ErrRateLimited, remaining.Round(time.Second))
	}

	if !state.limiter.AllowN(now, 1) {
		state.failCount++
		// Progressive blocking: 2^failCount minutes, capped at 64
		blockMinutes := 1 << min(state.failCount, 6)
		state.blockedUntil = now.Add(time.Duration(blockMinutes) * time.Minute)

		l.logger.Warn("msg", "Rate limit exceeded, blocking IP",
			"component", "auth",
			"ip", ip,
			"fail_count", state.failCount,
			"block_duration", time.Duration(blockMinutes)*time.Minute)
		return ErrRateLimited
	}

	state.lastAttempt = now
	return nil
}

// RecordFailure counts a failed exchange against the client IP.
func (l *Limiter) RecordFailure(remoteAddr string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if state, ok := l.states[hostOf(remoteAddr)]; ok {
		state.failCount++
		state.lastAttempt = l.now()
	}
}

// RecordSuccess clears the failure history of the client IP.
func (l *Limiter) RecordSuccess(remoteAddr string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if state, ok := l.states[hostOf(remoteAddr)]; ok {
		state.failCount = 0
		state.blockedUntil = time.Time{}
	}
}

// Tracked returns the number of IPs with live state.
func (l *Limiter) Tracked() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.states)
}

// Shutdown stops the cleanup goroutine.
func (l *Limiter) Shutdown() {
	if l == nil {
		return
	}
	close(l.done)
	select {
	case <-l.cleanupDone:
	case <-time.After(2 * time.Second):
		l.logger.Warn("msg", "Limiter cleanup shutdown timeout", "component", "auth")
	}
}

// evictOldest drops the least recently seen IP out of a small sample.
func (l *Limiter) evictOldest(now time.Time) {
	const sampleSize = 20
	var oldestIP string
	oldestTime := now

	sampled := 0
	for ip, state := range l.states {
		if !state.lastAttempt.After(oldestTime) {
			oldestIP = ip
			oldestTime = state.lastAttempt
		}
		sampled++
		if sampled >= sampleSize {
			break
		}
	}
	if oldestIP != "" {
		delete(l.states, oldestIP)
		l.logger.Debug("msg", "Evicted auth attempt state",
			"component", "auth",
			"evicted_ip", oldestIP,
			"last_seen", oldestTime)
	}
}

func (l *Limiter) cleanupLoop() {
	defer close(l.cleanupDone)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *Limiter) cleanup() {
	idle := time.Duration(l.cfg.IdleTimeoutSec) * time.Second
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, state := range l.states {
		if now.Sub(state.lastAttempt) > idle && now.After(state.blockedUntil) {
			delete(l.states, ip)
		}
	}
}

func hostOf(remoteAddr string) string {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return ip
}
