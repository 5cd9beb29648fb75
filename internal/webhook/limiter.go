package webhook

import (
	"math"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/mattjoyce/hookline/internal/config"
)

// limiters holds one token bucket per receiver, created on first use.
type limiters struct {
	def config.RateLimitConfig
	per map[string]config.RateLimitConfig

	mu    sync.Mutex
	byKey map[string]*rate.Limiter
}

func newLimiters(def config.RateLimitConfig, per map[string]config.RateLimitConfig) *limiters {
	return &limiters{def: def, per: per, byKey: make(map[string]*rate.Limiter)}
}

// allow reports whether a request for receiver may proceed.
func (l *limiters) allow(receiver string) bool {
	key := strings.ToLower(receiver)

	l.mu.Lock()
	lim, ok := l.byKey[key]
	if !ok {
		lim = l.build(key)
		l.byKey[key] = lim
	}
	l.mu.Unlock()

	return lim == nil || lim.Allow()
}

// build returns nil when the receiver is unlimited.
func (l *limiters) build(key string) *rate.Limiter {
	rc := l.def
	if override, ok := l.per[key]; ok {
		rc = override
	}
	if rc.RPS <= 0 {
		return nil
	}
	burst := rc.Burst
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(rc.RPS)))
	}
	return rate.NewLimiter(rate.Limit(rc.RPS), burst)
}
