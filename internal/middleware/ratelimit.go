package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/connectsocial/internal/metrics"
)

// RateLimiter держит token bucket на каждый IP клиента. Неактивные записи удаляет Run.
type RateLimiter struct {
	mu    sync.Mutex
	m     map[string]*limiterEntry
	rps   float64
	burst int
	now   func() time.Time
}

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = int(rps) * 2
	}
	return &RateLimiter{m: make(map[string]*limiterEntry), rps: rps, burst: burst, now: time.Now}
}

func (p *RateLimiter) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if e, ok := p.m[key]; ok {
		e.lastSeen = now
		return e.l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = &limiterEntry{l: l, lastSeen: now}
	return l
}

func (p *RateLimiter) Allow(key string) bool {
	return p.get(key).Allow()
}

// Sweep удаляет записи, не встречавшиеся дольше idle. Возвращает число удалённых.
func (p *RateLimiter) Sweep(idle time.Duration) int {
	cutoff := p.now().Add(-idle)
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
			n++
		}
	}
	return n
}

// Len: число отслеживаемых клиентов.
func (p *RateLimiter) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// Run раз в every вызывает Sweep(idle), пока не отменён ctx.
func (p *RateLimiter) Run(ctx context.Context, every, idle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(idle)
		}
	}
}

// Handler ограничивает запросы к /api/* по IP. 429 при превышении.
func (p *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !p.Allow(ClientIP(r)) {
			metrics.RateLimited.Inc()
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP: RemoteAddr без порта. Заголовки прокси не читаются; за доверенным прокси
// RemoteAddr заранее подменяет chi middleware.RealIP (TRUST_PROXY).
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
