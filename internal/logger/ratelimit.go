package logger

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultWindow is the number of distinct message keys tracked at once.
const DefaultWindow = 256

// Limiter rate limits log lines per message key. A burst of lines with the
// same key is emitted, after which at most one line per interval gets through.
type Limiter struct {
	log    *slog.Logger
	limit  rate.Limit
	burst  int
	mu     sync.Mutex
	window []string
	limits map[string]*rate.Limiter
}

// NewLimiter returns a Limiter logging through log at most once per interval
// for each distinct key, after an initial burst.
func NewLimiter(log *slog.Logger, interval time.Duration, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		log:    log,
		limit:  rate.Every(interval),
		burst:  burst,
		window: make([]string, 0, DefaultWindow),
		limits: make(map[string]*rate.Limiter),
	}
}

// Error logs msg at error level unless the key is over its rate.
func (l *Limiter) Error(key, msg string, args ...any) {
	if l.allow(key) {
		l.log.Error(msg, args...)
	}
}

// Warn logs msg at warning level unless the key is over its rate.
func (l *Limiter) Warn(key, msg string, args ...any) {
	if l.allow(key) {
		l.log.Warn(msg, args...)
	}
}

func (l *Limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limits[key]
	if !ok {
		if len(l.window) == cap(l.window) {
			delete(l.limits, l.window[0])
			l.window = l.window[1:]
		}
		l.window = append(l.window, key)
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limits[key] = lim
	}
	return lim.Allow()
}
