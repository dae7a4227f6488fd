package auth

import (
	"sync"
	"time"
)

// LoginLimiter throttles credential checks per client address with a
// sliding window, so a guessing client cannot hammer the credential
// backend.
type LoginLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	attempts map[string][]time.Time
}

// NewLoginLimiter allows limit attempts per client within window.
func NewLoginLimiter(limit int, window time.Duration) *LoginLimiter {
	return &LoginLimiter{
		limit:    limit,
		window:   window,
		attempts: make(map[string][]time.Time),
	}
}

// Allow records one attempt and reports whether the client is still within
// its budget.
func (l *LoginLimiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	start := now.Add(-l.window)
	kept := l.attempts[client][:0]
	for _, at := range l.attempts[client] {
		if at.After(start) {
			kept = append(kept, at)
		}
	}
	if len(kept) >= l.limit {
		l.attempts[client] = kept
		return false
	}
	l.attempts[client] = append(kept, now)
	return true
}

// Reset clears the window of a client, called after a successful login.
func (l *LoginLimiter) Reset(client string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, client)
}
