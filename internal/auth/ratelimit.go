package auth

import (
	"context"
	"sync"
	"time"
)

// LoginPolicy bounds failed logins per client address
type LoginPolicy struct {
	// MaxAttempts is how many attempts are allowed inside Window
	MaxAttempts int
	Window      time.Duration
	// Block is how long an address is refused after exceeding MaxAttempts
	Block time.Duration
}

// DefaultLoginPolicy allows 5 attempts per 2 minutes, then blocks for 5 minutes
var DefaultLoginPolicy = LoginPolicy{
	MaxAttempts: 5,
	Window:      2 * time.Minute,
	Block:       5 * time.Minute,
}

// LoginRateLimiter is a sliding-window limiter keyed by client IP
type LoginRateLimiter struct {
	mu      sync.Mutex
	policy  LoginPolicy
	clients map[string]*attemptLog
	now     func() time.Time
}

type attemptLog struct {
	attempts     []time.Time
	blockedUntil time.Time
}

// prune forgets attempts older than cutoff
func (l *attemptLog) prune(cutoff time.Time) {
	i := 0
	for i < len(l.attempts) && !l.attempts[i].After(cutoff) {
		i++
	}
	l.attempts = l.attempts[i:]
}

// NewLoginRateLimiter creates a limiter with DefaultLoginPolicy
func NewLoginRateLimiter() *LoginRateLimiter {
	return NewLoginRateLimiterWithPolicy(DefaultLoginPolicy)
}

// NewLoginRateLimiterWithPolicy creates a limiter with p
func NewLoginRateLimiterWithPolicy(p LoginPolicy) *LoginRateLimiter {
	return &LoginRateLimiter{
		policy:  p,
		clients: make(map[string]*attemptLog),
		now:     time.Now,
	}
}

// Allow records an attempt from ip and reports whether it may proceed.
// A refused attempt also returns how long the caller should wait.
func (rl *LoginRateLimiter) Allow(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, ok := rl.clients[ip]
	if !ok {
		entry = &attemptLog{}
		rl.clients[ip] = entry
	}

	if now.Before(entry.blockedUntil) {
		return false, entry.blockedUntil.Sub(now)
	}

	entry.prune(now.Add(-rl.policy.Window))
	if len(entry.attempts) >= rl.policy.MaxAttempts {
		entry.attempts = nil
		entry.blockedUntil = now.Add(rl.policy.Block)
		return false, rl.policy.Block
	}

	entry.attempts = append(entry.attempts, now)
	return true, 0
}

// Reset forgets ip, used after a successful login
func (rl *LoginRateLimiter) Reset(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, ip)
}

// RunCleanup drops idle addresses every interval until ctx is done
func (rl *LoginRateLimiter) RunCleanup(ctx context.Context, interval time.Duration) {
	sweepEvery(ctx, interval, rl.dropIdle)
}

func (rl *LoginRateLimiter) dropIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.policy.Window)
	for ip, entry := range rl.clients {
		entry.prune(cutoff)
		if len(entry.attempts) == 0 && !now.Before(entry.blockedUntil) {
			delete(rl.clients, ip)
		}
	}
}
