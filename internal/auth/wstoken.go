package auth

import (
	"context"
	"sync"
	"time"
)

const (
	// WSTokenTTL is how long a token is valid
	WSTokenTTL = 30 * time.Second
	// WSTokenLength is the byte length of the token (will be hex encoded to 2x)
	WSTokenLength = 32
)

// WSTokenStore hands out one-time tokens for the live websocket.
// Browsers cannot attach custom headers to a websocket upgrade, so the
// client fetches a token over the authenticated API and passes it in the URL.
type WSTokenStore struct {
	mu      sync.Mutex
	pending map[string]pendingToken
	ttl     time.Duration
	now     func() time.Time
}

type pendingToken struct {
	username  string
	expiresAt time.Time
}

func (p pendingToken) expired(now time.Time) bool {
	return now.After(p.expiresAt)
}

// NewWSTokenStore creates a store whose tokens live for WSTokenTTL
func NewWSTokenStore() *WSTokenStore {
	return &WSTokenStore{
		pending: make(map[string]pendingToken),
		ttl:     WSTokenTTL,
		now:     time.Now,
	}
}

// Generate issues a token for username
func (s *WSTokenStore) Generate(username string) (string, error) {
	token, err := randomHex(WSTokenLength)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[token] = pendingToken{username: username, expiresAt: s.now().Add(s.ttl)}

	return token, nil
}

// Validate consumes token and returns its username.
// A token is accepted at most once, and only until it expires.
func (s *WSTokenStore) Validate(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[token]
	delete(s.pending, token)
	if !ok || p.expired(s.now()) {
		return "", false
	}
	return p.username, true
}

// Len returns the number of outstanding tokens
func (s *WSTokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// RunCleanup drops expired tokens every interval until ctx is done
func (s *WSTokenStore) RunCleanup(ctx context.Context, interval time.Duration) {
	sweepEvery(ctx, interval, s.dropExpired)
}

func (s *WSTokenStore) dropExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for token, p := range s.pending {
		if p.expired(now) {
			delete(s.pending, token)
		}
	}
}
