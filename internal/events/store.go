// Package events keeps an in-memory audit trail of operator actions.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies an operator action
type EventType string

const (
	// Auth events
	EventLogin       EventType = "login"
	EventLoginFailed EventType = "login_failed"
	EventLogout      EventType = "logout"

	// Broker events
	EventConnect     EventType = "connect"
	EventDisconnect  EventType = "disconnect"
	EventSubscribe   EventType = "subscribe"
	EventUnsubscribe EventType = "unsubscribe"
	EventPublish     EventType = "publish"

	// Device events
	EventToggle     EventType = "toggle"
	EventBrightness EventType = "brightness"

	// Settings events
	EventTopicsSaved EventType = "topics_saved"
	EventTopicsReset EventType = "topics_reset"
	EventLogCleared  EventType = "log_cleared"
)

// Event is one audit record
type Event struct {
	ID        int64     `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Username  string    `json:"username"`
	IP        string    `json:"ip"`
	Success   bool      `json:"success"`
	Details   string    `json:"details,omitempty"`
}

// Store holds the newest events in a fixed-size ring buffer
type Store struct {
	mu     sync.RWMutex
	buf    []Event
	head   int // index of the oldest event once the buffer is full
	size   int
	nextID int64
	now    func() time.Time
	logger zerolog.Logger
}

// NewStore creates a store keeping at most capacity events.
// Every event is also written to logger.
func NewStore(capacity int, logger zerolog.Logger) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{
		buf:    make([]Event, capacity),
		now:    time.Now,
		logger: logger,
	}
}

// Add records an event and returns it
func (s *Store) Add(eventType EventType, username, ip string, success bool, details string) Event {
	s.mu.Lock()
	s.nextID++
	event := Event{
		ID:        s.nextID,
		Type:      eventType,
		Timestamp: s.now(),
		Username:  username,
		IP:        ip,
		Success:   success,
		Details:   details,
	}

	if s.size < len(s.buf) {
		s.buf[(s.head+s.size)%len(s.buf)] = event
		s.size++
	} else {
		s.buf[s.head] = event
		s.head = (s.head + 1) % len(s.buf)
	}
	s.mu.Unlock()

	level := zerolog.InfoLevel
	if !success {
		level = zerolog.WarnLevel
	}
	s.logger.WithLevel(level).
		Str("event", string(eventType)).
		Str("user", username).
		Str("ip", ip).
		Str("details", details).
		Msg("audit")

	return event
}

// at returns the i-th newest event (0 = newest). Caller holds the lock.
func (s *Store) at(i int) Event {
	return s.buf[(s.head+s.size-1-i)%len(s.buf)]
}

// GetLast returns the last n events (newest first)
func (s *Store) GetLast(n int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n > s.size {
		n = s.size
	}
	if n < 0 {
		n = 0
	}

	result := make([]Event, n)
	for i := range result {
		result[i] = s.at(i)
	}
	return result
}

// GetSince returns events newer than lastID (newest first)
func (s *Store) GetSince(lastID int64) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []Event{}
	for i := 0; i < s.size; i++ {
		e := s.at(i)
		if e.ID <= lastID {
			break
		}
		result = append(result, e)
	}
	return result
}

// Count returns the number of events held
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// LastID returns the ID of the most recent event
func (s *Store) LastID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}
