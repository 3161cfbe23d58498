// Package storage persists dashboard settings and publish history.
package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("key not found")

// PublishRecord is one manual publish kept for the "recent publishes" list.
type PublishRecord struct {
	Topic     string    `json:"topic"`
	Payload   string    `json:"payload"`
	QoS       byte      `json:"qos"`
	Retained  bool      `json:"retained"`
	Timestamp time.Time `json:"timestamp"`
}

// sameMessage reports whether r repeats other, ignoring the timestamp.
func (r PublishRecord) sameMessage(other PublishRecord) bool {
	return r.Topic == other.Topic && r.Payload == other.Payload &&
		r.QoS == other.QoS && r.Retained == other.Retained
}

// Storage is the persistence interface used by the dashboard
type Storage interface {
	// Get retrieves raw data by namespace and key
	// Returns ErrNotFound if the key doesn't exist
	Get(namespace, key string) ([]byte, error)

	// GetJSON retrieves and unmarshals JSON data
	GetJSON(namespace, key string, v any) error

	// Set stores raw data under namespace and key
	Set(namespace, key string, value []byte) error

	// SetJSON marshals and stores JSON data
	SetJSON(namespace, key string, v any) error

	// Delete removes a key
	Delete(namespace, key string) error

	// List returns all keys and values in a namespace
	List(namespace string) (map[string][]byte, error)

	// SavePublish appends to publish history
	// Consecutive duplicates are skipped
	SavePublish(rec PublishRecord) error

	// PublishHistory returns up to limit records, oldest first
	PublishHistory(limit int) ([]PublishRecord, error)

	// TrimPublishHistory keeps only the newest keep records
	TrimPublishHistory(keep int) error

	// Close closes the storage
	Close() error
}
