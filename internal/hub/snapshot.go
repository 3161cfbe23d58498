package hub

import (
	"time"

	"github.com/haadziqf/iot-hub-control-dashboard/internal/telemetry"
)

// Subscription is an acknowledged topic subscription.
type Subscription struct {
	Topic string `json:"topic"`
	QoS   byte   `json:"qos"`
}

// MessageLogEntry is one raw inbound message.
type MessageLogEntry struct {
	ID         int64     `json:"id"`
	Topic      string    `json:"topic"`
	Payload    string    `json:"payload"`
	QoS        byte      `json:"qos"`
	Retained   bool      `json:"retained"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Snapshot is an immutable view of the hub state. Slices are shared between
// snapshots and must not be modified by readers.
type Snapshot struct {
	Version       uint64                  `json:"version"`
	Status        Status                  `json:"status"`
	Broker        string                  `json:"broker,omitempty"`
	Sensors       telemetry.SensorState   `json:"sensors"`
	Devices       []telemetry.DeviceState `json:"devices"`
	Subscriptions []Subscription          `json:"subscriptions"`
	Messages      []MessageLogEntry       `json:"-"`
	Topics        telemetry.TopicSettings `json:"topics"`
	CommandFormat CommandFormat           `json:"commandFormat"`
}

// Connected reports whether the snapshot was taken while connected.
func (s *Snapshot) Connected() bool { return s.Status.Connected() }

// LastMessageID returns the id of the newest log entry, or 0.
func (s *Snapshot) LastMessageID() int64 {
	if len(s.Messages) == 0 {
		return 0
	}
	return s.Messages[len(s.Messages)-1].ID
}

// MessagesSince returns log entries with an id greater than id, oldest first.
func (s *Snapshot) MessagesSince(id int64) []MessageLogEntry {
	msgs := s.Messages
	// ids are strictly increasing, so walk back from the end
	i := len(msgs)
	for i > 0 && msgs[i-1].ID > id {
		i--
	}
	return msgs[i:]
}

// LastMessages returns up to n newest entries, oldest first.
func (s *Snapshot) LastMessages(n int) []MessageLogEntry {
	if n <= 0 || n >= len(s.Messages) {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}
