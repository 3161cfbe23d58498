// Package hub coordinates the broker connection and the dashboard state.
//
// A Hub owns all mutable state on a single goroutine (Run). Transport events and
// user actions are queued onto that goroutine and applied one at a time; after
// each one a fresh Snapshot is published for lock-free readers.
package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/haadziqf/iot-hub-control-dashboard/internal/storage"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/telemetry"
)

var (
	ErrNotConnected      = errors.New("not connected to broker")
	ErrDeviceNotFound    = errors.New("device not found")
	ErrInvalidTopic      = errors.New("invalid topic")
	ErrInvalidQoS        = errors.New("qos must be 0, 1 or 2")
	ErrInvalidBrightness = errors.New("brightness must be between 0 and 100")
	ErrClosed            = errors.New("hub is closed")
	ErrAlreadyRunning    = errors.New("hub is already running")
)

const (
	// storeBucket is the storage namespace used for dashboard settings.
	storeBucket = "dashboard"
	// connectionKey holds the last used connection profile (without password).
	connectionKey = "connection"

	eventQueueSize = 256
)

// Store persists small JSON documents. storage.BoltStorage satisfies it.
type Store interface {
	GetJSON(namespace, key string, v any) error
	SetJSON(namespace, key string, v any) error
}

// Observer is notified of ingest and publish activity. All methods are called
// from the hub goroutine.
type Observer interface {
	MessageReceived(category string)
	MessageDropped(category, reason string)
	CommandPublished(kind string)
	StatusChanged(state string)
}

type noopObserver struct{}

func (noopObserver) MessageReceived(string)        {}
func (noopObserver) MessageDropped(string, string) {}
func (noopObserver) CommandPublished(string)       {}
func (noopObserver) StatusChanged(string)          {}

// Options configure a Hub.
type Options struct {
	Namespace     string
	Devices       []telemetry.DeviceState
	TopicDefaults telemetry.TopicSettings
	CommandFormat CommandFormat
	Factory       TransportFactory
	Store         Store
	Observer      Observer
	Logger        zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Hub is the single writer of dashboard state.
type Hub struct {
	namespace     string
	defaults      []telemetry.DeviceState
	topicDefaults telemetry.TopicSettings
	format        CommandFormat
	factory       TransportFactory
	store         Store
	observer      Observer
	logger        zerolog.Logger
	now           func() time.Time

	events  chan event
	done    chan struct{}
	running atomic.Bool

	snapshot atomic.Pointer[Snapshot]

	watchMu  sync.Mutex
	watchers map[int]chan struct{}
	nextWID  int

	// Loop-owned state. Only touched from Run.
	gen       uint64
	transport Transport
	conn      ConnectionConfig
	status    Status
	sensors   telemetry.SensorState
	devices   []telemetry.DeviceState
	deviceIDs []string
	subs      []Subscription
	pending   map[string]struct{}
	messages  []MessageLogEntry
	nextMsgID int64
	topics    telemetry.TopicSettings
	version   uint64
}

// New creates a hub and loads persisted topic settings. Call Run to start it.
func New(opts Options) (*Hub, error) {
	if opts.Namespace == "" {
		return nil, errors.New("namespace is required")
	}
	if opts.Factory == nil {
		return nil, errors.New("transport factory is required")
	}

	format, err := ParseCommandFormat(string(opts.CommandFormat))
	if err != nil {
		return nil, err
	}

	h := &Hub{
		namespace:     opts.Namespace,
		topicDefaults: opts.TopicDefaults,
		format:        format,
		factory:       opts.Factory,
		store:         opts.Store,
		observer:      opts.Observer,
		logger:        opts.Logger,
		now:           opts.Now,
		events:        make(chan event, eventQueueSize),
		done:          make(chan struct{}),
		watchers:      make(map[int]chan struct{}),
		pending:       make(map[string]struct{}),
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.observer == nil {
		h.observer = noopObserver{}
	}
	if h.topicDefaults == (telemetry.TopicSettings{}) {
		h.topicDefaults = telemetry.DefaultTopicSettings(opts.Namespace)
	}

	start := h.now()
	h.defaults = telemetry.CloneDevices(opts.Devices)
	for i := range h.defaults {
		if h.defaults[i].LastChangedAt.IsZero() {
			h.defaults[i].LastChangedAt = start
		}
	}

	h.status = disconnected()
	h.sensors = telemetry.InitialSensorState(start)
	h.devices = telemetry.CloneDevices(h.defaults)
	h.deviceIDs = telemetry.DeviceIDs(h.defaults)
	h.subs = []Subscription{}
	h.topics = h.loadTopicSettings()

	h.observer.StatusChanged(h.status.State.String())
	h.publish()
	return h, nil
}

func (h *Hub) loadTopicSettings() telemetry.TopicSettings {
	if h.store == nil {
		return h.topicDefaults
	}

	var s telemetry.TopicSettings
	err := h.store.GetJSON(storeBucket, telemetry.SettingsKey, &s)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return h.topicDefaults
	case err != nil:
		h.logger.Warn().Err(err).Msg("failed to load topic settings, using defaults")
		return h.topicDefaults
	}

	if err := s.Validate(); err != nil {
		h.logger.Warn().Err(err).Msg("stored topic settings are invalid, using defaults")
		return h.topicDefaults
	}
	return s
}

// Run processes events until ctx is cancelled. The transport is torn down on exit.
func (h *Hub) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(h.done)

	h.logger.Debug().Str("namespace", h.namespace).Msg("hub started")

	for {
		select {
		case <-ctx.Done():
			h.teardown()
			h.logger.Debug().Msg("hub stopped")
			return nil
		case ev := <-h.events:
			err := ev.run()
			h.publish()
			if ev.reply != nil {
				ev.reply <- err
			}
		}
	}
}

// Snapshot returns the latest published state.
func (h *Hub) Snapshot() *Snapshot {
	return h.snapshot.Load()
}

// Watch returns a channel that receives a value whenever a new snapshot is
// published, and a function to stop watching. Notifications coalesce.
func (h *Hub) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	h.watchMu.Lock()
	id := h.nextWID
	h.nextWID++
	h.watchers[id] = ch
	h.watchMu.Unlock()

	return ch, func() {
		h.watchMu.Lock()
		delete(h.watchers, id)
		h.watchMu.Unlock()
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

// publish stores a new snapshot and wakes watchers.
func (h *Hub) publish() {
	h.version++
	snap := &Snapshot{
		Version:       h.version,
		Status:        h.status,
		Sensors:       h.sensors,
		Devices:       h.devices,
		Subscriptions: h.subs,
		Messages:      h.messages[:len(h.messages):len(h.messages)],
		Topics:        h.topics,
		CommandFormat: h.format,
	}
	if h.transport != nil {
		snap.Broker = h.conn.BrokerURL()
	}
	h.snapshot.Store(snap)

	h.watchMu.Lock()
	for _, ch := range h.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	h.watchMu.Unlock()
}

// event is a unit of work for the loop. reply, when set, receives the result
// after the resulting snapshot has been published.
type event struct {
	run   func() error
	reply chan error
}

// post queues fn onto the loop. It drops the event once the hub has stopped.
func (h *Hub) post(fn func()) {
	ev := event{run: func() error { fn(); return nil }}
	select {
	case h.events <- ev:
	case <-h.done:
	}
}

// postFor queues fn only if the transport generation is still current when
// it runs, so late callbacks from a torn-down connection are ignored.
func (h *Hub) postFor(gen uint64, fn func()) {
	h.post(func() {
		if h.gen != gen {
			return
		}
		fn()
	})
}

// do runs fn on the loop and waits for its result.
func (h *Hub) do(ctx context.Context, fn func() error) error {
	ev := event{run: fn, reply: make(chan error, 1)}

	select {
	case h.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrClosed
	}

	select {
	case err := <-ev.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrClosed
	}
}

func (h *Hub) setStatus(s Status) {
	if h.status == s {
		return
	}
	h.logger.Info().Str("status", s.String()).Str("previous", h.status.String()).Msg("connection status changed")
	h.status = s
	h.observer.StatusChanged(s.State.String())
}

// teardown drops the current transport. Disconnect runs off-loop because the
// client may wait for in-flight work to quiesce.
func (h *Hub) teardown() {
	h.gen++
	clear(h.pending)
	if h.transport == nil {
		return
	}
	t := h.transport
	h.transport = nil
	go t.Disconnect()
}

func (h *Hub) handlersFor(gen uint64) TransportHandlers {
	return TransportHandlers{
		OnConnect: func() {
			h.postFor(gen, h.onConnect)
		},
		OnConnectError: func(err error) {
			h.postFor(gen, func() { h.onConnectError(err) })
		},
		OnConnectionLost: func(err error) {
			h.postFor(gen, func() { h.onConnectionLost(err) })
		},
		OnReconnecting: func() {
			h.postFor(gen, h.onReconnecting)
		},
		OnMessage: func(msg Message) {
			h.postFor(gen, func() { h.onMessage(msg) })
		},
	}
}

func (h *Hub) onConnect() {
	h.setStatus(Status{State: StateConnected})
	h.logger.Info().Str("broker", h.conn.BrokerURL()).Str("client_id", h.conn.ClientID).Msg("connected to broker")

	// A reconnect with a clean session loses broker-side subscriptions, so
	// re-issue the ones already recorded before adding the automatic set.
	clear(h.pending)
	for _, s := range h.subs {
		h.resendSubscribe(s.Topic, s.QoS)
	}
	for _, topic := range h.autoTopics() {
		h.requestSubscribe(topic, 0)
	}
}

func (h *Hub) autoTopics() []string {
	return append([]string{h.namespace + "/#"}, h.topics.Topics()...)
}

func (h *Hub) onConnectError(err error) {
	h.logger.Error().Err(err).Str("broker", h.conn.BrokerURL()).Msg("broker connection failed")
	h.teardown()
	h.setStatus(errorStatus(err))
}

func (h *Hub) onConnectionLost(err error) {
	h.logger.Warn().Err(err).Str("broker", h.conn.BrokerURL()).Msg("connection lost")
	switch h.status.State {
	case StateConnected, StateConnecting, StateReconnecting:
		h.setStatus(disconnected())
	}
}

func (h *Hub) onReconnecting() {
	h.logger.Info().Str("broker", h.conn.BrokerURL()).Msg("reconnecting")
	h.setStatus(Status{State: StateReconnecting})
}

func (h *Hub) hasSubscription(topic string) bool {
	for _, s := range h.subs {
		if s.Topic == topic {
			return true
		}
	}
	return false
}

// requestSubscribe issues a subscribe unless the topic is already recorded or
// in flight. The subscription is recorded only when the broker acknowledges it.
func (h *Hub) requestSubscribe(topic string, qos byte) {
	if topic == "" || h.hasSubscription(topic) {
		return
	}
	if _, ok := h.pending[topic]; ok {
		return
	}
	h.pending[topic] = struct{}{}
	h.sendSubscribe(topic, qos)
}

func (h *Hub) sendSubscribe(topic string, qos byte) {
	gen := h.gen
	h.transport.Subscribe(topic, qos, func(err error) {
		h.postFor(gen, func() { h.onSubscribeResult(topic, qos, err) })
	})
}

// resendSubscribe re-issues a recorded subscription. A rejected one is
// dropped from the list, which only holds what the broker accepted.
func (h *Hub) resendSubscribe(topic string, qos byte) {
	gen := h.gen
	h.transport.Subscribe(topic, qos, func(err error) {
		if err != nil {
			h.postFor(gen, func() { h.onResubscribeFailed(topic, err) })
		}
	})
}

func (h *Hub) onResubscribeFailed(topic string, err error) {
	h.logger.Warn().Err(err).Str("topic", topic).Msg("re-subscribe failed")
	h.removeSubscription(topic)
}

func (h *Hub) onSubscribeResult(topic string, qos byte, err error) {
	delete(h.pending, topic)
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("subscribe failed")
		return
	}
	if h.hasSubscription(topic) {
		return
	}

	subs := make([]Subscription, 0, len(h.subs)+1)
	subs = append(subs, h.subs...)
	h.subs = append(subs, Subscription{Topic: topic, QoS: qos})
	h.logger.Debug().Str("topic", topic).Uint8("qos", qos).Msg("subscribed")
}

func (h *Hub) onUnsubscribeResult(topic string, err error) {
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("unsubscribe failed")
		return
	}

	h.removeSubscription(topic)
	h.logger.Debug().Str("topic", topic).Msg("unsubscribed")
}

func (h *Hub) removeSubscription(topic string) {
	subs := make([]Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		if s.Topic != topic {
			subs = append(subs, s)
		}
	}
	h.subs = subs
}
