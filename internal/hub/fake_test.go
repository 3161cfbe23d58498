package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/haadziqf/iot-hub-control-dashboard/internal/storage"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/telemetry"
)

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

type publishCall struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  string
}

// fakeTransport records every call and acknowledges asynchronously, the way
// the paho tokens do.
type fakeTransport struct {
	mu           sync.Mutex
	cfg          ConnectionConfig
	handlers     TransportHandlers
	connects     int
	subscribes   []Subscription
	unsubscribes []string
	publishes    []publishCall
	disconnected bool
	failTopics   map[string]error
	acks         int
}

func (f *fakeTransport) Connect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
}

func (f *fakeTransport) ack(done func(error), err error) {
	go func() {
		if done != nil {
			done(err)
		}
		f.mu.Lock()
		f.acks++
		f.mu.Unlock()
	}()
}

func (f *fakeTransport) Subscribe(topic string, qos byte, done func(error)) {
	f.mu.Lock()
	f.subscribes = append(f.subscribes, Subscription{Topic: topic, QoS: qos})
	err := f.failTopics[topic]
	f.mu.Unlock()
	f.ack(done, err)
}

func (f *fakeTransport) Unsubscribe(topic string, done func(error)) {
	f.mu.Lock()
	f.unsubscribes = append(f.unsubscribes, topic)
	f.mu.Unlock()
	f.ack(done, nil)
}

func (f *fakeTransport) Publish(topic string, qos byte, retained bool, payload []byte, done func(error)) {
	f.mu.Lock()
	f.publishes = append(f.publishes, publishCall{Topic: topic, QoS: qos, Retained: retained, Payload: string(payload)})
	f.mu.Unlock()
	f.ack(done, nil)
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeTransport) failSubscribe(topic string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTopics == nil {
		f.failTopics = map[string]error{}
	}
	f.failTopics[topic] = err
}

func (f *fakeTransport) ackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acks
}

func (f *fakeTransport) isDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

func (f *fakeTransport) subscribeCalls() []Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Subscription(nil), f.subscribes...)
}

func (f *fakeTransport) publishCalls() []publishCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishCall(nil), f.publishes...)
}

type fakeFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
	err        error
}

func (ff *fakeFactory) New(cfg ConnectionConfig, h TransportHandlers) (Transport, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.err != nil {
		return nil, ff.err
	}
	t := &fakeTransport{cfg: cfg, handlers: h}
	ff.transports = append(ff.transports, t)
	return t, nil
}

func (ff *fakeFactory) last() *fakeTransport {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if len(ff.transports) == 0 {
		return nil
	}
	return ff.transports[len(ff.transports)-1]
}

type fakeStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string][]byte{}}
}

func (s *fakeStore) GetJSON(namespace, key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[namespace+"/"+key]
	if !ok {
		return storage.ErrNotFound
	}
	return json.Unmarshal(raw, v)
}

func (s *fakeStore) SetJSON(namespace, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[namespace+"/"+key] = raw
	return nil
}

type fakeObserver struct {
	mu        sync.Mutex
	received  map[string]int
	dropped   map[string]int
	published map[string]int
	states    []string
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{
		received:  map[string]int{},
		dropped:   map[string]int{},
		published: map[string]int{},
	}
}

func (o *fakeObserver) MessageReceived(category string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.received[category]++
}

func (o *fakeObserver) MessageDropped(category, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped[category+":"+reason]++
}

func (o *fakeObserver) CommandPublished(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.published[kind]++
}

func (o *fakeObserver) StatusChanged(state string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

type testHub struct {
	*Hub
	factory  *fakeFactory
	store    *fakeStore
	observer *fakeObserver
}

func testDevices() []telemetry.DeviceState {
	return []telemetry.DeviceState{
		{ID: "led1", Name: "Living Room", Brightness: telemetry.Float(50)},
		{ID: "led2", Name: "Bedroom"},
	}
}

// startHub builds a hub on namespace "haadziq" and runs it until the test ends.
func startHub(t *testing.T, mutate ...func(*Options)) *testHub {
	t.Helper()

	th := &testHub{
		factory:  &fakeFactory{},
		store:    newFakeStore(),
		observer: newFakeObserver(),
	}
	opts := Options{
		Namespace: "haadziq",
		Devices:   testDevices(),
		Factory:   th.factory.New,
		Store:     th.store,
		Observer:  th.observer,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return t0 },
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	h, err := New(opts)
	require.NoError(t, err)
	th.Hub = h

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return th
}

// barrier waits until every event queued so far has been applied.
func (th *testHub) barrier(t *testing.T) {
	t.Helper()
	require.NoError(t, th.do(context.Background(), func() error { return nil }))
}

// waitAcks waits for n acknowledgements from tr, then for the loop to apply them.
func (th *testHub) waitAcks(t *testing.T, tr *fakeTransport, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return tr.ackCount() >= n }, time.Second, 5*time.Millisecond)
	th.barrier(t)
}

// connect runs a full connect handshake and waits for the automatic subscriptions.
func (th *testHub) connect(t *testing.T) *fakeTransport {
	t.Helper()

	require.NoError(t, th.Connect(context.Background(), ConnectionConfig{Host: "broker.test"}))
	tr := th.factory.last()
	require.NotNil(t, tr)

	tr.handlers.OnConnect()
	th.waitAcks(t, tr, 6)
	require.True(t, th.Snapshot().Connected())
	require.Len(t, th.Snapshot().Subscriptions, 6)
	return tr
}

func (th *testHub) deliver(t *testing.T, tr *fakeTransport, topic, payload string) {
	t.Helper()
	tr.handlers.OnMessage(Message{Topic: topic, Payload: []byte(payload)})
	th.barrier(t)
}
