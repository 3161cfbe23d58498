package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/haadziqf/iot-hub-control-dashboard/internal/auth"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/config"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/events"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/hub"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/metrics"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/storage"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/telemetry"
)

// stubDashboard is an in-memory Dashboard. err, when set, is returned by
// every action.
type stubDashboard struct {
	mu       sync.Mutex
	snap     *hub.Snapshot
	watchers map[int]chan struct{}
	nextWID  int
	err      error

	connects     []hub.ConnectionConfig
	disconnects  int
	subscribes   []hub.Subscription
	unsubscribes []string
	publishes    []PublishRequest
	cleared      int
}

func newStubDashboard() *stubDashboard {
	return &stubDashboard{
		snap: &hub.Snapshot{
			Status: hub.Status{State: hub.StateConnected},
			Devices: []telemetry.DeviceState{
				{ID: "led1", Name: "Living Room", Brightness: telemetry.Float(50)},
			},
			Topics:        telemetry.DefaultTopicSettings("haadziq"),
			CommandFormat: hub.CommandJSON,
		},
		watchers: map[int]chan struct{}{},
	}
}

// update replaces the snapshot and wakes every watcher
func (d *stubDashboard) update(fn func(s *hub.Snapshot)) {
	d.mu.Lock()
	next := *d.snap
	fn(&next)
	next.Version++
	d.snap = &next
	for _, ch := range d.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	d.mu.Unlock()
}

func (d *stubDashboard) Snapshot() *hub.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snap
}

func (d *stubDashboard) Watch() (<-chan struct{}, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextWID
	d.nextWID++
	ch := make(chan struct{}, 1)
	d.watchers[id] = ch
	return ch, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.watchers, id)
	}
}

func (d *stubDashboard) Connect(_ context.Context, cfg hub.ConnectionConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	if err := cfg.WithDefaults().Validate(); err != nil {
		return err
	}
	d.connects = append(d.connects, cfg)
	return nil
}

func (d *stubDashboard) Disconnect(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnects++
	return d.err
}

func (d *stubDashboard) SavedConnection() (hub.ConnectionConfig, bool) {
	return hub.ConnectionConfig{}, false
}

func (d *stubDashboard) Subscribe(_ context.Context, topic string, qos byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.subscribes = append(d.subscribes, hub.Subscription{Topic: topic, QoS: qos})
	return nil
}

func (d *stubDashboard) Unsubscribe(_ context.Context, topic string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.unsubscribes = append(d.unsubscribes, topic)
	return nil
}

func (d *stubDashboard) Publish(_ context.Context, topic string, payload []byte, qos byte, retain bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.publishes = append(d.publishes, PublishRequest{Topic: topic, Payload: string(payload), QoS: qos, Retain: retain})
	return nil
}

func (d *stubDashboard) device(id string) (telemetry.DeviceState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return telemetry.DeviceState{}, d.err
	}
	i := telemetry.FindDevice(d.snap.Devices, id)
	if i < 0 {
		return telemetry.DeviceState{}, hub.ErrDeviceNotFound
	}
	return d.snap.Devices[i], nil
}

func (d *stubDashboard) ToggleDevice(_ context.Context, id string) (telemetry.DeviceState, error) {
	dev, err := d.device(id)
	if err != nil {
		return dev, err
	}
	dev.Status = !dev.Status
	return dev, nil
}

func (d *stubDashboard) SetBrightness(_ context.Context, id string, brightness float64) (telemetry.DeviceState, error) {
	dev, err := d.device(id)
	if err != nil {
		return dev, err
	}
	if brightness < 0 || brightness > 100 {
		return dev, hub.ErrInvalidBrightness
	}
	dev.Brightness = telemetry.Float(brightness)
	return dev, nil
}

func (d *stubDashboard) UpdateTopicSettings(_ context.Context, s telemetry.TopicSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	d.update(func(snap *hub.Snapshot) { snap.Topics = s })
	return nil
}

func (d *stubDashboard) ResetTopicSettings(context.Context) (telemetry.TopicSettings, error) {
	s := telemetry.DefaultTopicSettings("haadziq")
	d.update(func(snap *hub.Snapshot) { snap.Topics = s })
	return s, nil
}

func (d *stubDashboard) ClearLog(context.Context) error {
	d.update(func(snap *hub.Snapshot) { snap.Messages = nil })
	d.mu.Lock()
	d.cleared++
	d.mu.Unlock()
	return nil
}

type stubPublishLog struct {
	mu      sync.Mutex
	records []storage.PublishRecord
	trims   []int
}

func (p *stubPublishLog) SavePublish(rec storage.PublishRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
	return nil
}

func (p *stubPublishLog) PublishHistory(limit int) ([]storage.PublishRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.records) > limit {
		return append([]storage.PublishRecord(nil), p.records[len(p.records)-limit:]...), nil
	}
	return append([]storage.PublishRecord(nil), p.records...), nil
}

func (p *stubPublishLog) TrimPublishHistory(keep int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trims = append(p.trims, keep)
	return nil
}

type testServer struct {
	srv       *Server
	dash      *stubDashboard
	publishes *stubPublishLog
	events    *events.Store
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = "test-secret"
	for _, m := range mutate {
		m(&cfg)
	}

	ts := &testServer{
		dash:      newStubDashboard(),
		publishes: &stubPublishLog{},
		events:    events.NewStore(100, zerolog.Nop()),
	}
	ts.srv = NewServer(Deps{
		Hub:       ts.dash,
		Publishes: ts.publishes,
		Config:    &cfg,
		Events:    ts.events,
		Metrics:   metrics.New(),
		Logger:    zerolog.Nop(),
	})
	return ts
}

// do sends a request through the router; body is JSON-encoded unless it is a string
func (ts *testServer) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

// login signs in with the default account and returns the session cookie
func (ts *testServer) login(t *testing.T) *http.Cookie {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/api/auth/login", LoginRequest{
		Username: config.DefaultUsername,
		Password: config.DefaultPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	t.Fatal("login did not set the session cookie")
	return nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}
