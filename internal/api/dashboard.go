package api

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/haadziqf/iot-hub-control-dashboard/internal/events"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/hub"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/storage"
	"github.com/haadziqf/iot-hub-control-dashboard/internal/telemetry"
)

// Dashboard is the hub surface used by the HTTP handlers. *hub.Hub implements it.
type Dashboard interface {
	Snapshot() *hub.Snapshot
	Watch() (<-chan struct{}, func())
	Connect(ctx context.Context, cfg hub.ConnectionConfig) error
	Disconnect(ctx context.Context) error
	SavedConnection() (hub.ConnectionConfig, bool)
	Subscribe(ctx context.Context, topic string, qos byte) error
	Unsubscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
	ToggleDevice(ctx context.Context, id string) (telemetry.DeviceState, error)
	SetBrightness(ctx context.Context, id string, brightness float64) (telemetry.DeviceState, error)
	UpdateTopicSettings(ctx context.Context, s telemetry.TopicSettings) error
	ResetTopicSettings(ctx context.Context) (telemetry.TopicSettings, error)
	ClearLog(ctx context.Context) error
}

// PublishLog keeps the recent manual publishes. *storage.BoltStorage implements it.
type PublishLog interface {
	SavePublish(rec storage.PublishRecord) error
	PublishHistory(limit int) ([]storage.PublishRecord, error)
	TrimPublishHistory(keep int) error
}

const (
	// publishHistorySize is how many manual publishes are kept
	publishHistorySize = 50

	// averageWindow is the span of the sensor averages
	averageWindow = 24 * time.Hour
)

// DashboardHandler serves the broker, telemetry and device endpoints
type DashboardHandler struct {
	hub          Dashboard
	publishes    PublishLog
	eventStore   *events.Store
	connDefaults hub.ConnectionConfig
	namespace    string
	logger       zerolog.Logger
	now          func() time.Time
}

// NewDashboardHandler creates the dashboard handler. publishes may be nil.
func NewDashboardHandler(d Dashboard, publishes PublishLog, eventStore *events.Store, connDefaults hub.ConnectionConfig, namespace string, logger zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{
		hub:          d,
		publishes:    publishes,
		eventStore:   eventStore,
		connDefaults: connDefaults,
		namespace:    namespace,
		logger:       logger,
		now:          time.Now,
	}
}
