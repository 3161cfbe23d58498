package hub

import (
	"context"
	"fmt"
	"math"

	"github.com/haadziqf/iot-hub-control-dashboard/internal/telemetry"
)

// Connect replaces any existing connection with a new one to cfg. It returns
// once the attempt has started; the outcome shows up in the snapshot status.
func (h *Hub) Connect(ctx context.Context, cfg ConnectionConfig) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	return h.do(ctx, func() error {
		h.teardown()
		h.conn = cfg
		h.setStatus(Status{State: StateConnecting})

		t, err := h.factory(cfg, h.handlersFor(h.gen))
		if err != nil {
			h.logger.Error().Err(err).Str("broker", cfg.BrokerURL()).Msg("failed to create transport")
			h.setStatus(errorStatus(err))
			return nil
		}
		h.transport = t
		h.saveConnection(cfg)

		h.logger.Info().Str("broker", cfg.BrokerURL()).Str("client_id", cfg.ClientID).Msg("connecting to broker")
		t.Connect()
		return nil
	})
}

func (h *Hub) saveConnection(cfg ConnectionConfig) {
	if h.store == nil {
		return
	}
	if err := h.store.SetJSON(storeBucket, connectionKey, cfg.Redacted()); err != nil {
		h.logger.Warn().Err(err).Msg("failed to save connection profile")
	}
}

// SavedConnection returns the last connection profile used, without password.
func (h *Hub) SavedConnection() (ConnectionConfig, bool) {
	if h.store == nil {
		return ConnectionConfig{}, false
	}
	var cfg ConnectionConfig
	if err := h.store.GetJSON(storeBucket, connectionKey, &cfg); err != nil {
		return ConnectionConfig{}, false
	}
	return cfg, true
}

// Disconnect tears down the transport and resets subscriptions, sensor state
// and devices to their initial values. The message log is kept.
func (h *Hub) Disconnect(ctx context.Context) error {
	return h.do(ctx, func() error {
		wasConnected := h.transport != nil
		h.teardown()
		h.setStatus(disconnected())

		h.subs = []Subscription{}
		h.sensors = telemetry.InitialSensorState(h.now())
		h.devices = telemetry.CloneDevices(h.defaults)

		if wasConnected {
			h.logger.Info().Str("broker", h.conn.BrokerURL()).Msg("disconnected from broker")
		}
		return nil
	})
}

func validQoS(qos byte) error {
	if qos > 2 {
		return ErrInvalidQoS
	}
	return nil
}

// requireConnected is called on the loop.
func (h *Hub) requireConnected() error {
	if h.transport == nil || !h.status.Connected() {
		return ErrNotConnected
	}
	return nil
}

// Subscribe asks the broker for topic. Subscribing to a recorded topic is a no-op.
func (h *Hub) Subscribe(ctx context.Context, topic string, qos byte) error {
	if err := telemetry.ValidateFilter(topic); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}
	if err := validQoS(qos); err != nil {
		return err
	}

	return h.do(ctx, func() error {
		if err := h.requireConnected(); err != nil {
			return err
		}
		h.requestSubscribe(topic, qos)
		return nil
	})
}

// Unsubscribe drops topic once the broker acknowledges it.
func (h *Hub) Unsubscribe(ctx context.Context, topic string) error {
	if err := telemetry.ValidateFilter(topic); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}

	return h.do(ctx, func() error {
		if err := h.requireConnected(); err != nil {
			return err
		}
		gen := h.gen
		h.transport.Unsubscribe(topic, func(err error) {
			h.postFor(gen, func() { h.onUnsubscribeResult(topic, err) })
		})
		return nil
	})
}

// Publish sends payload to topic. Delivery failures are only logged.
func (h *Hub) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	if err := telemetry.ValidateTopicName(topic); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}
	if err := validQoS(qos); err != nil {
		return err
	}

	return h.do(ctx, func() error {
		if err := h.requireConnected(); err != nil {
			return err
		}
		h.send(topic, payload, qos, retain, "publish")
		return nil
	})
}

func (h *Hub) send(topic string, payload []byte, qos byte, retain bool, kind string) {
	log := h.logger.With().Str("topic", topic).Uint8("qos", qos).Bool("retained", retain).Logger()
	h.transport.Publish(topic, qos, retain, payload, func(err error) {
		if err != nil {
			log.Warn().Err(err).Msg("publish failed")
		}
	})
	h.observer.CommandPublished(kind)
	log.Debug().Str("kind", kind).Msg("published")
}

// ToggleDevice flips the device status, publishes the command and applies the
// change locally without waiting for the device to echo it.
func (h *Hub) ToggleDevice(ctx context.Context, id string) (telemetry.DeviceState, error) {
	var updated telemetry.DeviceState
	err := h.do(ctx, func() error {
		d, err := h.commandTarget(id)
		if err != nil {
			return err
		}

		status := !d.Status
		payload, err := encodeToggle(h.format, d, status)
		if err != nil {
			return err
		}
		updated, err = h.sendCommand(d, payload, telemetry.DeviceFragment{Status: telemetry.Bool(status)}, "toggle")
		return err
	})
	return updated, err
}

// SetBrightness publishes a brightness command and applies it locally.
func (h *Hub) SetBrightness(ctx context.Context, id string, brightness float64) (telemetry.DeviceState, error) {
	if math.IsNaN(brightness) || brightness < 0 || brightness > 100 {
		return telemetry.DeviceState{}, ErrInvalidBrightness
	}

	var updated telemetry.DeviceState
	err := h.do(ctx, func() error {
		d, err := h.commandTarget(id)
		if err != nil {
			return err
		}

		payload, err := encodeBrightness(h.format, d, brightness)
		if err != nil {
			return err
		}
		updated, err = h.sendCommand(d, payload, telemetry.DeviceFragment{Brightness: telemetry.Float(brightness)}, "brightness")
		return err
	})
	return updated, err
}

func (h *Hub) commandTarget(id string) (telemetry.DeviceState, error) {
	if err := h.requireConnected(); err != nil {
		return telemetry.DeviceState{}, err
	}
	idx := telemetry.FindDevice(h.devices, id)
	if idx < 0 {
		return telemetry.DeviceState{}, ErrDeviceNotFound
	}
	return h.devices[idx], nil
}

func (h *Hub) sendCommand(d telemetry.DeviceState, payload []byte, frag telemetry.DeviceFragment, kind string) (telemetry.DeviceState, error) {
	topic, err := telemetry.ResolveCommandTopic(h.topics.LedCommand, d.ID)
	if err != nil {
		return telemetry.DeviceState{}, fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}

	h.send(topic, payload, 0, false, kind)

	devices, _ := telemetry.ApplyLedFragment(h.devices, d.ID, frag, h.now())
	h.devices = devices
	return devices[telemetry.FindDevice(devices, d.ID)], nil
}

// UpdateTopicSettings replaces and persists the topic settings. Only messages
// received afterwards are classified with the new patterns.
func (h *Hub) UpdateTopicSettings(ctx context.Context, s telemetry.TopicSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return h.do(ctx, func() error {
		return h.applyTopicSettings(s)
	})
}

// ResetTopicSettings restores and persists the default topic settings.
func (h *Hub) ResetTopicSettings(ctx context.Context) (telemetry.TopicSettings, error) {
	err := h.do(ctx, func() error {
		return h.applyTopicSettings(h.topicDefaults)
	})
	return h.topicDefaults, err
}

func (h *Hub) applyTopicSettings(s telemetry.TopicSettings) error {
	if h.store != nil {
		if err := h.store.SetJSON(storeBucket, telemetry.SettingsKey, s); err != nil {
			return fmt.Errorf("failed to save topic settings: %w", err)
		}
	}
	h.topics = s
	h.logger.Info().Interface("topics", s).Msg("topic settings updated")
	return nil
}

// ClearLog empties the raw message log.
func (h *Hub) ClearLog(ctx context.Context) error {
	return h.do(ctx, func() error {
		h.messages = nil
		return nil
	})
}
