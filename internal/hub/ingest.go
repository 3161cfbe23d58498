package hub

import (
	"github.com/rs/zerolog"

	"github.com/haadziqf/iot-hub-control-dashboard/internal/telemetry"
)

// onMessage logs every inbound message, then routes, decodes and reduces it.
// Anything that fails along the way leaves only the log entry behind.
func (h *Hub) onMessage(msg Message) {
	now := h.now()
	payload := string(msg.Payload)

	h.nextMsgID++
	h.messages = append(h.messages, MessageLogEntry{
		ID:         h.nextMsgID,
		Topic:      msg.Topic,
		Payload:    payload,
		QoS:        msg.QoS,
		Retained:   msg.Retained,
		ReceivedAt: now,
	})

	route := telemetry.Classify(msg.Topic, h.topics, h.namespace, h.deviceIDs...)
	category := route.Category.String()
	h.observer.MessageReceived(category)

	log := h.logger.With().Str("topic", msg.Topic).Str("rule", route.Rule).Logger()

	switch route.Category {
	case telemetry.CategoryTemperature:
		v, ok := telemetry.DecodeScalar(payload)
		if !ok {
			h.drop(log, category, "not a number")
			return
		}
		h.sensors = telemetry.ApplyTemperature(h.sensors, v, now)

	case telemetry.CategoryHumidity:
		v, ok := telemetry.DecodeScalar(payload)
		if !ok {
			h.drop(log, category, "not a number")
			return
		}
		h.sensors = telemetry.ApplyHumidity(h.sensors, v, now)

	case telemetry.CategoryCombined:
		reading, ok := telemetry.DecodeCombinedSensor(payload, now)
		if !ok {
			if !route.Tolerant {
				h.drop(log, category, "no sensor fields")
			}
			return
		}
		h.sensors = telemetry.ApplyCombined(h.sensors, reading)

	case telemetry.CategoryLed:
		res := telemetry.DecodeLedFragment(payload)
		if !res.OK() {
			h.drop(log, category, "unrecognized payload")
			return
		}
		devices, changed := telemetry.ApplyLedFragment(h.devices, route.DeviceID, res.Fragment, now)
		if !changed {
			h.drop(log, category, "unknown device")
			return
		}
		h.devices = devices
		log.Debug().Str("device", route.DeviceID).Str("strategy", res.Strategy).Msg("device updated")
	}
}

func (h *Hub) drop(log zerolog.Logger, category, reason string) {
	h.observer.MessageDropped(category, reason)
	log.Debug().Str("reason", reason).Msg("payload dropped")
}
