package telemetry

import (
	"fmt"

	"github.com/hay-kot/criterio"
)

// SettingsKey is the persisted-store key under which TopicSettings live.
const SettingsKey = "mqtt-topics"

// TopicSettings holds the user-configurable topic patterns that drive routing.
type TopicSettings struct {
	Temperature string `json:"temperature" yaml:"temperature"`
	Humidity    string `json:"humidity" yaml:"humidity"`
	SensorData  string `json:"sensorData" yaml:"sensor_data"`
	LedCommand  string `json:"ledCommand" yaml:"led_command"`
	LedStatus   string `json:"ledStatus" yaml:"led_status"`
}

// DefaultTopicSettings returns the stock topic layout under namespace.
func DefaultTopicSettings(namespace string) TopicSettings {
	return TopicSettings{
		Temperature: namespace + "/suhu",
		Humidity:    namespace + "/kelembapan",
		SensorData:  namespace + "/sensor_data",
		LedCommand:  namespace + "/+/command",
		LedStatus:   namespace + "/+/status",
	}
}

// Topics returns the configured topics in a fixed order.
func (s TopicSettings) Topics() []string {
	return []string{s.Temperature, s.Humidity, s.SensorData, s.LedCommand, s.LedStatus}
}

// Validate checks that every topic is a well-formed MQTT filter.
func (s TopicSettings) Validate() error {
	var errs criterio.FieldErrorsBuilder

	fields := []struct {
		name  string
		value string
	}{
		{"temperature", s.Temperature},
		{"humidity", s.Humidity},
		{"sensorData", s.SensorData},
		{"ledCommand", s.LedCommand},
		{"ledStatus", s.LedStatus},
	}
	for _, f := range fields {
		if err := ValidateFilter(f.value); err != nil {
			errs = errs.Append(f.name, err)
		}
	}

	// The command topic is published to, so at most one wildcard level is allowed
	// and it must be the single-level one standing in for the device id.
	if err := validateCommandTopic(s.LedCommand); err != nil {
		errs = errs.Append("ledCommand", err)
	}

	return errs.ToError()
}

func validateCommandTopic(topic string) error {
	if topic == "" {
		return nil // reported by ValidateFilter
	}
	levels := splitLevels(topic)
	plus := 0
	for _, l := range levels {
		switch l {
		case "#":
			return fmt.Errorf("multi-level wildcard not allowed in command topic")
		case "+":
			plus++
		}
	}
	if plus > 1 {
		return fmt.Errorf("at most one '+' level allowed in command topic")
	}
	return nil
}
