// Package telemetry classifies inbound sensor and device traffic and folds it
// into dashboard state. Everything here is pure: functions take a state value
// and return a fresh one, leaving the input untouched.
package telemetry

import "time"

// SensorReading is a single temperature/humidity sample.
// Both fields are always set; zero means "never observed" only when both are zero.
type SensorReading struct {
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Timestamp   time.Time `json:"timestamp"`
}

// HasRealData reports whether the reading carries observed values.
// A reading with both fields at zero is treated as "no data yet".
func (r SensorReading) HasRealData() bool {
	return !(r.Temperature == 0 && r.Humidity == 0)
}

// SensorState is the current reading plus its rolling history (oldest first).
type SensorState struct {
	Current SensorReading   `json:"current"`
	History []SensorReading `json:"history"`
}

// DeviceState is the last known state of an LED-like device.
type DeviceState struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Status        bool      `json:"status"`
	Brightness    *float64  `json:"brightness,omitempty"`
	Color         *string   `json:"color,omitempty"`
	LastChangedAt time.Time `json:"lastChangedAt"`
}

// DeviceFragment is a partial device update. Nil fields are left untouched on merge.
type DeviceFragment struct {
	Status     *bool    `json:"status,omitempty"`
	Brightness *float64 `json:"brightness,omitempty"`
	Color      *string  `json:"color,omitempty"`
}

// IsEmpty reports whether the fragment carries no fields.
func (f DeviceFragment) IsEmpty() bool {
	return f.Status == nil && f.Brightness == nil && f.Color == nil
}

// BrightnessOr returns the device brightness, or def when unset.
func (d DeviceState) BrightnessOr(def float64) float64 {
	if d.Brightness == nil {
		return def
	}
	return *d.Brightness
}

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }
