package telemetry

import "time"

// HistoryCapacity bounds SensorState.History; the oldest reading is evicted first.
const HistoryCapacity = 100

// InitialSensorState is the no-data state used at startup and after disconnect.
func InitialSensorState(now time.Time) SensorState {
	return SensorState{
		Current: SensorReading{Timestamp: now},
		History: []SensorReading{},
	}
}

// ApplyTemperature replaces the temperature, keeping the last known humidity.
func ApplyTemperature(state SensorState, value float64, now time.Time) SensorState {
	reading := SensorReading{
		Temperature: value,
		Humidity:    state.Current.Humidity,
		Timestamp:   now,
	}
	return SensorState{Current: reading, History: appendHistory(state.History, reading)}
}

// ApplyHumidity replaces the humidity, keeping the last known temperature.
func ApplyHumidity(state SensorState, value float64, now time.Time) SensorState {
	reading := SensorReading{
		Temperature: state.Current.Temperature,
		Humidity:    value,
		Timestamp:   now,
	}
	return SensorState{Current: reading, History: appendHistory(state.History, reading)}
}

// ApplyCombined replaces both fields at once and appends a single history entry.
func ApplyCombined(state SensorState, reading SensorReading) SensorState {
	return SensorState{Current: reading, History: appendHistory(state.History, reading)}
}

// appendHistory returns a new slice; the input is never written to.
func appendHistory(history []SensorReading, r SensorReading) []SensorReading {
	start := 0
	if len(history) >= HistoryCapacity {
		start = len(history) - HistoryCapacity + 1
	}
	out := make([]SensorReading, 0, len(history)-start+1)
	out = append(out, history[start:]...)
	return append(out, r)
}
