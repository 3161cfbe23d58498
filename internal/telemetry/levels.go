package telemetry

import "time"

type threshold struct {
	below float64
	label string
}

var temperatureLevels = []threshold{
	{10, "Cold"},
	{18, "Cool"},
	{26, "Normal"},
	{32, "Warm"},
}

var humidityLevels = []threshold{
	{30, "Dry"},
	{60, "Normal"},
	{80, "Humid"},
}

func classifyLevel(v float64, levels []threshold, top string) string {
	for _, l := range levels {
		if v < l.below {
			return l.label
		}
	}
	return top
}

// TemperatureLevel labels a temperature in °C.
func TemperatureLevel(celsius float64) string {
	return classifyLevel(celsius, temperatureLevels, "Hot")
}

// HumidityLevel labels a relative humidity percentage.
func HumidityLevel(percent float64) string {
	return classifyLevel(percent, humidityLevels, "Very Humid")
}

// Averages summarises the readings newer than now-window.
type Averages struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Samples     int     `json:"samples"`
}

// WindowAverages averages the history entries strictly newer than now-window.
// Samples is zero when nothing falls inside the window.
func WindowAverages(history []SensorReading, now time.Time, window time.Duration) Averages {
	cutoff := now.Add(-window)
	var avg Averages
	for _, r := range history {
		if !r.Timestamp.After(cutoff) {
			continue
		}
		avg.Temperature += r.Temperature
		avg.Humidity += r.Humidity
		avg.Samples++
	}
	if avg.Samples > 0 {
		avg.Temperature /= float64(avg.Samples)
		avg.Humidity /= float64(avg.Samples)
	}
	return avg
}
