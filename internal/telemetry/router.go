package telemetry

import "strings"

// Category is the semantic class of an inbound topic.
type Category int

const (
	CategoryUnrecognized Category = iota
	CategoryTemperature
	CategoryHumidity
	CategoryCombined
	CategoryLed
)

func (c Category) String() string {
	switch c {
	case CategoryTemperature:
		return "temperature"
	case CategoryHumidity:
		return "humidity"
	case CategoryCombined:
		return "combined"
	case CategoryLed:
		return "led"
	default:
		return "unrecognized"
	}
}

// Route is the outcome of classifying a topic.
type Route struct {
	Category Category
	// DeviceID is set for CategoryLed.
	DeviceID string
	// Tolerant marks a combined route reached by the catch-all rule rather
	// than by topic name. The payload decides whether it is sensor data.
	Tolerant bool
	// Rule names the routing rule that matched.
	Rule string
}

// routeRule is one entry of the ordered routing table. rest is the topic with
// the namespace prefix removed.
type routeRule struct {
	name  string
	match func(topic, rest string, in classifyInput) (Route, bool)
}

// classifyInput is what a rule may consult besides the topic
type classifyInput struct {
	settings  TopicSettings
	namespace string
	deviceIDs []string
}

func (in classifyInput) knownDevice(id string) bool {
	for _, d := range in.deviceIDs {
		if d == id {
			return true
		}
	}
	return false
}

// routeRules is evaluated top to bottom; the first match wins, so specific
// sensor topics take precedence over the LED shape and the catch-all.
var routeRules = []routeRule{
	{
		name: "temperature",
		match: func(_, rest string, in classifyInput) (Route, bool) {
			return Route{Category: CategoryTemperature}, matchesSuffix(rest, in.settings.Temperature, in.namespace, "suhu", "temperature")
		},
	},
	{
		name: "humidity",
		match: func(_, rest string, in classifyInput) (Route, bool) {
			return Route{Category: CategoryHumidity}, matchesSuffix(rest, in.settings.Humidity, in.namespace, "kelembapan", "humidity")
		},
	},
	{
		name: "sensor_data",
		match: func(_, rest string, in classifyInput) (Route, bool) {
			return Route{Category: CategoryCombined}, matchesSuffix(rest, in.settings.SensorData, in.namespace, "sensor_data", "data")
		},
	},
	{
		name: "led",
		match: func(_, rest string, _ classifyInput) (Route, bool) {
			if !strings.HasPrefix(rest, "led") {
				return Route{}, false
			}
			if !strings.Contains(rest, "/status") && !strings.Contains(rest, "/command") {
				return Route{}, false
			}
			id, _, _ := strings.Cut(rest, "/")
			return Route{Category: CategoryLed, DeviceID: id}, true
		},
	},
	{
		name: "led_filter",
		match: func(topic, rest string, in classifyInput) (Route, bool) {
			for _, filter := range []string{in.settings.LedStatus, in.settings.LedCommand} {
				if !MatchFilter(filter, topic) {
					continue
				}
				id, ok := captureWildcard(filter, topic)
				if !ok {
					id, _, _ = strings.Cut(rest, "/")
				}
				// only provisioned devices, so other topics keep the sensor fallback
				if !in.knownDevice(id) {
					continue
				}
				return Route{Category: CategoryLed, DeviceID: id}, true
			}
			return Route{}, false
		},
	},
}

// matchesSuffix reports whether rest equals the namespace-relative part of the
// configured topic or one of the fixed aliases.
func matchesSuffix(rest, configured, namespace string, aliases ...string) bool {
	if configured != "" {
		suffix := strings.TrimPrefix(configured, namespace+"/")
		if rest == suffix {
			return true
		}
	}
	for _, a := range aliases {
		if rest == a {
			return true
		}
	}
	return false
}

// Classify maps a topic to its category. Topics outside namespace are
// unrecognized; anything under it that no rule claims falls through to a
// tolerant combined-sensor route. The configured LED filters only claim
// topics whose captured id is one of deviceIDs.
func Classify(topic string, settings TopicSettings, namespace string, deviceIDs ...string) Route {
	rest, ok := strings.CutPrefix(topic, namespace+"/")
	if !ok {
		return Route{Category: CategoryUnrecognized}
	}

	in := classifyInput{settings: settings, namespace: namespace, deviceIDs: deviceIDs}
	for _, rule := range routeRules {
		if r, ok := rule.match(topic, rest, in); ok {
			r.Rule = rule.name
			return r
		}
	}

	return Route{Category: CategoryCombined, Tolerant: true, Rule: "fallback"}
}
