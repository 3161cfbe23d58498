package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DecodeKind tags a DecodeResult.
type DecodeKind int

const (
	DecodeUnrecognized DecodeKind = iota
	DecodeFragment
)

// DecodeResult is the outcome of decoding an LED payload.
// Fragment and Strategy are only meaningful when Kind is DecodeFragment.
type DecodeResult struct {
	Kind     DecodeKind
	Fragment DeviceFragment
	Strategy string
}

// OK reports whether a fragment was decoded.
func (r DecodeResult) OK() bool { return r.Kind == DecodeFragment }

// DecodeScalar parses a trimmed floating point literal. NaN and infinities are rejected.
func DecodeScalar(payload string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

type ledStrategy struct {
	name  string
	parse func(payload string) (DeviceFragment, bool)
}

// ledStrategies run in order on the trimmed payload; the first that succeeds wins.
var ledStrategies = []ledStrategy{
	{name: "keyword", parse: parseLedKeyword},
	{name: "numeric", parse: parseLedNumeric},
	{name: "json", parse: parseLedJSON},
}

// DecodeLedFragment decodes an LED status or command payload.
func DecodeLedFragment(payload string) DecodeResult {
	trimmed := strings.TrimSpace(payload)
	for _, s := range ledStrategies {
		if frag, ok := s.parse(trimmed); ok {
			return DecodeResult{Kind: DecodeFragment, Fragment: frag, Strategy: s.name}
		}
	}
	return DecodeResult{Kind: DecodeUnrecognized}
}

func parseLedKeyword(p string) (DeviceFragment, bool) {
	switch strings.ToLower(p) {
	case "true", "on", "1":
		return DeviceFragment{Status: Bool(true)}, true
	case "false", "off", "0":
		return DeviceFragment{Status: Bool(false)}, true
	}
	return DeviceFragment{}, false
}

func parseLedNumeric(p string) (DeviceFragment, bool) {
	v, ok := DecodeScalar(p)
	if !ok {
		return DeviceFragment{}, false
	}
	if v >= 0 && v <= 100 {
		return DeviceFragment{Brightness: Float(v), Status: Bool(v > 0)}, true
	}
	return DeviceFragment{Status: Bool(v > 0)}, true
}

type ledPayload struct {
	Status     *bool    `json:"status"`
	Brightness *float64 `json:"brightness"`
	Color      *string  `json:"color"`
}

func parseLedJSON(p string) (DeviceFragment, bool) {
	var lp ledPayload
	if err := json.Unmarshal([]byte(p), &lp); err != nil {
		return DeviceFragment{}, false
	}
	frag := DeviceFragment{Status: lp.Status, Brightness: lp.Brightness, Color: lp.Color}
	if frag.IsEmpty() {
		return DeviceFragment{}, false
	}
	return frag, true
}

// DecodeCombinedSensor decodes a JSON sensor object. English field names take
// precedence over the Indonesian ones; missing values default to 0.
func DecodeCombinedSensor(payload string, now time.Time) (SensorReading, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &fields); err != nil || fields == nil {
		return SensorReading{}, false
	}

	temp, tempOK, err := pickNumber(fields, "temperature", "suhu")
	if err != nil {
		return SensorReading{}, false
	}
	hum, humOK, err := pickNumber(fields, "humidity", "kelembapan")
	if err != nil {
		return SensorReading{}, false
	}
	if !tempOK && !humOK {
		return SensorReading{}, false
	}

	ts, ok := parseTimestamp(fields["timestamp"])
	if !ok {
		ts = now
	}

	return SensorReading{Temperature: temp, Humidity: hum, Timestamp: ts}, true
}

// pickNumber returns the first present key's numeric value. A present key with
// an unusable value is an error rather than a fallthrough.
func pickNumber(fields map[string]json.RawMessage, keys ...string) (float64, bool, error) {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok || isNull(raw) {
			continue
		}
		v, err := parseNumber(raw)
		if err != nil {
			return 0, false, fmt.Errorf("%s: %w", k, err)
		}
		return v, true, nil
	}
	return 0, false, nil
}

func parseNumber(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number")
	}
	v, ok := DecodeScalar(s)
	if !ok {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return v, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// parseTimestamp accepts RFC 3339 strings or unix seconds/milliseconds.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || isNull(raw) {
		return time.Time{}, false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err != nil || n <= 0 {
		return time.Time{}, false
	}
	if n >= 1e12 {
		return time.UnixMilli(int64(n)), true
	}
	return time.Unix(int64(n), 0), true
}
