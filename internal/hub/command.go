package hub

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/haadziqf/iot-hub-control-dashboard/internal/telemetry"
)

// CommandFormat selects how LED commands are encoded on the wire.
type CommandFormat string

const (
	// CommandJSON publishes {"status":bool,"brightness":number}.
	CommandJSON CommandFormat = "json"
	// CommandBoolean publishes "true"/"false" for toggles.
	CommandBoolean CommandFormat = "boolean"
	// CommandNumeric publishes "1"/"0" for toggles and the bare level for brightness.
	CommandNumeric CommandFormat = "numeric"
)

// ParseCommandFormat validates s; an empty string selects CommandJSON.
func ParseCommandFormat(s string) (CommandFormat, error) {
	switch CommandFormat(s) {
	case "", CommandJSON:
		return CommandJSON, nil
	case CommandBoolean, CommandNumeric:
		return CommandFormat(s), nil
	}
	return "", fmt.Errorf("unknown command format %q", s)
}

type ledCommand struct {
	Status     bool     `json:"status"`
	Brightness *float64 `json:"brightness,omitempty"`
}

// encodeToggle builds the payload for setting status on d.
func encodeToggle(format CommandFormat, d telemetry.DeviceState, status bool) ([]byte, error) {
	switch format {
	case CommandBoolean:
		return []byte(strconv.FormatBool(status)), nil
	case CommandNumeric:
		if status {
			return []byte("1"), nil
		}
		return []byte("0"), nil
	}
	return json.Marshal(ledCommand{Status: status, Brightness: d.Brightness})
}

// encodeBrightness builds the payload for setting brightness on d. The
// boolean format cannot carry a level, so it falls back to JSON.
func encodeBrightness(format CommandFormat, d telemetry.DeviceState, brightness float64) ([]byte, error) {
	if format == CommandNumeric {
		return []byte(strconv.FormatFloat(brightness, 'f', -1, 64)), nil
	}
	return json.Marshal(ledCommand{Status: d.Status, Brightness: telemetry.Float(brightness)})
}
