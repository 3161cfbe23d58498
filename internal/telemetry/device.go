package telemetry

import "time"

// ApplyLedFragment merges frag into the device with the given id.
//
// Devices are only created by configuration, so an unknown id returns the
// input slice unchanged and false. Otherwise a new slice is returned in which
// the matching device has every present fragment field overwritten and
// LastChangedAt set to now.
func ApplyLedFragment(devices []DeviceState, id string, frag DeviceFragment, now time.Time) ([]DeviceState, bool) {
	idx := FindDevice(devices, id)
	if idx < 0 {
		return devices, false
	}

	out := make([]DeviceState, len(devices))
	copy(out, devices)

	d := out[idx]
	if frag.Status != nil {
		d.Status = *frag.Status
	}
	if frag.Brightness != nil {
		d.Brightness = Float(*frag.Brightness)
	}
	if frag.Color != nil {
		d.Color = String(*frag.Color)
	}
	d.LastChangedAt = now
	out[idx] = d

	return out, true
}

// FindDevice returns the index of the device with id, or -1.
func FindDevice(devices []DeviceState, id string) int {
	for i, d := range devices {
		if d.ID == id {
			return i
		}
	}
	return -1
}

// DeviceIDs returns the ids of devices in order.
func DeviceIDs(devices []DeviceState) []string {
	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = d.ID
	}
	return ids
}

// CloneDevices returns a deep copy so callers never share pointer fields.
func CloneDevices(devices []DeviceState) []DeviceState {
	out := make([]DeviceState, len(devices))
	for i, d := range devices {
		if d.Brightness != nil {
			d.Brightness = Float(*d.Brightness)
		}
		if d.Color != nil {
			d.Color = String(*d.Color)
		}
		out[i] = d
	}
	return out
}
