package backend

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// DeviceType names a class of execution device.
type DeviceType string

const (
	DeviceCPU    DeviceType = "cpu"
	DeviceCUDA   DeviceType = "cuda"
	DeviceOpenCL DeviceType = "cl"
	DeviceMetal  DeviceType = "metal"
	DeviceVulkan DeviceType = "vulkan"
	DeviceROCm   DeviceType = "rocm"
)

// DeviceTypes lists every supported device type.
var DeviceTypes = []DeviceType{DeviceCPU, DeviceCUDA, DeviceOpenCL, DeviceMetal, DeviceVulkan, DeviceROCm}

// Device is a device type and ordinal.
type Device struct {
	Type DeviceType
	ID   int
}

// CPU returns the first CPU device.
func CPU() Device {
	return Device{Type: DeviceCPU}
}

func (d Device) String() string {
	if d.ID == 0 {
		return string(d.Type)
	}
	return fmt.Sprintf("%s:%d", d.Type, d.ID)
}

// ParseDevice parses "type" or "type:id", e.g. "cpu" or "cuda:1".
func ParseDevice(s string) (Device, error) {
	name, id, hasID := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")

	d := Device{Type: DeviceType(name)}
	if !slices.Contains(DeviceTypes, d.Type) {
		return Device{}, fmt.Errorf("%w: %q", ErrUnsupportedDevice, s)
	}

	if hasID {
		n, err := strconv.Atoi(id)
		if err != nil || n < 0 {
			return Device{}, fmt.Errorf("%w: invalid ordinal in %q", ErrUnsupportedDevice, s)
		}
		d.ID = n
	}

	return d, nil
}
