package contracts

import "fmt"

// DeviceInfo describes a MIDI source or destination. Index is the value to
// pass to SelectDevice.
type DeviceInfo struct {
	Index        int
	Name         string
	Manufacturer string // Empty when the driver does not report one.
	EntityName   string
}

func (d DeviceInfo) String() string {
	if d.Manufacturer == "" {
		return fmt.Sprintf("%d: %s", d.Index, d.Name)
	}
	return fmt.Sprintf("%d: %s (%s)", d.Index, d.Name, d.Manufacturer)
}
