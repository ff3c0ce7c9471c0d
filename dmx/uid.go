package dmx

import "fmt"

// UID identifies an RDM device: 16-bit manufacturer ID over a 32-bit
// device ID, serialized as six big-endian octets (§3).
type UID struct {
	Manufacturer uint16
	Device       uint32
}

// AllDevicesID is the manufacturer field reserved for broadcasts that
// target every manufacturer.
const AllDevicesID uint16 = 0xffff

// AllDevicesDevice is the device field reserved for an all-devices
// broadcast within a single manufacturer, or combined with
// AllDevicesID for a fully unaddressed broadcast.
const AllDevicesDevice uint32 = 0xffffffff

// AllDevices is the distinguished broadcast UID.
var AllDevices = UID{Manufacturer: AllDevicesID, Device: AllDevicesDevice}

// IsBroadcast reports whether u addresses every device of a manufacturer
// (or, combined with AllDevicesID, every device on the bus).
func (u UID) IsBroadcast() bool { return u.Device == AllDevicesDevice }

// Less orders UIDs by manufacturer then device, the total order §3 asks
// for.
func (u UID) Less(o UID) bool {
	if u.Manufacturer != o.Manufacturer {
		return u.Manufacturer < o.Manufacturer
	}
	return u.Device < o.Device
}

func (u UID) Equal(o UID) bool { return u == o }

// Bytes serializes the UID to six big-endian octets.
func (u UID) Bytes() [6]byte {
	var b [6]byte
	b[0] = byte(u.Manufacturer >> 8)
	b[1] = byte(u.Manufacturer)
	b[2] = byte(u.Device >> 24)
	b[3] = byte(u.Device >> 16)
	b[4] = byte(u.Device >> 8)
	b[5] = byte(u.Device)
	return b
}

// UIDFromBytes parses six big-endian octets into a UID.
func UIDFromBytes(b []byte) UID {
	_ = b[5] // bounds check hint, mirrors teacher's defensive-slice style
	return UID{
		Manufacturer: uint16(b[0])<<8 | uint16(b[1]),
		Device:       uint32(b[2])<<24 | uint32(b[3])<<16 | uint32(b[4])<<8 | uint32(b[5]),
	}
}

func (u UID) String() string {
	return fmt.Sprintf("%04x:%08x", u.Manufacturer, u.Device)
}
