package hal

import (
	"context"
	"encoding/binary"
)

// EndpointConfig describes a data endpoint of the active configuration.
type EndpointConfig struct {
	Address       uint8 // includes the direction bit
	Attributes    uint8
	MaxPacketSize uint16
	Interval      uint8
}

// Number returns the endpoint number (0-15).
func (e EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn reports a device-to-host endpoint.
func (e EndpointConfig) IsIn() bool {
	return e.Address&0x80 != 0
}

// SetupPacket is the 8-byte SETUP transaction as seen by the HAL.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// SetupPacketSize is the size of a SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket decodes data into out. It reports false if data is short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = binary.LittleEndian.Uint16(data[2:4])
	out.Index = binary.LittleEndian.Uint16(data[4:6])
	out.Length = binary.LittleEndian.Uint16(data[6:8])
	return true
}

// MarshalTo encodes the packet into buf. Returns 0 if buf is too small.
func (s SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	binary.LittleEndian.PutUint16(buf[2:4], s.Value)
	binary.LittleEndian.PutUint16(buf[4:6], s.Index)
	binary.LittleEndian.PutUint16(buf[6:8], s.Length)
	return SetupPacketSize
}

// DeviceHAL is what the device stack needs from a USB device controller.
//
// Blocking calls return when ctx is done. Implementations must allow the
// control methods and the data endpoint methods to be called from different
// goroutines.
type DeviceHAL interface {
	// Init prepares the controller. It does not attach to the bus.
	Init(ctx context.Context) error

	// Start attaches to the bus.
	Start() error

	// Stop detaches from the bus and releases the controller.
	Stop() error

	// SetAddress applies the address assigned by SET_ADDRESS. It is called
	// after the status stage of that request.
	SetAddress(address uint8) error

	// ConfigureEndpoints enables the endpoints of the active configuration.
	// An empty slice disables all data endpoints.
	ConfigureEndpoints(endpoints []EndpointConfig) error

	// ReadSetup blocks for the next SETUP packet. A bus reset is reported as
	// pkg.ErrReset.
	ReadSetup(ctx context.Context, out *SetupPacket) error

	// WriteEP0 sends the IN data stage of a control transfer.
	WriteEP0(ctx context.Context, data []byte) error

	// ReadEP0 receives the OUT data stage into buf. With an empty buf it
	// consumes the host's status stage.
	ReadEP0(ctx context.Context, buf []byte) (int, error)

	// StallEP0 answers the current control transfer with STALL.
	StallEP0() error

	// AckEP0 sends the zero-length status stage of an OUT control transfer.
	AckEP0() error

	// Read receives one packet from an OUT endpoint.
	Read(ctx context.Context, address uint8, buf []byte) (int, error)

	// Write sends data on an IN endpoint.
	Write(ctx context.Context, address uint8, data []byte) (int, error)

	// IsConnected reports whether a host is attached.
	IsConnected() bool

	// WaitConnect blocks until a host is attached.
	WaitConnect(ctx context.Context) error
}
