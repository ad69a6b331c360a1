package device

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/softhub/pkg"
)

// Standard request codes (USB 2.0 table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
)

// Standard feature selectors (USB 2.0 table 9-6).
const (
	FeatureEndpointHalt       = 0x00
	FeatureDeviceRemoteWakeup = 0x01
)

// bmRequestType fields (USB 2.0 table 9-2).
const (
	RequestTypeDirectionMask = 0x80
	RequestTypeTypeMask      = 0x60
	RequestTypeRecipientMask = 0x1F

	RequestDirectionHostToDevice = 0x00
	RequestDirectionDeviceToHost = 0x80

	RequestTypeStandard = 0x00
	RequestTypeClass    = 0x20
	RequestTypeVendor   = 0x40

	RequestRecipientDevice    = 0x00
	RequestRecipientInterface = 0x01
	RequestRecipientEndpoint  = 0x02
	RequestRecipientOther     = 0x03
)

// SetupPacket is the decoded 8-byte SETUP packet. It is a comparable value
// type; two packets are the same request exactly when they are ==.
type SetupPacket struct {
	RequestType uint8  // bmRequestType
	Request     uint8  // bRequest
	Value       uint16 // wValue
	Index       uint16 // wIndex
	Length      uint16 // wLength
}

// SetupPacketSize is the size of a SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket decodes data into out.
func ParseSetupPacket(data []byte, out *SetupPacket) error {
	if len(data) < SetupPacketSize {
		return pkg.ErrSetupPacketTooShort
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = binary.LittleEndian.Uint16(data[2:4])
	out.Index = binary.LittleEndian.Uint16(data[4:6])
	out.Length = binary.LittleEndian.Uint16(data[6:8])
	return nil
}

// MarshalTo writes the packet to buf and returns 8, or 0 if buf is too small.
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

// IsDeviceToHost reports whether the data stage flows to the host.
func (s SetupPacket) IsDeviceToHost() bool {
	return s.RequestType&RequestTypeDirectionMask == RequestDirectionDeviceToHost
}

// Type returns the type bits (standard, class or vendor).
func (s SetupPacket) Type() uint8 {
	return s.RequestType & RequestTypeTypeMask
}

// IsStandard reports a standard request.
func (s SetupPacket) IsStandard() bool {
	return s.Type() == RequestTypeStandard
}

// IsClass reports a class-specific request.
func (s SetupPacket) IsClass() bool {
	return s.Type() == RequestTypeClass
}

// Recipient returns the recipient bits.
func (s SetupPacket) Recipient() uint8 {
	return s.RequestType & RequestTypeRecipientMask
}

// IsDeviceRecipient reports a request addressed to the device.
func (s SetupPacket) IsDeviceRecipient() bool {
	return s.Recipient() == RequestRecipientDevice
}

// IsInterfaceRecipient reports a request addressed to an interface.
func (s SetupPacket) IsInterfaceRecipient() bool {
	return s.Recipient() == RequestRecipientInterface
}

// IsOtherRecipient reports a request addressed to "other", which hubs use
// for their downstream ports.
func (s SetupPacket) IsOtherRecipient() bool {
	return s.Recipient() == RequestRecipientOther
}

// DescriptorType returns the descriptor type from the wValue high byte.
func (s SetupPacket) DescriptorType() uint8 {
	return uint8(s.Value >> 8)
}

// DescriptorIndex returns the descriptor index from the wValue low byte.
func (s SetupPacket) DescriptorIndex() uint8 {
	return uint8(s.Value)
}

// IndexLow returns the wIndex low byte (interface, endpoint or port number).
func (s SetupPacket) IndexLow() uint8 {
	return uint8(s.Index)
}

func recipientName(r uint8) string {
	switch r {
	case RequestRecipientDevice:
		return "Device"
	case RequestRecipientInterface:
		return "Interface"
	case RequestRecipientEndpoint:
		return "Endpoint"
	case RequestRecipientOther:
		return "Other"
	default:
		return fmt.Sprintf("Recipient(%d)", r)
	}
}

func typeName(t uint8) string {
	switch t {
	case RequestTypeStandard:
		return "Standard"
	case RequestTypeClass:
		return "Class"
	case RequestTypeVendor:
		return "Vendor"
	default:
		return "Reserved"
	}
}

// String returns a human-readable representation of the setup packet.
func (s SetupPacket) String() string {
	dir := "OUT"
	if s.IsDeviceToHost() {
		dir = "IN"
	}
	return fmt.Sprintf("SETUP[%s %s %s] Request=0x%02X Value=0x%04X Index=0x%04X Length=%d",
		dir, typeName(s.Type()), recipientName(s.Recipient()), s.Request, s.Value, s.Index, s.Length)
}

// ControlStage is the phase of a control transfer a class driver is being
// notified about.
type ControlStage uint8

// Control transfer stages.
const (
	StageSetup ControlStage = iota
	StageData
	StageAck
)

// String returns the stage name.
func (c ControlStage) String() string {
	switch c {
	case StageSetup:
		return "setup"
	case StageData:
		return "data"
	case StageAck:
		return "ack"
	default:
		return fmt.Sprintf("stage(%d)", uint8(c))
	}
}
