package hub

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/softhub/pkg"
)

// wHubCharacteristics fields (USB 2.0 table 11-13).
const (
	PowerSwitchingGanged     = 0x0000
	PowerSwitchingIndividual = 0x0001
	PowerSwitchingNone       = 0x0002
	CompoundDevice           = 0x0004
	OverCurrentGlobal        = 0x0000
	OverCurrentIndividual    = 0x0008
	OverCurrentNone          = 0x0010
	TTThinkTimeMask          = 0x0060
	PortIndicators           = 0x0080
)

// hubDescriptorHeaderSize covers bLength through bHubContrCurrent.
const hubDescriptorHeaderSize = 7

// MaxHubDescriptorSize is the descriptor size at MaxPorts.
const MaxHubDescriptorSize = hubDescriptorHeaderSize + 2*((MaxPorts+1+7)/8)

// HubDescriptor is the hub class descriptor.
type HubDescriptor struct {
	NumPorts        uint8
	Characteristics uint16
	PowerOnToGood   uint8 // 2 ms units
	ControlCurrent  uint8 // mA

	// NonRemovable has bit n set when the device on port n is not
	// removable. Bit 0 is reserved.
	NonRemovable uint16
}

// Size returns the encoded length for the port count.
func (d *HubDescriptor) Size() int {
	return hubDescriptorHeaderSize + 2*bitmapSize(int(d.NumPorts))
}

// MarshalTo writes the descriptor to buf. The port power control mask is
// all ones. Returns 0 if buf is too small.
func (d *HubDescriptor) MarshalTo(buf []byte) int {
	size := d.Size()
	if len(buf) < size {
		return 0
	}
	buf[0] = uint8(size)
	buf[1] = DescriptorTypeHub
	buf[2] = d.NumPorts
	binary.LittleEndian.PutUint16(buf[3:5], d.Characteristics)
	buf[5] = d.PowerOnToGood
	buf[6] = d.ControlCurrent

	n := bitmapSize(int(d.NumPorts))
	removable := buf[hubDescriptorHeaderSize : hubDescriptorHeaderSize+n]
	for i := range removable {
		removable[i] = uint8(uint32(d.NonRemovable) >> (8 * i))
	}
	power := buf[hubDescriptorHeaderSize+n : size]
	for i := range power {
		power[i] = 0xFF
	}
	return size
}

// ParseHubDescriptor decodes a hub descriptor into out.
func ParseHubDescriptor(data []byte, out *HubDescriptor) error {
	if len(data) < hubDescriptorHeaderSize || int(data[0]) < hubDescriptorHeaderSize {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != DescriptorTypeHub {
		return pkg.ErrDescriptorTypeMismatch
	}
	ports := data[2]
	if ports > MaxPorts {
		return fmt.Errorf("%w: %d ports", pkg.ErrOutOfRange, ports)
	}
	n := bitmapSize(int(ports))
	size := hubDescriptorHeaderSize + 2*n
	if len(data) < size || int(data[0]) < size {
		return pkg.ErrDescriptorTooShort
	}

	out.NumPorts = ports
	out.Characteristics = binary.LittleEndian.Uint16(data[3:5])
	out.PowerOnToGood = data[5]
	out.ControlCurrent = data[6]
	out.NonRemovable = 0
	for i, b := range data[hubDescriptorHeaderSize : hubDescriptorHeaderSize+n] {
		out.NonRemovable |= uint16(b) << (8 * i)
	}
	return nil
}

// DescriptorLength returns bLength of an encoded descriptor, or 0.
func DescriptorLength(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	return int(data[0])
}
