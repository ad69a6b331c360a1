package hub

import (
	"fmt"

	"github.com/ardnew/softhub/device"
)

// Hub class codes.
const (
	ClassHub          = device.ClassHub
	SubclassNone      = 0x00
	ProtocolFullSpeed = 0x00
	ProtocolSingleTT  = 0x01
	ProtocolMultiTT   = 0x02
)

// DescriptorTypeHub is the hub class descriptor type.
const DescriptorTypeHub = 0x29

// hubDescriptorQuery is the wValue of GET_DESCRIPTOR for the hub descriptor.
const hubDescriptorQuery = DescriptorTypeHub << 8

// MaxPorts is the largest downstream port count served.
const MaxPorts = 15

// Hub class request codes (USB 2.0 table 11-16).
const (
	RequestGetStatus     = 0x00
	RequestClearFeature  = 0x01
	RequestSetFeature    = 0x03
	RequestGetDescriptor = 0x06
	RequestSetDescriptor = 0x07
	RequestClearTTBuffer = 0x08
	RequestResetTT       = 0x09
	RequestGetTTState    = 0x0A
	RequestStopTT        = 0x0B
)

// changeOffset separates a condition from its change selector.
const changeOffset = 16

// PortFeature names a port status bit, or a change bit when at or above 16.
type PortFeature uint8

// Port status features. The value is the status bit position.
const (
	PortConnection  PortFeature = 0
	PortEnable      PortFeature = 1
	PortSuspend     PortFeature = 2
	PortOverCurrent PortFeature = 3
	PortReset       PortFeature = 4
	PortPower       PortFeature = 8
	PortLowSpeed    PortFeature = 9
	PortHighSpeed   PortFeature = 10
	PortTest        PortFeature = 11
	PortIndicator   PortFeature = 12
)

// Port change features.
const (
	CPortConnection  = PortConnection + changeOffset
	CPortEnable      = PortEnable + changeOffset
	CPortSuspend     = PortSuspend + changeOffset
	CPortOverCurrent = PortOverCurrent + changeOffset
	CPortReset       = PortReset + changeOffset
)

// ChangeOf returns the change feature of a change-tracked condition.
func ChangeOf(f PortFeature) PortFeature {
	return f + changeOffset
}

// IsChange reports a change feature.
func (f PortFeature) IsChange() bool {
	return f >= CPortConnection && f <= CPortReset
}

// IsTracked reports a condition that has a change bit.
func (f PortFeature) IsTracked() bool {
	return f <= PortReset
}

// isStatus reports a known status condition.
func (f PortFeature) isStatus() bool {
	return f <= PortReset || (f >= PortPower && f <= PortIndicator)
}

// Condition returns the status condition a change feature refers to, or f.
func (f PortFeature) Condition() PortFeature {
	if f.IsChange() {
		return f - changeOffset
	}
	return f
}

func (f PortFeature) String() string {
	switch f {
	case PortConnection:
		return "PORT_CONNECTION"
	case PortEnable:
		return "PORT_ENABLE"
	case PortSuspend:
		return "PORT_SUSPEND"
	case PortOverCurrent:
		return "PORT_OVER_CURRENT"
	case PortReset:
		return "PORT_RESET"
	case PortPower:
		return "PORT_POWER"
	case PortLowSpeed:
		return "PORT_LOW_SPEED"
	case PortHighSpeed:
		return "PORT_HIGH_SPEED"
	case PortTest:
		return "PORT_TEST"
	case PortIndicator:
		return "PORT_INDICATOR"
	case CPortConnection:
		return "C_PORT_CONNECTION"
	case CPortEnable:
		return "C_PORT_ENABLE"
	case CPortSuspend:
		return "C_PORT_SUSPEND"
	case CPortOverCurrent:
		return "C_PORT_OVER_CURRENT"
	case CPortReset:
		return "C_PORT_RESET"
	default:
		return fmt.Sprintf("PORT_FEATURE(%d)", uint8(f))
	}
}

// Wire selectors for PORT_TEST and PORT_INDICATOR (USB 2.0 table 11-17).
// They do not match the status bit positions.
const (
	selectorPortTest      = 21
	selectorPortIndicator = 22
)

// PortFeatureFromSelector maps a Set/ClearFeature wValue addressed to a port
// to a feature. Selectors equal to a status bit position are accepted as
// well as the USB 2.0 selectors.
func PortFeatureFromSelector(sel uint16) (PortFeature, bool) {
	switch sel {
	case selectorPortTest:
		return PortTest, true
	case selectorPortIndicator:
		return PortIndicator, true
	}
	if sel > 0xFF {
		return 0, false
	}
	f := PortFeature(sel)
	if f.isStatus() || f.IsChange() {
		return f, true
	}
	return 0, false
}

// HubFeature names a hub status bit, or a change bit when at or above 16.
type HubFeature uint8

// Hub features (USB 2.0 table 11-17).
const (
	HubLocalPower   HubFeature = 0
	HubOverCurrent  HubFeature = 1
	CHubLocalPower             = HubLocalPower + changeOffset
	CHubOverCurrent            = HubOverCurrent + changeOffset
)

// IsChange reports a change feature.
func (f HubFeature) IsChange() bool {
	return f == CHubLocalPower || f == CHubOverCurrent
}

// Condition returns the status condition a change feature refers to, or f.
func (f HubFeature) Condition() HubFeature {
	if f.IsChange() {
		return f - changeOffset
	}
	return f
}

func (f HubFeature) String() string {
	switch f {
	case HubLocalPower:
		return "HUB_LOCAL_POWER"
	case HubOverCurrent:
		return "HUB_OVER_CURRENT"
	case CHubLocalPower:
		return "C_HUB_LOCAL_POWER"
	case CHubOverCurrent:
		return "C_HUB_OVER_CURRENT"
	default:
		return fmt.Sprintf("HUB_FEATURE(%d)", uint8(f))
	}
}

// HubFeatureFromSelector maps a Set/ClearFeature wValue addressed to the hub.
func HubFeatureFromSelector(sel uint16) (HubFeature, bool) {
	switch f := HubFeature(sel); {
	case sel > 0xFF:
		return 0, false
	case f == HubLocalPower, f == HubOverCurrent, f.IsChange():
		return f, true
	default:
		return 0, false
	}
}
