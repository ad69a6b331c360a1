package device

import "fmt"

// Fixed capacities for the device model.
const (
	// MaxEndpointsPerInterface bounds the endpoints of one interface. A hub
	// needs one interrupt IN and at most one OUT endpoint.
	MaxEndpointsPerInterface = 4

	// MaxInterfacesPerConfiguration bounds the interfaces of one configuration.
	MaxInterfacesPerConfiguration = 4

	// MaxConfigurations bounds the configurations of one device.
	MaxConfigurations = 2

	// MaxStrings bounds the string descriptor table.
	MaxStrings = 8

	// MaxPendingTransfersPerEndpoint bounds queued transfers per endpoint.
	MaxPendingTransfersPerEndpoint = 4
)

// Speed represents USB connection speed.
type Speed uint8

// USB speeds.
const (
	SpeedLow  Speed = 0 // 1.5 Mbps
	SpeedFull Speed = 1 // 12 Mbps
	SpeedHigh Speed = 2 // 480 Mbps
)

// String returns a human-readable speed description.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "low"
	case SpeedFull:
		return "full"
	case SpeedHigh:
		return "high"
	default:
		return fmt.Sprintf("speed(%d)", uint8(s))
	}
}

// MaxPacketSize0 returns the EP0 packet size for the speed.
func (s Speed) MaxPacketSize0() uint16 {
	if s == SpeedLow {
		return 8
	}
	return 64
}

// State is a USB 2.0 device state (section 9.1).
type State uint8

// Device states.
const (
	StateAttached State = iota
	StatePowered
	StateDefault
	StateAddress
	StateConfigured
	StateSuspended
)

// String returns a human-readable state description.
func (s State) String() string {
	switch s {
	case StateAttached:
		return "Attached"
	case StatePowered:
		return "Powered"
	case StateDefault:
		return "Default"
	case StateAddress:
		return "Address"
	case StateConfigured:
		return "Configured"
	case StateSuspended:
		return "Suspended"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}
