// Package profile loads the description of a virtual hub from JSON, YAML or
// TOML files.
package profile

import (
	"github.com/efficientgo/core/errors"

	"github.com/ardnew/softhub/device/class/hub"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid hub profile")

// Defaults applied to zero values.
const (
	DefaultVendorID     = 0x1D6B
	DefaultProductID    = 0x0002
	DefaultRelease      = 0x0100
	DefaultManufacturer = "softhub"
	DefaultProduct      = "Virtual Hub"
	DefaultInterval     = 12
)

// Profile describes one virtual hub.
type Profile struct {
	Ports int `json:"ports" yaml:"ports" toml:"ports"`

	PowerSwitching string `json:"powerSwitching" yaml:"powerSwitching" toml:"powerSwitching"`
	OverCurrent    string `json:"overCurrent" yaml:"overCurrent" toml:"overCurrent"`
	Compound       bool   `json:"compound" yaml:"compound" toml:"compound"`
	PortIndicators bool   `json:"portIndicators" yaml:"portIndicators" toml:"portIndicators"`

	// PowerOnToGoodMs is rounded up to the 2 ms units of the descriptor.
	PowerOnToGoodMs  int   `json:"powerOnToGoodMs" yaml:"powerOnToGoodMs" toml:"powerOnToGoodMs"`
	ControlCurrentMA int   `json:"controlCurrentMa" yaml:"controlCurrentMa" toml:"controlCurrentMa"`
	NonRemovable     []int `json:"nonRemovable" yaml:"nonRemovable" toml:"nonRemovable"`

	StrictDescriptorQueries bool `json:"strictDescriptorQueries" yaml:"strictDescriptorQueries" toml:"strictDescriptorQueries"`
	DescriptorQueryLength   int  `json:"descriptorQueryLength" yaml:"descriptorQueryLength" toml:"descriptorQueryLength"`
	AnswerRepeats           bool `json:"answerRepeats" yaml:"answerRepeats" toml:"answerRepeats"`
	ManualReports           bool `json:"manualReports" yaml:"manualReports" toml:"manualReports"`

	Identity Identity    `json:"identity" yaml:"identity" toml:"identity"`
	Initial  []PortState `json:"initial" yaml:"initial" toml:"initial"`
}

// Identity is the device descriptor and string data of the hub.
type Identity struct {
	VendorID     int    `json:"vendorId" yaml:"vendorId" toml:"vendorId"`
	ProductID    int    `json:"productId" yaml:"productId" toml:"productId"`
	Release      int    `json:"release" yaml:"release" toml:"release"`
	Manufacturer string `json:"manufacturer" yaml:"manufacturer" toml:"manufacturer"`
	Product      string `json:"product" yaml:"product" toml:"product"`
	Serial       string `json:"serial" yaml:"serial" toml:"serial"`
	Interval     int    `json:"interval" yaml:"interval" toml:"interval"`
}

// PortState lists conditions set on a port once the host configures the hub.
type PortState struct {
	Port       int      `json:"port" yaml:"port" toml:"port"`
	Conditions []string `json:"conditions" yaml:"conditions" toml:"conditions"`
}

// Default returns a four-port hub with a device on port 1.
func Default() *Profile {
	return &Profile{
		Ports:            4,
		PowerSwitching:   "individual",
		OverCurrent:      "individual",
		PowerOnToGoodMs:  100,
		ControlCurrentMA: 100,
		NonRemovable:     []int{},
		Identity: Identity{
			VendorID:     DefaultVendorID,
			ProductID:    DefaultProductID,
			Release:      DefaultRelease,
			Manufacturer: DefaultManufacturer,
			Product:      DefaultProduct,
			Serial:       "0001",
			Interval:     DefaultInterval,
		},
		Initial: []PortState{
			{Port: 1, Conditions: []string{"power", "connection"}},
		},
	}
}

func (p *Profile) applyDefaults() {
	id := &p.Identity
	if id.VendorID == 0 {
		id.VendorID = DefaultVendorID
	}
	if id.ProductID == 0 {
		id.ProductID = DefaultProductID
	}
	if id.Release == 0 {
		id.Release = DefaultRelease
	}
	if id.Manufacturer == "" {
		id.Manufacturer = DefaultManufacturer
	}
	if id.Product == "" {
		id.Product = DefaultProduct
	}
	if id.Interval == 0 {
		id.Interval = DefaultInterval
	}
}

var conditions = map[string]hub.PortFeature{
	"connection":  hub.PortConnection,
	"enable":      hub.PortEnable,
	"suspend":     hub.PortSuspend,
	"overCurrent": hub.PortOverCurrent,
	"reset":       hub.PortReset,
	"power":       hub.PortPower,
	"lowSpeed":    hub.PortLowSpeed,
	"highSpeed":   hub.PortHighSpeed,
	"test":        hub.PortTest,
	"indicator":   hub.PortIndicator,
}

// Condition maps a condition name to its port feature.
func Condition(name string) (hub.PortFeature, bool) {
	f, ok := conditions[name]
	return f, ok
}

func powerSwitching(mode string) (uint16, error) {
	switch mode {
	case "", "ganged":
		return hub.PowerSwitchingGanged, nil
	case "individual":
		return hub.PowerSwitchingIndividual, nil
	case "none":
		return hub.PowerSwitchingNone, nil
	default:
		return 0, errors.Wrapf(ErrInvalid, "power switching %q", mode)
	}
}

func overCurrent(mode string) (uint16, error) {
	switch mode {
	case "", "global":
		return hub.OverCurrentGlobal, nil
	case "individual":
		return hub.OverCurrentIndividual, nil
	case "none":
		return hub.OverCurrentNone, nil
	default:
		return 0, errors.Wrapf(ErrInvalid, "over-current protection %q", mode)
	}
}

func inRange(v, lo, hi int) bool {
	return v >= lo && v <= hi
}

// Validate checks every field against the limits of the hub descriptor and
// the device descriptor.
func (p *Profile) Validate() error {
	if !inRange(p.Ports, 1, hub.MaxPorts) {
		return errors.Wrapf(ErrInvalid, "ports %d not in 1..%d", p.Ports, hub.MaxPorts)
	}
	if _, err := powerSwitching(p.PowerSwitching); err != nil {
		return err
	}
	if _, err := overCurrent(p.OverCurrent); err != nil {
		return err
	}
	if !inRange(p.PowerOnToGoodMs, 0, 510) {
		return errors.Wrapf(ErrInvalid, "power-on to power-good time %d ms not in 0..510", p.PowerOnToGoodMs)
	}
	if !inRange(p.ControlCurrentMA, 0, 255) {
		return errors.Wrapf(ErrInvalid, "controller current %d mA not in 0..255", p.ControlCurrentMA)
	}
	if !inRange(p.DescriptorQueryLength, 0, 0xFFFF) {
		return errors.Wrapf(ErrInvalid, "descriptor query length %d", p.DescriptorQueryLength)
	}
	for _, port := range p.NonRemovable {
		if !inRange(port, 1, p.Ports) {
			return errors.Wrapf(ErrInvalid, "non-removable port %d not in 1..%d", port, p.Ports)
		}
	}

	id := p.Identity
	if !inRange(id.VendorID, 0, 0xFFFF) || !inRange(id.ProductID, 0, 0xFFFF) || !inRange(id.Release, 0, 0xFFFF) {
		return errors.Wrapf(ErrInvalid, "identity %04x:%04x release %04x", id.VendorID, id.ProductID, id.Release)
	}
	if !inRange(id.Interval, 1, 255) {
		return errors.Wrapf(ErrInvalid, "polling interval %d not in 1..255", id.Interval)
	}

	for _, st := range p.Initial {
		if !inRange(st.Port, 1, p.Ports) {
			return errors.Wrapf(ErrInvalid, "initial state for port %d not in 1..%d", st.Port, p.Ports)
		}
		for _, name := range st.Conditions {
			if _, ok := Condition(name); !ok {
				return errors.Wrapf(ErrInvalid, "port %d: unknown condition %q", st.Port, name)
			}
		}
	}
	return nil
}

// Descriptor builds the hub descriptor. The profile must be valid.
func (p *Profile) Descriptor() (*hub.HubDescriptor, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	ps, _ := powerSwitching(p.PowerSwitching)
	oc, _ := overCurrent(p.OverCurrent)

	chars := ps | oc
	if p.Compound {
		chars |= hub.CompoundDevice
	}
	if p.PortIndicators {
		chars |= hub.PortIndicators
	}

	var removable uint16
	for _, port := range p.NonRemovable {
		removable |= 1 << port
	}

	return &hub.HubDescriptor{
		NumPorts:        uint8(p.Ports),
		Characteristics: chars,
		PowerOnToGood:   uint8((p.PowerOnToGoodMs + 1) / 2),
		ControlCurrent:  uint8(p.ControlCurrentMA),
		NonRemovable:    removable,
	}, nil
}

// Configure applies the request handling options to h.
func (p *Profile) Configure(h *hub.Hub) {
	h.SetStrictDescriptorQueries(p.StrictDescriptorQueries)
	h.SetDescriptorQueryLength(uint16(p.DescriptorQueryLength))
	h.SetSuppressRepeats(!p.AnswerRepeats)
	h.SetAutoReport(!p.ManualReports)
}

// ApplyInitial sets the initial port conditions on an open hub.
func (p *Profile) ApplyInitial(h *hub.Hub) error {
	for _, st := range p.Initial {
		for _, name := range st.Conditions {
			f, ok := Condition(name)
			if !ok {
				return errors.Wrapf(ErrInvalid, "port %d: unknown condition %q", st.Port, name)
			}
			if err := h.SetPortCondition(st.Port, f); err != nil {
				return errors.Wrapf(err, "set %s on port %d", f, st.Port)
			}
		}
	}
	return nil
}
