package hub

import (
	"fmt"

	"github.com/ardnew/softhub/device"
	"github.com/ardnew/softhub/pkg"
)

// Kind is a hub class request.
type Kind uint8

// Request kinds.
const (
	KindGetStatus Kind = iota
	KindClearFeature
	KindSetFeature
	KindGetDescriptor
	KindSetDescriptor
	KindClearTTBuffer
	KindResetTT
	KindGetTTState
	KindStopTT
)

func kindOf(request uint8) (Kind, bool) {
	switch request {
	case RequestGetStatus:
		return KindGetStatus, true
	case RequestClearFeature:
		return KindClearFeature, true
	case RequestSetFeature:
		return KindSetFeature, true
	case RequestGetDescriptor:
		return KindGetDescriptor, true
	case RequestSetDescriptor:
		return KindSetDescriptor, true
	case RequestClearTTBuffer:
		return KindClearTTBuffer, true
	case RequestResetTT:
		return KindResetTT, true
	case RequestGetTTState:
		return KindGetTTState, true
	case RequestStopTT:
		return KindStopTT, true
	default:
		return 0, false
	}
}

func (k Kind) String() string {
	switch k {
	case KindGetStatus:
		return "GET_STATUS"
	case KindClearFeature:
		return "CLEAR_FEATURE"
	case KindSetFeature:
		return "SET_FEATURE"
	case KindGetDescriptor:
		return "GET_DESCRIPTOR"
	case KindSetDescriptor:
		return "SET_DESCRIPTOR"
	case KindClearTTBuffer:
		return "CLEAR_TT_BUFFER"
	case KindResetTT:
		return "RESET_TT"
	case KindGetTTState:
		return "GET_TT_STATE"
	case KindStopTT:
		return "STOP_TT"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// Target is the hub itself (port 0) or a downstream port.
type Target struct {
	Port int
}

// HubTarget addresses the hub.
var HubTarget = Target{}

// PortTarget addresses downstream port n.
func PortTarget(n int) Target {
	return Target{Port: n}
}

// IsHub reports the hub target.
func (t Target) IsHub() bool {
	return t.Port == 0
}

func (t Target) String() string {
	if t.IsHub() {
		return "hub"
	}
	return fmt.Sprintf("port%d", t.Port)
}

// Request is a classified hub class request.
type Request struct {
	Kind   Kind
	Target Target
	Value  uint16
	Length uint16

	// Feature is the decoded selector of Set/ClearFeature: a PortFeature
	// for port targets, a HubFeature for the hub.
	Feature uint8

	// Generic marks a GET_DESCRIPTOR that does not ask for the hub
	// descriptor at the hub.
	Generic bool
}

// PortFeature returns Feature as a port feature.
func (r Request) PortFeature() PortFeature {
	return PortFeature(r.Feature)
}

// HubFeature returns Feature as a hub feature.
func (r Request) HubFeature() HubFeature {
	return HubFeature(r.Feature)
}

// Classify validates setup as a hub class request for a hub with ports
// downstream ports. It fails with pkg.ErrMalformed for requests a hub does
// not serve and pkg.ErrOutOfRange for bad port numbers and feature
// selectors.
func Classify(setup *device.SetupPacket, ports int) (Request, error) {
	if !setup.IsClass() {
		return Request{}, fmt.Errorf("%w: request type 0x%02X", pkg.ErrMalformed, setup.RequestType)
	}
	if !setup.IsDeviceRecipient() && !setup.IsOtherRecipient() {
		return Request{}, fmt.Errorf("%w: recipient %d", pkg.ErrMalformed, setup.Recipient())
	}
	kind, ok := kindOf(setup.Request)
	if !ok {
		return Request{}, fmt.Errorf("%w: request 0x%02X", pkg.ErrMalformed, setup.Request)
	}

	req := Request{
		Kind:   kind,
		Value:  setup.Value,
		Length: setup.Length,
	}

	if kind == KindGetDescriptor {
		if setup.IsOtherRecipient() {
			return Request{}, fmt.Errorf("%w: %s at port scope", pkg.ErrMalformed, kind)
		}
		req.Generic = setup.Value != hubDescriptorQuery || setup.Index != 0
		return req, nil
	}

	port := int(setup.Index)
	if carriesSelector(kind, setup) {
		port = int(setup.IndexLow())
	}
	if port > ports {
		return Request{}, fmt.Errorf("%w: port %d of %d", pkg.ErrOutOfRange, port, ports)
	}
	req.Target = PortTarget(port)

	if kind != KindSetFeature && kind != KindClearFeature {
		return req, nil
	}
	if req.Target.IsHub() {
		f, ok := HubFeatureFromSelector(setup.Value)
		if !ok || (kind == KindSetFeature && f.IsChange()) {
			return Request{}, fmt.Errorf("%w: hub feature %d", pkg.ErrOutOfRange, setup.Value)
		}
		req.Feature = uint8(f)
		return req, nil
	}
	f, ok := PortFeatureFromSelector(setup.Value)
	if !ok || (kind == KindSetFeature && f.IsChange()) {
		return Request{}, fmt.Errorf("%w: port feature %d", pkg.ErrOutOfRange, setup.Value)
	}
	req.Feature = uint8(f)
	return req, nil
}

// carriesSelector reports a port Set/ClearFeature whose wIndex high byte
// holds a test or indicator selector.
func carriesSelector(kind Kind, setup *device.SetupPacket) bool {
	if kind != KindSetFeature && kind != KindClearFeature {
		return false
	}
	return setup.IsOtherRecipient() &&
		(setup.Value == selectorPortTest || setup.Value == selectorPortIndicator)
}
