package device

import (
	"encoding/binary"

	"github.com/ardnew/softhub/pkg"
)

// MaxDescriptorResponseSize bounds descriptor responses on EP0.
const MaxDescriptorResponseSize = 256

// StandardRequestHandler answers chapter 9 standard requests.
type StandardRequestHandler struct {
	device *Device

	// HandleSetup returns slices of this buffer.
	responseBuf [MaxDescriptorResponseSize]byte
}

// NewStandardRequestHandler creates a handler for dev.
func NewStandardRequestHandler(dev *Device) *StandardRequestHandler {
	return &StandardRequestHandler{device: dev}
}

// HandleSetup processes a standard request and returns the data stage
// payload, which may be nil.
func (h *StandardRequestHandler) HandleSetup(setup *SetupPacket) ([]byte, error) {
	if !setup.IsStandard() {
		return nil, pkg.ErrInvalidRequest
	}
	switch setup.Recipient() {
	case RequestRecipientDevice:
		return h.deviceRequest(setup)
	case RequestRecipientInterface:
		return h.interfaceRequest(setup)
	case RequestRecipientEndpoint:
		return h.endpointRequest(setup)
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (h *StandardRequestHandler) deviceRequest(setup *SetupPacket) ([]byte, error) {
	switch setup.Request {
	case RequestGetStatus:
		return h.word(uint16(h.device.GetStatus())), nil
	case RequestClearFeature, RequestSetFeature:
		if setup.Value != FeatureDeviceRemoteWakeup {
			return nil, pkg.ErrInvalidRequest
		}
		h.device.EnableRemoteWakeup(setup.Request == RequestSetFeature)
		return nil, nil
	case RequestSetAddress:
		return nil, h.device.SetAddress(uint8(setup.Value & 0x7F))
	case RequestGetDescriptor:
		return h.descriptor(setup)
	case RequestGetConfiguration:
		h.responseBuf[0] = 0
		if config := h.device.ActiveConfiguration(); config != nil {
			h.responseBuf[0] = config.Value
		}
		return h.responseBuf[:1], nil
	case RequestSetConfiguration:
		return nil, h.device.SetConfiguration(uint8(setup.Value))
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (h *StandardRequestHandler) interfaceRequest(setup *SetupPacket) ([]byte, error) {
	iface := h.device.GetInterface(setup.IndexLow())
	if iface == nil {
		return nil, pkg.ErrInvalidRequest
	}
	switch setup.Request {
	case RequestGetStatus:
		return h.word(0), nil
	case RequestGetInterface:
		h.responseBuf[0] = iface.AlternateSetting
		return h.responseBuf[:1], nil
	case RequestSetInterface:
		return nil, iface.SetAlternate(uint8(setup.Value))
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (h *StandardRequestHandler) endpointRequest(setup *SetupPacket) ([]byte, error) {
	ep := h.device.GetEndpoint(setup.IndexLow())
	if ep == nil {
		return nil, pkg.ErrInvalidEndpoint
	}
	switch setup.Request {
	case RequestGetStatus:
		var status uint16
		if ep.IsStalled() {
			status = 1
		}
		return h.word(status), nil
	case RequestClearFeature:
		if setup.Value != FeatureEndpointHalt {
			return nil, pkg.ErrInvalidRequest
		}
		ep.SetStall(false)
		ep.ResetDataToggle()
		return nil, nil
	case RequestSetFeature:
		if setup.Value != FeatureEndpointHalt {
			return nil, pkg.ErrInvalidRequest
		}
		ep.SetStall(true)
		return nil, nil
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (h *StandardRequestHandler) word(v uint16) []byte {
	binary.LittleEndian.PutUint16(h.responseBuf[:2], v)
	return h.responseBuf[:2]
}

func (h *StandardRequestHandler) descriptor(setup *SetupPacket) ([]byte, error) {
	var n int
	switch setup.DescriptorType() {
	case DescriptorTypeDevice:
		n = h.device.Descriptor.MarshalTo(h.responseBuf[:])
	case DescriptorTypeConfiguration:
		config := h.device.configurationAt(setup.DescriptorIndex())
		if config == nil {
			return nil, pkg.ErrInvalidRequest
		}
		n = config.MarshalTo(h.responseBuf[:])
	case DescriptorTypeString:
		data := h.device.GetString(setup.DescriptorIndex())
		if data == nil {
			return nil, pkg.ErrInvalidRequest
		}
		n = copy(h.responseBuf[:], data)
	default:
		// Full-speed only: no device qualifier or other-speed configuration.
		return nil, pkg.ErrNotSupported
	}
	if n == 0 {
		return nil, pkg.ErrBufferTooSmall
	}
	return h.responseBuf[:n], nil
}
