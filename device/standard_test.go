package device

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/softhub/pkg"
)

func configuredHub(t *testing.T) (*Device, *StandardRequestHandler) {
	t.Helper()
	dev := buildHubDevice(t, []byte{9, 0x29, 4, 0, 0, 50, 100, 0, 0xFF})
	dev.Reset()
	h := NewStandardRequestHandler(dev)
	if _, err := h.HandleSetup(&SetupPacket{Request: RequestSetAddress, Value: 5}); err != nil {
		t.Fatalf("SET_ADDRESS error = %v", err)
	}
	if _, err := h.HandleSetup(&SetupPacket{Request: RequestSetConfiguration, Value: 1}); err != nil {
		t.Fatalf("SET_CONFIGURATION error = %v", err)
	}
	return dev, h
}

func TestStandardRequestHandler_Descriptors(t *testing.T) {
	dev, h := configuredHub(t)

	tests := []struct {
		name    string
		value   uint16
		wantLen int
		wantErr error
	}{
		{"device", 0x0100, DeviceDescriptorSize, nil},
		{"configuration", 0x0200, int(dev.GetConfiguration(1).Descriptor().TotalLength), nil},
		{"configuration index out of range", 0x0201, 0, pkg.ErrInvalidRequest},
		{"language table", 0x0300, 4, nil},
		{"product string", 0x0302, 2 + 2*len("Virtual Hub"), nil},
		{"missing string", 0x0305, 0, pkg.ErrInvalidRequest},
		{"device qualifier", 0x0600, 0, pkg.ErrNotSupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setup := &SetupPacket{RequestType: 0x80, Request: RequestGetDescriptor, Value: tt.value, Length: 0xFF}
			data, err := h.HandleSetup(setup)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("HandleSetup() error = %v, want %v", err, tt.wantErr)
			}
			if len(data) != tt.wantLen {
				t.Errorf("len(data) = %d, want %d", len(data), tt.wantLen)
			}
		})
	}
}

func TestStandardRequestHandler_DeviceRequests(t *testing.T) {
	dev, h := configuredHub(t)

	data, err := h.HandleSetup(&SetupPacket{RequestType: 0x80, Request: RequestGetConfiguration, Length: 1})
	if err != nil || !bytes.Equal(data, []byte{1}) {
		t.Errorf("GET_CONFIGURATION = % x, %v", data, err)
	}

	_, err = h.HandleSetup(&SetupPacket{Request: RequestSetFeature, Value: FeatureDeviceRemoteWakeup})
	if err != nil {
		t.Fatalf("SET_FEATURE(remote wakeup) error = %v", err)
	}
	data, _ = h.HandleSetup(&SetupPacket{RequestType: 0x80, Request: RequestGetStatus, Length: 2})
	if !bytes.Equal(data, []byte{0x03, 0x00}) {
		t.Errorf("GET_STATUS = % x, want 03 00", data)
	}

	if _, err := h.HandleSetup(&SetupPacket{Request: RequestSetFeature, Value: 7}); !errors.Is(err, pkg.ErrInvalidRequest) {
		t.Errorf("SET_FEATURE(7) = %v, want ErrInvalidRequest", err)
	}
	if dev.State() != StateConfigured {
		t.Errorf("state = %v, want Configured", dev.State())
	}
}

func TestStandardRequestHandler_InterfaceRequests(t *testing.T) {
	dev, h := configuredHub(t)
	drv := &recordingDriver{}
	_ = dev.GetInterface(0).SetClassDriver(drv)

	data, err := h.HandleSetup(&SetupPacket{RequestType: 0x81, Request: RequestGetInterface, Length: 1})
	if err != nil || !bytes.Equal(data, []byte{0}) {
		t.Errorf("GET_INTERFACE = % x, %v", data, err)
	}
	if _, err := h.HandleSetup(&SetupPacket{RequestType: 0x01, Request: RequestSetInterface, Value: 1}); err != nil {
		t.Fatalf("SET_INTERFACE error = %v", err)
	}
	if drv.alt != 1 {
		t.Errorf("driver alt = %d, want 1", drv.alt)
	}
	if _, err := h.HandleSetup(&SetupPacket{RequestType: 0x81, Request: RequestGetInterface, Index: 3}); !errors.Is(err, pkg.ErrInvalidRequest) {
		t.Errorf("GET_INTERFACE(3) = %v, want ErrInvalidRequest", err)
	}
}

func TestStandardRequestHandler_EndpointHalt(t *testing.T) {
	dev, h := configuredHub(t)
	ep := dev.GetEndpoint(0x81)
	ep.ToggleData()

	if _, err := h.HandleSetup(&SetupPacket{RequestType: 0x02, Request: RequestSetFeature, Index: 0x81}); err != nil {
		t.Fatalf("SET_FEATURE(halt) error = %v", err)
	}
	data, _ := h.HandleSetup(&SetupPacket{RequestType: 0x82, Request: RequestGetStatus, Index: 0x81, Length: 2})
	if !bytes.Equal(data, []byte{1, 0}) {
		t.Errorf("GET_STATUS(ep) = % x, want 01 00", data)
	}

	if _, err := h.HandleSetup(&SetupPacket{RequestType: 0x02, Request: RequestClearFeature, Index: 0x81}); err != nil {
		t.Fatalf("CLEAR_FEATURE(halt) error = %v", err)
	}
	if ep.IsStalled() || ep.DataToggle() {
		t.Error("CLEAR_FEATURE(halt) did not clear stall and toggle")
	}

	if _, err := h.HandleSetup(&SetupPacket{RequestType: 0x82, Request: RequestGetStatus, Index: 0x85}); !errors.Is(err, pkg.ErrInvalidEndpoint) {
		t.Errorf("GET_STATUS(0x85) = %v, want ErrInvalidEndpoint", err)
	}
}

func TestStandardRequestHandler_RejectsClass(t *testing.T) {
	_, h := configuredHub(t)
	if _, err := h.HandleSetup(&SetupPacket{RequestType: 0xA0, Request: RequestGetDescriptor}); !errors.Is(err, pkg.ErrInvalidRequest) {
		t.Errorf("class request = %v, want ErrInvalidRequest", err)
	}
}
