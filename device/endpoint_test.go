package device

import (
	"context"
	"errors"
	"testing"

	"github.com/ardnew/softhub/pkg"
)

func TestNewEndpoint(t *testing.T) {
	tests := []struct {
		name      string
		desc      EndpointDescriptor
		number    uint8
		in        bool
		interrupt bool
	}{
		{"interrupt IN", EndpointDescriptor{EndpointAddress: 0x81, Attributes: EndpointTypeInterrupt, MaxPacketSize: 1, Interval: 12}, 1, true, true},
		{"interrupt OUT", EndpointDescriptor{EndpointAddress: 0x02, Attributes: EndpointTypeInterrupt, MaxPacketSize: 8, Interval: 12}, 2, false, true},
		{"bulk IN", EndpointDescriptor{EndpointAddress: 0x83, Attributes: EndpointTypeBulk, MaxPacketSize: 64}, 3, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := NewEndpoint(&tt.desc)
			if ep.Number() != tt.number {
				t.Errorf("Number() = %d, want %d", ep.Number(), tt.number)
			}
			if ep.IsIn() != tt.in {
				t.Errorf("IsIn() = %v, want %v", ep.IsIn(), tt.in)
			}
			if ep.IsInterrupt() != tt.interrupt {
				t.Errorf("IsInterrupt() = %v, want %v", ep.IsInterrupt(), tt.interrupt)
			}
			if got := *ep.Descriptor(); got != tt.desc {
				t.Errorf("Descriptor() = %+v, want %+v", got, tt.desc)
			}
		})
	}
}

func TestEndpoint_StallAndToggle(t *testing.T) {
	ep := &Endpoint{Address: 0x81, Attributes: EndpointTypeInterrupt}

	if ep.IsStalled() {
		t.Error("new endpoint is stalled")
	}
	ep.SetStall(true)
	if !ep.IsStalled() {
		t.Error("SetStall(true) did not stall")
	}
	ep.SetStall(false)
	if ep.IsStalled() {
		t.Error("SetStall(false) did not clear")
	}

	if ep.DataToggle() {
		t.Error("initial toggle is DATA1")
	}
	ep.ToggleData()
	if !ep.DataToggle() {
		t.Error("ToggleData() did not flip to DATA1")
	}
	ep.ResetDataToggle()
	if ep.DataToggle() {
		t.Error("ResetDataToggle() did not return to DATA0")
	}
}

func TestTransferTypeName(t *testing.T) {
	tests := []struct {
		t    uint8
		want string
	}{
		{EndpointTypeControl, "Control"},
		{EndpointTypeIsochronous, "Isochronous"},
		{EndpointTypeBulk, "Bulk"},
		{EndpointTypeInterrupt, "Interrupt"},
	}
	for _, tt := range tests {
		if got := TransferTypeName(tt.t); got != tt.want {
			t.Errorf("TransferTypeName(%d) = %q, want %q", tt.t, got, tt.want)
		}
	}
}

func TestTransfer_Complete(t *testing.T) {
	ep := &Endpoint{Address: 0x81, Attributes: EndpointTypeInterrupt}
	calls := 0
	xfer := NewInterruptTransfer(ep, []byte{0x02}).WithCallback(func(*Transfer) { calls++ })

	if !xfer.IsIn() {
		t.Error("IsIn() = false for IN endpoint")
	}
	if xfer.IsCompleted() {
		t.Fatal("new transfer is completed")
	}

	xfer.Complete(pkg.TransferStatusSuccess, 1, nil)
	xfer.Complete(pkg.TransferStatusError, 0, pkg.ErrProtocol)

	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
	if xfer.Status != pkg.TransferStatusSuccess || xfer.Length != 1 || xfer.Error != nil {
		t.Errorf("result = %v/%d/%v, want completed/1/nil", xfer.Status, xfer.Length, xfer.Error)
	}
}

func TestTransfer_Context(t *testing.T) {
	ep := &Endpoint{Address: 0x81}
	xfer := NewInterruptTransfer(ep, nil)
	if xfer.Context() == nil {
		t.Fatal("Context() = nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	xfer.WithContext(ctx)
	cancel()
	if !errors.Is(xfer.Context().Err(), context.Canceled) {
		t.Errorf("Context().Err() = %v, want Canceled", xfer.Context().Err())
	}
}
