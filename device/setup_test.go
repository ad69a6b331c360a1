package device

import (
	"errors"
	"testing"

	"github.com/ardnew/softhub/pkg"
)

func TestParseSetupPacket(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    SetupPacket
		wantErr error
	}{
		{
			name: "GET_DESCRIPTOR device",
			data: []byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x12, 0x00},
			want: SetupPacket{RequestType: 0x80, Request: 0x06, Value: 0x0100, Length: 18},
		},
		{
			name: "hub GET_DESCRIPTOR",
			data: []byte{0xA0, 0x06, 0x00, 0x29, 0x00, 0x00, 0x47, 0x00},
			want: SetupPacket{RequestType: 0xA0, Request: 0x06, Value: 0x2900, Length: 0x47},
		},
		{
			name: "port SET_FEATURE",
			data: []byte{0x23, 0x03, 0x04, 0x00, 0x02, 0x00, 0x00, 0x00},
			want: SetupPacket{RequestType: 0x23, Request: 0x03, Value: 4, Index: 2},
		},
		{
			name:    "too short",
			data:    []byte{0x80, 0x06, 0x00},
			wantErr: pkg.ErrSetupPacketTooShort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got SetupPacket
			err := ParseSetupPacket(tt.data, &got)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseSetupPacket() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got != tt.want {
				t.Errorf("ParseSetupPacket() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSetupPacket_MarshalTo(t *testing.T) {
	setup := SetupPacket{RequestType: 0xA3, Request: 0x00, Value: 0, Index: 3, Length: 4}

	var buf [SetupPacketSize]byte
	if n := setup.MarshalTo(buf[:]); n != SetupPacketSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, SetupPacketSize)
	}
	want := [SetupPacketSize]byte{0xA3, 0x00, 0x00, 0x00, 0x03, 0x00, 0x04, 0x00}
	if buf != want {
		t.Errorf("MarshalTo() wrote % x, want % x", buf, want)
	}
	if n := setup.MarshalTo(buf[:4]); n != 0 {
		t.Errorf("MarshalTo(short) = %d, want 0", n)
	}
}

func TestSetupPacket_Fields(t *testing.T) {
	tests := []struct {
		name      string
		setup     SetupPacket
		in        bool
		class     bool
		standard  bool
		recipient uint8
	}{
		{"standard device IN", SetupPacket{RequestType: 0x80}, true, false, true, RequestRecipientDevice},
		{"class device IN", SetupPacket{RequestType: 0xA0}, true, true, false, RequestRecipientDevice},
		{"class other IN", SetupPacket{RequestType: 0xA3}, true, true, false, RequestRecipientOther},
		{"class other OUT", SetupPacket{RequestType: 0x23}, false, true, false, RequestRecipientOther},
		{"class interface OUT", SetupPacket{RequestType: 0x21}, false, true, false, RequestRecipientInterface},
		{"vendor device OUT", SetupPacket{RequestType: 0x40}, false, false, false, RequestRecipientDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.setup.IsDeviceToHost(); got != tt.in {
				t.Errorf("IsDeviceToHost() = %v, want %v", got, tt.in)
			}
			if got := tt.setup.IsClass(); got != tt.class {
				t.Errorf("IsClass() = %v, want %v", got, tt.class)
			}
			if got := tt.setup.IsStandard(); got != tt.standard {
				t.Errorf("IsStandard() = %v, want %v", got, tt.standard)
			}
			if got := tt.setup.Recipient(); got != tt.recipient {
				t.Errorf("Recipient() = %d, want %d", got, tt.recipient)
			}
		})
	}
}

func TestSetupPacket_DescriptorFields(t *testing.T) {
	setup := SetupPacket{Value: 0x2903, Index: 0x0105}
	if setup.DescriptorType() != 0x29 {
		t.Errorf("DescriptorType() = 0x%02X, want 0x29", setup.DescriptorType())
	}
	if setup.DescriptorIndex() != 3 {
		t.Errorf("DescriptorIndex() = %d, want 3", setup.DescriptorIndex())
	}
	if setup.IndexLow() != 5 {
		t.Errorf("IndexLow() = %d, want 5", setup.IndexLow())
	}
}

func TestSetupPacket_Equality(t *testing.T) {
	a := SetupPacket{RequestType: 0xA3, Request: RequestGetStatus, Index: 1, Length: 4}
	b := a
	if a != b {
		t.Error("identical packets compare unequal")
	}
	b.Length = 2
	if a == b {
		t.Error("packets differing in Length compare equal")
	}
}

func TestSetupPacket_String(t *testing.T) {
	setup := SetupPacket{RequestType: 0xA3, Request: 0x00, Value: 0, Index: 2, Length: 4}
	want := "SETUP[IN Class Other] Request=0x00 Value=0x0000 Index=0x0002 Length=4"
	if got := setup.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestControlStage_String(t *testing.T) {
	tests := []struct {
		stage ControlStage
		want  string
	}{
		{StageSetup, "setup"},
		{StageData, "data"},
		{StageAck, "ack"},
		{ControlStage(9), "stage(9)"},
	}
	for _, tt := range tests {
		if got := tt.stage.String(); got != tt.want {
			t.Errorf("ControlStage(%d).String() = %q, want %q", tt.stage, got, tt.want)
		}
	}
}
