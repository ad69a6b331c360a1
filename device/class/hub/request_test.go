package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softhub/device"
	"github.com/ardnew/softhub/pkg"
)

// Class request types by recipient and direction.
const (
	rtHubIn   = 0xA0
	rtHubOut  = 0x20
	rtPortIn  = 0xA3
	rtPortOut = 0x23
)

func setupOf(requestType, request uint8, value, index, length uint16) *device.SetupPacket {
	return &device.SetupPacket{
		RequestType: requestType,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      length,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		setup *device.SetupPacket
		want  Request
	}{
		{
			name:  "hub status",
			setup: setupOf(rtHubIn, RequestGetStatus, 0, 0, 4),
			want:  Request{Kind: KindGetStatus, Target: HubTarget, Length: 4},
		},
		{
			name:  "port status",
			setup: setupOf(rtPortIn, RequestGetStatus, 0, 3, 4),
			want:  Request{Kind: KindGetStatus, Target: PortTarget(3), Length: 4},
		},
		{
			name:  "set port reset",
			setup: setupOf(rtPortOut, RequestSetFeature, uint16(PortReset), 2, 0),
			want:  Request{Kind: KindSetFeature, Target: PortTarget(2), Value: 4, Feature: uint8(PortReset)},
		},
		{
			name:  "set port indicator selector",
			setup: setupOf(rtPortOut, RequestSetFeature, 22, 1, 0),
			want:  Request{Kind: KindSetFeature, Target: PortTarget(1), Value: 22, Feature: uint8(PortIndicator)},
		},
		{
			name:  "clear port change",
			setup: setupOf(rtPortOut, RequestClearFeature, uint16(CPortConnection), 4, 0),
			want:  Request{Kind: KindClearFeature, Target: PortTarget(4), Value: 16, Feature: uint8(CPortConnection)},
		},
		{
			name:  "clear hub change",
			setup: setupOf(rtHubOut, RequestClearFeature, uint16(CHubOverCurrent), 0, 0),
			want:  Request{Kind: KindClearFeature, Target: HubTarget, Value: 17, Feature: uint8(CHubOverCurrent)},
		},
		{
			name:  "hub descriptor",
			setup: setupOf(rtHubIn, RequestGetDescriptor, 0x2900, 0, 71),
			want:  Request{Kind: KindGetDescriptor, Target: HubTarget, Value: 0x2900, Length: 71},
		},
		{
			name:  "generic descriptor",
			setup: setupOf(rtHubIn, RequestGetDescriptor, 0x0100, 0, 18),
			want:  Request{Kind: KindGetDescriptor, Target: HubTarget, Value: 0x0100, Length: 18, Generic: true},
		},
		{
			name:  "descriptor with index",
			setup: setupOf(rtHubIn, RequestGetDescriptor, 0x2900, 1, 9),
			want:  Request{Kind: KindGetDescriptor, Target: HubTarget, Value: 0x2900, Length: 9, Generic: true},
		},
		{
			name:  "reset tt",
			setup: setupOf(rtPortOut, RequestResetTT, 0, 1, 0),
			want:  Request{Kind: KindResetTT, Target: PortTarget(1)},
		},
		{
			name:  "set descriptor",
			setup: setupOf(rtHubOut, RequestSetDescriptor, 0x2900, 0, 9),
			want:  Request{Kind: KindSetDescriptor, Target: HubTarget, Value: 0x2900, Length: 9},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.setup, 4)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_Errors(t *testing.T) {
	tests := []struct {
		name  string
		setup *device.SetupPacket
		want  error
	}{
		{"standard request", setupOf(0x80, device.RequestGetStatus, 0, 0, 2), pkg.ErrMalformed},
		{"vendor request", setupOf(0xC0, RequestGetStatus, 0, 0, 4), pkg.ErrMalformed},
		{"interface recipient", setupOf(0xA1, RequestGetStatus, 0, 0, 4), pkg.ErrMalformed},
		{"endpoint recipient", setupOf(0xA2, RequestGetStatus, 0, 0, 4), pkg.ErrMalformed},
		{"unknown request", setupOf(rtHubIn, 0x02, 0, 0, 0), pkg.ErrMalformed},
		{"unknown request 0x0C", setupOf(rtHubIn, 0x0C, 0, 0, 0), pkg.ErrMalformed},
		{"descriptor at port", setupOf(rtPortIn, RequestGetDescriptor, 0x2900, 1, 9), pkg.ErrMalformed},
		{"port above count", setupOf(rtPortIn, RequestGetStatus, 0, 5, 4), pkg.ErrOutOfRange},
		{"port far above count", setupOf(rtPortOut, RequestSetFeature, 8, 200, 0), pkg.ErrOutOfRange},
		{"unknown port feature", setupOf(rtPortOut, RequestSetFeature, 5, 1, 0), pkg.ErrOutOfRange},
		{"set port change", setupOf(rtPortOut, RequestSetFeature, uint16(CPortReset), 1, 0), pkg.ErrOutOfRange},
		{"unknown hub feature", setupOf(rtHubOut, RequestSetFeature, 4, 0, 0), pkg.ErrOutOfRange},
		{"set hub change", setupOf(rtHubOut, RequestSetFeature, uint16(CHubLocalPower), 0, 0), pkg.ErrOutOfRange},
		{"port feature at hub", setupOf(rtHubOut, RequestClearFeature, uint16(PortPower), 0, 0), pkg.ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Classify(tt.setup, 4)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClassify_PortBounds(t *testing.T) {
	for ports := 1; ports <= MaxPorts; ports++ {
		for port := 0; port <= ports; port++ {
			req, err := Classify(setupOf(rtPortIn, RequestGetStatus, 0, uint16(port), 4), ports)
			require.NoError(t, err)
			assert.Equal(t, port, req.Target.Port)
		}
		_, err := Classify(setupOf(rtPortIn, RequestGetStatus, 0, uint16(ports+1), 4), ports)
		assert.ErrorIs(t, err, pkg.ErrOutOfRange)
	}
}

func TestClassify_IndexHighByte(t *testing.T) {
	tests := []struct {
		name  string
		setup *device.SetupPacket
		port  int
		err   error
	}{
		{"port status with high byte", setupOf(rtPortIn, RequestGetStatus, 0, 0x0101, 4), 0, pkg.ErrOutOfRange},
		{"port status high byte only", setupOf(rtPortIn, RequestGetStatus, 0, 0xFF02, 4), 0, pkg.ErrOutOfRange},
		{"hub status high byte", setupOf(rtHubIn, RequestGetStatus, 0, 0x0500, 4), 0, pkg.ErrOutOfRange},
		{"clear power with high byte", setupOf(rtPortOut, RequestClearFeature, uint16(PortPower), 0x0102, 0), 0, pkg.ErrOutOfRange},
		{"set reset with high byte", setupOf(rtPortOut, RequestSetFeature, uint16(PortReset), 0x0302, 0), 0, pkg.ErrOutOfRange},
		{"reset tt with high byte", setupOf(rtPortOut, RequestResetTT, 0, 0x0101, 0), 0, pkg.ErrOutOfRange},
		{"port test selector", setupOf(rtPortOut, RequestSetFeature, selectorPortTest, 0x0402, 0), 2, nil},
		{"port indicator selector", setupOf(rtPortOut, RequestSetFeature, selectorPortIndicator, 0x0203, 0), 3, nil},
		{"clear indicator selector", setupOf(rtPortOut, RequestClearFeature, selectorPortIndicator, 0x0104, 0), 4, nil},
		{"indicator selector bad port", setupOf(rtPortOut, RequestSetFeature, selectorPortIndicator, 0x0205, 0), 0, pkg.ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Classify(tt.setup, 4)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.port, req.Target.Port)
		})
	}
}

func TestTarget_String(t *testing.T) {
	assert.Equal(t, "hub", HubTarget.String())
	assert.Equal(t, "port3", PortTarget(3).String())
	assert.True(t, PortTarget(0).IsHub())
}

func TestTracker(t *testing.T) {
	var tr tracker
	a := *setupOf(rtPortIn, RequestGetStatus, 0, 1, 4)
	b := *setupOf(rtPortIn, RequestGetStatus, 0, 2, 4)

	assert.False(t, tr.isRepeat(a))
	assert.True(t, tr.isRepeat(a))
	assert.True(t, tr.isRepeat(a))
	assert.False(t, tr.isRepeat(b))
	assert.False(t, tr.isRepeat(a))

	tr.reset()
	assert.False(t, tr.isRepeat(a))
}
