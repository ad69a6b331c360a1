package hub

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ardnew/softhub/device"
	"github.com/ardnew/softhub/device/hal/fifo"
)

// Frame types of the FIFO bus.
const (
	frameSetup = 0x01
	frameData  = 0x02
	frameAck   = 0x03
	frameReset = 0x12
)

// busHost drives a hub on the FIFO bus from the host side.
type busHost struct {
	t        *testing.T
	toDevice *os.File
	toHost   *os.File
	statusIn *os.File
}

func openPipe(t *testing.T, dir, name string) *os.File {
	t.Helper()
	f, err := os.OpenFile(filepath.Join(dir, name), unix.O_RDWR|unix.O_NONBLOCK, 0)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func (b *busHost) send(typ byte, payload []byte) {
	b.t.Helper()
	msg := make([]byte, 3+len(payload))
	msg[0] = typ
	binary.LittleEndian.PutUint16(msg[1:3], uint16(len(payload)))
	copy(msg[3:], payload)
	_, err := b.toDevice.Write(msg)
	require.NoError(b.t, err)
}

// recv reads one frame, or returns ok == false when none arrives within
// timeout.
func recv(f *os.File, timeout time.Duration) (typ byte, payload []byte, ok bool) {
	deadline := time.Now().Add(timeout)
	read := func(buf []byte) bool {
		for total := 0; total < len(buf); {
			if err := f.SetReadDeadline(deadline); err != nil {
				return false
			}
			n, err := f.Read(buf[total:])
			total += n
			if err != nil && total < len(buf) {
				return false
			}
		}
		return true
	}
	var header [3]byte
	if !read(header[:]) {
		return 0, nil, false
	}
	payload = make([]byte, binary.LittleEndian.Uint16(header[1:]))
	if !read(payload) {
		return 0, nil, false
	}
	return header[0], payload, true
}

func (b *busHost) request(setup device.SetupPacket) byte {
	b.t.Helper()
	payload := make([]byte, 1+device.SetupPacketSize)
	setup.MarshalTo(payload[1:])
	b.send(frameSetup, payload)
	typ, _, ok := recv(b.toHost, 2*time.Second)
	require.True(b.t, ok, "no answer to %s", setup.String())
	return typ
}

func TestHub_SingleAttachOnBus(t *testing.T) {
	h := New(NewStaticProvider(&HubDescriptor{
		NumPorts:        4,
		Characteristics: PowerSwitchingIndividual | OverCurrentIndividual,
		PowerOnToGood:   50,
	}))
	m := NewMetrics(nil)
	h.SetMetrics(m)

	builder := device.NewDeviceBuilder().
		WithVendorProduct(0x1D6B, 0x0002, 0x0100).
		AddConfiguration(1).
		SelfPowered()
	h.ConfigureDevice(builder, 0x01, 12)
	dev, err := builder.Build(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.AttachToInterface(dev, 1, 0))

	bus := fifo.New(t.TempDir(), 1)
	stack := device.NewStack(dev, bus)
	h.SetStack(stack)
	configured := make(chan struct{}, 1)
	stack.SetOnConfigured(func(uint8) { configured <- struct{}{} })

	var delivered atomic.Int32
	h.SetOnReportComplete(func(int) { delivered.Add(1) })

	require.NoError(t, stack.Start(context.Background()))
	t.Cleanup(func() { stack.Stop() })

	host := &busHost{
		t:        t,
		toDevice: openPipe(t, bus.DeviceDir(), "host_to_device"),
		toHost:   openPipe(t, bus.DeviceDir(), "device_to_host"),
		statusIn: openPipe(t, bus.DeviceDir(), "ep1_in"),
	}

	host.send(frameReset, nil)
	typ, _, ok := recv(host.toHost, 2*time.Second)
	require.True(t, ok)
	require.Equal(t, byte(frameAck), typ)

	require.Equal(t, byte(frameAck), host.request(device.SetupPacket{Request: device.RequestSetAddress, Value: 3}))
	require.Equal(t, byte(frameAck), host.request(device.SetupPacket{Request: device.RequestSetConfiguration, Value: 1}))
	select {
	case <-configured:
	case <-time.After(2 * time.Second):
		t.Fatal("hub not configured")
	}

	require.NoError(t, h.SetPortCondition(1, PortConnection))
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, int32(1), delivered.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reports.WithLabelValues("sent")))

	typ, payload, ok := recv(host.statusIn, time.Second)
	require.True(t, ok)
	assert.Equal(t, byte(frameData), typ)
	assert.Equal(t, []byte{0x02}, payload)

	_, _, ok = recv(host.statusIn, 200*time.Millisecond)
	assert.False(t, ok, "stale change report on the bus")

	// The host reads the port and clears the change; a detach follows.
	status := host.request(device.SetupPacket{RequestType: rtPortIn, Request: RequestGetStatus, Index: 1, Length: 4})
	assert.Equal(t, byte(frameData), status)
	require.Equal(t, byte(frameAck), host.request(device.SetupPacket{
		RequestType: rtPortOut, Request: RequestClearFeature, Value: uint16(CPortConnection), Index: 1,
	}))
	require.NoError(t, h.DropPortCondition(1, PortConnection))

	typ, payload, ok = recv(host.statusIn, time.Second)
	require.True(t, ok)
	assert.Equal(t, byte(frameData), typ)
	assert.Equal(t, []byte{0x02}, payload)
	_, _, ok = recv(host.statusIn, 200*time.Millisecond)
	assert.False(t, ok, "stale change report on the bus")
}
