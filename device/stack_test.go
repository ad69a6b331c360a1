package device

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ardnew/softhub/device/hal"
	"github.com/ardnew/softhub/pkg"
)

const waitTimeout = 2 * time.Second

type hostEvent struct {
	setup hal.SetupPacket
	reset bool
}

// ep0Reply is what the host observes on EP0 for one SETUP.
type ep0Reply struct {
	kind string // "data", "ack" or "stall"
	data []byte
}

// mockHAL implements hal.DeviceHAL for testing.
type mockHAL struct {
	mutex     sync.Mutex
	address   uint8
	endpoints []hal.EndpointConfig
	outData   []byte

	events  chan hostEvent
	replies chan ep0Reply
	writes  chan []byte

	// blockWrites makes Write wait until Stop.
	blockWrites bool
	stopped     chan struct{}
	stopOnce    sync.Once
}

func newMockHAL() *mockHAL {
	return &mockHAL{
		events:  make(chan hostEvent, 8),
		replies: make(chan ep0Reply, 8),
		writes:  make(chan []byte, 8),
		stopped: make(chan struct{}),
	}
}

func (m *mockHAL) Init(context.Context) error { return nil }
func (m *mockHAL) Start() error               { return nil }

func (m *mockHAL) Stop() error {
	m.stopOnce.Do(func() { close(m.stopped) })
	return nil
}

func (m *mockHAL) SetAddress(address uint8) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.address = address
	return nil
}

func (m *mockHAL) ConfigureEndpoints(endpoints []hal.EndpointConfig) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.endpoints = append([]hal.EndpointConfig(nil), endpoints...)
	return nil
}

func (m *mockHAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case ev := <-m.events:
		if ev.reset {
			return pkg.ErrReset
		}
		*out = ev.setup
		return nil
	}
}

func (m *mockHAL) WriteEP0(_ context.Context, data []byte) error {
	m.replies <- ep0Reply{kind: "data", data: append([]byte(nil), data...)}
	return nil
}

func (m *mockHAL) ReadEP0(_ context.Context, buf []byte) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return copy(buf, m.outData), nil
}

func (m *mockHAL) StallEP0() error {
	m.replies <- ep0Reply{kind: "stall"}
	return nil
}

func (m *mockHAL) AckEP0() error {
	m.replies <- ep0Reply{kind: "ack"}
	return nil
}

func (m *mockHAL) Read(ctx context.Context, _ uint8, _ []byte) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (m *mockHAL) Write(ctx context.Context, _ uint8, data []byte) (int, error) {
	if m.blockWrites {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-m.stopped:
			return 0, pkg.ErrCancelled
		}
	}
	m.writes <- append([]byte(nil), data...)
	return len(data), nil
}

func (m *mockHAL) IsConnected() bool                  { return true }
func (m *mockHAL) WaitConnect(context.Context) error { return nil }

func (m *mockHAL) configured() []hal.EndpointConfig {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.endpoints
}

// request sends setup and waits for the EP0 reply.
func (m *mockHAL) request(t *testing.T, setup hal.SetupPacket) ep0Reply {
	t.Helper()
	m.events <- hostEvent{setup: setup}
	select {
	case r := <-m.replies:
		return r
	case <-time.After(waitTimeout):
		t.Fatalf("no reply to %+v", setup)
		return ep0Reply{}
	}
}

func startStack(t *testing.T) (*Stack, *mockHAL) {
	t.Helper()
	dev := buildHubDevice(t, []byte{9, 0x29, 4, 0, 0, 50, 100, 0, 0xFF})
	m := newMockHAL()
	s := NewStack(dev, m)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s, m
}

// enumerate runs reset, SET_ADDRESS and SET_CONFIGURATION.
func enumerate(t *testing.T, s *Stack, m *mockHAL) {
	t.Helper()
	reset := make(chan struct{}, 1)
	s.Device().SetOnReset(func() { reset <- struct{}{} })
	m.events <- hostEvent{reset: true}
	select {
	case <-reset:
	case <-time.After(waitTimeout):
		t.Fatal("reset not handled")
	}

	if r := m.request(t, hal.SetupPacket{Request: RequestSetAddress, Value: 5}); r.kind != "ack" {
		t.Fatalf("SET_ADDRESS reply = %s", r.kind)
	}
	if r := m.request(t, hal.SetupPacket{Request: RequestSetConfiguration, Value: 1}); r.kind != "ack" {
		t.Fatalf("SET_CONFIGURATION reply = %s", r.kind)
	}
	// A follow-up request orders the test after the configuration side effects.
	if r := m.request(t, hal.SetupPacket{RequestType: 0x80, Request: RequestGetConfiguration, Length: 1}); r.kind != "data" {
		t.Fatalf("GET_CONFIGURATION reply = %s", r.kind)
	}
}

func TestStack_StartStop(t *testing.T) {
	s, _ := startStack(t)
	if !s.IsRunning() {
		t.Fatal("IsRunning() = false after Start")
	}
	if err := s.Start(context.Background()); !errors.Is(err, pkg.ErrAlreadyRunning) {
		t.Errorf("second Start() = %v, want ErrAlreadyRunning", err)
	}
	if s.Device().State() != StatePowered {
		t.Errorf("state = %v, want Powered", s.Device().State())
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

func TestStack_Enumeration(t *testing.T) {
	s, m := startStack(t)
	enumerate(t, s, m)

	m.mutex.Lock()
	addr := m.address
	m.mutex.Unlock()
	if addr != 5 {
		t.Errorf("HAL address = %d, want 5", addr)
	}
	if !s.Device().IsConfigured() {
		t.Error("device not configured")
	}
	eps := m.configured()
	if len(eps) != 1 || eps[0].Address != 0x81 || !eps[0].IsIn() {
		t.Errorf("configured endpoints = %+v", eps)
	}

	r := m.request(t, hal.SetupPacket{RequestType: 0x80, Request: RequestGetDescriptor, Value: 0x0100, Length: 8})
	if r.kind != "data" || len(r.data) != 8 || r.data[1] != DescriptorTypeDevice {
		t.Errorf("short GET_DESCRIPTOR reply = %s % x", r.kind, r.data)
	}

	if r := m.request(t, hal.SetupPacket{RequestType: 0xC0, Request: 0x01}); r.kind != "stall" {
		t.Errorf("vendor request reply = %s, want stall", r.kind)
	}
}

func TestStack_ClassRequests(t *testing.T) {
	s, m := startStack(t)
	enumerate(t, s, m)

	drv := &recordingDriver{answer: []byte{0x01, 0x01, 0x00, 0x00}}
	if err := s.Device().GetInterface(0).SetClassDriver(drv); err != nil {
		t.Fatalf("SetClassDriver() error = %v", err)
	}

	r := m.request(t, hal.SetupPacket{RequestType: 0xA3, Request: RequestGetStatus, Index: 1, Length: 4})
	if r.kind != "data" || !bytes.Equal(r.data, drv.answer) {
		t.Fatalf("port GET_STATUS reply = %s % x", r.kind, r.data)
	}
	m.request(t, hal.SetupPacket{RequestType: 0x80, Request: RequestGetConfiguration, Length: 1})
	want := []ControlStage{StageSetup, StageData, StageAck}
	if len(drv.stages) != len(want) {
		t.Fatalf("stages = %v, want %v", drv.stages, want)
	}
	for i := range want {
		if drv.stages[i] != want[i] {
			t.Errorf("stage %d = %v, want %v", i, drv.stages[i], want[i])
		}
	}

	drv.answer = nil
	if r := m.request(t, hal.SetupPacket{RequestType: 0x23, Request: RequestSetFeature, Value: 8, Index: 1}); r.kind != "ack" {
		t.Errorf("port SET_FEATURE reply = %s, want ack", r.kind)
	}

	drv.reject = true
	if r := m.request(t, hal.SetupPacket{RequestType: 0xA0, Request: 0x42}); r.kind != "stall" {
		t.Errorf("rejected request reply = %s, want stall", r.kind)
	}
}

func TestStack_AcceptedWithoutResponse(t *testing.T) {
	s, m := startStack(t)
	enumerate(t, s, m)

	drv := &recordingDriver{silent: true}
	_ = s.Device().GetInterface(0).SetClassDriver(drv)

	m.events <- hostEvent{setup: hal.SetupPacket{RequestType: 0xA0, Request: RequestGetDescriptor, Value: 0x2901, Length: 9}}
	r := m.request(t, hal.SetupPacket{RequestType: 0x80, Request: RequestGetConfiguration, Length: 1})
	if r.kind != "data" || !bytes.Equal(r.data, []byte{1}) {
		t.Errorf("first reply = %s % x, want GET_CONFIGURATION data", r.kind, r.data)
	}
	if len(drv.stages) != 1 || drv.stages[0] != StageSetup {
		t.Errorf("stages = %v, want [setup]", drv.stages)
	}
}

func TestStack_SubmitTransfer(t *testing.T) {
	s, m := startStack(t)
	ep := s.Device().GetConfiguration(1).GetInterface(0).GetEndpoint(0x81)

	if err := s.SubmitTransfer(NewInterruptTransfer(ep, []byte{0x04})); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Fatalf("SubmitTransfer before configuration = %v, want ErrNotConfigured", err)
	}

	enumerate(t, s, m)
	drv := &recordingDriver{xferDone: make(chan struct{})}
	_ = s.Device().GetInterface(0).SetClassDriver(drv)

	done := make(chan *Transfer, 1)
	xfer := NewInterruptTransfer(ep, []byte{0x04}).WithCallback(func(x *Transfer) { done <- x })
	if err := s.SubmitTransfer(xfer); err != nil {
		t.Fatalf("SubmitTransfer() error = %v", err)
	}

	select {
	case data := <-m.writes:
		if !bytes.Equal(data, []byte{0x04}) {
			t.Errorf("written = % x, want 04", data)
		}
	case <-time.After(waitTimeout):
		t.Fatal("transfer not written")
	}
	select {
	case <-drv.xferDone:
	case <-time.After(waitTimeout):
		t.Fatal("XferComplete not called")
	}
	x := <-done
	if x.Status != pkg.TransferStatusSuccess || x.Length != 1 {
		t.Errorf("transfer result = %v/%d", x.Status, x.Length)
	}
	if drv.xferAddr != 0x81 || drv.xferStat != pkg.TransferStatusSuccess || drv.xferLen != 1 {
		t.Errorf("XferComplete(%#x, %v, %d)", drv.xferAddr, drv.xferStat, drv.xferLen)
	}
	if !ep.DataToggle() {
		t.Error("data toggle not advanced")
	}
}

func TestStack_StopCancelsPending(t *testing.T) {
	s, m := startStack(t)
	enumerate(t, s, m)
	m.blockWrites = true
	ep := s.Device().GetEndpoint(0x81)

	results := make(chan *Transfer, MaxPendingTransfersPerEndpoint)
	for i := 0; i < MaxPendingTransfersPerEndpoint; i++ {
		x := NewInterruptTransfer(ep, []byte{0x02}).WithCallback(func(x *Transfer) { results <- x })
		if err := s.SubmitTransfer(x); err != nil {
			t.Fatalf("SubmitTransfer(%d) error = %v", i, err)
		}
	}
	if err := s.SubmitTransfer(NewInterruptTransfer(ep, nil)); !errors.Is(err, pkg.ErrNoResources) {
		t.Errorf("SubmitTransfer over limit = %v, want ErrNoResources", err)
	}
	if n := s.PendingTransfers(0x81); n != MaxPendingTransfersPerEndpoint {
		t.Errorf("PendingTransfers() = %d", n)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	for i := 0; i < MaxPendingTransfersPerEndpoint; i++ {
		select {
		case x := <-results:
			if x.Status != pkg.TransferStatusCancelled {
				t.Errorf("transfer %d status = %v, want cancelled", i, x.Status)
			}
		case <-time.After(waitTimeout):
			t.Fatalf("transfer %d not completed", i)
		}
	}
	if s.PendingTransfers(0x81) != 0 {
		t.Error("pending transfers left after Stop")
	}
}

func TestStack_OnConfigured(t *testing.T) {
	s, m := startStack(t)

	var (
		mutex    sync.Mutex
		got      uint8
		endpoint int
	)
	s.SetOnConfigured(func(config uint8) {
		mutex.Lock()
		defer mutex.Unlock()
		got = config
		endpoint = len(m.configured())
	})
	enumerate(t, s, m)

	mutex.Lock()
	defer mutex.Unlock()
	if got != 1 {
		t.Errorf("configured callback value = %d, want 1", got)
	}
	if endpoint != 1 {
		t.Errorf("endpoints at callback = %d, want 1", endpoint)
	}
}
