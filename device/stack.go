package device

import (
	"context"
	"errors"
	"sync"

	"github.com/ardnew/softhub/device/hal"
	"github.com/ardnew/softhub/pkg"
)

// MaxEndpointAddresses is the number of endpoint addresses (16 OUT, 16 IN).
const MaxEndpointAddresses = 32

// MaxControlDataSize bounds an OUT data stage on EP0.
const MaxControlDataSize = 256

// Stack runs a Device on top of a HAL: it serves EP0 and moves queued
// transfers on the data endpoints.
type Stack struct {
	device  *Device
	hal     hal.DeviceHAL
	handler *StandardRequestHandler

	running bool
	mutex   sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc

	// Indexed by endpointIndex.
	pending       [MaxEndpointAddresses][MaxPendingTransfersPerEndpoint]*Transfer
	pendingCount  [MaxEndpointAddresses]int
	transferMutex sync.Mutex

	setupBuf   hal.SetupPacket
	ep0ReadBuf [MaxControlDataSize]byte

	onConfigured func(config uint8)
}

func endpointIndex(addr uint8) int {
	if addr&EndpointDirectionIn != 0 {
		return int(addr&0x0F) + 16
	}
	return int(addr & 0x0F)
}

// NewStack creates a stack serving dev through h.
func NewStack(dev *Device, h hal.DeviceHAL) *Stack {
	return &Stack{
		device:  dev,
		hal:     h,
		handler: NewStandardRequestHandler(dev),
	}
}

// Device returns the served device.
func (s *Stack) Device() *Device {
	return s.device
}

// Start initializes the HAL, attaches to the bus and starts serving EP0.
func (s *Stack) Start(ctx context.Context) error {
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return pkg.ErrAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mutex.Unlock()

	if err := s.hal.Init(s.ctx); err != nil {
		return err
	}
	if err := s.hal.Start(); err != nil {
		return err
	}

	s.mutex.Lock()
	s.running = true
	s.mutex.Unlock()

	s.device.setState(StatePowered)
	pkg.LogDebug(pkg.ComponentStack, "device stack started")

	go s.controlLoop()
	return nil
}

// Stop cancels pending transfers and detaches from the bus.
func (s *Stack) Stop() error {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mutex.Unlock()

	for idx := 0; idx < MaxEndpointAddresses; idx++ {
		s.cancelPending(idx)
	}
	if err := s.hal.Stop(); err != nil {
		return err
	}
	pkg.LogDebug(pkg.ComponentStack, "device stack stopped")
	return nil
}

// SetOnConfigured sets a callback run once the host has selected a
// configuration and its endpoints are ready for transfers. It runs on the
// control goroutine.
func (s *Stack) SetOnConfigured(cb func(config uint8)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.onConfigured = cb
}

// IsRunning reports whether the stack has been started.
func (s *Stack) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

// IsConnected reports whether the HAL sees a host.
func (s *Stack) IsConnected() bool {
	return s.hal.IsConnected()
}

// WaitConnect blocks until a host is connected or ctx is done.
func (s *Stack) WaitConnect(ctx context.Context) error {
	return s.hal.WaitConnect(ctx)
}

func (s *Stack) controlLoop() {
	for {
		if s.ctx.Err() != nil {
			return
		}
		if err := s.hal.ReadSetup(s.ctx, &s.setupBuf); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if errors.Is(err, pkg.ErrReset) {
				s.device.Reset()
				continue
			}
			pkg.LogWarn(pkg.ComponentStack, "error reading setup", "error", err)
			continue
		}

		setup := SetupPacket{
			RequestType: s.setupBuf.RequestType,
			Request:     s.setupBuf.Request,
			Value:       s.setupBuf.Value,
			Index:       s.setupBuf.Index,
			Length:      s.setupBuf.Length,
		}
		if err := s.handleSetup(&setup); err != nil {
			pkg.LogDebug(pkg.ComponentStack, "stalling control endpoint",
				"error", err,
				"request", setup.String())
			if err := s.hal.StallEP0(); err != nil {
				pkg.LogWarn(pkg.ComponentStack, "error stalling EP0", "error", err)
			}
		}
	}
}

// handleSetup serves one SETUP transaction. A non-nil error stalls EP0.
func (s *Stack) handleSetup(setup *SetupPacket) error {
	pkg.LogTrace(pkg.ComponentStack, "setup received", "request", setup.String())

	if setup.IsStandard() {
		data, err := s.handler.HandleSetup(setup)
		if err != nil {
			return err
		}
		if _, err := s.controlTransfer(setup, data); err != nil {
			return err
		}
		if setup.IsDeviceRecipient() {
			switch setup.Request {
			case RequestSetAddress:
				return s.hal.SetAddress(uint8(setup.Value & 0x7F))
			case RequestSetConfiguration:
				s.configureEndpoints()
				s.mutex.RLock()
				cb := s.onConfigured
				s.mutex.RUnlock()
				if cb != nil && setup.Value != 0 {
					cb(uint8(setup.Value))
				}
			}
		}
		return nil
	}

	iface := s.classTarget(setup)
	if iface == nil {
		return pkg.ErrInvalidRequest
	}

	ctrl := &ep0Control{stack: s}
	if !iface.HandleSetup(ctrl, StageSetup, setup) {
		return pkg.ErrStall
	}
	if !ctrl.answered {
		pkg.LogDebug(pkg.ComponentStack, "class request accepted without response",
			"interface", iface.Number,
			"request", setup.String())
		return nil
	}
	if ctrl.err != nil {
		return ctrl.err
	}
	if ctrl.sent > 0 {
		iface.HandleSetup(ctrl, StageData, setup)
	}
	iface.HandleSetup(ctrl, StageAck, setup)
	return nil
}

// classTarget picks the interface that serves a class request: the wIndex
// interface for interface recipients, the device-class interface for device
// and other recipients.
func (s *Stack) classTarget(setup *SetupPacket) *Interface {
	if !setup.IsClass() {
		return nil
	}
	if setup.IsInterfaceRecipient() {
		return s.device.GetInterface(setup.IndexLow())
	}
	return s.device.ClassInterface()
}

// controlTransfer runs the data and status stages. IN data is clamped to
// wLength. It returns the data stage length.
func (s *Stack) controlTransfer(setup *SetupPacket, data []byte) (int, error) {
	if setup.IsDeviceToHost() {
		if len(data) > int(setup.Length) {
			data = data[:setup.Length]
		}
		if setup.Length > 0 {
			if err := s.hal.WriteEP0(s.ctx, data); err != nil {
				return 0, err
			}
		}
		_, err := s.hal.ReadEP0(s.ctx, s.ep0ReadBuf[:0])
		return len(data), err
	}

	n := 0
	if setup.Length > 0 {
		limit := min(int(setup.Length), MaxControlDataSize)
		var err error
		if n, err = s.hal.ReadEP0(s.ctx, s.ep0ReadBuf[:limit]); err != nil {
			return n, err
		}
	}
	return n, s.hal.AckEP0()
}

func (s *Stack) configureEndpoints() {
	config := s.device.ActiveConfiguration()
	var eps []hal.EndpointConfig
	if config != nil {
		for _, iface := range config.Interfaces() {
			for _, ep := range iface.Endpoints() {
				eps = append(eps, hal.EndpointConfig{
					Address:       ep.Address,
					Attributes:    ep.Attributes,
					MaxPacketSize: ep.MaxPacketSize,
					Interval:      ep.Interval,
				})
			}
		}
	}
	if err := s.hal.ConfigureEndpoints(eps); err != nil {
		pkg.LogWarn(pkg.ComponentStack, "error configuring endpoints", "error", err)
	}
}

// ep0Control is the Control handed to class drivers for one SETUP.
type ep0Control struct {
	stack    *Stack
	answered bool
	sent     int
	err      error
}

func (c *ep0Control) ControlTransfer(setup *SetupPacket, data []byte) error {
	c.answered = true
	c.sent, c.err = c.stack.controlTransfer(setup, data)
	return c.err
}

func (c *ep0Control) StatusAck(setup *SetupPacket) error {
	return c.ControlTransfer(setup, nil)
}

// SubmitTransfer queues t on its endpoint. The device must be configured.
func (s *Stack) SubmitTransfer(t *Transfer) error {
	if !s.IsRunning() || !s.device.IsConfigured() {
		return pkg.ErrNotConfigured
	}
	if t.Endpoint == nil {
		return pkg.ErrInvalidEndpoint
	}

	idx := endpointIndex(t.Endpoint.Address)
	s.transferMutex.Lock()
	count := s.pendingCount[idx]
	if count >= MaxPendingTransfersPerEndpoint {
		s.transferMutex.Unlock()
		return pkg.ErrNoResources
	}
	s.pending[idx][count] = t
	s.pendingCount[idx] = count + 1
	s.transferMutex.Unlock()

	go s.processTransfer(t)
	return nil
}

func (s *Stack) processTransfer(t *Transfer) {
	ctx := t.Context()
	addr := t.Endpoint.Address

	var n int
	var err error
	if ctx.Err() != nil {
		err = pkg.ErrCancelled
	} else if t.IsIn() {
		n, err = s.hal.Write(ctx, addr, t.Buffer)
	} else {
		n, err = s.hal.Read(ctx, addr, t.Buffer)
	}
	if !s.removePending(t) {
		// Already completed by Stop.
		return
	}
	if err == nil {
		t.Endpoint.ToggleData()
	}
	s.finish(t, pkg.StatusOf(err), n, err)
}

// finish completes t and notifies the class driver owning its endpoint.
func (s *Stack) finish(t *Transfer, status pkg.TransferStatus, n int, err error) {
	t.Complete(status, n, err)

	addr := t.Endpoint.Address
	if iface := s.device.EndpointOwner(addr); iface != nil {
		if c, ok := iface.ClassDriver().(TransferCompleter); ok {
			c.XferComplete(addr, status, n)
		}
	}
}

func (s *Stack) removePending(t *Transfer) bool {
	s.transferMutex.Lock()
	defer s.transferMutex.Unlock()

	idx := endpointIndex(t.Endpoint.Address)
	count := s.pendingCount[idx]
	for i := 0; i < count; i++ {
		if s.pending[idx][i] == t {
			copy(s.pending[idx][i:count-1], s.pending[idx][i+1:count])
			s.pending[idx][count-1] = nil
			s.pendingCount[idx] = count - 1
			return true
		}
	}
	return false
}

func (s *Stack) cancelPending(idx int) {
	s.transferMutex.Lock()
	count := s.pendingCount[idx]
	var toCancel [MaxPendingTransfersPerEndpoint]*Transfer
	copy(toCancel[:count], s.pending[idx][:count])
	clear(s.pending[idx][:count])
	s.pendingCount[idx] = 0
	s.transferMutex.Unlock()

	for _, t := range toCancel[:count] {
		s.finish(t, pkg.TransferStatusCancelled, 0, pkg.ErrCancelled)
	}
}

// PendingTransfers returns the number of queued transfers on an endpoint.
func (s *Stack) PendingTransfers(address uint8) int {
	s.transferMutex.Lock()
	defer s.transferMutex.Unlock()
	return s.pendingCount[endpointIndex(address)]
}
