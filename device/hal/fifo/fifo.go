package fifo

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/ardnew/softhub/device/hal"
	"github.com/ardnew/softhub/pkg"
)

// MaxEndpoints is the highest data endpoint number served.
const MaxEndpoints = 15

// MaxPacketSize bounds one framed payload.
const MaxPacketSize = 512

// Pipe names inside the device directory.
const (
	pipeHostToDevice = "host_to_device"
	pipeDeviceToHost = "device_to_host"
	pipeConnection   = "connection"
)

// HAL is a hal.DeviceHAL backed by named pipes in a per-device directory
// under a bus directory shared with the host process.
type HAL struct {
	busDir       string
	numEndpoints int

	deviceDir string
	id        string

	hostToDevice *pipe
	deviceToHost *pipe
	connection   *pipe
	epIn         [MaxEndpoints]*pipe
	epOut        [MaxEndpoints]*pipe

	connected atomic.Bool
	address   uint8
	active    [MaxEndpoints * 2]bool // IN at [0,15), OUT at [15,30)

	mutex     sync.RWMutex
	initDone  bool
	connectCh chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once

	// EP0 is driven by the stack's single control goroutine.
	ep0Rx      [headerSize + 1 + hal.SetupPacketSize + MaxPacketSize]byte
	ep0Tx      [headerSize + MaxPacketSize]byte
	ep0OutData []byte

	// Data endpoints may be driven concurrently.
	dataMutex sync.Mutex
	dataBuf   [headerSize + MaxPacketSize]byte
}

// New creates a HAL that will publish data endpoints 1 through numEndpoints
// under busDir. numEndpoints is clamped to [1, MaxEndpoints].
func New(busDir string, numEndpoints int) *HAL {
	return &HAL{
		busDir:       busDir,
		numEndpoints: max(1, min(numEndpoints, MaxEndpoints)),
		connectCh:    make(chan struct{}, 1),
		closeCh:      make(chan struct{}),
	}
}

func newID() (string, error) {
	var id [16]byte
	if _, err := rand.Read(id[:]); err != nil {
		return "", err
	}
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return hex.EncodeToString(id[:]), nil
}

// Init creates the device directory and its pipes.
func (h *HAL) Init(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.initDone {
		return pkg.ErrAlreadyRunning
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	id, err := newID()
	if err != nil {
		return fmt.Errorf("generate device id: %w", err)
	}
	h.id = id
	h.deviceDir = filepath.Join(h.busDir, "device-"+id)
	if err := os.MkdirAll(h.deviceDir, 0o755); err != nil {
		return fmt.Errorf("create device dir: %w", err)
	}

	if err := h.makePipes(); err != nil {
		h.cleanup()
		return err
	}

	h.initDone = true
	pkg.LogInfo(pkg.ComponentHAL, "fifo HAL initialized",
		"deviceDir", h.deviceDir,
		"endpoints", h.numEndpoints)
	return nil
}

func (h *HAL) makePipes() error {
	var err error
	if h.connection, err = makePipe(h.deviceDir, pipeConnection); err != nil {
		return err
	}
	if h.deviceToHost, err = makePipe(h.deviceDir, pipeDeviceToHost); err != nil {
		return err
	}
	if h.hostToDevice, err = makePipe(h.deviceDir, pipeHostToDevice); err != nil {
		return err
	}
	for num := 1; num <= h.numEndpoints; num++ {
		if h.epIn[num-1], err = makePipe(h.deviceDir, fmt.Sprintf("ep%d_in", num)); err != nil {
			return err
		}
		if h.epOut[num-1], err = makePipe(h.deviceDir, fmt.Sprintf("ep%d_out", num)); err != nil {
			return err
		}
	}
	return nil
}

// Start signals the host that the device is attached.
func (h *HAL) Start() error {
	h.mutex.RLock()
	ready := h.initDone
	conn := h.connection
	h.mutex.RUnlock()
	if !ready {
		return pkg.ErrNotConfigured
	}

	if _, err := conn.file.Write([]byte{sigConnect}); err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "failed to signal connection", "error", err)
	}
	h.connected.Store(true)
	select {
	case h.connectCh <- struct{}{}:
	default:
	}
	pkg.LogInfo(pkg.ComponentHAL, "fifo HAL attached", "id", h.id)
	return nil
}

// Stop signals detach, closes every pipe and removes the device directory.
func (h *HAL) Stop() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.connection != nil && h.connection.file != nil {
		_, _ = h.connection.file.Write([]byte{sigDisconnect})
	}
	h.connected.Store(false)
	h.closeOnce.Do(func() { close(h.closeCh) })

	h.cleanup()
	h.initDone = false
	pkg.LogInfo(pkg.ComponentHAL, "fifo HAL detached", "id", h.id)
	return nil
}

func (h *HAL) cleanup() {
	h.hostToDevice.close()
	h.deviceToHost.close()
	h.connection.close()
	for i := range h.epIn {
		h.epIn[i].close()
		h.epOut[i].close()
	}
	if h.deviceDir != "" {
		_ = os.RemoveAll(h.deviceDir)
	}
}

// SetAddress records the assigned address.
func (h *HAL) SetAddress(address uint8) error {
	h.mutex.Lock()
	h.address = address
	h.mutex.Unlock()
	pkg.LogDebug(pkg.ComponentHAL, "address set", "address", address)
	return nil
}

// Address returns the last assigned address.
func (h *HAL) Address() uint8 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.address
}

func activeIndex(address uint8) int {
	idx := int(address&0x0F) - 1
	if address&0x80 == 0 {
		idx += MaxEndpoints
	}
	return idx
}

// ConfigureEndpoints marks the given endpoints active. Endpoints outside the
// published range are ignored.
func (h *HAL) ConfigureEndpoints(endpoints []hal.EndpointConfig) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clear(h.active[:])
	count := 0
	for _, ep := range endpoints {
		num := int(ep.Number())
		if num == 0 || num > h.numEndpoints {
			pkg.LogWarn(pkg.ComponentHAL, "endpoint not published", "address", ep.Address)
			continue
		}
		h.active[activeIndex(ep.Address)] = true
		count++
	}
	pkg.LogDebug(pkg.ComponentHAL, "endpoints configured", "count", count)
	return nil
}

// ReadSetup blocks for the next SETUP message. OUT data carried in the same
// message is kept for ReadEP0. Reset messages are acknowledged and reported
// as pkg.ErrReset; address messages are applied and skipped.
func (h *HAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	h.mutex.RLock()
	p := h.hostToDevice
	h.mutex.RUnlock()
	if p == nil {
		return pkg.ErrNotConfigured
	}

	for {
		typ, payload, err := p.readMessage(ctx, h.closeCh, h.ep0Rx[:])
		if err != nil {
			return err
		}
		switch typ {
		case msgSetup:
			if !hal.ParseSetupPacket(payload[min(1, len(payload)):], out) {
				return pkg.ErrSetupPacketTooShort
			}
			h.ep0OutData = payload[1+hal.SetupPacketSize:]
			return nil
		case msgReset:
			h.ep0OutData = nil
			if err := h.AckEP0(); err != nil {
				return err
			}
			pkg.LogDebug(pkg.ComponentHAL, "bus reset")
			return pkg.ErrReset
		case msgAddress:
			if len(payload) > 0 {
				if err := h.SetAddress(payload[0]); err != nil {
					return err
				}
			}
			if err := h.AckEP0(); err != nil {
				return err
			}
		default:
			pkg.LogWarn(pkg.ComponentHAL, "unexpected message on control pipe", "type", typ)
		}
	}
}

// WriteEP0 sends the IN data stage. The host treats it as the whole
// response, so no status stage follows.
func (h *HAL) WriteEP0(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.sendEP0(msgData, data)
}

// ReadEP0 copies the OUT data that arrived with the SETUP message. The
// status stage of IN transfers is implicit on this bus.
func (h *HAL) ReadEP0(ctx context.Context, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := copy(buf, h.ep0OutData)
	h.ep0OutData = h.ep0OutData[n:]
	return n, nil
}

// StallEP0 answers the pending control transfer with STALL.
func (h *HAL) StallEP0() error {
	return h.sendEP0(msgStall, nil)
}

// AckEP0 answers the pending control transfer with a status-only ACK.
func (h *HAL) AckEP0() error {
	return h.sendEP0(msgAck, nil)
}

func (h *HAL) sendEP0(typ byte, data []byte) error {
	h.mutex.RLock()
	p := h.deviceToHost
	h.mutex.RUnlock()
	if p == nil {
		return pkg.ErrNotConfigured
	}
	return p.writeMessage(h.ep0Tx[:], typ, data)
}

func (h *HAL) dataPipe(address uint8) (*pipe, error) {
	num := int(address & 0x0F)
	if num == 0 || num > h.numEndpoints {
		return nil, pkg.ErrInvalidEndpoint
	}
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if !h.active[activeIndex(address)] {
		return nil, pkg.ErrNotConfigured
	}
	if address&0x80 != 0 {
		return h.epIn[num-1], nil
	}
	return h.epOut[num-1], nil
}

// Read receives one DATA message from an OUT endpoint.
func (h *HAL) Read(ctx context.Context, address uint8, buf []byte) (int, error) {
	p, err := h.dataPipe(address)
	if err != nil {
		return 0, err
	}
	var rx [headerSize + MaxPacketSize]byte
	typ, payload, err := p.readMessage(ctx, h.closeCh, rx[:])
	if err != nil {
		return 0, err
	}
	if typ != msgData {
		return 0, pkg.ErrProtocol
	}
	if len(payload) > len(buf) {
		return 0, pkg.ErrOverrun
	}
	return copy(buf, payload), nil
}

// Write sends data as one DATA message on an IN endpoint.
func (h *HAL) Write(ctx context.Context, address uint8, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(data) > MaxPacketSize {
		return 0, pkg.ErrBufferTooSmall
	}
	p, err := h.dataPipe(address)
	if err != nil {
		return 0, err
	}
	h.dataMutex.Lock()
	defer h.dataMutex.Unlock()
	if err := p.writeMessage(h.dataBuf[:], msgData, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// IsConnected reports whether Start has run and Stop has not.
func (h *HAL) IsConnected() bool {
	return h.connected.Load()
}

// WaitConnect blocks until Start runs.
func (h *HAL) WaitConnect(ctx context.Context) error {
	if h.IsConnected() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.connectCh:
		return nil
	case <-h.closeCh:
		return pkg.ErrCancelled
	}
}

// DeviceDir returns the device directory created by Init.
func (h *HAL) DeviceDir() string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.deviceDir
}

// ID returns the random device identifier chosen by Init.
func (h *HAL) ID() string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.id
}

var _ hal.DeviceHAL = (*HAL)(nil)
