package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/softhub/device"
	"github.com/ardnew/softhub/pkg"
)

// openBufferSize holds the interface, hub and endpoint descriptors of one
// hub interface.
const openBufferSize = 64

// maxOutPacket bounds the optional interrupt OUT endpoint.
const maxOutPacket = 64

// Hub implements the USB hub class for the downstream side of a virtual hub.
// Port state lives in a register bank created when the interface is opened.
type Hub struct {
	provider DescriptorProvider

	// Set by Open
	iface      *device.Interface
	inEP       *device.Endpoint
	outEP      *device.Endpoint
	bank       *Bank
	descriptor []byte

	stack   device.TransferSubmitter
	metrics *Metrics
	dedup   tracker

	// Options
	strict          bool
	suppressRepeats bool
	autoReport      bool
	queryLength     uint16

	// State
	alternate uint8
	idleRate  uint8
	reporting bool
	deferred  bool // a report was asked for while one was in flight
	outPrimed bool

	// Callbacks
	onSetProtocol    func(protocol uint8)
	onSetIdle        func(rate uint8) bool
	onReportComplete func(n int)
	onReportFailed   func(status pkg.TransferStatus)
	onOutData        func(data []byte)

	statusBuf [StatusSize]byte
	reportBuf [(MaxPorts + 1 + 7) / 8]byte
	outBuf    [maxOutPacket]byte

	mutex sync.Mutex
}

// New creates a hub class driver serving descriptors from provider. A nil
// provider serves no descriptors.
func New(provider DescriptorProvider) *Hub {
	if provider == nil {
		provider = ProviderFuncs{}
	}
	return &Hub{
		provider:        provider,
		suppressRepeats: true,
		autoReport:      true,
	}
}

// SetStack sets where change reports and OUT transfers are queued.
func (h *Hub) SetStack(stack device.TransferSubmitter) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.stack = stack
}

// SetMetrics sets the collectors updated by the hub. nil disables metrics.
func (h *Hub) SetMetrics(m *Metrics) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.metrics = m
}

// SetStrictDescriptorQueries makes GET_DESCRIPTOR requests that cannot be
// answered with the hub descriptor stall instead of going unanswered.
func (h *Hub) SetStrictDescriptorQueries(strict bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.strict = strict
}

// SetDescriptorQueryLength sets the wLength a hub descriptor query must
// carry. 0 accepts any length.
func (h *Hub) SetDescriptorQueryLength(n uint16) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.queryLength = n
}

// SetSuppressRepeats enables or disables dropping a setup packet identical
// to the previous one. Enabled by default.
func (h *Hub) SetSuppressRepeats(suppress bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.suppressRepeats = suppress
}

// SetAutoReport enables or disables queuing a change report whenever a port
// condition is set. Enabled by default.
func (h *Hub) SetAutoReport(enabled bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.autoReport = enabled
}

// SetOnSetProtocol sets the callback for alternate setting changes, which
// select the transaction translator protocol of a high-speed hub.
func (h *Hub) SetOnSetProtocol(cb func(protocol uint8)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onSetProtocol = cb
}

// SetOnSetIdle sets the callback consulted by SetIdle. Returning false
// rejects the rate.
func (h *Hub) SetOnSetIdle(cb func(rate uint8) bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onSetIdle = cb
}

// SetOnReportComplete sets the callback for delivered change reports.
func (h *Hub) SetOnReportComplete(cb func(n int)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onReportComplete = cb
}

// SetOnReportFailed sets the callback for change reports that did not
// complete. Failed reports are not retried.
func (h *Hub) SetOnReportFailed(cb func(status pkg.TransferStatus)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onReportFailed = cb
}

// SetOnOutData sets the callback for data received on the OUT endpoint.
func (h *Hub) SetOnOutData(cb func(data []byte)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onOutData = cb
}

// ReportDescriptor returns the provider's report descriptor.
func (h *Hub) ReportDescriptor() []byte {
	return h.provider.ReportDescriptor()
}

// HubDescriptor returns the provider's hub descriptor.
func (h *Hub) HubDescriptor() []byte {
	return h.provider.HubDescriptor()
}

// ClassDescriptor returns the hub descriptor bytes found by Open, or nil.
func (h *Hub) ClassDescriptor() []byte {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.descriptor
}

// IsOpen reports whether the hub has been opened.
func (h *Hub) IsOpen() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.bank != nil
}

// NumPorts returns the downstream port count, or 0 before Open.
func (h *Hub) NumPorts() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.bank == nil {
		return 0
	}
	return h.bank.NumPorts()
}

// Alternate returns the last alternate setting selected by the host.
func (h *Hub) Alternate() uint8 {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.alternate
}

// HubStatus returns a snapshot of the hub register pair.
func (h *Hub) HubStatus() (Status, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.bank == nil {
		return Status{}, pkg.ErrNotConfigured
	}
	return h.bank.HubStatus(), nil
}

// PortStatus returns a snapshot of a port register pair.
func (h *Hub) PortStatus(port int) (Status, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.bank == nil {
		return Status{}, pkg.ErrNotConfigured
	}
	return h.bank.PortStatus(port)
}

// Init opens the hub from the descriptors of iface.
func (h *Hub) Init(iface *device.Interface) error {
	// Open keeps a reference to the hub descriptor, so each Init gets its
	// own buffer.
	buf := make([]byte, openBufferSize)
	n := iface.MarshalTo(buf)
	if n == 0 {
		return fmt.Errorf("%w: interface descriptors exceed %d bytes",
			pkg.ErrDescriptorMismatch, openBufferSize)
	}
	if _, err := h.Open(buf[:n]); err != nil {
		return err
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.iface = iface
	// Transfers must use the interface's endpoints so halt and toggle state
	// is shared with the stack.
	if ep := iface.GetEndpoint(h.inEP.Address); ep != nil {
		h.inEP = ep
	}
	if h.outEP != nil {
		if ep := iface.GetEndpoint(h.outEP.Address); ep != nil {
			h.outEP = ep
		}
	}
	return nil
}

// Open parses an interface descriptor of class hub, the hub class descriptor
// that follows it, and the interface's endpoint descriptors. An interrupt IN
// endpoint is required. It returns the number of bytes consumed. The hub
// descriptor is retained by reference.
func (h *Hub) Open(desc []byte) (int, error) {
	var ifd device.InterfaceDescriptor
	if err := device.ParseInterfaceDescriptor(desc, &ifd); err != nil {
		return 0, fmt.Errorf("%w: interface: %w", pkg.ErrDescriptorMismatch, err)
	}
	if ifd.InterfaceClass != ClassHub {
		return 0, fmt.Errorf("%w: interface class 0x%02X", pkg.ErrDescriptorMismatch, ifd.InterfaceClass)
	}
	offset := int(desc[0])
	if offset > len(desc) {
		return 0, fmt.Errorf("%w: interface: %w", pkg.ErrDescriptorMismatch, pkg.ErrDescriptorTooShort)
	}

	var hd HubDescriptor
	if err := ParseHubDescriptor(desc[offset:], &hd); err != nil {
		return 0, fmt.Errorf("%w: hub descriptor: %w", pkg.ErrDescriptorMismatch, err)
	}
	bank, err := NewBank(int(hd.NumPorts))
	if err != nil {
		return 0, fmt.Errorf("%w: hub descriptor: %w", pkg.ErrDescriptorMismatch, err)
	}
	hubLen := int(desc[offset])
	if offset+hubLen > len(desc) {
		return 0, fmt.Errorf("%w: hub descriptor: %w", pkg.ErrDescriptorMismatch, pkg.ErrDescriptorTooShort)
	}
	classDesc := desc[offset : offset+hubLen]
	offset += hubLen

	var inEP, outEP *device.Endpoint
	for i := 0; i < int(ifd.NumEndpoints); i++ {
		var epd device.EndpointDescriptor
		if err := device.ParseEndpointDescriptor(desc[offset:], &epd); err != nil {
			return 0, fmt.Errorf("%w: endpoint %d: %w", pkg.ErrDescriptorMismatch, i, err)
		}
		offset += int(desc[offset])
		if offset > len(desc) {
			return 0, fmt.Errorf("%w: endpoint %d: %w", pkg.ErrDescriptorMismatch, i, pkg.ErrDescriptorTooShort)
		}

		ep := device.NewEndpoint(&epd)
		if !ep.IsInterrupt() {
			continue
		}
		switch {
		case ep.IsIn() && inEP == nil:
			inEP = ep
		case !ep.IsIn() && outEP == nil:
			outEP = ep
		}
	}
	if inEP == nil {
		return 0, fmt.Errorf("%w: no interrupt IN endpoint", pkg.ErrDescriptorMismatch)
	}

	h.mutex.Lock()
	h.bank = bank
	h.descriptor = classDesc
	h.inEP = inEP
	h.outEP = outEP
	h.dedup.reset()
	h.reporting = false
	h.deferred = false
	h.outPrimed = false
	h.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentHub, "hub opened",
		"ports", hd.NumPorts,
		"characteristics", hd.Characteristics,
		"inEP", inEP.Address)
	return offset, nil
}

type outcome uint8

const (
	outcomeAck outcome = iota
	outcomeData
	outcomeStall
	outcomeSilent
)

// response is what the dispatcher decided for one request.
type response struct {
	outcome outcome
	data    []byte
	reason  string
	report  bool
}

// HandleSetup serves a hub class request. Only the setup stage does any
// work. It returns false to stall.
func (h *Hub) HandleSetup(ctrl device.Control, stage device.ControlStage, setup *device.SetupPacket) bool {
	if stage != device.StageSetup {
		return true
	}

	h.mutex.Lock()
	m := h.metrics
	if h.bank == nil {
		h.mutex.Unlock()
		m.stall(reasonNotOpen)
		pkg.LogDebug(pkg.ComponentHub, "request before open", "request", setup.String())
		return false
	}
	if h.dedup.isRepeat(*setup) && h.suppressRepeats {
		h.mutex.Unlock()
		m.duplicate()
		pkg.LogDebug(pkg.ComponentHub, "repeated request ignored", "request", setup.String())
		return true
	}
	req, err := Classify(setup, h.bank.NumPorts())
	if err != nil {
		h.mutex.Unlock()
		m.stall(stallReason(err))
		pkg.LogDebug(pkg.ComponentHub, "request rejected",
			"request", setup.String(),
			"error", err)
		return false
	}
	m.request(req)
	resp := h.dispatch(req)
	h.mutex.Unlock()

	pkg.LogTrace(pkg.ComponentHub, "request",
		"kind", req.Kind,
		"target", req.Target,
		"value", req.Value)

	switch resp.outcome {
	case outcomeStall:
		m.stall(resp.reason)
		return false
	case outcomeSilent:
		pkg.LogDebug(pkg.ComponentHub, "descriptor query not answered",
			"request", setup.String(),
			"reason", resp.reason)
		return true
	case outcomeData:
		err = ctrl.ControlTransfer(setup, resp.data)
	default:
		err = ctrl.StatusAck(setup)
	}
	if err != nil {
		m.stall(reasonTransfer)
		pkg.LogWarn(pkg.ComponentHub, "control transfer failed",
			"kind", req.Kind,
			"target", req.Target,
			"error", err)
		return false
	}

	if resp.report {
		if err := h.ReportChanges(context.Background()); err != nil && !errors.Is(err, pkg.ErrNotConfigured) {
			pkg.LogWarn(pkg.ComponentHub, "change report not queued", "error", err)
		}
	}
	return true
}

func stallReason(err error) string {
	if errors.Is(err, pkg.ErrOutOfRange) {
		return reasonOutOfRange
	}
	return reasonMalformed
}

// dispatch applies req to the bank. The caller holds h.mutex.
func (h *Hub) dispatch(req Request) response {
	switch req.Kind {
	case KindGetStatus:
		var st Status
		if req.Target.IsHub() {
			st = h.bank.HubStatus()
		} else {
			st, _ = h.bank.PortStatus(req.Target.Port)
		}
		n := st.MarshalTo(h.statusBuf[:])
		return response{outcome: outcomeData, data: h.statusBuf[:n]}

	case KindSetFeature:
		var err error
		if req.Target.IsHub() {
			err = h.bank.SetHubCondition(req.HubFeature())
		} else {
			err = h.bank.SetPortCondition(req.Target.Port, req.PortFeature())
		}
		if err != nil {
			return response{outcome: outcomeStall, reason: reasonOutOfRange}
		}
		return response{outcome: outcomeAck, report: !req.Target.IsHub() && h.autoReport}

	case KindClearFeature:
		var err error
		if req.Target.IsHub() {
			err = h.bank.ClearHubCondition(req.HubFeature())
		} else {
			err = h.bank.ClearPortCondition(req.Target.Port, req.PortFeature())
		}
		if err != nil {
			return response{outcome: outcomeStall, reason: reasonOutOfRange}
		}
		return response{outcome: outcomeAck}

	case KindGetDescriptor:
		return h.describe(req)

	default:
		// SET_DESCRIPTOR and the transaction translator requests carry no
		// state for a virtual hub.
		return response{outcome: outcomeAck}
	}
}

// describe answers GET_DESCRIPTOR with the provider's hub descriptor. The
// caller holds h.mutex.
func (h *Hub) describe(req Request) response {
	desc := h.provider.HubDescriptor()

	var reason string
	switch {
	case req.Generic:
		reason = "not a hub descriptor query"
	case len(desc) == 0:
		reason = "no hub descriptor"
	case h.queryLength != 0 && req.Length != h.queryLength:
		reason = fmt.Sprintf("length %d, want %d", req.Length, h.queryLength)
	}
	if reason != "" {
		h.metrics.ambiguousQuery()
		if h.strict {
			return response{outcome: outcomeStall, reason: reasonAmbiguous}
		}
		return response{outcome: outcomeSilent, reason: reason}
	}

	n := min(DescriptorLength(desc), len(desc))
	return response{outcome: outcomeData, data: desc[:n]}
}

// ReportChanges queues the status change bitmap on the interrupt IN
// endpoint. Nothing is queued when no change bit is set. A call made while a
// report is in flight is held until that report completes successfully.
func (h *Hub) ReportChanges(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.bank == nil || h.inEP == nil || h.stack == nil {
		return pkg.ErrNotConfigured
	}
	if h.reporting {
		h.deferred = true
		return nil
	}
	h.deferred = false
	if !h.bank.Pending() {
		return nil
	}

	n := h.bank.ChangeBitmap(h.reportBuf[:])
	h.reporting = true
	t := device.NewInterruptTransfer(h.inEP, h.reportBuf[:n]).WithContext(ctx)
	if err := h.stack.SubmitTransfer(t); err != nil {
		h.reporting = false
		h.metrics.report("rejected")
		return fmt.Errorf("change report: %w", err)
	}
	pkg.LogTrace(pkg.ComponentHub, "change report queued", "bitmap", h.reportBuf[:n])
	return nil
}

// PrimeOut queues a read on the interrupt OUT endpoint. It does nothing when
// the interface has no OUT endpoint or a read is already queued.
func (h *Hub) PrimeOut(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.outEP == nil || h.outPrimed {
		return nil
	}
	if h.stack == nil {
		return pkg.ErrNotConfigured
	}
	size := min(int(h.outEP.MaxPacketSize), len(h.outBuf))
	t := device.NewInterruptTransfer(h.outEP, h.outBuf[:size]).WithContext(ctx)
	if err := h.stack.SubmitTransfer(t); err != nil {
		return fmt.Errorf("prime OUT endpoint: %w", err)
	}
	h.outPrimed = true
	return nil
}

// XferComplete records the result of a transfer on one of the hub's
// endpoints.
func (h *Hub) XferComplete(address uint8, status pkg.TransferStatus, n int) {
	h.mutex.Lock()
	m := h.metrics
	switch {
	case h.inEP != nil && address == h.inEP.Address:
		h.reporting = false
		resend := h.deferred && status == pkg.TransferStatusSuccess
		h.deferred = false
		onComplete, onFailed := h.onReportComplete, h.onReportFailed
		h.mutex.Unlock()

		if status == pkg.TransferStatusSuccess {
			m.report("sent")
			if onComplete != nil {
				onComplete(n)
			}
			// Only changes raised while this report was in flight go out
			// again. Bits the host has not cleared yet are not repeated.
			if resend {
				if err := h.reportIfAttached(); err != nil {
					pkg.LogWarn(pkg.ComponentHub, "change report not queued", "error", err)
				}
			}
			return
		}
		m.report("failed")
		pkg.LogDebug(pkg.ComponentHub, "change report failed", "status", status)
		if onFailed != nil {
			onFailed(status)
		}

	case h.outEP != nil && address == h.outEP.Address:
		h.outPrimed = false
		cb := h.onOutData
		var data []byte
		if status == pkg.TransferStatusSuccess {
			data = h.outBuf[:min(n, len(h.outBuf))]
		}
		h.mutex.Unlock()

		pkg.LogDebug(pkg.ComponentHub, "OUT transfer complete",
			"status", status,
			"length", n)
		if cb != nil && data != nil {
			cb(data)
		}

	default:
		h.mutex.Unlock()
	}
}

// SetPortCondition sets a port condition from the application side, such
// as a device attaching, and queues a change report.
func (h *Hub) SetPortCondition(port int, f PortFeature) error {
	h.mutex.Lock()
	if h.bank == nil {
		h.mutex.Unlock()
		return pkg.ErrNotConfigured
	}
	err := h.bank.SetPortCondition(port, f)
	report := h.autoReport
	h.mutex.Unlock()
	if err != nil {
		return err
	}
	if report {
		return h.reportIfAttached()
	}
	return nil
}

// ClearPortCondition clears a port condition from the application side.
func (h *Hub) ClearPortCondition(port int, f PortFeature) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.bank == nil {
		return pkg.ErrNotConfigured
	}
	return h.bank.ClearPortCondition(port, f)
}

// DropPortCondition clears a port condition and raises its change, such as
// a device detaching, and queues a change report.
func (h *Hub) DropPortCondition(port int, f PortFeature) error {
	h.mutex.Lock()
	if h.bank == nil {
		h.mutex.Unlock()
		return pkg.ErrNotConfigured
	}
	err := h.bank.DropPortCondition(port, f)
	report := h.autoReport
	h.mutex.Unlock()
	if err != nil {
		return err
	}
	if report {
		return h.reportIfAttached()
	}
	return nil
}

// RaiseHubChange sets a hub condition together with its change bit and
// queues a change report.
func (h *Hub) RaiseHubChange(f HubFeature) error {
	h.mutex.Lock()
	if h.bank == nil {
		h.mutex.Unlock()
		return pkg.ErrNotConfigured
	}
	err := h.bank.RaiseHubChange(f)
	report := h.autoReport
	h.mutex.Unlock()
	if err != nil {
		return err
	}
	if report {
		return h.reportIfAttached()
	}
	return nil
}

func (h *Hub) reportIfAttached() error {
	err := h.ReportChanges(context.Background())
	if errors.Is(err, pkg.ErrNotConfigured) {
		return nil
	}
	return err
}

// Reset clears every register, the repeat tracker and any report in flight.
func (h *Hub) Reset() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.bank != nil {
		h.bank.Reset()
	}
	h.dedup.reset()
	h.reporting = false
	h.deferred = false
	h.outPrimed = false
	pkg.LogDebug(pkg.ComponentHub, "hub reset")
}

// SetAlternate records the alternate setting and reports it as the protocol.
func (h *Hub) SetAlternate(iface *device.Interface, alt uint8) error {
	h.mutex.Lock()
	h.alternate = alt
	cb := h.onSetProtocol
	h.mutex.Unlock()

	if cb != nil {
		cb(alt)
	}
	return nil
}

// SetIdle applies an idle rate from the application layer. The rate is kept
// unless the SetOnSetIdle callback rejects it.
func (h *Hub) SetIdle(rate uint8) bool {
	h.mutex.Lock()
	cb := h.onSetIdle
	h.mutex.Unlock()

	if cb != nil && !cb(rate) {
		return false
	}
	h.mutex.Lock()
	h.idleRate = rate
	h.mutex.Unlock()
	return true
}

// IdleRate returns the last accepted idle rate.
func (h *Hub) IdleRate() uint8 {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.idleRate
}

// Close releases the interface. The stack reference and options are kept.
func (h *Hub) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.iface = nil
	h.inEP = nil
	h.outEP = nil
	h.bank = nil
	h.descriptor = nil
	h.dedup.reset()
	h.reporting = false
	h.deferred = false
	h.outPrimed = false
	return nil
}

// ConfigureDevice adds the hub interface, its class descriptor and the
// status change endpoint to the current configuration of builder. The
// endpoint size fits the change bitmap of the provider's descriptor.
func (h *Hub) ConfigureDevice(builder *device.DeviceBuilder, inEPAddr uint8, interval uint8) *device.DeviceBuilder {
	desc := h.provider.HubDescriptor()
	builder.WithDeviceClass(ClassHub, SubclassNone, ProtocolFullSpeed)
	builder.AddInterface(ClassHub, SubclassNone, ProtocolFullSpeed)
	builder.AddClassDescriptor(desc)
	builder.AddEndpoint(inEPAddr|device.EndpointDirectionIn, device.EndpointTypeInterrupt,
		uint16(changeBitmapSize(desc)), interval)
	return builder
}

// ConfigureDeviceWithOutEP is ConfigureDevice with an interrupt OUT endpoint.
func (h *Hub) ConfigureDeviceWithOutEP(builder *device.DeviceBuilder, inEPAddr, outEPAddr uint8, interval uint8) *device.DeviceBuilder {
	h.ConfigureDevice(builder, inEPAddr, interval)
	builder.AddEndpoint(outEPAddr&0x0F, device.EndpointTypeInterrupt, maxOutPacket, interval)
	return builder
}

func changeBitmapSize(desc []byte) int {
	if len(desc) < 3 {
		return 1
	}
	return bitmapSize(int(desc[2]))
}

// AttachToInterface binds the hub to interface ifaceNum of configuration
// configValue, opening it.
func (h *Hub) AttachToInterface(dev *device.Device, configValue, ifaceNum uint8) error {
	config := dev.GetConfiguration(configValue)
	if config == nil {
		return pkg.ErrInvalidRequest
	}
	iface := config.GetInterface(ifaceNum)
	if iface == nil {
		return pkg.ErrInvalidRequest
	}
	return iface.SetClassDriver(h)
}

var (
	_ device.ClassDriver       = (*Hub)(nil)
	_ device.Resetter          = (*Hub)(nil)
	_ device.TransferCompleter = (*Hub)(nil)
)
