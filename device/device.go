package device

import (
	"context"
	"sync"

	"github.com/ardnew/softhub/pkg"
)

// Device is the USB device model: descriptors, configurations and the
// chapter 9 state machine.
type Device struct {
	Descriptor *DeviceDescriptor

	configurations     [MaxConfigurations]*Configuration
	configurationCount int
	activeConfig       *Configuration

	// Pre-encoded string descriptors, stored by reference.
	strings [MaxStrings][]byte

	state               State
	address             uint8
	speed               Speed
	remoteWakeupEnabled bool

	mutex sync.RWMutex

	onStateChange      func(old, new State)
	onReset            func()
	onSetConfiguration func(config uint8)
}

// NewDevice creates a device in the Attached state.
func NewDevice(desc *DeviceDescriptor) *Device {
	return &Device{
		Descriptor: desc,
		state:      StateAttached,
		speed:      SpeedFull,
	}
}

// AddConfiguration registers a configuration.
func (d *Device) AddConfiguration(config *Configuration) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.configurationCount >= MaxConfigurations {
		return pkg.ErrNoMemory
	}
	for _, existing := range d.configurations[:d.configurationCount] {
		if existing.Value == config.Value {
			return pkg.ErrBusy
		}
	}
	d.configurations[d.configurationCount] = config
	d.configurationCount++
	return nil
}

// GetConfiguration returns the configuration with the given value, or nil.
func (d *Device) GetConfiguration(value uint8) *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	for _, config := range d.configurations[:d.configurationCount] {
		if config.Value == value {
			return config
		}
	}
	return nil
}

// configurationAt returns the configuration at descriptor index idx.
func (d *Device) configurationAt(idx uint8) *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	if int(idx) >= d.configurationCount {
		return nil
	}
	return d.configurations[idx]
}

// ActiveConfiguration returns the selected configuration, or nil.
func (d *Device) ActiveConfiguration() *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.activeConfig
}

// SetString stores a pre-encoded string descriptor by reference.
func (d *Device) SetString(index uint8, data []byte) {
	if index >= MaxStrings {
		return
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.strings[index] = data
}

// GetString returns a string descriptor, or nil.
func (d *Device) GetString(index uint8) []byte {
	if index >= MaxStrings {
		return nil
	}
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.strings[index]
}

// State returns the current device state.
func (d *Device) State() State {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.state
}

func (d *Device) setState(newState State) {
	d.mutex.Lock()
	oldState := d.state
	d.state = newState
	cb := d.onStateChange
	d.mutex.Unlock()

	if oldState == newState {
		return
	}
	pkg.LogDebug(pkg.ComponentDevice, "device state changed",
		"from", oldState.String(),
		"to", newState.String())
	if cb != nil {
		cb(oldState, newState)
	}
}

// Address returns the assigned bus address.
func (d *Device) Address() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.address
}

// Speed returns the device speed.
func (d *Device) Speed() Speed {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.speed
}

// SetSpeed records the negotiated speed.
func (d *Device) SetSpeed(speed Speed) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.speed = speed
}

// IsConfigured reports the Configured state.
func (d *Device) IsConfigured() bool {
	return d.State() == StateConfigured
}

// Reset handles a bus reset: class drivers implementing Resetter are reset,
// the address and configuration are cleared and the device enters Default.
func (d *Device) Reset() {
	d.mutex.Lock()
	configs := d.configurations
	count := d.configurationCount
	d.address = 0
	d.activeConfig = nil
	d.remoteWakeupEnabled = false
	cb := d.onReset
	d.mutex.Unlock()

	for _, config := range configs[:count] {
		for _, iface := range config.Interfaces() {
			if r, ok := iface.ClassDriver().(Resetter); ok {
				r.Reset()
			}
		}
	}

	d.setState(StateDefault)
	if cb != nil {
		cb()
	}
}

// SetAddress handles SET_ADDRESS.
func (d *Device) SetAddress(address uint8) error {
	d.mutex.Lock()
	if d.state != StateDefault && d.state != StateAddress {
		d.mutex.Unlock()
		return pkg.ErrInvalidState
	}
	d.address = address
	d.mutex.Unlock()

	if address == 0 {
		d.setState(StateDefault)
	} else {
		d.setState(StateAddress)
	}
	return nil
}

// SetConfiguration handles SET_CONFIGURATION. Value 0 deconfigures.
func (d *Device) SetConfiguration(value uint8) error {
	d.mutex.Lock()
	if d.state != StateAddress && d.state != StateConfigured {
		d.mutex.Unlock()
		return pkg.ErrInvalidState
	}
	if value == 0 {
		d.activeConfig = nil
		d.mutex.Unlock()
		d.setState(StateAddress)
		return nil
	}

	var config *Configuration
	for _, c := range d.configurations[:d.configurationCount] {
		if c.Value == value {
			config = c
			break
		}
	}
	if config == nil {
		d.mutex.Unlock()
		return pkg.ErrInvalidRequest
	}
	d.activeConfig = config
	cb := d.onSetConfiguration
	d.mutex.Unlock()

	d.setState(StateConfigured)
	if cb != nil {
		cb(value)
	}
	return nil
}

// EnableRemoteWakeup records the host's remote wakeup selection.
func (d *Device) EnableRemoteWakeup(enabled bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.remoteWakeupEnabled = enabled
}

// GetInterface returns an interface of the active configuration, or nil.
func (d *Device) GetInterface(number uint8) *Interface {
	config := d.ActiveConfiguration()
	if config == nil {
		return nil
	}
	return config.GetInterface(number)
}

// ClassInterface returns the interface of the active configuration that
// serves the device-level class, or nil when the class is declared per
// interface. Class requests addressed to the device or to "other" are routed
// there.
func (d *Device) ClassInterface() *Interface {
	if d.Descriptor.DeviceClass == ClassPerInterface {
		return nil
	}
	config := d.ActiveConfiguration()
	if config == nil {
		return nil
	}
	return config.InterfaceByClass(d.Descriptor.DeviceClass)
}

// EndpointOwner returns the active interface that owns the endpoint address.
func (d *Device) EndpointOwner(address uint8) *Interface {
	config := d.ActiveConfiguration()
	if config == nil {
		return nil
	}
	for _, iface := range config.Interfaces() {
		if iface.GetEndpoint(address) != nil {
			return iface
		}
	}
	return nil
}

// GetEndpoint returns an endpoint of the active configuration, or nil.
func (d *Device) GetEndpoint(address uint8) *Endpoint {
	if iface := d.EndpointOwner(address); iface != nil {
		return iface.GetEndpoint(address)
	}
	return nil
}

// SetOnStateChange sets the state change callback.
func (d *Device) SetOnStateChange(cb func(old, new State)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onStateChange = cb
}

// SetOnReset sets the bus reset callback.
func (d *Device) SetOnReset(cb func()) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onReset = cb
}

// SetOnSetConfiguration sets the configuration callback.
func (d *Device) SetOnSetConfiguration(cb func(config uint8)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onSetConfiguration = cb
}

// DeviceStatus is the GET_STATUS(device) word.
type DeviceStatus uint16

// Device status bits.
const (
	DeviceStatusSelfPowered  DeviceStatus = 1 << 0
	DeviceStatusRemoteWakeup DeviceStatus = 1 << 1
)

// GetStatus returns the device status word.
func (d *Device) GetStatus() DeviceStatus {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	var status DeviceStatus
	if d.activeConfig != nil && d.activeConfig.IsSelfPowered() {
		status |= DeviceStatusSelfPowered
	}
	if d.remoteWakeupEnabled {
		status |= DeviceStatusRemoteWakeup
	}
	return status
}

// Close closes every configuration.
func (d *Device) Close() error {
	d.mutex.Lock()
	configs := d.configurations
	count := d.configurationCount
	d.configurations = [MaxConfigurations]*Configuration{}
	d.configurationCount = 0
	d.activeConfig = nil
	d.mutex.Unlock()

	var lastErr error
	for _, config := range configs[:count] {
		if err := config.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// DeviceBuilder assembles a device with a fluent API. The first error is
// reported by Build.
type DeviceBuilder struct {
	device *Device
	config *Configuration
	iface  *Interface
	err    error

	stringBufs [MaxStrings][256]byte
}

// NewDeviceBuilder creates a builder for a USB 2.0 device with a 64-byte EP0.
func NewDeviceBuilder() *DeviceBuilder {
	return &DeviceBuilder{
		device: NewDevice(&DeviceDescriptor{
			USBVersion:     0x0200,
			MaxPacketSize0: 64,
		}),
	}
}

func (b *DeviceBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// WithVendorProduct sets the vendor and product IDs and the device release.
func (b *DeviceBuilder) WithVendorProduct(vendorID, productID, release uint16) *DeviceBuilder {
	b.device.Descriptor.VendorID = vendorID
	b.device.Descriptor.ProductID = productID
	b.device.Descriptor.DeviceVersion = release
	return b
}

// WithDeviceClass sets the device-level class triple.
func (b *DeviceBuilder) WithDeviceClass(class, subClass, protocol uint8) *DeviceBuilder {
	b.device.Descriptor.DeviceClass = class
	b.device.Descriptor.DeviceSubClass = subClass
	b.device.Descriptor.DeviceProtocol = protocol
	return b
}

// WithStrings sets the manufacturer, product and serial strings. Empty
// strings are omitted.
func (b *DeviceBuilder) WithStrings(manufacturer, product, serial string) *DeviceBuilder {
	n := LanguageDescriptorTo(b.stringBufs[0][:], LangIDUSEnglish)
	b.device.SetString(0, b.stringBufs[0][:n])

	for idx, s := range [...]string{manufacturer, product, serial} {
		if s == "" {
			continue
		}
		slot := uint8(idx + 1)
		n := StringDescriptorTo(b.stringBufs[slot][:], s)
		b.device.SetString(slot, b.stringBufs[slot][:n])
		switch slot {
		case 1:
			b.device.Descriptor.ManufacturerIndex = slot
		case 2:
			b.device.Descriptor.ProductIndex = slot
		case 3:
			b.device.Descriptor.SerialNumberIndex = slot
		}
	}
	return b
}

// AddConfiguration starts a new configuration.
func (b *DeviceBuilder) AddConfiguration(value uint8) *DeviceBuilder {
	b.config = NewConfiguration(value)
	b.iface = nil
	if err := b.device.AddConfiguration(b.config); err != nil {
		b.fail(err)
		return b
	}
	b.device.Descriptor.NumConfigurations++
	return b
}

// SelfPowered marks the current configuration self-powered.
func (b *DeviceBuilder) SelfPowered() *DeviceBuilder {
	if b.config == nil {
		b.fail(pkg.ErrInvalidState)
		return b
	}
	b.config.SetSelfPowered(true)
	return b
}

// AddInterface adds an interface to the current configuration.
func (b *DeviceBuilder) AddInterface(class, subClass, protocol uint8) *DeviceBuilder {
	if b.config == nil {
		b.fail(pkg.ErrInvalidState)
		return b
	}
	b.iface = NewInterface(&InterfaceDescriptor{
		InterfaceNumber:   uint8(b.config.NumInterfaces()),
		InterfaceClass:    class,
		InterfaceSubClass: subClass,
		InterfaceProtocol: protocol,
	})
	if err := b.config.AddInterface(b.iface); err != nil {
		b.fail(err)
	}
	return b
}

// AddClassDescriptor attaches class-specific descriptor bytes to the current
// interface. The slice is stored by reference.
func (b *DeviceBuilder) AddClassDescriptor(data []byte) *DeviceBuilder {
	if b.iface == nil {
		b.fail(pkg.ErrInvalidState)
		return b
	}
	b.iface.ClassDescriptor = data
	return b
}

// AddEndpoint adds an endpoint to the current interface.
func (b *DeviceBuilder) AddEndpoint(address, transferType uint8, maxPacketSize uint16, interval uint8) *DeviceBuilder {
	if b.iface == nil {
		b.fail(pkg.ErrInvalidState)
		return b
	}
	err := b.iface.AddEndpoint(&Endpoint{
		Address:       address,
		Attributes:    transferType,
		MaxPacketSize: maxPacketSize,
		Interval:      interval,
	})
	if err != nil {
		b.fail(err)
	}
	return b
}

// Build returns the device or the first builder error.
func (b *DeviceBuilder) Build(ctx context.Context) (*Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.err != nil {
		return nil, b.err
	}
	return b.device, nil
}
