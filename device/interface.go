package device

import (
	"sync"

	"github.com/ardnew/softhub/pkg"
)

// Control is the control-endpoint primitive handed to class drivers while
// they answer a SETUP packet.
type Control interface {
	// ControlTransfer runs the data stage of setup with data (clamped to
	// wLength) followed by the status stage.
	ControlTransfer(setup *SetupPacket, data []byte) error

	// StatusAck completes a request that has no data stage for the device
	// to supply.
	StatusAck(setup *SetupPacket) error
}

// ClassDriver handles the class-specific requests of an interface.
type ClassDriver interface {
	// Init binds the driver to its interface.
	Init(iface *Interface) error

	// HandleSetup is called for each stage of a class request routed to the
	// driver. Returning false stalls the control endpoint.
	HandleSetup(ctrl Control, stage ControlStage, setup *SetupPacket) bool

	// SetAlternate is called when the host selects an alternate setting.
	SetAlternate(iface *Interface, alt uint8) error

	// Close releases the driver.
	Close() error
}

// Resetter is implemented by class drivers that hold state cleared by a bus
// reset.
type Resetter interface {
	Reset()
}

// TransferCompleter is implemented by class drivers that want completion
// notices for transfers queued on their endpoints.
type TransferCompleter interface {
	XferComplete(address uint8, status pkg.TransferStatus, n int)
}

// TransferSubmitter queues transfers on non-control endpoints. *Stack
// implements it.
type TransferSubmitter interface {
	SubmitTransfer(t *Transfer) error
}

var _ TransferSubmitter = (*Stack)(nil)

// Interface is one interface of a configuration.
type Interface struct {
	Number           uint8
	AlternateSetting uint8
	Class            uint8
	SubClass         uint8
	Protocol         uint8
	StringIndex      uint8

	// ClassDescriptor holds class-specific descriptor bytes emitted right
	// after the interface descriptor. Stored by reference.
	ClassDescriptor []byte

	endpoints     [MaxEndpointsPerInterface]*Endpoint
	endpointCount int
	classDriver   ClassDriver
	mutex         sync.RWMutex
}

// NewInterface creates an interface from a descriptor.
func NewInterface(desc *InterfaceDescriptor) *Interface {
	return &Interface{
		Number:           desc.InterfaceNumber,
		AlternateSetting: desc.AlternateSetting,
		Class:            desc.InterfaceClass,
		SubClass:         desc.InterfaceSubClass,
		Protocol:         desc.InterfaceProtocol,
		StringIndex:      desc.InterfaceIndex,
	}
}

// AddEndpoint adds an endpoint to the interface.
func (i *Interface) AddEndpoint(ep *Endpoint) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if i.endpointCount >= MaxEndpointsPerInterface {
		return pkg.ErrNoMemory
	}
	for _, existing := range i.endpoints[:i.endpointCount] {
		if existing.Address == ep.Address {
			return pkg.ErrBusy
		}
	}
	i.endpoints[i.endpointCount] = ep
	i.endpointCount++

	pkg.LogDebug(pkg.ComponentDevice, "endpoint added to interface",
		"interface", i.Number,
		"endpoint", ep.Address,
		"type", TransferTypeName(ep.TransferType()))
	return nil
}

// GetEndpoint returns the endpoint with the given address, or nil.
func (i *Interface) GetEndpoint(address uint8) *Endpoint {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	for _, ep := range i.endpoints[:i.endpointCount] {
		if ep.Address == address {
			return ep
		}
	}
	return nil
}

// Endpoints returns the interface endpoints. The slice references internal
// storage.
func (i *Interface) Endpoints() []*Endpoint {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.endpoints[:i.endpointCount]
}

// NumEndpoints returns the number of endpoints, excluding EP0.
func (i *Interface) NumEndpoints() int {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.endpointCount
}

// SetClassDriver replaces the class driver, closing the previous one, and
// initializes the new one.
func (i *Interface) SetClassDriver(driver ClassDriver) error {
	i.mutex.Lock()
	old := i.classDriver
	i.classDriver = driver
	i.mutex.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			pkg.LogWarn(pkg.ComponentDevice, "error closing previous class driver",
				"interface", i.Number,
				"error", err)
		}
	}
	// Init runs unlocked; drivers call back into Endpoints and MarshalTo.
	if driver != nil {
		return driver.Init(i)
	}
	return nil
}

// ClassDriver returns the current class driver.
func (i *Interface) ClassDriver() ClassDriver {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.classDriver
}

// HandleSetup forwards a class request stage to the driver. It reports
// false when no driver is bound.
func (i *Interface) HandleSetup(ctrl Control, stage ControlStage, setup *SetupPacket) bool {
	driver := i.ClassDriver()
	if driver == nil {
		return false
	}
	return driver.HandleSetup(ctrl, stage, setup)
}

// SetAlternate changes the alternate setting and notifies the driver.
func (i *Interface) SetAlternate(alt uint8) error {
	i.mutex.Lock()
	i.AlternateSetting = alt
	driver := i.classDriver
	i.mutex.Unlock()

	if driver != nil {
		return driver.SetAlternate(i, alt)
	}
	return nil
}

// Descriptor returns the interface descriptor.
func (i *Interface) Descriptor() *InterfaceDescriptor {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return &InterfaceDescriptor{
		InterfaceNumber:   i.Number,
		AlternateSetting:  i.AlternateSetting,
		NumEndpoints:      uint8(i.endpointCount),
		InterfaceClass:    i.Class,
		InterfaceSubClass: i.SubClass,
		InterfaceProtocol: i.Protocol,
		InterfaceIndex:    i.StringIndex,
	}
}

// DescriptorLength returns the bytes MarshalTo writes for this interface.
func (i *Interface) DescriptorLength() int {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return InterfaceDescriptorSize + len(i.ClassDescriptor) + i.endpointCount*EndpointDescriptorSize
}

// MarshalTo writes the interface descriptor, the class-specific descriptor
// and the endpoint descriptors to buf. Returns 0 if buf is too small.
func (i *Interface) MarshalTo(buf []byte) int {
	if len(buf) < i.DescriptorLength() {
		return 0
	}
	offset := i.Descriptor().MarshalTo(buf)

	i.mutex.RLock()
	defer i.mutex.RUnlock()
	offset += copy(buf[offset:], i.ClassDescriptor)
	for _, ep := range i.endpoints[:i.endpointCount] {
		offset += ep.Descriptor().MarshalTo(buf[offset:])
	}
	return offset
}

// Close closes the class driver.
func (i *Interface) Close() error {
	i.mutex.Lock()
	driver := i.classDriver
	i.classDriver = nil
	i.mutex.Unlock()

	if driver != nil {
		return driver.Close()
	}
	return nil
}

// Configuration is one device configuration.
type Configuration struct {
	Value       uint8
	Attributes  uint8
	MaxPower    uint8 // 2 mA units
	StringIndex uint8

	interfaces     [MaxInterfacesPerConfiguration]*Interface
	interfaceCount int
	mutex          sync.RWMutex
}

// NewConfiguration creates a bus-powered configuration drawing 100 mA.
func NewConfiguration(value uint8) *Configuration {
	return &Configuration{
		Value:      value,
		Attributes: ConfigAttrBusPowered,
		MaxPower:   50,
	}
}

// AddInterface adds an interface to the configuration.
func (c *Configuration) AddInterface(iface *Interface) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.interfaceCount >= MaxInterfacesPerConfiguration {
		return pkg.ErrNoMemory
	}
	for _, existing := range c.interfaces[:c.interfaceCount] {
		if existing.Number == iface.Number {
			return pkg.ErrBusy
		}
	}
	c.interfaces[c.interfaceCount] = iface
	c.interfaceCount++
	return nil
}

// GetInterface returns the interface with the given number, or nil.
func (c *Configuration) GetInterface(number uint8) *Interface {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	for _, iface := range c.interfaces[:c.interfaceCount] {
		if iface.Number == number {
			return iface
		}
	}
	return nil
}

// InterfaceByClass returns the first interface of the given class, or nil.
func (c *Configuration) InterfaceByClass(class uint8) *Interface {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	for _, iface := range c.interfaces[:c.interfaceCount] {
		if iface.Class == class {
			return iface
		}
	}
	return nil
}

// Interfaces returns the configuration interfaces. The slice references
// internal storage.
func (c *Configuration) Interfaces() []*Interface {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.interfaces[:c.interfaceCount]
}

// NumInterfaces returns the number of interfaces.
func (c *Configuration) NumInterfaces() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.interfaceCount
}

// Descriptor returns the configuration descriptor header.
func (c *Configuration) Descriptor() *ConfigurationDescriptor {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	total := ConfigurationDescriptorSize
	for _, iface := range c.interfaces[:c.interfaceCount] {
		total += iface.DescriptorLength()
	}
	return &ConfigurationDescriptor{
		TotalLength:        uint16(total),
		NumInterfaces:      uint8(c.interfaceCount),
		ConfigurationValue: c.Value,
		ConfigurationIndex: c.StringIndex,
		Attributes:         c.Attributes,
		MaxPower:           c.MaxPower,
	}
}

// MarshalTo writes the full configuration descriptor set to buf. Returns 0
// if buf is too small.
func (c *Configuration) MarshalTo(buf []byte) int {
	desc := c.Descriptor()
	if len(buf) < int(desc.TotalLength) {
		return 0
	}
	offset := desc.MarshalTo(buf)
	for _, iface := range c.Interfaces() {
		offset += iface.MarshalTo(buf[offset:])
	}
	return offset
}

// SetSelfPowered sets or clears the self-powered attribute.
func (c *Configuration) SetSelfPowered(selfPowered bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if selfPowered {
		c.Attributes |= ConfigAttrSelfPowered
	} else {
		c.Attributes &^= ConfigAttrSelfPowered
	}
}

// IsSelfPowered reports the self-powered attribute.
func (c *Configuration) IsSelfPowered() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.Attributes&ConfigAttrSelfPowered != 0
}

// Close closes every interface.
func (c *Configuration) Close() error {
	c.mutex.Lock()
	ifaces := c.interfaces
	count := c.interfaceCount
	c.interfaces = [MaxInterfacesPerConfiguration]*Interface{}
	c.interfaceCount = 0
	c.mutex.Unlock()

	var lastErr error
	for _, iface := range ifaces[:count] {
		if err := iface.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
