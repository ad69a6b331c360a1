// Package hub implements the USB hub class (class 0x09) for the softhub
// device stack.
//
// The hub answers the hub class requests a host sends to the hub and to
// its downstream ports, keeping one status/change register pair for the hub
// and one per port. Downstream ports are virtual: the application sets port
// conditions (connection, over-current, ...) and the host observes them
// through GET_STATUS and the status change endpoint.
//
// # Architecture
//
// A hub interface consists of:
//
//   - The hub class descriptor, emitted right after the interface descriptor
//   - An Interrupt IN endpoint carrying the status change bitmap
//   - An optional Interrupt OUT endpoint
//
// Requests are handled in three steps. A repeated setup packet identical to
// the previous one is dropped without a response. [Classify] validates the
// request and resolves its target (the hub or port n). The dispatcher then
// applies it to the register [Bank] and answers through [device.Control].
//
// Only port SET_FEATURE sets change bits. Change bits are cleared by
// CLEAR_FEATURE with the change selector, which leaves the status bit alone.
//
// # Descriptors
//
// Descriptor bytes come from a [DescriptorProvider]. GET_DESCRIPTOR for the
// hub descriptor (wValue 0x2900, wIndex 0) returns the provider's bytes
// trimmed to their bLength. Other descriptor queries are not answered unless
// [Hub.SetStrictDescriptorQueries] makes them stall.
//
// # Usage
//
//	desc := &hub.HubDescriptor{
//	    NumPorts:        4,
//	    Characteristics: hub.PowerSwitchingIndividual | hub.OverCurrentIndividual,
//	    PowerOnToGood:   50,
//	}
//	h := hub.New(hub.NewStaticProvider(desc))
//
//	builder := device.NewDeviceBuilder().
//	    WithVendorProduct(0x1D6B, 0x0002, 0x0100).
//	    WithStrings("softhub", "Virtual Hub", "0001").
//	    AddConfiguration(1).
//	    SelfPowered()
//	h.ConfigureDevice(builder, 0x01, 12)
//
//	dev, _ := builder.Build(ctx)
//	h.AttachToInterface(dev, 1, 0)
//
//	stack := device.NewStack(dev, hal)
//	h.SetStack(stack)
//	stack.Start(ctx)
//
//	// A device appears on port 2.
//	h.SetPortCondition(2, hub.PortConnection)
package hub
