// Package device implements the device side of a USB 2.0 stack: the
// descriptor model, the chapter 9 state machine and the control loop that
// routes requests to class drivers.
//
// Hardware access goes through [hal.DeviceHAL] from
// [github.com/ardnew/softhub/device/hal].
//
// # Layers
//
//   - [Device] holds descriptors, configurations and the device state.
//   - [Configuration] and [Interface] group endpoints; an interface may carry
//     class-specific descriptor bytes and a [ClassDriver].
//   - [Stack] reads SETUP packets, answers standard requests itself and hands
//     class requests to the owning driver.
//   - [Transfer] is a queued interrupt or bulk transfer on a data endpoint.
//
// # Class requests
//
// Class requests addressed to an interface go to that interface's driver.
// Requests addressed to the device or to "other" go to the interface whose
// class matches the device class, which is how a hub receives its hub and
// port requests. The driver answers through the [Control] it is given:
//
//	func (d *Driver) HandleSetup(ctrl device.Control, stage device.ControlStage, setup *device.SetupPacket) bool {
//	    if stage != device.StageSetup {
//	        return true
//	    }
//	    return ctrl.ControlTransfer(setup, d.status[:]) == nil
//	}
//
// Returning false stalls EP0. Returning true without calling the Control
// leaves the request unanswered.
//
// # Allocation
//
// Descriptors serialize with MarshalTo(buf) and parse into caller-owned
// values. Endpoints, interfaces and configurations live in fixed arrays.
package device
