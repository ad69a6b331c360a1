// Package hal is the boundary between the device stack and a USB device
// controller.
//
// The stack implements chapter 9 and the class protocols; a [DeviceHAL] only
// moves SETUP packets, control data stages and endpoint payloads. Drivers
// for real controllers and simulated buses implement the same interface, so
// the hub class can be exercised without hardware.
//
// A named-pipe implementation lives in
// [github.com/ardnew/softhub/device/hal/fifo].
package hal
