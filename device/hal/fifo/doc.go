// Package fifo implements [hal.DeviceHAL] over named pipes, so a device
// stack and a simulated host can talk through the filesystem.
//
// Init creates a directory per device under a shared bus directory:
//
//	<bus>/device-<id>/
//	    connection        device -> host, 0x01 attached, 0x00 detached
//	    host_to_device    SETUP, reset and address messages
//	    device_to_host    DATA, ACK and STALL answers
//	    ep1_in, ep1_out   data endpoint 1
//	    ...
//
// Every message is framed as a type byte and a little-endian 16-bit payload
// length. A SETUP message carries the target address, the 8-byte setup
// packet and any OUT data stage. The host expects exactly one answer per
// SETUP: DATA for IN transfers, ACK for OUT transfers, or STALL.
//
// A hub's status-change reports are DATA messages on its interrupt IN
// endpoint pipe.
package fifo
