package hub

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/softhub/pkg"
)

// StatusSize is the size of a GET_STATUS response.
const StatusSize = 4

// Status is a status/change register pair.
type Status struct {
	Status uint16
	Change uint16
}

// MarshalTo writes the status word then the change word, little-endian.
// Returns 0 if buf is too small.
func (s Status) MarshalTo(buf []byte) int {
	if len(buf) < StatusSize {
		return 0
	}
	binary.LittleEndian.PutUint16(buf[0:2], s.Status)
	binary.LittleEndian.PutUint16(buf[2:4], s.Change)
	return StatusSize
}

// Has reports whether the status bit at position bit is set.
func (s Status) Has(bit uint8) bool {
	return s.Status&(1<<bit) != 0
}

// Changed reports whether the change bit at position bit is set.
func (s Status) Changed(bit uint8) bool {
	return s.Change&(1<<bit) != 0
}

// Bank holds the hub register pair and one pair per downstream port.
// It is not safe for concurrent use.
type Bank struct {
	ports int
	hub   Status
	port  [MaxPorts]Status
}

// NewBank creates a zeroed bank for ports downstream ports.
func NewBank(ports int) (*Bank, error) {
	if ports < 1 || ports > MaxPorts {
		return nil, fmt.Errorf("%w: %d ports", pkg.ErrOutOfRange, ports)
	}
	return &Bank{ports: ports}, nil
}

// NumPorts returns the port count.
func (b *Bank) NumPorts() int {
	return b.ports
}

// HubStatus returns the hub register pair.
func (b *Bank) HubStatus() Status {
	return b.hub
}

func (b *Bank) portRef(port int) (*Status, error) {
	if port < 1 || port > b.ports {
		return nil, fmt.Errorf("%w: port %d of %d", pkg.ErrOutOfRange, port, b.ports)
	}
	return &b.port[port-1], nil
}

// PortStatus returns the register pair of a port numbered from 1.
func (b *Bank) PortStatus(port int) (Status, error) {
	ref, err := b.portRef(port)
	if err != nil {
		return Status{}, err
	}
	return *ref, nil
}

// SetPortCondition sets the status bit of f and, for tracked conditions,
// its change bit. Change features cannot be set.
func (b *Bank) SetPortCondition(port int, f PortFeature) error {
	ref, err := b.portRef(port)
	if err != nil {
		return err
	}
	if !f.isStatus() {
		return fmt.Errorf("%w: set %s", pkg.ErrOutOfRange, f)
	}
	ref.Status |= 1 << f
	if f.IsTracked() {
		ref.Change |= 1 << f
	}
	return nil
}

// ClearPortCondition clears the status bit of a condition, or only the
// change bit when f is a change feature.
func (b *Bank) ClearPortCondition(port int, f PortFeature) error {
	ref, err := b.portRef(port)
	if err != nil {
		return err
	}
	switch {
	case f.IsChange():
		ref.Change &^= 1 << f.Condition()
	case f.isStatus():
		ref.Status &^= 1 << f
	default:
		return fmt.Errorf("%w: clear %s", pkg.ErrOutOfRange, f)
	}
	return nil
}

// DropPortCondition clears the status bit of f and, for tracked
// conditions, sets its change bit, as when a device detaches.
func (b *Bank) DropPortCondition(port int, f PortFeature) error {
	ref, err := b.portRef(port)
	if err != nil {
		return err
	}
	if !f.isStatus() {
		return fmt.Errorf("%w: drop %s", pkg.ErrOutOfRange, f)
	}
	ref.Status &^= 1 << f
	if f.IsTracked() {
		ref.Change |= 1 << f
	}
	return nil
}

// SetHubCondition sets a hub status bit. Hub change bits are left alone.
func (b *Bank) SetHubCondition(f HubFeature) error {
	if f != HubLocalPower && f != HubOverCurrent {
		return fmt.Errorf("%w: set %s", pkg.ErrOutOfRange, f)
	}
	b.hub.Status |= 1 << f
	return nil
}

// ClearHubCondition clears a hub status bit, or only the change bit when f
// is a change feature.
func (b *Bank) ClearHubCondition(f HubFeature) error {
	switch {
	case f.IsChange():
		b.hub.Change &^= 1 << f.Condition()
	case f == HubLocalPower, f == HubOverCurrent:
		b.hub.Status &^= 1 << f
	default:
		return fmt.Errorf("%w: clear %s", pkg.ErrOutOfRange, f)
	}
	return nil
}

// RaiseHubChange sets a hub status bit together with its change bit, as a
// local power or over-current event does.
func (b *Bank) RaiseHubChange(f HubFeature) error {
	if err := b.SetHubCondition(f); err != nil {
		return err
	}
	b.hub.Change |= 1 << f
	return nil
}

// Reset zeroes every register pair.
func (b *Bank) Reset() {
	b.hub = Status{}
	clear(b.port[:])
}

// ChangeBitmapSize returns the size of the status change bitmap.
func (b *Bank) ChangeBitmapSize() int {
	return bitmapSize(b.ports)
}

func bitmapSize(ports int) int {
	return (ports + 1 + 7) / 8
}

// ChangeBitmap writes the status change bitmap: bit 0 for the hub and bit n
// for port n, set when that change word is non-zero. It returns the bitmap
// size, or 0 if buf is too small.
func (b *Bank) ChangeBitmap(buf []byte) int {
	n := b.ChangeBitmapSize()
	if len(buf) < n {
		return 0
	}
	clear(buf[:n])
	if b.hub.Change != 0 {
		buf[0] |= 1
	}
	for i, st := range b.port[:b.ports] {
		if st.Change != 0 {
			bit := i + 1
			buf[bit/8] |= 1 << (bit % 8)
		}
	}
	return n
}

// Pending reports whether any change word is non-zero.
func (b *Bank) Pending() bool {
	if b.hub.Change != 0 {
		return true
	}
	for _, st := range b.port[:b.ports] {
		if st.Change != 0 {
			return true
		}
	}
	return false
}
