package hub

import "github.com/ardnew/softhub/device"

// tracker remembers the last setup packet to spot host retransmissions.
// It keeps exactly one packet.
type tracker struct {
	last  device.SetupPacket
	valid bool
}

// isRepeat reports whether setup equals the retained packet, then retains
// setup.
func (t *tracker) isRepeat(setup device.SetupPacket) bool {
	repeat := t.valid && t.last == setup
	t.last = setup
	t.valid = true
	return repeat
}

func (t *tracker) reset() {
	*t = tracker{}
}
