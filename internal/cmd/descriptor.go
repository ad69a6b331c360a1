package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/efficientgo/core/errors"
)

// maxConfigDescriptor bounds the configuration descriptor of a hub device.
const maxConfigDescriptor = 64

// Descriptor prints the descriptors of a profile.
type Descriptor struct {
	Profile       string `arg:"" optional:"" help:"Hub profile; the built-in four-port hub when omitted" type:"path"`
	Configuration bool   `help:"Print the whole configuration descriptor instead"`

	Out io.Writer `kong:"-"`
}

// Run is called by kong when the descriptor command is executed.
func (d *Descriptor) Run() error {
	out := d.Out
	if out == nil {
		out = os.Stdout
	}

	p, err := loadProfile(d.Profile)
	if err != nil {
		return err
	}
	vh, err := newVirtualHub(context.Background(), p, nil)
	if err != nil {
		return err
	}

	data := vh.hub.ClassDescriptor()
	if d.Configuration {
		var buf [maxConfigDescriptor]byte
		n := vh.device.GetConfiguration(1).MarshalTo(buf[:])
		if n == 0 {
			return errors.Newf("configuration descriptor exceeds %d bytes", maxConfigDescriptor)
		}
		data = buf[:n]
	}
	_, err = fmt.Fprintf(out, "% x\n", data)
	return err
}
