package fifo

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ardnew/softhub/pkg"
)

// Message types shared with the host side of the bus.
const (
	msgSetup   = 0x01 // [address, setup(8), OUT data...]
	msgData    = 0x02
	msgAck     = 0x03
	msgNak     = 0x04
	msgStall   = 0x05
	msgReset   = 0x12
	msgAddress = 0x13 // [address]
)

// headerSize is type (1) + little-endian payload length (2).
const headerSize = 3

// Connection signal bytes.
const (
	sigDisconnect = 0x00
	sigConnect    = 0x01
)

// pollInterval bounds how long a read blocks before checking for
// cancellation.
const pollInterval = 100 * time.Millisecond

// pipe is one named FIFO of the device directory, opened read-write and
// non-blocking so neither side waits for its peer to open it.
type pipe struct {
	name string
	file *os.File
}

func makePipe(dir, name string) (*pipe, error) {
	path := filepath.Join(dir, name)
	_ = os.Remove(path)
	if err := unix.Mkfifo(path, 0o666); err != nil {
		return nil, fmt.Errorf("mkfifo %s: %w", name, err)
	}
	f, err := os.OpenFile(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return &pipe{name: name, file: f}, nil
}

func (p *pipe) close() {
	if p != nil && p.file != nil {
		_ = p.file.Close()
		p.file = nil
	}
}

// readFull fills buf, polling so that ctx and done are honored.
func (p *pipe) readFull(ctx context.Context, done <-chan struct{}, buf []byte) error {
	total := 0
	for total < len(buf) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return pkg.ErrCancelled
		default:
		}
		if err := p.file.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return err
		}
		n, err := p.file.Read(buf[total:])
		total += n
		if err != nil && !os.IsTimeout(err) {
			return fmt.Errorf("read %s: %w", p.name, err)
		}
	}
	return nil
}

// readMessage reads one framed message into buf and returns its type and
// payload. Payloads larger than buf are a protocol error.
func (p *pipe) readMessage(ctx context.Context, done <-chan struct{}, buf []byte) (byte, []byte, error) {
	if err := p.readFull(ctx, done, buf[:headerSize]); err != nil {
		return 0, nil, err
	}
	typ := buf[0]
	n := int(binary.LittleEndian.Uint16(buf[1:headerSize]))
	if headerSize+n > len(buf) {
		return typ, nil, pkg.ErrProtocol
	}
	payload := buf[headerSize : headerSize+n]
	if err := p.readFull(ctx, done, payload); err != nil {
		return typ, nil, err
	}
	return typ, payload, nil
}

// writeMessage frames data into scratch and writes it. Data beyond the
// scratch capacity is truncated.
func (p *pipe) writeMessage(scratch []byte, typ byte, data []byte) error {
	n := copy(scratch[headerSize:], data)
	scratch[0] = typ
	binary.LittleEndian.PutUint16(scratch[1:headerSize], uint16(n))
	msg := scratch[:headerSize+n]
	for len(msg) > 0 {
		m, err := p.file.Write(msg)
		if err != nil {
			return fmt.Errorf("write %s: %w", p.name, err)
		}
		msg = msg[m:]
	}
	return nil
}
