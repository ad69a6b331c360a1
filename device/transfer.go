package device

import (
	"context"
	"sync"

	"github.com/ardnew/softhub/pkg"
)

// TransferCallback is called once when a transfer completes.
type TransferCallback func(t *Transfer)

// Transfer is a queued bulk or interrupt transfer.
type Transfer struct {
	Endpoint *Endpoint
	Buffer   []byte

	// Filled in on completion.
	Length int
	Status pkg.TransferStatus
	Error  error

	Callback TransferCallback

	ctx       context.Context
	mutex     sync.Mutex
	completed bool
}

// NewInterruptTransfer creates a transfer on an interrupt endpoint. The
// buffer is referenced, not copied.
func NewInterruptTransfer(ep *Endpoint, data []byte) *Transfer {
	return &Transfer{
		Endpoint: ep,
		Buffer:   data,
		ctx:      context.Background(),
	}
}

// WithContext sets the context that cancels the transfer.
func (t *Transfer) WithContext(ctx context.Context) *Transfer {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.ctx = ctx
	return t
}

// WithCallback sets the completion callback.
func (t *Transfer) WithCallback(cb TransferCallback) *Transfer {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.Callback = cb
	return t
}

// Context returns the transfer context.
func (t *Transfer) Context() context.Context {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.ctx == nil {
		return context.Background()
	}
	return t.ctx
}

// Complete records the result and runs the callback. Only the first call
// has any effect.
func (t *Transfer) Complete(status pkg.TransferStatus, length int, err error) {
	t.mutex.Lock()
	if t.completed {
		t.mutex.Unlock()
		return
	}
	t.completed = true
	t.Status = status
	t.Length = length
	t.Error = err
	cb := t.Callback
	t.mutex.Unlock()

	if cb != nil {
		cb(t)
	}
}

// IsCompleted reports whether Complete has been called.
func (t *Transfer) IsCompleted() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.completed
}

// IsIn reports a device-to-host transfer.
func (t *Transfer) IsIn() bool {
	return t.Endpoint != nil && t.Endpoint.IsIn()
}
