package daemon

import (
	"context"
	"errors"
	"sync"
)

// ErrNoCapture is returned when audio arrives while no recording is open.
var ErrNoCapture = errors.New("daemon: no capture stream open")

// StreamDevice is a push-fed capture device: the UI records audio on its
// side and streams encoded chunks to the daemon, which forwards them into
// the voice recorder.
type StreamDevice struct {
	mu     sync.Mutex
	ch     chan []byte
	active bool
}

// NewStreamDevice creates an idle stream device.
func NewStreamDevice() *StreamDevice {
	return &StreamDevice{}
}

// Start opens the chunk stream.
func (d *StreamDevice) Start(ctx context.Context) (<-chan []byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active {
		return nil, errors.New("daemon: capture stream already open")
	}
	d.ch = make(chan []byte, 64)
	d.active = true
	return d.ch, nil
}

// Push forwards one encoded chunk. Chunks arriving with no open stream or
// after the buffer fills are rejected; the UI retries or drops.
func (d *StreamDevice) Push(chunk []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active {
		return ErrNoCapture
	}
	select {
	case d.ch <- chunk:
		return nil
	default:
		return errors.New("daemon: capture buffer full")
	}
}

// Stop closes the stream, flushing buffered chunks to the reader.
func (d *StreamDevice) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active {
		d.active = false
		close(d.ch)
	}
}
