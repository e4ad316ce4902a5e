// Package voice records voice notes from a capture device and hands the
// finished clip to the attachment pipeline.
package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrMicDenied        = errors.New("voice: microphone access denied")
	ErrEmptyRecording   = errors.New("voice: recording produced no audio")
	ErrNotRecording     = errors.New("voice: no recording in progress")
	ErrAlreadyRecording = errors.New("voice: recording already in progress")
)

// State of the recorder. Cancelled and Failed are resting states like
// Idle; a new recording may start from any of the three.
type State string

const (
	Idle       State = "idle"
	Recording  State = "recording"
	Finalizing State = "finalizing"
	Cancelled  State = "cancelled"
	Failed     State = "failed"
)

// CaptureDevice produces encoded audio chunks. Start returns the chunk
// stream; the device closes it after Stop once the encoder has flushed.
type CaptureDevice interface {
	Start(ctx context.Context) (<-chan []byte, error)
	Stop()
}

// Clip is a finished voice note.
type Clip struct {
	Data     []byte
	FileName string
	Elapsed  time.Duration
}

// Recorder drives a capture device through a record/stop/cancel cycle and
// accumulates the encoded chunks.
type Recorder struct {
	mu      sync.Mutex
	device  CaptureDevice
	logger  *zap.Logger
	state   State
	chunks  [][]byte
	started time.Time
	done    chan struct{}
}

// NewRecorder creates a recorder over the given capture device.
func NewRecorder(device CaptureDevice, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{device: device, logger: logger, state: Idle}
}

// State returns the current recorder state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Elapsed returns how long the current recording has been running.
func (r *Recorder) Elapsed(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Recording {
		return 0
	}
	return now.Sub(r.started)
}

// Start begins a recording. Device failures map to ErrMicDenied so the
// caller can show a permission hint rather than a raw driver error.
func (r *Recorder) Start(ctx context.Context, now time.Time) error {
	r.mu.Lock()
	if r.state == Recording || r.state == Finalizing {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	r.state = Recording
	r.chunks = nil
	r.started = now
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	stream, err := r.device.Start(ctx)
	if err != nil {
		r.mu.Lock()
		r.state = Failed
		r.mu.Unlock()
		close(done)
		return fmt.Errorf("%w: %v", ErrMicDenied, err)
	}

	go func() {
		defer close(done)
		for chunk := range stream {
			if len(chunk) == 0 {
				continue
			}
			r.mu.Lock()
			if r.state == Recording || r.state == Finalizing {
				r.chunks = append(r.chunks, chunk)
			}
			r.mu.Unlock()
		}
	}()
	return nil
}

// Stop ends the recording. With send=true it waits for the encoder to flush
// and returns the finished clip, leaving the recorder in Finalizing until
// Settle reports the send outcome; with send=false it discards everything.
func (r *Recorder) Stop(send bool, now time.Time) (*Clip, error) {
	r.mu.Lock()
	if r.state != Recording {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	r.state = Finalizing
	elapsed := now.Sub(r.started)
	done := r.done
	r.mu.Unlock()

	r.device.Stop()

	// Wait for the device to close the stream so trailing encoder output
	// is not lost. A stuck device must not wedge the session.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		r.logger.Warn("capture device did not flush in time")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !send {
		r.state = Cancelled
		r.chunks = nil
		return nil, nil
	}

	var total int
	for _, c := range r.chunks {
		total += len(c)
	}
	if total == 0 {
		r.state = Failed
		r.chunks = nil
		return nil, ErrEmptyRecording
	}
	data := make([]byte, 0, total)
	for _, c := range r.chunks {
		data = append(data, c...)
	}
	r.chunks = nil

	clip := &Clip{
		Data:     data,
		FileName: fmt.Sprintf("voice-%d.webm", now.UnixMilli()),
		Elapsed:  elapsed,
	}
	r.logger.Debug("voice note finalized",
		zap.Int("bytes", len(clip.Data)),
		zap.Duration("elapsed", clip.Elapsed))
	return clip, nil
}

// Settle records the outcome of sending a finalized clip: Idle on success,
// Failed when the upload or send rejected it. No-op outside Finalizing.
func (r *Recorder) Settle(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Finalizing {
		return
	}
	if ok {
		r.state = Idle
	} else {
		r.state = Failed
	}
}

// ForceCancel aborts any in-progress recording without error. Used on
// conversation switches and shutdown.
func (r *Recorder) ForceCancel(now time.Time) {
	r.mu.Lock()
	recording := r.state == Recording
	r.mu.Unlock()
	if recording {
		_, _ = r.Stop(false, now)
	}
}
