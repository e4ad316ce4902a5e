package voice

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

// fakeDevice feeds scripted chunks and closes the stream on Stop.
type fakeDevice struct {
	chunks   [][]byte
	startErr error
	ch       chan []byte
	stopped  bool
}

func (d *fakeDevice) Start(ctx context.Context) (<-chan []byte, error) {
	if d.startErr != nil {
		return nil, d.startErr
	}
	d.ch = make(chan []byte, len(d.chunks)+1)
	for _, c := range d.chunks {
		d.ch <- c
	}
	return d.ch, nil
}

func (d *fakeDevice) Stop() {
	d.stopped = true
	close(d.ch)
}

func TestRecordAndSend(t *testing.T) {
	dev := &fakeDevice{chunks: [][]byte{[]byte("aaa"), []byte("bbb")}}
	r := NewRecorder(dev, nil)

	start := time.UnixMilli(0)
	if err := r.Start(context.Background(), start); err != nil {
		t.Fatal(err)
	}
	if r.State() != Recording {
		t.Fatalf("state = %v, want recording", r.State())
	}

	clip, err := r.Stop(true, start.Add(5*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(clip.Data, []byte("aaabbb")) {
		t.Errorf("data = %q, want chunks concatenated in order", clip.Data)
	}
	if clip.Elapsed != 5*time.Second {
		t.Errorf("elapsed = %v, want 5s", clip.Elapsed)
	}
	if clip.FileName == "" {
		t.Error("clip has no file name")
	}
	if !dev.stopped {
		t.Error("device was not stopped")
	}
	if r.State() != Finalizing {
		t.Errorf("state = %v, want finalizing until the send settles", r.State())
	}
	r.Settle(true)
	if r.State() != Idle {
		t.Errorf("state = %v, want idle after successful settle", r.State())
	}
}

func TestSettleFailureAfterStop(t *testing.T) {
	dev := &fakeDevice{chunks: [][]byte{[]byte("aaa")}}
	r := NewRecorder(dev, nil)

	if err := r.Start(context.Background(), time.UnixMilli(0)); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Stop(true, time.UnixMilli(1000)); err != nil {
		t.Fatal(err)
	}
	r.Settle(false)
	if r.State() != Failed {
		t.Errorf("state = %v, want failed after rejected send", r.State())
	}

	// A new recording may start from the failed state.
	if err := r.Start(context.Background(), time.UnixMilli(2000)); err != nil {
		t.Fatal(err)
	}
	_, _ = r.Stop(false, time.UnixMilli(3000))
}

func TestCancelDiscardsAudio(t *testing.T) {
	dev := &fakeDevice{chunks: [][]byte{[]byte("aaa")}}
	r := NewRecorder(dev, nil)

	if err := r.Start(context.Background(), time.UnixMilli(0)); err != nil {
		t.Fatal(err)
	}
	clip, err := r.Stop(false, time.UnixMilli(1000))
	if err != nil {
		t.Fatal(err)
	}
	if clip != nil {
		t.Errorf("clip = %+v, want nil on cancel", clip)
	}
	if r.State() != Cancelled {
		t.Errorf("state = %v, want cancelled", r.State())
	}
}

func TestEmptyRecordingRejected(t *testing.T) {
	dev := &fakeDevice{}
	r := NewRecorder(dev, nil)

	if err := r.Start(context.Background(), time.UnixMilli(0)); err != nil {
		t.Fatal(err)
	}
	_, err := r.Stop(true, time.UnixMilli(1000))
	if !errors.Is(err, ErrEmptyRecording) {
		t.Fatalf("error = %v, want ErrEmptyRecording", err)
	}
	if r.State() != Failed {
		t.Errorf("state = %v, want failed after empty recording", r.State())
	}

	// A new recording may start from the failed state.
	if err := r.Start(context.Background(), time.UnixMilli(2000)); err != nil {
		t.Fatal(err)
	}
	_, _ = r.Stop(false, time.UnixMilli(3000))
}

func TestMicDenied(t *testing.T) {
	dev := &fakeDevice{startErr: errors.New("permission denied")}
	r := NewRecorder(dev, nil)

	err := r.Start(context.Background(), time.UnixMilli(0))
	if !errors.Is(err, ErrMicDenied) {
		t.Fatalf("error = %v, want ErrMicDenied", err)
	}
	if r.State() != Failed {
		t.Errorf("state = %v, want failed after denied start", r.State())
	}
}

func TestDoubleStartRejected(t *testing.T) {
	dev := &fakeDevice{}
	r := NewRecorder(dev, nil)

	if err := r.Start(context.Background(), time.UnixMilli(0)); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(context.Background(), time.UnixMilli(100)); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("error = %v, want ErrAlreadyRecording", err)
	}
	_, _ = r.Stop(false, time.UnixMilli(200))
}

func TestStopWithoutStart(t *testing.T) {
	r := NewRecorder(&fakeDevice{}, nil)
	if _, err := r.Stop(true, time.UnixMilli(0)); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("error = %v, want ErrNotRecording", err)
	}
}

func TestForceCancel(t *testing.T) {
	dev := &fakeDevice{chunks: [][]byte{[]byte("aaa")}}
	r := NewRecorder(dev, nil)

	if err := r.Start(context.Background(), time.UnixMilli(0)); err != nil {
		t.Fatal(err)
	}
	r.ForceCancel(time.UnixMilli(500))
	if r.State() != Cancelled {
		t.Errorf("state = %v, want cancelled after force cancel", r.State())
	}
	// Idempotent when nothing is recording.
	r.ForceCancel(time.UnixMilli(600))
}

func TestElapsed(t *testing.T) {
	dev := &fakeDevice{}
	r := NewRecorder(dev, nil)

	start := time.UnixMilli(0)
	if got := r.Elapsed(start); got != 0 {
		t.Errorf("elapsed before start = %v, want 0", got)
	}
	if err := r.Start(context.Background(), start); err != nil {
		t.Fatal(err)
	}
	if got := r.Elapsed(start.Add(3 * time.Second)); got != 3*time.Second {
		t.Errorf("elapsed = %v, want 3s", got)
	}
	_, _ = r.Stop(false, start.Add(4*time.Second))
}
