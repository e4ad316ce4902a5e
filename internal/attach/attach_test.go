package attach

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

type mockStore struct {
	gotName   string
	gotFolder string
	gotSize   int64
	body      []byte
	url       string
	err       error
}

func (m *mockStore) Upload(ctx context.Context, r io.Reader, size int64, fileName, folder string, onProgress func(float64)) (string, string, error) {
	if m.err != nil {
		return "", "", m.err
	}
	m.gotName = fileName
	m.gotFolder = folder
	m.gotSize = size
	body, err := io.ReadAll(r)
	if err != nil {
		return "", "", err
	}
	m.body = body
	if onProgress != nil {
		onProgress(100)
	}
	return m.url, fileName, nil
}

// Minimal valid PNG header, enough for content sniffing.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}

func TestProcessRejectsOversizedFile(t *testing.T) {
	p := NewPipeline(&mockStore{}, 100, "chat-attachments", nil)
	_, err := p.Process(context.Background(), File{Name: "big.bin", Size: 101, Reader: strings.NewReader("x")}, nil)
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("error = %v, want ErrFileTooLarge", err)
	}
}

func TestProcessRejectsBlockedExtensions(t *testing.T) {
	p := NewPipeline(&mockStore{}, 1<<20, "chat-attachments", nil)
	for _, name := range []string{"run.exe", "setup.sh", "script.JS", "job.bat"} {
		_, err := p.Process(context.Background(), File{Name: name, Size: 10, Reader: strings.NewReader("x")}, nil)
		if !errors.Is(err, ErrFileTypeBlocked) {
			t.Errorf("%s: error = %v, want ErrFileTypeBlocked", name, err)
		}
	}
}

func TestProcessClassifiesImage(t *testing.T) {
	store := &mockStore{url: "https://cdn.example/photo.png"}
	p := NewPipeline(store, 1<<20, "chat-attachments", nil)

	res, err := p.Process(context.Background(), File{
		Name:   "photo.png",
		Size:   int64(len(pngHeader)),
		Reader: bytes.NewReader(pngHeader),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.MessageType != "image" {
		t.Errorf("type = %q, want image", res.MessageType)
	}
	if res.URL != "https://cdn.example/photo.png" {
		t.Errorf("url = %q", res.URL)
	}
}

func TestProcessUploadsFullBody(t *testing.T) {
	// Bodies longer than the sniff window must arrive intact: the sniffed
	// header is stitched back in front of the remainder.
	payload := bytes.Repeat([]byte("abcd"), 2048)
	store := &mockStore{url: "https://cdn.example/doc.pdf"}
	p := NewPipeline(store, 1<<20, "chat-attachments", nil)

	res, err := p.Process(context.Background(), File{
		Name:   "doc.pdf",
		Size:   int64(len(payload)),
		Reader: bytes.NewReader(payload),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(store.body, payload) {
		t.Errorf("uploaded %d bytes, want %d intact", len(store.body), len(payload))
	}
	if res.MessageType != "file" {
		t.Errorf("type = %q, want file", res.MessageType)
	}
	if store.gotFolder != "chat-attachments" {
		t.Errorf("folder = %q", store.gotFolder)
	}
}

func TestProcessClassifiesVoiceNote(t *testing.T) {
	store := &mockStore{url: "https://cdn.example/voice-123.webm"}
	p := NewPipeline(store, 1<<20, "chat-attachments", nil)

	res, err := p.Process(context.Background(), File{
		Name:   "voice-123.webm",
		Size:   4,
		Reader: strings.NewReader("data"),
		Voice:  true,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.MessageType != "voice" {
		t.Errorf("type = %q, want voice", res.MessageType)
	}
}

func TestProcessUploadFailureSurfaces(t *testing.T) {
	boom := errors.New("storage down")
	p := NewPipeline(&mockStore{err: boom}, 1<<20, "chat-attachments", nil)

	_, err := p.Process(context.Background(), File{Name: "doc.pdf", Size: 4, Reader: strings.NewReader("data")}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped storage error", err)
	}
}

func TestProcessReportsProgress(t *testing.T) {
	store := &mockStore{url: "https://cdn.example/doc.pdf"}
	p := NewPipeline(store, 1<<20, "chat-attachments", nil)

	var got []float64
	_, err := p.Process(context.Background(), File{Name: "doc.pdf", Size: 4, Reader: strings.NewReader("data")}, func(pct float64) {
		got = append(got, pct)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) == 0 || got[len(got)-1] != 100 {
		t.Errorf("progress = %v, want trailing 100", got)
	}
}

func TestIsAudio(t *testing.T) {
	for name, want := range map[string]bool{
		"voice-123.webm": true,
		"clip.MP3":       true,
		"note.ogg":       true,
		"doc.pdf":        false,
		"photo.png":      false,
	} {
		if got := IsAudio(name); got != want {
			t.Errorf("IsAudio(%q) = %v, want %v", name, got, want)
		}
	}
}
