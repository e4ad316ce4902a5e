// Package attach prepares outbound attachments: validates size and type,
// sniffs the real content type, uploads to object storage with progress,
// and classifies the resulting message.
package attach

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

var (
	ErrFileTooLarge    = errors.New("attach: file exceeds size limit")
	ErrFileTypeBlocked = errors.New("attach: file type not allowed")
)

// Executable and script extensions are rejected outright. Everything else
// goes through.
var blockedExt = map[string]bool{
	".exe": true, ".sh": true, ".js": true, ".bat": true, ".cmd": true,
	".php": true, ".py": true, ".rb": true,
}

// ObjectStore uploads attachment bytes and returns the public URL plus the
// stored file name.
type ObjectStore interface {
	Upload(ctx context.Context, r io.Reader, size int64, fileName, folder string, onProgress func(float64)) (url, storedName string, err error)
}

// File is an attachment candidate handed to the pipeline.
type File struct {
	Name   string
	Size   int64
	Reader io.Reader
	Voice  bool
}

// Result describes an uploaded attachment ready to be attached to a send.
type Result struct {
	URL         string
	FileName    string
	MessageType string
	MIME        string
}

// Pipeline validates and uploads attachments.
type Pipeline struct {
	store    ObjectStore
	maxBytes int64
	folder   string
	logger   *zap.Logger
}

// NewPipeline creates an attachment pipeline uploading into the given
// storage folder.
func NewPipeline(store ObjectStore, maxBytes int64, folder string, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{store: store, maxBytes: maxBytes, folder: folder, logger: logger}
}

// Process validates the file, uploads it, and classifies the message type.
// Validation failures return before any bytes leave the machine.
func (p *Pipeline) Process(ctx context.Context, f File, onProgress func(float64)) (*Result, error) {
	if f.Size > p.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, f.Size, p.maxBytes)
	}
	ext := strings.ToLower(filepath.Ext(f.Name))
	if blockedExt[ext] {
		return nil, fmt.Errorf("%w: %s", ErrFileTypeBlocked, ext)
	}

	// Sniff the content type from the leading bytes, then stitch the
	// consumed header back in front of the remainder for the upload.
	header := make([]byte, 3072)
	n, err := io.ReadFull(f.Reader, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read attachment header: %w", err)
	}
	header = header[:n]
	mime := mimetype.Detect(header)
	body := io.MultiReader(bytes.NewReader(header), f.Reader)

	url, storedName, err := p.store.Upload(ctx, body, f.Size, f.Name, p.folder, onProgress)
	if err != nil {
		return nil, fmt.Errorf("upload attachment: %w", err)
	}
	if storedName == "" {
		storedName = f.Name
	}

	msgType := Classify(mime.String())
	if f.Voice {
		msgType = "voice"
	}
	p.logger.Debug("attachment uploaded",
		zap.String("file", f.Name),
		zap.String("mime", mime.String()),
		zap.String("type", msgType),
		zap.Bool("voice", f.Voice),
		zap.Int64("size", f.Size))

	return &Result{
		URL:         url,
		FileName:    storedName,
		MessageType: msgType,
		MIME:        mime.String(),
	}, nil
}

// Classify maps an attachment's MIME type to a message type. Images render
// inline; everything else travels as a generic file. Voice notes recorded
// on this client are tagged "voice" by the pipeline before classification
// applies.
func Classify(mime string) string {
	if strings.HasPrefix(mime, "image/") {
		return "image"
	}
	return "file"
}

// IsAudio reports whether a stored attachment is an audio clip, judged by
// file extension. Inbound voice notes from clients that send them as plain
// files are recognized this way.
func IsAudio(fileName string) bool {
	return audioExt(fileName)
}

func audioExt(fileName string) bool {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".webm", ".ogg", ".mp3", ".m4a", ".wav", ".aac", ".opus":
		return true
	}
	return false
}
