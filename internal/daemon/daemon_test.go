package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Syam916/chitrasethu-sub002/internal/attach"
	"github.com/Syam916/chitrasethu-sub002/internal/backend"
	"github.com/Syam916/chitrasethu-sub002/internal/bus"
	"github.com/Syam916/chitrasethu-sub002/internal/lock"
	"github.com/Syam916/chitrasethu-sub002/internal/readmark"
	"github.com/Syam916/chitrasethu-sub002/internal/session"
	"github.com/Syam916/chitrasethu-sub002/internal/status"
	"github.com/Syam916/chitrasethu-sub002/internal/store"
	"github.com/Syam916/chitrasethu-sub002/internal/timeline"
	"github.com/Syam916/chitrasethu-sub002/internal/typing"
	"github.com/Syam916/chitrasethu-sub002/internal/voice"
)

type stubAPI struct{}

func (stubAPI) ListConversations(ctx context.Context) ([]store.Conversation, error) {
	return nil, nil
}

func (stubAPI) ListMessages(ctx context.Context, conversationID string, before int64, limit int) ([]store.Message, error) {
	return nil, nil
}

func (stubAPI) SendMessage(ctx context.Context, req backend.SendRequest) (*store.Message, error) {
	return nil, errors.New("not wired in test")
}

type stubTransport struct{}

func (stubTransport) Connected() bool                  { return false }
func (stubTransport) JoinConversation(string) error    { return nil }
func (stubTransport) LeaveConversation(string) error   { return nil }
func (stubTransport) MarkAsRead(string) error          { return nil }
func (stubTransport) StartTyping(string, string) error { return nil }
func (stubTransport) StopTyping(string) error          { return nil }

func TestDaemonLifecycle(t *testing.T) {
	// Use a short path to avoid macOS 104-char Unix socket limit.
	tmpDir, err := os.MkdirTemp("/tmp", "chatd-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	socketPath := filepath.Join(tmpDir, "d.sock")

	lk, err := lock.Acquire(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(filepath.Join(tmpDir, "chat.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	logger, _ := zap.NewDevelopment()
	b := bus.New()
	machine := status.NewMachine(b)
	engine := timeline.NewEngine("3", timeline.Options{}, b, logger)
	tr := stubTransport{}
	capture := NewStreamDevice()

	ctrl := session.New(session.Params{
		SelfID:       "3",
		SelfName:     "Arun",
		Engine:       engine,
		DB:           db,
		API:          stubAPI{},
		Transport:    tr,
		ReadMarks:    readmark.New("3", engine, db, nil, tr, logger),
		LocalTyping:  typing.NewLocal(tr, "Arun", 2*time.Second),
		RemoteTyping: typing.NewRemote(3*time.Second, b),
		Recorder:     voice.NewRecorder(capture, logger),
		Attachments:  attach.NewPipeline(nil, 25<<20, "chat-attachments", logger),
		Bus:          b,
	})

	srv, err := NewServer(socketPath, ctrl, machine, capture, b, logger)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	time.Sleep(50 * time.Millisecond)

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}

	resp, err := client.Get("http://chatd/v1/status")
	if err != nil {
		t.Fatal(err)
	}
	var statusResp struct {
		State     string `json:"state"`
		Connected bool   `json:"connected"`
		SelfID    string `json:"selfId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&statusResp); err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if statusResp.State != string(status.Booting) {
		t.Errorf("state = %q, want BOOTING", statusResp.State)
	}
	if statusResp.SelfID != "3" {
		t.Errorf("selfId = %q, want 3", statusResp.SelfID)
	}

	resp, err = client.Get("http://chatd/v1/conversations")
	if err != nil {
		t.Fatal(err)
	}
	var convs []store.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&convs); err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if len(convs) != 0 {
		t.Errorf("conversations = %+v, want empty", convs)
	}

	// Sending with nothing selected maps to a conflict.
	resp, err = client.Post("http://chatd/v1/messages/text", "application/json", strings.NewReader(`{"text":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}

	// Voice chunks with no open recording are rejected.
	resp, err = client.Post("http://chatd/v1/voice/chunk", "application/octet-stream", strings.NewReader("audio"))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("voice chunk status = %d, want 409", resp.StatusCode)
	}
}

func TestStreamDevice(t *testing.T) {
	d := NewStreamDevice()

	if err := d.Push([]byte("early")); !errors.Is(err, ErrNoCapture) {
		t.Errorf("error = %v, want ErrNoCapture before start", err)
	}

	ch, err := d.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Start(context.Background()); err == nil {
		t.Error("second start did not fail")
	}

	if err := d.Push([]byte("chunk-1")); err != nil {
		t.Fatal(err)
	}
	if err := d.Push([]byte("chunk-2")); err != nil {
		t.Fatal(err)
	}
	d.Stop()

	var got []string
	for c := range ch {
		got = append(got, string(c))
	}
	if len(got) != 2 || got[0] != "chunk-1" || got[1] != "chunk-2" {
		t.Errorf("chunks = %v", got)
	}

	if err := d.Push([]byte("late")); !errors.Is(err, ErrNoCapture) {
		t.Errorf("error = %v, want ErrNoCapture after stop", err)
	}
}
