package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Syam916/chitrasethu-sub002/internal/attach"
	"github.com/Syam916/chitrasethu-sub002/internal/bus"
	"github.com/Syam916/chitrasethu-sub002/internal/session"
	"github.com/Syam916/chitrasethu-sub002/internal/status"
	"github.com/Syam916/chitrasethu-sub002/internal/voice"
)

// Server exposes the session controller to the UI over a unix domain
// socket: a small JSON API plus a websocket event stream bridging the bus.
type Server struct {
	http       *http.Server
	listener   net.Listener
	socketPath string
	controller *session.Controller
	machine    *status.Machine
	capture    *StreamDevice
	bus        *bus.Bus
	logger     *zap.Logger
}

// NewServer binds the UI server to the profile's unix socket.
func NewServer(socketPath string, ctrl *session.Controller, machine *status.Machine, capture *StreamDevice, b *bus.Bus, logger *zap.Logger) (*Server, error) {
	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	s := &Server{
		listener:   listener,
		socketPath: socketPath,
		controller: ctrl,
		machine:    machine,
		capture:    capture,
		bus:        b,
		logger:     logger,
	}
	s.http = &http.Server{Handler: s.routes()}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/events", s.handleEvents)

		r.Get("/conversations", s.handleConversations)
		r.Post("/conversations/open", s.handleOpen)
		r.Post("/conversations/close", s.handleClose)
		r.Post("/conversations/read", s.handleMarkRead)

		r.Get("/messages", s.handleMessages)
		r.Post("/messages/older", s.handleLoadOlder)
		r.Post("/messages/text", s.handleSendText)
		r.Post("/attachments", s.handleSendAttachment)

		r.Post("/typing", s.handleTyping)
		r.Get("/typists", s.handleTypists)

		r.Post("/voice/start", s.handleVoiceStart)
		r.Post("/voice/chunk", s.handleVoiceChunk)
		r.Post("/voice/stop", s.handleVoiceStop)
	})
	return r
}

// Start serves until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("ui server starting", zap.String("socket", s.socketPath))
	if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("ui server stopping")
	_ = s.http.Shutdown(ctx)
	_ = os.Remove(s.socketPath)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, name := s.controller.Self()
	resp := map[string]any{
		"state":     s.machine.Current(),
		"connected": s.machine.Connected(),
		"selfId":    id,
		"selfName":  name,
	}
	if conv := s.controller.Active(); conv != nil {
		resp["activeConversation"] = conv.ID
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.controller.Conversations(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParticipantID     string `json:"participantId"`
		ParticipantName   string `json:"participantName"`
		ParticipantAvatar string `json:"participantAvatar"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request"})
		return
	}
	if req.ParticipantID == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "participantId required"})
		return
	}
	id, err := s.controller.Open(r.Context(), req.ParticipantID, req.ParticipantName, req.ParticipantAvatar)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"conversationId": id})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	s.controller.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.MarkRead(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.controller.Messages()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleLoadOlder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Before int64 `json:"before"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request"})
		return
	}
	if err := s.controller.LoadOlder(r.Context(), req.Before); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSendText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request"})
		return
	}
	if req.Text == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text required"})
		return
	}
	clientID, err := s.controller.SendText(r.Context(), req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"clientId": clientID})
}

func (s *Server) handleSendAttachment(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file field required"})
		return
	}
	defer func() { _ = file.Close() }()

	clientID, err := s.controller.SendAttachment(r.Context(), attach.File{
		Name:   header.Filename,
		Size:   header.Size,
		Reader: file,
	}, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"clientId": clientID})
}

func (s *Server) handleTyping(w http.ResponseWriter, r *http.Request) {
	s.controller.InputChanged()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTypists(w http.ResponseWriter, r *http.Request) {
	names := s.controller.Typists()
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleVoiceStart(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.StartVoice(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVoiceChunk(w http.ResponseWriter, r *http.Request) {
	chunk, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable chunk"})
		return
	}
	if err := s.capture.Push(chunk); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVoiceStop(w http.ResponseWriter, r *http.Request) {
	send, _ := strconv.ParseBool(r.URL.Query().Get("send"))
	clientID, err := s.controller.StopVoice(r.Context(), send, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"clientId": clientID})
}

var eventUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The socket is a local unix domain socket; origin checks do not apply.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents streams every bus event to the UI as JSON frames.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := eventUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	events, unsub := s.bus.Subscribe("", 128)
	defer unsub()

	// Drain client frames so pings and closes are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-events:
			payload := map[string]any{
				"kind":      evt.Kind,
				"timestamp": evt.Timestamp.UnixMilli(),
				"payload":   evt.Payload,
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(payload); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

// writeError maps domain errors onto HTTP statuses for the UI.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNoActiveConversation):
		code = http.StatusConflict
	case errors.Is(err, attach.ErrFileTooLarge), errors.Is(err, attach.ErrFileTypeBlocked):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, voice.ErrMicDenied):
		code = http.StatusForbidden
	case errors.Is(err, voice.ErrEmptyRecording),
		errors.Is(err, voice.ErrNotRecording),
		errors.Is(err, voice.ErrAlreadyRecording),
		errors.Is(err, ErrNoCapture):
		code = http.StatusConflict
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}
