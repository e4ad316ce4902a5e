// Package transport maintains the realtime websocket connection to the
// marketplace: it decodes inbound push frames into bus events, carries
// outbound room/typing/read commands, and reconnects with backoff.
package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Syam916/chitrasethu-sub002/internal/bus"
	"github.com/Syam916/chitrasethu-sub002/internal/status"
)

// ErrNotConnected is returned when a command is issued while the socket is
// down. Callers treat typing and read signals as best-effort.
var ErrNotConnected = errors.New("transport: not connected")

const (
	writeWait        = 10 * time.Second
	initialBackoff   = time.Second
	maxBackoff       = 30 * time.Second
	degradedFailures = 5
)

// Client is the outbound command surface of the realtime channel.
type Client interface {
	Connected() bool
	JoinConversation(conversationID string) error
	LeaveConversation(conversationID string) error
	MarkAsRead(conversationID string) error
	StartTyping(conversationID, userName string) error
	StopTyping(conversationID string) error
}

// Socket is the websocket implementation of Client. Run owns the
// connection; command methods are safe from any goroutine.
type Socket struct {
	url     string
	token   string
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	joined string
}

// NewSocket creates a realtime transport client. Run must be called for
// frames to flow.
func NewSocket(url, token string, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Socket {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Socket{
		url:     url,
		token:   token,
		bus:     b,
		machine: machine,
		logger:  logger,
	}
}

// Connected reports whether the socket is currently live.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Run dials and reads until ctx is cancelled, reconnecting with
// exponential backoff. Repeated failures park the machine in the degraded
// fetch-only state; dialing continues regardless.
func (s *Socket) Run(ctx context.Context) {
	failures := 0
	backoff := initialBackoff

	for {
		if ctx.Err() != nil {
			s.transition(status.Closed)
			return
		}
		s.transition(status.Connecting)

		conn, err := s.dial(ctx)
		if err != nil {
			failures++
			s.logger.Warn("realtime dial failed", zap.Int("failures", failures), zap.Error(err))
			if failures >= degradedFailures {
				s.transition(status.Degraded)
			} else {
				s.transition(status.Reconnecting)
			}
			select {
			case <-ctx.Done():
				s.transition(status.Closed)
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		failures = 0
		backoff = initialBackoff
		s.attach(conn)
		s.transition(status.Live)
		s.publish(bus.Event{Kind: bus.KindTransportConnected, Timestamp: time.Now()})
		s.rejoin()

		s.readLoop(ctx, conn)

		s.detach(conn)
		s.publish(bus.Event{Kind: bus.KindTransportDisconnected, Timestamp: time.Now()})
		if ctx.Err() != nil {
			s.transition(status.Closed)
			return
		}
		s.transition(status.Reconnecting)
	}
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	conn, _, err := dialer.DialContext(ctx, s.url, header)
	return conn, err
}

func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("realtime read error", zap.Error(err))
			}
			return
		}
		evt, err := decodeFrame(raw, time.Now())
		if err != nil {
			s.logger.Warn("realtime frame rejected", zap.Error(err))
			continue
		}
		if evt != nil {
			s.publish(*evt)
		}
	}
}

// JoinConversation subscribes the socket to a conversation's push stream.
// The room is remembered and re-entered after reconnects.
func (s *Socket) JoinConversation(conversationID string) error {
	s.mu.Lock()
	s.joined = conversationID
	s.mu.Unlock()
	return s.send(cmdJoin, wireRoom{ConversationID: conversationID})
}

// LeaveConversation unsubscribes from a conversation's push stream.
func (s *Socket) LeaveConversation(conversationID string) error {
	s.mu.Lock()
	if s.joined == conversationID {
		s.joined = ""
	}
	s.mu.Unlock()
	return s.send(cmdLeave, wireRoom{ConversationID: conversationID})
}

// MarkAsRead signals the read receipt on the realtime channel.
func (s *Socket) MarkAsRead(conversationID string) error {
	return s.send(cmdMarkRead, wireRoom{ConversationID: conversationID})
}

// StartTyping signals the start of a typing episode.
func (s *Socket) StartTyping(conversationID, userName string) error {
	return s.send(cmdTypingStarted, wireTypingCmd{ConversationID: conversationID, UserName: userName})
}

// StopTyping signals the end of a typing episode.
func (s *Socket) StopTyping(conversationID string) error {
	return s.send(cmdTypingStopped, wireTypingCmd{ConversationID: conversationID})
}

func (s *Socket) send(event string, data any) error {
	payload, err := encodeFrame(event, data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Socket) attach(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Socket) detach(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Socket) rejoin() {
	s.mu.Lock()
	joined := s.joined
	s.mu.Unlock()
	if joined != "" {
		if err := s.send(cmdJoin, wireRoom{ConversationID: joined}); err != nil {
			s.logger.Warn("rejoin failed", zap.String("conversation", joined), zap.Error(err))
		}
	}
}

func (s *Socket) transition(to status.State) {
	if s.machine == nil {
		return
	}
	if s.machine.Current() == to {
		return
	}
	if err := s.machine.Transition(to); err != nil {
		s.logger.Debug("status transition skipped", zap.Error(err))
	}
}

func (s *Socket) publish(evt bus.Event) {
	if s.bus != nil {
		s.bus.Publish(evt)
	}
}
