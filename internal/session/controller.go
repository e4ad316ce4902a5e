// Package session orchestrates the active conversation: selection, history
// fetch, sending, typing, voice notes, and read receipts, with push events
// and periodic timers folded into one controller.
package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Syam916/chitrasethu-sub002/internal/attach"
	"github.com/Syam916/chitrasethu-sub002/internal/backend"
	"github.com/Syam916/chitrasethu-sub002/internal/bus"
	"github.com/Syam916/chitrasethu-sub002/internal/convo"
	"github.com/Syam916/chitrasethu-sub002/internal/readmark"
	"github.com/Syam916/chitrasethu-sub002/internal/store"
	"github.com/Syam916/chitrasethu-sub002/internal/timeline"
	"github.com/Syam916/chitrasethu-sub002/internal/transport"
	"github.com/Syam916/chitrasethu-sub002/internal/typing"
	"github.com/Syam916/chitrasethu-sub002/internal/voice"
)

// ErrNoActiveConversation is returned when a send or input operation
// arrives with nothing selected.
var ErrNoActiveConversation = errors.New("session: no active conversation")

const historyPageSize = 50

// API is the persistence surface the controller needs.
type API interface {
	ListConversations(ctx context.Context) ([]store.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, before int64, limit int) ([]store.Message, error)
	SendMessage(ctx context.Context, req backend.SendRequest) (*store.Message, error)
}

// Params collects the controller's collaborators.
type Params struct {
	SelfID       string
	SelfName     string
	Engine       *timeline.Engine
	DB           *store.DB
	API          API
	Transport    transport.Client
	ReadMarks    *readmark.Coordinator
	LocalTyping  *typing.Local
	RemoteTyping *typing.Remote
	Recorder     *voice.Recorder
	Attachments  *attach.Pipeline
	Bus          *bus.Bus
	SendTimeout  time.Duration
	Logger       *zap.Logger

	// Now is the controller clock. Tests inject a fake; nil means
	// time.Now.
	Now func() time.Time
}

// Controller is the conversation session state machine: at most one
// conversation is selected at a time, and every async completion is guarded
// by a generation counter so stale results from a previous selection are
// dropped.
type Controller struct {
	selfID       string
	selfName     string
	engine       *timeline.Engine
	db           *store.DB
	api          API
	transport    transport.Client
	readMarks    *readmark.Coordinator
	localTyping  *typing.Local
	remoteTyping *typing.Remote
	recorder     *voice.Recorder
	attachments  *attach.Pipeline
	bus          *bus.Bus
	sendTimeout  time.Duration
	logger       *zap.Logger
	now          func() time.Time

	mu     sync.Mutex
	gen    int
	active *store.Conversation
}

// New creates a session controller.
func New(p Params) *Controller {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.SendTimeout <= 0 {
		p.SendTimeout = 10 * time.Second
	}
	return &Controller{
		selfID:       p.SelfID,
		selfName:     p.SelfName,
		engine:       p.Engine,
		db:           p.DB,
		api:          p.API,
		transport:    p.Transport,
		readMarks:    p.ReadMarks,
		localTyping:  p.LocalTyping,
		remoteTyping: p.RemoteTyping,
		recorder:     p.Recorder,
		attachments:  p.Attachments,
		bus:          p.Bus,
		sendTimeout:  p.SendTimeout,
		logger:       p.Logger,
		now:          p.Now,
	}
}

// Run consumes push events and drives the periodic tick until ctx is
// cancelled.
func (c *Controller) Run(ctx context.Context) {
	events, unsub := c.bus.Subscribe("push.", 64)
	defer unsub()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case evt := <-events:
			c.handleEvent(ctx, evt)
		case <-ticker.C:
			c.Tick(c.now())
		}
	}
}

// Conversations returns the conversation list: refreshed from the API when
// reachable, otherwise served from the cache so the list survives outages.
func (c *Controller) Conversations(ctx context.Context) ([]store.Conversation, error) {
	fresh, err := c.api.ListConversations(ctx)
	if err != nil {
		c.logger.Warn("conversation refresh failed, serving cache", zap.Error(err))
		return c.db.ListConversations(200, 0)
	}
	for i := range fresh {
		if err := c.db.UpsertConversation(&fresh[i]); err != nil {
			c.logger.Warn("conversation cache write failed", zap.String("conversation", fresh[i].ID), zap.Error(err))
		}
	}
	return c.db.ListConversations(200, 0)
}

// Open selects the conversation with the given participant, synthesizing a
// pending one when no thread exists yet. History loads asynchronously; the
// timeline event announces its arrival.
func (c *Controller) Open(ctx context.Context, participantID, participantName, participantAvatar string) (string, error) {
	conversationID := convo.Key(c.selfID, participantID)

	conv, err := c.db.GetConversation(conversationID)
	if err != nil {
		return "", err
	}
	if conv == nil {
		conv = convo.Pending(c.selfID, participantID, participantName, participantAvatar)
		if err := c.db.UpsertConversation(conv); err != nil {
			return "", err
		}
	}

	c.mu.Lock()
	prev := c.active
	c.gen++
	gen := c.gen
	c.active = conv
	c.mu.Unlock()

	if prev != nil && prev.ID != conversationID {
		c.leave(prev.ID)
	}

	c.engine.Track(conversationID)
	c.localTyping.SetConversation(conversationID)
	c.remoteTyping.SetConversation(conversationID)

	if err := c.transport.JoinConversation(conversationID); err != nil {
		c.logger.Debug("join deferred, transport down", zap.String("conversation", conversationID), zap.Error(err))
	}

	if !conv.Pending {
		go c.loadHistory(context.WithoutCancel(ctx), gen, conversationID)
		c.readMarks.MarkConversationRead(ctx, conversationID)
	}
	return conversationID, nil
}

// Close deselects the active conversation, leaving its room and stopping
// any typing episode or recording.
func (c *Controller) Close() {
	c.mu.Lock()
	prev := c.active
	c.gen++
	c.active = nil
	c.mu.Unlock()

	if prev != nil {
		c.leave(prev.ID)
	}
}

func (c *Controller) leave(conversationID string) {
	c.localTyping.Stop()
	c.recorder.ForceCancel(c.now())
	c.engine.Drop(conversationID)
	if err := c.transport.LeaveConversation(conversationID); err != nil {
		c.logger.Debug("leave skipped, transport down", zap.Error(err))
	}
}

func (c *Controller) loadHistory(ctx context.Context, gen int, conversationID string) {
	msgs, err := c.api.ListMessages(ctx, conversationID, 0, historyPageSize)
	if err != nil {
		c.logger.Warn("history fetch failed, cache only", zap.String("conversation", conversationID), zap.Error(err))
		msgs, err = c.db.ListMessages(conversationID, 0, historyPageSize)
		if err != nil {
			c.logger.Error("history cache read failed", zap.Error(err))
			return
		}
	}

	c.mu.Lock()
	stale := gen != c.gen
	c.mu.Unlock()
	if stale {
		return
	}

	c.engine.IngestFetchPage(conversationID, msgs)
	for i := range msgs {
		if err := c.db.UpsertMessage(&msgs[i]); err != nil {
			c.logger.Warn("message cache write failed", zap.Error(err))
		}
	}
}

// LoadOlder pages further back in the active conversation's history.
func (c *Controller) LoadOlder(ctx context.Context, before int64) error {
	conv := c.activeConv()
	if conv == nil {
		return ErrNoActiveConversation
	}
	msgs, err := c.api.ListMessages(ctx, conv.ID, before, historyPageSize)
	if err != nil {
		return err
	}
	c.engine.IngestFetchPage(conv.ID, msgs)
	for i := range msgs {
		if err := c.db.UpsertMessage(&msgs[i]); err != nil {
			c.logger.Warn("message cache write failed", zap.Error(err))
		}
	}
	return nil
}

// Messages returns the active conversation's reconciled timeline.
func (c *Controller) Messages() ([]store.Message, error) {
	conv := c.activeConv()
	if conv == nil {
		return nil, ErrNoActiveConversation
	}
	return c.engine.Messages(conv.ID), nil
}

// Active returns the selected conversation, nil when none.
func (c *Controller) Active() *store.Conversation {
	return c.activeConv()
}

// Self returns the local user's id and display name.
func (c *Controller) Self() (id, name string) {
	return c.selfID, c.selfName
}

// SendText sends a text message: the timeline shows it immediately in the
// sending state, and the persistence call confirms or fails it.
func (c *Controller) SendText(ctx context.Context, text string) (string, error) {
	conv := c.activeConv()
	if conv == nil {
		return "", ErrNoActiveConversation
	}
	c.localTyping.Stop()

	msg := store.Message{
		ClientID:       uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       c.selfID,
		ReceiverID:     conv.ParticipantID,
		Text:           text,
		MessageType:    store.MessageTypeText,
		SendState:      store.SendStateSending,
		CreatedAt:      c.now().UnixMilli(),
	}
	c.dispatch(ctx, conv, msg)
	return msg.ClientID, nil
}

// SendAttachment validates and uploads the file, then sends a message
// carrying the attachment. Validation or upload failure aborts before any
// message enters the timeline.
func (c *Controller) SendAttachment(ctx context.Context, f attach.File, onProgress func(float64)) (string, error) {
	conv := c.activeConv()
	if conv == nil {
		return "", ErrNoActiveConversation
	}

	res, err := c.attachments.Process(ctx, f, onProgress)
	if err != nil {
		return "", err
	}

	msg := store.Message{
		ClientID:           uuid.NewString(),
		ConversationID:     conv.ID,
		SenderID:           c.selfID,
		ReceiverID:         conv.ParticipantID,
		MessageType:        res.MessageType,
		AttachmentURL:      res.URL,
		AttachmentFileName: res.FileName,
		SendState:          store.SendStateSending,
		CreatedAt:          c.now().UnixMilli(),
	}
	c.dispatch(ctx, conv, msg)
	return msg.ClientID, nil
}

// dispatch runs the optimistic send: timeline and cache first, then the
// persistence call settles the entry either way.
func (c *Controller) dispatch(ctx context.Context, conv *store.Conversation, msg store.Message) {
	c.engine.IngestLocalSend(msg, c.now())
	if err := c.db.UpsertMessage(&msg); err != nil {
		c.logger.Warn("optimistic cache write failed", zap.Error(err))
	}

	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.sendTimeout)
		defer cancel()

		authoritative, err := c.api.SendMessage(sendCtx, backend.SendRequest{
			ConversationID:     msg.ConversationID,
			ReceiverID:         msg.ReceiverID,
			MessageText:        msg.Text,
			MessageType:        msg.MessageType,
			AttachmentURL:      msg.AttachmentURL,
			AttachmentFileName: msg.AttachmentFileName,
		})
		if err != nil {
			c.logger.Warn("send failed", zap.String("client_id", msg.ClientID), zap.Error(err))
			c.engine.Fail(msg.ConversationID, msg.ClientID)
			if dbErr := c.db.MarkMessageFailed(msg.ConversationID, msg.ClientID); dbErr != nil {
				c.logger.Warn("failed-state cache write failed", zap.Error(dbErr))
			}
			return
		}

		c.engine.Confirm(msg.ConversationID, msg.ClientID, *authoritative)
		if err := c.db.ConfirmMessage(msg.ConversationID, msg.ClientID, authoritative); err != nil {
			c.logger.Warn("confirm cache write failed", zap.Error(err))
		}
		c.settleConversation(conv, authoritative)
	}()
}

// settleConversation updates the list projection after a successful send,
// promoting a pending conversation to a persisted one.
func (c *Controller) settleConversation(conv *store.Conversation, msg *store.Message) {
	preview := msg.Text
	if preview == "" {
		preview = msg.AttachmentFileName
	}
	update := *conv
	update.Pending = false
	update.LastMessage = preview
	update.LastMessageAt = msg.CreatedAt
	if err := c.db.UpsertConversation(&update); err != nil {
		c.logger.Warn("conversation settle failed", zap.Error(err))
	}

	c.mu.Lock()
	if c.active != nil && c.active.ID == conv.ID {
		c.active = &update
	}
	c.mu.Unlock()

	c.publish(bus.Event{
		Kind:      bus.KindConversationUpdated,
		Timestamp: c.now(),
		Payload:   bus.ConversationRef{ConversationID: conv.ID},
	})
}

// InputChanged records a keystroke in the composer, driving the local
// typing machine.
func (c *Controller) InputChanged() {
	c.localTyping.Input(c.now())
}

// StartVoice begins a voice recording in the active conversation.
func (c *Controller) StartVoice(ctx context.Context) error {
	if c.activeConv() == nil {
		return ErrNoActiveConversation
	}
	return c.recorder.Start(ctx, c.now())
}

// StopVoice ends the recording. With send=true the clip goes through the
// attachment pipeline as a voice note and the pipeline outcome settles the
// recorder; with send=false it is discarded.
func (c *Controller) StopVoice(ctx context.Context, send bool, onProgress func(float64)) (string, error) {
	clip, err := c.recorder.Stop(send, c.now())
	if err != nil || clip == nil {
		return "", err
	}
	clientID, err := c.SendAttachment(ctx, attach.File{
		Name:   clip.FileName,
		Size:   int64(len(clip.Data)),
		Reader: bytes.NewReader(clip.Data),
		Voice:  true,
	}, onProgress)
	c.recorder.Settle(err == nil)
	return clientID, err
}

// VoiceState exposes the recorder state and elapsed time for the UI.
func (c *Controller) VoiceState() (voice.State, time.Duration) {
	return c.recorder.State(), c.recorder.Elapsed(c.now())
}

// MarkRead marks the active conversation read across every layer.
func (c *Controller) MarkRead(ctx context.Context) error {
	conv := c.activeConv()
	if conv == nil {
		return ErrNoActiveConversation
	}
	c.readMarks.MarkConversationRead(ctx, conv.ID)
	return nil
}

// Typists returns who is typing in the active conversation.
func (c *Controller) Typists() []string {
	return c.remoteTyping.Typists()
}

// Tick drives every timer: local typing idle, remote typing expiry, and
// optimistic-send confirmation timeout.
func (c *Controller) Tick(now time.Time) {
	c.localTyping.Tick(now)
	c.remoteTyping.Sweep(now)
	for _, failed := range c.engine.ExpireUnconfirmed(now) {
		if err := c.db.MarkMessageFailed(failed.ConversationID, failed.ClientID); err != nil {
			c.logger.Warn("expiry cache write failed", zap.Error(err))
		}
	}
}

// handleEvent folds one decoded push event into the session.
func (c *Controller) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindPushMessage:
		msg, ok := evt.Payload.(*store.Message)
		if !ok {
			return
		}
		c.handlePushMessage(ctx, msg)

	case bus.KindPushTyping:
		if sig, ok := evt.Payload.(bus.TypingSignal); ok {
			c.remoteTyping.Start(sig.ConversationID, sig.UserID, sig.UserName, c.now())
		}

	case bus.KindPushTypingStopped:
		if sig, ok := evt.Payload.(bus.TypingSignal); ok {
			c.remoteTyping.Stop(sig.ConversationID, sig.UserID)
		}

	case bus.KindPushMessageRead:
		if sig, ok := evt.Payload.(bus.ReadSignal); ok {
			c.readMarks.HandleRemoteRead(sig.ConversationID, sig.ReaderID)
		}

	case bus.KindPushPresence:
		if sig, ok := evt.Payload.(bus.PresenceSignal); ok {
			c.handlePresence(sig)
		}
	}
}

// handlePresence records the participant's online flag on their conversation
// and refreshes the active selection when it is the one affected.
func (c *Controller) handlePresence(sig bus.PresenceSignal) {
	conversationID := convo.Key(c.selfID, sig.UserID)
	if err := c.db.SetOnline(conversationID, sig.Online); err != nil {
		c.logger.Warn("presence cache write failed", zap.Error(err))
	}

	c.mu.Lock()
	if c.active != nil && c.active.ID == conversationID {
		update := *c.active
		update.IsOnline = sig.Online
		c.active = &update
	}
	c.mu.Unlock()

	c.publish(bus.Event{
		Kind:      bus.KindConversationUpdated,
		Timestamp: c.now(),
		Payload:   bus.ConversationRef{ConversationID: conversationID},
	})
}

// handlePushMessage routes an incoming message: the active conversation's
// timeline absorbs it and is immediately marked read; any other
// conversation only updates the cached list projection.
func (c *Controller) handlePushMessage(ctx context.Context, msg *store.Message) {
	if err := c.db.UpsertMessage(msg); err != nil {
		c.logger.Warn("push cache write failed", zap.Error(err))
	}

	preview := msg.Text
	if preview == "" {
		preview = msg.AttachmentFileName
	}
	if err := c.db.TouchConversation(msg.ConversationID, preview, msg.CreatedAt); err != nil {
		c.logger.Warn("conversation touch failed", zap.Error(err))
	}

	conv := c.activeConv()
	if conv != nil && conv.ID == msg.ConversationID {
		c.engine.IngestPush(*msg)
		if msg.SenderID != c.selfID {
			c.readMarks.MarkConversationRead(ctx, msg.ConversationID)
		}
		return
	}

	if msg.SenderID != c.selfID {
		if err := c.db.IncrementUnread(msg.ConversationID); err != nil {
			c.logger.Warn("unread increment failed", zap.Error(err))
		}
	}
	c.publish(bus.Event{
		Kind:      bus.KindConversationUpdated,
		Timestamp: c.now(),
		Payload:   bus.ConversationRef{ConversationID: msg.ConversationID},
	})
}

func (c *Controller) activeConv() *store.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) publish(evt bus.Event) {
	if c.bus != nil {
		c.bus.Publish(evt)
	}
}
