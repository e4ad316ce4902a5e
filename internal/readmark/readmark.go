// Package readmark coordinates read receipts across the in-memory timeline,
// the local cache, the persistence API, and the realtime transport.
package readmark

import (
	"context"

	"go.uber.org/zap"

	"github.com/Syam916/chitrasethu-sub002/internal/store"
	"github.com/Syam916/chitrasethu-sub002/internal/timeline"
)

// Acker persists the read acknowledgement server-side.
type Acker interface {
	MarkRead(ctx context.Context, conversationID string) error
}

// Notifier tells the other participant, via the realtime channel, that
// their messages were read.
type Notifier interface {
	MarkAsRead(conversationID string) error
}

// Coordinator fans a read event out to every layer that tracks read state.
type Coordinator struct {
	selfID   string
	engine   *timeline.Engine
	db       *store.DB
	acker    Acker
	notifier Notifier
	logger   *zap.Logger
}

// New creates a read receipt coordinator.
func New(selfID string, engine *timeline.Engine, db *store.DB, acker Acker, notifier Notifier, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		selfID:   selfID,
		engine:   engine,
		db:       db,
		acker:    acker,
		notifier: notifier,
		logger:   logger,
	}
}

// MarkConversationRead records that the local user has read the
// conversation: inbound messages flip to read everywhere, the unread badge
// resets, and both the API and the realtime channel are told. Remote
// failures are logged, never surfaced; the local flip already happened and
// the server converges on the next sync.
func (c *Coordinator) MarkConversationRead(ctx context.Context, conversationID string) {
	c.engine.MarkInboundRead(conversationID)

	if err := c.db.MarkInboundRead(conversationID, c.selfID); err != nil {
		c.logger.Warn("cache read flip failed", zap.String("conversation", conversationID), zap.Error(err))
	}
	if err := c.db.ResetUnread(conversationID); err != nil {
		c.logger.Warn("unread reset failed", zap.String("conversation", conversationID), zap.Error(err))
	}

	if c.acker != nil {
		if err := c.acker.MarkRead(ctx, conversationID); err != nil {
			c.logger.Warn("read ack failed", zap.String("conversation", conversationID), zap.Error(err))
		}
	}
	if c.notifier != nil {
		if err := c.notifier.MarkAsRead(conversationID); err != nil {
			c.logger.Debug("read notify failed", zap.String("conversation", conversationID), zap.Error(err))
		}
	}
}

// HandleRemoteRead reacts to the other participant reading the
// conversation: our outbound messages flip to read.
func (c *Coordinator) HandleRemoteRead(conversationID, readerID string) {
	if readerID == c.selfID {
		return
	}
	c.engine.MarkOutboundRead(conversationID)
	if err := c.db.MarkOutboundRead(conversationID, c.selfID); err != nil {
		c.logger.Warn("cache outbound read flip failed", zap.String("conversation", conversationID), zap.Error(err))
	}
}
