// Package timeline implements the message reconciliation engine: it merges
// messages arriving from history fetches, realtime pushes, and local
// optimistic sends into one ordered, duplicate-free timeline per
// conversation.
package timeline

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Syam916/chitrasethu-sub002/internal/bus"
	"github.com/Syam916/chitrasethu-sub002/internal/store"
)

const (
	// DefaultWindow is the heuristic identity window: an unconfirmed local
	// send and a push echo with matching sender, text, and attachment are
	// treated as the same message when their timestamps differ by less
	// than this. Accepted approximation: two genuinely distinct identical
	// messages inside the window would collapse.
	DefaultWindow = 2 * time.Second

	// DefaultConfirmTimeout is how long an optimistic entry waits for its
	// authoritative counterpart before being marked failed.
	DefaultConfirmTimeout = 10 * time.Second
)

// Options tune the reconciliation timers. Zero values use the defaults.
type Options struct {
	Window         time.Duration
	ConfirmTimeout time.Duration
}

// Engine reconciles per-conversation timelines. All operations are fast
// in-memory transformations; a mutex serializes the interleaved callbacks
// (fetch completions, push arrivals, timers) that drive them.
type Engine struct {
	mu             sync.Mutex
	selfID         string
	window         time.Duration
	confirmTimeout time.Duration
	convs          map[string]*timeline
	bus            *bus.Bus
	logger         *zap.Logger
}

type timeline struct {
	entries []*entry
	nextSeq int
}

type entry struct {
	msg store.Message
	// seq is the insertion order, used as the tie-breaker when sorting
	// by timestamp.
	seq int
	// pendingSince is non-zero while an optimistic entry awaits its
	// authoritative counterpart.
	pendingSince time.Time
}

// NewEngine creates a reconciliation engine for the given local user.
func NewEngine(selfID string, opts Options, b *bus.Bus, logger *zap.Logger) *Engine {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = DefaultConfirmTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		selfID:         selfID,
		window:         opts.Window,
		confirmTimeout: opts.ConfirmTimeout,
		convs:          make(map[string]*timeline),
		bus:            b,
		logger:         logger,
	}
}

// Track starts maintaining a timeline for the given conversation.
func (e *Engine) Track(conversationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.convs[conversationID]; !ok {
		e.convs[conversationID] = &timeline{}
	}
}

// Drop discards the timeline for a conversation that is no longer active.
func (e *Engine) Drop(conversationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.convs, conversationID)
}

// Tracked reports whether a timeline is maintained for the conversation.
func (e *Engine) Tracked(conversationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.convs[conversationID]
	return ok
}

// IngestFetchPage merges a page of history-fetch results.
func (e *Engine) IngestFetchPage(conversationID string, msgs []store.Message) {
	e.mu.Lock()
	tl, ok := e.convs[conversationID]
	if !ok {
		e.mu.Unlock()
		return
	}
	changed := false
	for _, m := range msgs {
		if tl.merge(m, e.selfID, e.window) {
			changed = true
		}
	}
	e.mu.Unlock()
	if changed {
		e.publishChanged(conversationID)
	}
}

// IngestPush merges one realtime-pushed message. Pushes for untracked
// conversations are ignored here; the conversation list projection is the
// caller's concern.
func (e *Engine) IngestPush(msg store.Message) {
	e.mu.Lock()
	tl, ok := e.convs[msg.ConversationID]
	if !ok {
		e.mu.Unlock()
		return
	}
	changed := tl.merge(msg, e.selfID, e.window)
	e.mu.Unlock()
	if changed {
		e.publishChanged(msg.ConversationID)
	}
}

// IngestLocalSend appends an optimistic entry for a just-issued send. The
// message must carry a ClientID and no server ID yet.
func (e *Engine) IngestLocalSend(msg store.Message, now time.Time) {
	e.mu.Lock()
	tl, ok := e.convs[msg.ConversationID]
	if !ok {
		e.mu.Unlock()
		return
	}
	// The push echo may already be in the timeline if it outran the local
	// append; absorb into it instead of duplicating.
	for _, en := range tl.entries {
		if en.msg.ID == "" || en.msg.ClientID != "" {
			continue
		}
		if en.msg.SenderID != msg.SenderID || en.msg.Text != msg.Text || en.msg.AttachmentURL != msg.AttachmentURL {
			continue
		}
		if absMillis(en.msg.CreatedAt-msg.CreatedAt) < e.window.Milliseconds() {
			en.msg.ClientID = msg.ClientID
			en.msg.SendState = store.SendStateSent
			e.mu.Unlock()
			e.publishChanged(msg.ConversationID)
			return
		}
	}
	msg.SendState = store.SendStateSending
	tl.append(msg, now)
	tl.sort()
	e.mu.Unlock()
	e.publishChanged(msg.ConversationID)
}

// Confirm replaces the optimistic entry identified by clientID with its
// authoritative counterpart, preserving its place in the timeline.
func (e *Engine) Confirm(conversationID, clientID string, authoritative store.Message) {
	e.mu.Lock()
	tl, ok := e.convs[conversationID]
	if !ok {
		e.mu.Unlock()
		return
	}
	changed := false
	for _, en := range tl.entries {
		if en.msg.ClientID == clientID && en.msg.ID == "" {
			read := en.msg.IsRead || authoritative.IsRead
			en.msg = authoritative
			en.msg.ClientID = clientID
			en.msg.IsRead = read
			en.msg.SendState = store.SendStateSent
			en.pendingSince = time.Time{}
			changed = true
			break
		}
	}
	if !changed {
		// Confirmation raced with a push echo that already reconciled the
		// entry; merge the authoritative copy idempotently instead.
		changed = tl.merge(authoritative, e.selfID, e.window)
	}
	if changed {
		tl.sort()
	}
	e.mu.Unlock()
	if changed {
		e.publishChanged(conversationID)
	}
}

// Fail marks the optimistic entry identified by clientID as failed. Failed
// entries stay visible for retry and are excluded from heuristic matching.
func (e *Engine) Fail(conversationID, clientID string) {
	e.mu.Lock()
	tl, ok := e.convs[conversationID]
	changed := false
	if ok {
		for _, en := range tl.entries {
			if en.msg.ClientID == clientID && en.msg.ID == "" {
				en.msg.SendState = store.SendStateFailed
				en.pendingSince = time.Time{}
				changed = true
				break
			}
		}
	}
	e.mu.Unlock()
	if changed {
		e.publishChanged(conversationID)
	}
}

// ExpireUnconfirmed marks optimistic entries older than the confirmation
// timeout as failed and returns their identities.
func (e *Engine) ExpireUnconfirmed(now time.Time) []bus.FailedSend {
	e.mu.Lock()
	var failed []bus.FailedSend
	for convID, tl := range e.convs {
		for _, en := range tl.entries {
			if en.pendingSince.IsZero() || en.msg.ID != "" {
				continue
			}
			if now.Sub(en.pendingSince) >= e.confirmTimeout {
				en.msg.SendState = store.SendStateFailed
				en.pendingSince = time.Time{}
				failed = append(failed, bus.FailedSend{ConversationID: convID, ClientID: en.msg.ClientID})
			}
		}
	}
	e.mu.Unlock()

	for _, f := range failed {
		e.logger.Warn("send confirmation timed out",
			zap.String("conversation_id", f.ConversationID),
			zap.String("client_id", f.ClientID))
		if e.bus != nil {
			e.bus.Publish(bus.Event{Kind: bus.KindMessageFailed, Timestamp: now, Payload: f})
		}
		e.publishChanged(f.ConversationID)
	}
	return failed
}

// MarkInboundRead flips IsRead on every message not authored by the local
// user. Monotonic by construction.
func (e *Engine) MarkInboundRead(conversationID string) {
	e.markRead(conversationID, false)
}

// MarkOutboundRead flips IsRead on the local user's own messages after a
// remote read receipt.
func (e *Engine) MarkOutboundRead(conversationID string) {
	e.markRead(conversationID, true)
}

func (e *Engine) markRead(conversationID string, own bool) {
	e.mu.Lock()
	tl, ok := e.convs[conversationID]
	changed := false
	if ok {
		for _, en := range tl.entries {
			if (en.msg.SenderID == e.selfID) == own && !en.msg.IsRead {
				en.msg.IsRead = true
				changed = true
			}
		}
	}
	e.mu.Unlock()
	if changed {
		e.publishChanged(conversationID)
	}
}

// Messages returns a copy of the reconciled timeline in display order.
func (e *Engine) Messages(conversationID string) []store.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	tl, ok := e.convs[conversationID]
	if !ok {
		return nil
	}
	msgs := make([]store.Message, len(tl.entries))
	for i, en := range tl.entries {
		msgs[i] = en.msg
	}
	return msgs
}

func (e *Engine) publishChanged(conversationID string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{
		Kind:      bus.KindTimelineChanged,
		Timestamp: time.Now(),
		Payload:   bus.TimelineRef{ConversationID: conversationID},
	})
}

// merge applies the identity rules to one incoming message. Reports whether
// the timeline changed.
func (tl *timeline) merge(msg store.Message, selfID string, window time.Duration) bool {
	// Rule 1: strong identity on the server-assigned id. The existing
	// entry keeps its insertion slot; fields are refreshed and the read
	// flag only moves forward.
	if msg.ID != "" {
		for _, en := range tl.entries {
			if en.msg.ID == msg.ID {
				return en.update(msg)
			}
		}
	}

	// Rule 2: heuristic identity, only for the local user's own messages:
	// a push echo of a just-sent message may arrive before the send
	// confirmation carries the shared id. Failed entries are excluded so
	// an unrelated later message cannot silently replace them.
	if msg.ID != "" && msg.SenderID == selfID {
		for _, en := range tl.entries {
			if en.msg.ID != "" || en.msg.SendState == store.SendStateFailed {
				continue
			}
			if en.msg.SenderID != selfID || en.msg.Text != msg.Text || en.msg.AttachmentURL != msg.AttachmentURL {
				continue
			}
			if absMillis(en.msg.CreatedAt-msg.CreatedAt) < window.Milliseconds() {
				clientID := en.msg.ClientID
				read := en.msg.IsRead || msg.IsRead
				en.msg = msg
				en.msg.ClientID = clientID
				en.msg.IsRead = read
				en.msg.SendState = store.SendStateSent
				en.pendingSince = time.Time{}
				tl.sort()
				return true
			}
		}
	}

	// Rule 3: a genuinely new message.
	tl.append(msg, time.Time{})
	tl.sort()
	return true
}

// update refreshes an entry from an authoritative copy of the same message.
func (en *entry) update(msg store.Message) bool {
	read := en.msg.IsRead || msg.IsRead
	clientID := en.msg.ClientID
	before := en.msg
	en.msg = msg
	en.msg.ClientID = clientID
	en.msg.IsRead = read
	if before.SendState == store.SendStateSending || before.SendState == store.SendStateSent {
		en.msg.SendState = store.SendStateSent
	}
	en.pendingSince = time.Time{}
	return before != en.msg
}

func (tl *timeline) append(msg store.Message, pendingSince time.Time) {
	tl.entries = append(tl.entries, &entry{
		msg:          msg,
		seq:          tl.nextSeq,
		pendingSince: pendingSince,
	})
	tl.nextSeq++
}

// sort orders by CreatedAt ascending, ties broken by insertion order.
func (tl *timeline) sort() {
	sort.SliceStable(tl.entries, func(i, j int) bool {
		if tl.entries[i].msg.CreatedAt != tl.entries[j].msg.CreatedAt {
			return tl.entries[i].msg.CreatedAt < tl.entries[j].msg.CreatedAt
		}
		return tl.entries[i].seq < tl.entries[j].seq
	})
}

func absMillis(d int64) int64 {
	if d < 0 {
		return -d
	}
	return d
}
