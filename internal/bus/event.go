package bus

import "time"

// Kind identifies an event variant published on the bus. Kinds are
// namespaced with dot-separated prefixes so subscribers can filter on
// "push.", "timeline.", "session." and so on.
type Kind string

const (
	// Transport-originated events (decoded realtime frames).
	KindPushMessage       Kind = "push.message"        // payload: *store.Message
	KindPushTyping        Kind = "push.typing_started" // payload: TypingSignal
	KindPushTypingStopped Kind = "push.typing_stopped" // payload: TypingSignal
	KindPushMessageRead   Kind = "push.message_read"   // payload: ReadSignal
	KindPushPresence      Kind = "push.presence"       // payload: PresenceSignal

	// Transport connectivity.
	KindTransportConnected    Kind = "transport.connected"
	KindTransportDisconnected Kind = "transport.disconnected"

	// Reconciliation engine events.
	KindTimelineChanged Kind = "timeline.changed"        // payload: TimelineRef
	KindMessageFailed   Kind = "timeline.message_failed" // payload: FailedSend

	// Conversation list projection.
	KindConversationUpdated Kind = "conversation.updated" // payload: ConversationRef

	// Typing indicator set for the active conversation.
	KindTypingChanged Kind = "typing.changed" // payload: ConversationRef

	// Session controller status.
	KindStatusChanged Kind = "session.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Payload   any
}

// TypingSignal is the payload for typing start/stop events.
type TypingSignal struct {
	ConversationID string
	UserID         string
	UserName       string
}

// ReadSignal is the payload for remote read-receipt events.
type ReadSignal struct {
	ConversationID string
	ReaderID       string
}

// PresenceSignal is the payload for participant online/offline events.
type PresenceSignal struct {
	UserID string
	Online bool
}

// TimelineRef points at a conversation whose timeline changed.
type TimelineRef struct {
	ConversationID string
}

// FailedSend identifies an optimistic entry whose confirmation never arrived.
type FailedSend struct {
	ConversationID string
	ClientID       string
}

// ConversationRef points at a conversation list entry that changed.
type ConversationRef struct {
	ConversationID string
}
