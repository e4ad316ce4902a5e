package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Syam916/chitrasethu-sub002/internal/bus"
	"github.com/Syam916/chitrasethu-sub002/internal/store"
)

// frame is the wire envelope on the realtime channel, both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound event names.
const (
	evNewMessage    = "new_message"
	evTyping        = "user_typing"
	evTypingStopped = "user_stopped_typing"
	evMessageRead   = "message_read"
	evUserOnline    = "user_online"
	evUserOffline   = "user_offline"
)

// Outbound command names.
const (
	cmdJoin          = "join_conversation"
	cmdLeave         = "leave_conversation"
	cmdMarkRead      = "mark_as_read"
	cmdTypingStarted = "typing_started"
	cmdTypingStopped = "typing_stopped"
)

type wirePushMessage struct {
	ID                 string `json:"id"`
	ConversationID     string `json:"conversationId"`
	SenderID           string `json:"senderId"`
	ReceiverID         string `json:"receiverId"`
	Text               string `json:"text"`
	MessageType        string `json:"messageType"`
	AttachmentURL      string `json:"attachmentUrl,omitempty"`
	AttachmentFileName string `json:"attachmentFileName,omitempty"`
	IsRead             bool   `json:"isRead"`
	CreatedAt          int64  `json:"createdAt"`
}

type wireTyping struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
}

type wireRead struct {
	ConversationID string `json:"conversationId"`
	ReaderID       string `json:"readerId"`
}

type wirePresence struct {
	UserID string `json:"userId"`
}

type wireRoom struct {
	ConversationID string `json:"conversationId"`
}

type wireTypingCmd struct {
	ConversationID string `json:"conversationId"`
	UserName       string `json:"userName,omitempty"`
}

// decodeFrame translates a raw inbound frame into a bus event. Unknown
// event names return (nil, nil) and are skipped.
func decodeFrame(raw []byte, now time.Time) (*bus.Event, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch f.Event {
	case evNewMessage:
		var w wirePushMessage
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		return &bus.Event{
			Kind:      bus.KindPushMessage,
			Timestamp: now,
			Payload: &store.Message{
				ID:                 w.ID,
				ConversationID:     w.ConversationID,
				SenderID:           w.SenderID,
				ReceiverID:         w.ReceiverID,
				Text:               w.Text,
				MessageType:        w.MessageType,
				AttachmentURL:      w.AttachmentURL,
				AttachmentFileName: w.AttachmentFileName,
				IsRead:             w.IsRead,
				SendState:          store.SendStateSent,
				CreatedAt:          w.CreatedAt,
			},
		}, nil

	case evTyping, evTypingStopped:
		var w wireTyping
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		kind := bus.KindPushTyping
		if f.Event == evTypingStopped {
			kind = bus.KindPushTypingStopped
		}
		return &bus.Event{
			Kind:      kind,
			Timestamp: now,
			Payload: bus.TypingSignal{
				ConversationID: w.ConversationID,
				UserID:         w.UserID,
				UserName:       w.UserName,
			},
		}, nil

	case evMessageRead:
		var w wireRead
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		return &bus.Event{
			Kind:      bus.KindPushMessageRead,
			Timestamp: now,
			Payload: bus.ReadSignal{
				ConversationID: w.ConversationID,
				ReaderID:       w.ReaderID,
			},
		}, nil

	case evUserOnline, evUserOffline:
		var w wirePresence
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		return &bus.Event{
			Kind:      bus.KindPushPresence,
			Timestamp: now,
			Payload: bus.PresenceSignal{
				UserID: w.UserID,
				Online: f.Event == evUserOnline,
			},
		}, nil
	}
	return nil, nil
}

func encodeFrame(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		raw = b
	}
	return json.Marshal(frame{Event: event, Data: raw})
}
