package store

// Conversation represents a direct-message thread with one other participant.
type Conversation struct {
	ID                string
	ParticipantID     string
	ParticipantName   string
	ParticipantAvatar string
	LastMessage       string
	LastMessageAt     int64
	UnreadCount       int
	IsOnline          bool
	Pending           bool
}

// Message send states for locally-issued messages. Remote messages carry
// an empty send state.
const (
	SendStateSending = "sending"
	SendStateSent    = "sent"
	SendStateFailed  = "failed"
)

// Message type discriminators. Voice notes recorded here travel as
// MessageTypeVoice; audio attachments from other clients may arrive as
// MessageTypeFile with the filename carrying the audio extension.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
	MessageTypeVoice = "voice"
)

// Message represents one timeline entry. ID is the server-assigned identity
// and is empty for optimistic entries that have not been confirmed yet;
// ClientID is the locally generated id that bridges the gap.
type Message struct {
	ID                 string
	ClientID           string
	ConversationID     string
	SenderID           string
	ReceiverID         string
	Text               string
	MessageType        string
	AttachmentURL      string
	AttachmentFileName string
	IsRead             bool
	SendState          string
	CreatedAt          int64
}

// Key returns the deduplication key for the cache: the server id once
// assigned, otherwise the client id.
func (m *Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.ClientID
}
