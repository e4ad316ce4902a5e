// Package convo derives canonical conversation identities for two-party
// threads. The key is symmetric under swap of participants so both sides
// of a conversation resolve to the same room and history.
package convo

import (
	"strconv"

	"github.com/Syam916/chitrasethu-sub002/internal/store"
)

// Key returns the canonical conversation id for two participant ids:
// conv_{min}_{max}. Numeric ids are ordered numerically, anything else
// lexicographically, so the function stays total over arbitrary ids.
func Key(a, b string) string {
	if less(b, a) {
		a, b = b, a
	}
	return "conv_" + a + "_" + b
}

func less(a, b string) bool {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

// Pending synthesizes a conversation for a participant with no existing
// thread. It carries no history and zero unread; it is promoted to a
// persisted conversation on the first successful send.
func Pending(selfID, participantID, participantName, participantAvatar string) *store.Conversation {
	return &store.Conversation{
		ID:                Key(selfID, participantID),
		ParticipantID:     participantID,
		ParticipantName:   participantName,
		ParticipantAvatar: participantAvatar,
		Pending:           true,
	}
}
