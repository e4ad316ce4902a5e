// Package typing implements the typing indicator state machines: a local
// one that debounces the user's own keystrokes into start/stop signals, and
// a remote one that tracks which participants are typing with automatic
// expiry.
package typing

import (
	"sync"
	"time"

	"github.com/Syam916/chitrasethu-sub002/internal/bus"
)

// Notifier carries typing signals to the realtime transport.
type Notifier interface {
	StartTyping(conversationID, userName string) error
	StopTyping(conversationID string) error
}

// Local is the Idle -> Typing -> Idle machine driven by the user's input.
// The start signal is emitted once per episode; every keystroke re-arms the
// idle timer.
type Local struct {
	mu             sync.Mutex
	notifier       Notifier
	selfName       string
	debounce       time.Duration
	conversationID string
	typing         bool
	deadline       time.Time
}

// NewLocal creates the local typing machine.
func NewLocal(notifier Notifier, selfName string, debounce time.Duration) *Local {
	return &Local{
		notifier: notifier,
		selfName: selfName,
		debounce: debounce,
	}
}

// SetConversation switches the machine to a new conversation, force-stopping
// any in-progress typing episode first.
func (l *Local) SetConversation(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
	l.conversationID = conversationID
}

// Input records a keystroke: enters Typing (emitting start once) and
// re-arms the idle timer.
func (l *Local) Input(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conversationID == "" {
		return
	}
	if !l.typing {
		l.typing = true
		_ = l.notifier.StartTyping(l.conversationID, l.selfName)
	}
	l.deadline = now.Add(l.debounce)
}

// Tick fires the idle timer: past the deadline the machine returns to Idle
// and emits stop.
func (l *Local) Tick(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.typing && !now.Before(l.deadline) {
		l.stopLocked()
	}
}

// Stop ends the typing episode immediately (explicit send or conversation
// switch).
func (l *Local) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
}

// Typing reports whether an episode is in progress.
func (l *Local) Typing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.typing
}

func (l *Local) stopLocked() {
	if l.typing {
		l.typing = false
		_ = l.notifier.StopTyping(l.conversationID)
	}
}

type signal struct {
	userName  string
	expiresAt time.Time
}

// Remote tracks the set of remote participants currently typing in the
// active conversation. Signals expire automatically if no refresh arrives.
type Remote struct {
	mu             sync.Mutex
	ttl            time.Duration
	conversationID string
	signals        map[string]signal
	bus            *bus.Bus
}

// NewRemote creates the remote typing set with the given signal lifetime.
func NewRemote(ttl time.Duration, b *bus.Bus) *Remote {
	return &Remote{
		ttl:     ttl,
		signals: make(map[string]signal),
		bus:     b,
	}
}

// SetConversation scopes the set to a new conversation, clearing any
// leftover signals.
func (r *Remote) SetConversation(conversationID string) {
	r.mu.Lock()
	changed := len(r.signals) > 0
	r.conversationID = conversationID
	r.signals = make(map[string]signal)
	r.mu.Unlock()
	if changed {
		r.publish(conversationID)
	}
}

// Start inserts or refreshes a typing signal. Signals for other
// conversations are ignored.
func (r *Remote) Start(conversationID, userID, userName string, now time.Time) {
	r.mu.Lock()
	if conversationID != r.conversationID {
		r.mu.Unlock()
		return
	}
	_, present := r.signals[userID]
	r.signals[userID] = signal{userName: userName, expiresAt: now.Add(r.ttl)}
	r.mu.Unlock()
	if !present {
		r.publish(conversationID)
	}
}

// Stop removes a typing signal on an explicit stop event.
func (r *Remote) Stop(conversationID, userID string) {
	r.mu.Lock()
	if conversationID != r.conversationID {
		r.mu.Unlock()
		return
	}
	_, present := r.signals[userID]
	delete(r.signals, userID)
	r.mu.Unlock()
	if present {
		r.publish(conversationID)
	}
}

// Sweep drops expired signals.
func (r *Remote) Sweep(now time.Time) {
	r.mu.Lock()
	changed := false
	for userID, s := range r.signals {
		if !now.Before(s.expiresAt) {
			delete(r.signals, userID)
			changed = true
		}
	}
	conversationID := r.conversationID
	r.mu.Unlock()
	if changed {
		r.publish(conversationID)
	}
}

// Typists returns the names of everyone currently typing.
func (r *Remote) Typists() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, s := range r.signals {
		names = append(names, s.userName)
	}
	return names
}

// Active reports whether the indicator should be visible.
func (r *Remote) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals) > 0
}

func (r *Remote) publish(conversationID string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(bus.Event{
		Kind:      bus.KindTypingChanged,
		Timestamp: time.Now(),
		Payload:   bus.ConversationRef{ConversationID: conversationID},
	})
}
