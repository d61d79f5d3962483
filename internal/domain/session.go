package domain

import (
	"time"
)

// Suspension tags which specialist a session is paused after. While a
// suspension is active the next inbound utterance is a resume value; it is
// appended to the history and re-routed rather than handed blindly back to
// the same specialist.
type Suspension string

const (
	SuspensionNone          Suspension = ""
	SuspensionAfterOrder    Suspension = "after-order"
	SuspensionAfterPizza    Suspension = "after-pizza"
	SuspensionAfterDelivery Suspension = "after-delivery"
)

// Active reports whether the session is paused waiting for the user.
func (s Suspension) Active() bool { return s != SuspensionNone }

// Session holds per-connection conversation state. It is owned exclusively
// by one connection's goroutine for the lifetime of that connection and is
// never shared, so no locking is needed.
type Session struct {
	ThreadID   string
	CallerID   string
	Messages   []Message
	Slots      map[string]string
	Suspension Suspension
	StartedAt  time.Time
}

// NewSession creates an empty session in the Idle state.
func NewSession(threadID, callerID string) *Session {
	return &Session{
		ThreadID:  threadID,
		CallerID:  callerID,
		Slots:     make(map[string]string),
		StartedAt: time.Now(),
	}
}

// Append adds messages to the history. History is append-only; nothing ever
// edits or removes an entry once appended.
func (s *Session) Append(msgs ...Message) {
	s.Messages = append(s.Messages, msgs...)
}

// MergeSlots merges extracted slot values additively. An empty extracted
// value never overwrites an existing value.
func (s *Session) MergeSlots(extracted map[string]string) {
	for k, v := range extracted {
		if v == "" {
			continue
		}
		s.Slots[k] = v
	}
}

// LastAssistantText returns the text of the most recent non-user,
// non-system message, or "" if there is none. This is the reply the
// connection handler speaks.
func (s *Session) LastAssistantText() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		switch s.Messages[i].Role {
		case RoleUser, RoleSystem:
			continue
		default:
			return s.Messages[i].Text
		}
	}
	return ""
}

// SlotsCopy returns a copy of the slot map safe to hand to encoders.
func (s *Session) SlotsCopy() map[string]string {
	out := make(map[string]string, len(s.Slots))
	for k, v := range s.Slots {
		out[k] = v
	}
	return out
}
