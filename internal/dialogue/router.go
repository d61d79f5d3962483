// Package dialogue implements the turn-based conversation core: a supervisor
// router that decides which specialist handles each utterance, the specialist
// handlers themselves, and the session state machine that threads history and
// suspension state across turns.
package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/avoliek/slicetalk/internal/domain"
)

// Target identifies where a turn is routed.
type Target string

const (
	TargetOrder    Target = "order"
	TargetPizza    Target = "pizza"
	TargetDelivery Target = "delivery"
	// TargetDirect means the supervisor answers itself, no specialist.
	TargetDirect Target = "direct"
)

// Slot names extracted by the router.
const (
	SlotSelectedItem   = "selected_item"
	SlotDeliveryOption = "delivery_option"
)

// Decision is the router's per-turn output. It is ephemeral: produced once
// per turn and never persisted.
type Decision struct {
	Target     Target
	Slots      map[string]string
	DirectText string
}

// RoutingError marks an unavailable classification call (timeout or
// transport error). Session state is guaranteed unchanged when it is
// returned; the caller may retry the same inbound turn.
type RoutingError struct {
	Err error
}

func (e *RoutingError) Error() string { return fmt.Sprintf("routing failure: %v", e.Err) }
func (e *RoutingError) Unwrap() error { return e.Err }

// Completer is the opaque LLM invocation contract the dialogue core depends
// on.
type Completer interface {
	Complete(ctx context.Context, system string, history []domain.Message) (string, error)
	CompleteJSON(ctx context.Context, system string, history []domain.Message, out any) error
}

// Router asks the LLM for a structured routing decision over the full
// conversation history.
type Router struct {
	llm Completer
}

// NewRouter creates a turn router.
func NewRouter(llm Completer) *Router {
	return &Router{llm: llm}
}

type supervisorDecision struct {
	NextAgent      string `json:"next_agent"`
	SelectedItem   string `json:"selected_item"`
	DeliveryOption string `json:"delivery_option"`
	Response       string `json:"response"`
}

// Route classifies the latest utterance given the history. Ambiguous or
// unrecognized classifications fall back to a direct clarification reply,
// never to an error.
func (r *Router) Route(ctx context.Context, history []domain.Message) (*Decision, error) {
	var raw supervisorDecision
	if err := r.llm.CompleteJSON(ctx, supervisorPrompt, history, &raw); err != nil {
		return nil, &RoutingError{Err: err}
	}

	decision := &Decision{
		Slots: map[string]string{
			SlotSelectedItem:   strings.TrimSpace(raw.SelectedItem),
			SlotDeliveryOption: strings.TrimSpace(raw.DeliveryOption),
		},
	}

	switch Target(strings.TrimSpace(strings.ToLower(raw.NextAgent))) {
	case TargetOrder:
		decision.Target = TargetOrder
	case TargetPizza:
		decision.Target = TargetPizza
	case TargetDelivery:
		decision.Target = TargetDelivery
	default:
		decision.Target = TargetDirect
		decision.DirectText = strings.TrimSpace(raw.Response)
		if decision.DirectText == "" {
			decision.DirectText = clarificationReply
		}
	}

	slog.Debug("routing decision", "target", decision.Target,
		"selected_item", decision.Slots[SlotSelectedItem],
		"delivery_option", decision.Slots[SlotDeliveryOption])
	return decision, nil
}
