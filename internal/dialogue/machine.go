package dialogue

import (
	"context"
	"log/slog"
	"slices"

	"github.com/avoliek/slicetalk/internal/domain"
)

// roleSupervisor attributes routing announcements in the history.
const roleSupervisor = domain.Role("supervisor")

// Machine is the per-connection session state machine. It owns the session
// and its order book exclusively; one machine serves exactly one connection,
// so no locking is needed.
//
// States are Idle (no suspension) and AwaitingUser(specialist). A turn in
// Idle is routed fresh; a turn while suspended is a resume value - it is
// appended as a user message, the suspension is lifted, and routing runs
// again over the extended history. Resuming never returns blindly to the
// suspended specialist.
type Machine struct {
	session     *domain.Session
	book        *OrderBook
	router      *Router
	specialists map[Target]*Specialist
}

// TurnResult describes what one completed turn did to the session.
type TurnResult struct {
	// Appended are the messages this turn added, in order.
	Appended []domain.Message
	Target   Target
	// Suspension is the state entered after this turn.
	Suspension domain.Suspension
	// Reply is the text the connection handler should speak.
	Reply string
}

// NewMachine creates an Idle machine with an empty session.
func NewMachine(llm Completer, threadID, callerID string) *Machine {
	return &Machine{
		session:     domain.NewSession(threadID, callerID),
		book:        NewOrderBook(),
		router:      NewRouter(llm),
		specialists: newSpecialists(llm),
	}
}

// Session exposes the owned session for read access (wire encoding, turn
// logging). Callers must not mutate it.
func (m *Machine) Session() *domain.Session { return m.session }

// Book exposes the order book for diagnostics.
func (m *Machine) Book() *OrderBook { return m.book }

// ProcessTurn runs one inbound utterance through routing and, when routed,
// the chosen specialist. All history mutations are staged and committed only
// after every external call has succeeded, so a RoutingError or specialist
// failure leaves the session exactly as it was and the caller may retry the
// same turn.
func (m *Machine) ProcessTurn(ctx context.Context, text string) (*TurnResult, error) {
	resumed := m.session.Suspension.Active()

	userMsg := domain.Message{Role: domain.RoleUser, Text: text}
	staged := []domain.Message{userMsg}
	history := append(slices.Clone(m.session.Messages), userMsg)

	decision, err := m.router.Route(ctx, history)
	if err != nil {
		return nil, err
	}

	result := &TurnResult{Target: decision.Target}

	if decision.Target == TargetDirect {
		staged = append(staged, domain.Message{Role: domain.RoleAssistant, Text: decision.DirectText})
		result.Suspension = domain.SuspensionNone
		result.Reply = decision.DirectText
	} else {
		sp, ok := m.specialists[decision.Target]
		if !ok {
			// Route already normalizes unknown targets to direct; this
			// guards against a specialist set drifting out of sync.
			return nil, &RoutingError{Err: errUnknownTarget(decision.Target)}
		}
		announcement := domain.Message{Role: roleSupervisor, Text: "Routing to " + sp.Name}
		reply, err := sp.Handle(ctx, append(slices.Clip(history), announcement), decision.Slots, m.book)
		if err != nil {
			return nil, err
		}
		staged = append(staged, announcement, reply)
		result.Suspension = sp.Suspension
		result.Reply = reply.Text
	}

	// Commit. History stays append-only and exactly one suspension point is
	// active afterwards.
	m.session.Append(staged...)
	m.session.MergeSlots(decision.Slots)
	m.session.Suspension = result.Suspension
	result.Appended = staged

	slog.Info("turn processed",
		"thread_id", m.session.ThreadID,
		"target", decision.Target,
		"resumed", resumed,
		"suspension", string(result.Suspension),
		"messages", len(m.session.Messages))
	return result, nil
}

type errUnknownTarget Target

func (e errUnknownTarget) Error() string { return "unknown routing target: " + string(e) }
