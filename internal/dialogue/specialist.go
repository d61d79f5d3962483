package dialogue

import (
	"context"
	"fmt"
	"strings"

	"github.com/avoliek/slicetalk/internal/domain"
)

// Specialist handles one domain task. It formats its role instruction,
// invokes the LLM with the instruction prepended to history, and tags the
// reply with its own name. Specialists never synthesize speech themselves;
// delivering the reply as audio or text is the connection handler's concern.
type Specialist struct {
	// Name is the lowercase identifier used as the reply message role.
	Name string
	// Suspension is entered after this specialist replies.
	Suspension domain.Suspension

	template string
	llm      Completer
	record   func(book *OrderBook, slots map[string]string)
}

func newSpecialists(llm Completer) map[Target]*Specialist {
	return map[Target]*Specialist{
		TargetOrder: {
			Name:       "order",
			Suspension: domain.SuspensionAfterOrder,
			template:   orderPrompt,
			llm:        llm,
			record: func(book *OrderBook, slots map[string]string) {
				book.AddItem(slots[SlotSelectedItem])
			},
		},
		TargetPizza: {
			Name:       "pizza",
			Suspension: domain.SuspensionAfterPizza,
			template:   pizzaPrompt,
			llm:        llm,
			record: func(book *OrderBook, slots map[string]string) {
				book.SetPizza(slots[SlotSelectedItem])
			},
		},
		TargetDelivery: {
			Name:       "delivery",
			Suspension: domain.SuspensionAfterDelivery,
			template:   deliveryPrompt,
			llm:        llm,
			record: func(book *OrderBook, slots map[string]string) {
				book.SetDelivery(slots[SlotDeliveryOption])
			},
		},
	}
}

// instruction resolves the {context} placeholder. Nothing fills it yet.
func (sp *Specialist) instruction() string {
	return strings.ReplaceAll(sp.template, "{context}", "")
}

// Handle produces the specialist's reply for the given history and records
// any slot choice into the order book. The reply is always plain text.
func (sp *Specialist) Handle(ctx context.Context, history []domain.Message, slots map[string]string, book *OrderBook) (domain.Message, error) {
	reply, err := sp.llm.Complete(ctx, sp.instruction(), history)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%s specialist: %w", sp.Name, err)
	}
	if sp.record != nil && book != nil {
		sp.record(book, slots)
	}
	return domain.Message{Role: domain.Role(sp.Name), Text: strings.TrimSpace(reply)}, nil
}
