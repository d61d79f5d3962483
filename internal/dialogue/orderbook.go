package dialogue

import (
	"strings"
)

// OrderBook records the slot choices a session has made. It is the narrow
// side-effecting tool specialists may invoke; one book belongs to exactly
// one session's machine, so no locking is needed.
type OrderBook struct {
	items    []string
	pizza    string
	delivery string
}

// NewOrderBook creates an empty order book.
func NewOrderBook() *OrderBook {
	return &OrderBook{}
}

// AddItem appends an item to the running order. Duplicate adds of the same
// item in a row are collapsed so a resumed turn does not double-count.
func (b *OrderBook) AddItem(item string) {
	item = strings.TrimSpace(item)
	if item == "" {
		return
	}
	if n := len(b.items); n > 0 && b.items[n-1] == item {
		return
	}
	b.items = append(b.items, item)
}

// SetPizza records the chosen pizza type.
func (b *OrderBook) SetPizza(t string) {
	if t = strings.TrimSpace(t); t != "" {
		b.pizza = t
	}
}

// SetDelivery records the chosen delivery option.
func (b *OrderBook) SetDelivery(c string) {
	if c = strings.TrimSpace(c); c != "" {
		b.delivery = c
	}
}

// Items returns the recorded order items.
func (b *OrderBook) Items() []string {
	out := make([]string, len(b.items))
	copy(out, b.items)
	return out
}

// Summary renders the book for logs and diagnostics.
func (b *OrderBook) Summary() string {
	var sb strings.Builder
	if b.pizza != "" {
		sb.WriteString("pizza=" + b.pizza)
	}
	if len(b.items) > 0 {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString("items=" + strings.Join(b.items, ","))
	}
	if b.delivery != "" {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString("delivery=" + b.delivery)
	}
	return sb.String()
}
