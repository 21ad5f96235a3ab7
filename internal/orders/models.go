package orders

import "time"

type Item struct {
	ProductID  string `json:"product_id"`
	Size       string `json:"size"`
	Qty        int    `json:"qty"`
	PriceCents int    `json:"price_cents"`
}

// Order is the durable record of a purchase. It is created as a draft before
// payment and transitions exactly once on the terminal webhook outcome.
type Order struct {
	ID         string
	SessionID  string
	UserRef    string // user id or guest email
	Items      []Item
	TotalCents int
	Status     Status
	PaymentRef string // gateway transaction id correlating webhook to order
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (o *Order) Total() int {
	total := 0
	for _, it := range o.Items {
		total += it.PriceCents * it.Qty
	}
	return total
}
