package orders

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusConfirmed Status = "CONFIRMED" // payment succeeded, stock deducted
	StatusCancelled Status = "CANCELLED" // abandoned or payment failed
	StatusFailed    Status = "FAILED"    // paid but unfulfillable; manual review only
)

var validNext = map[Status]map[Status]bool{
	StatusDraft:     {StatusConfirmed: true, StatusCancelled: true, StatusFailed: true},
	StatusConfirmed: {},
	StatusCancelled: {},
	StatusFailed:    {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}
