package stock

import "time"

// VariantStock is the persisted ledger record for one product size.
// Invariant: 0 <= Reserved <= Stock at all times.
type VariantStock struct {
	ProductID string
	Size      string
	Stock     int
	Reserved  int
	UpdatedAt time.Time
}

// Available is what an un-held checkout may still claim.
func (v VariantStock) Available() int { return v.Stock - v.Reserved }

// Summary feeds the health report.
type Summary struct {
	Variants   int
	LowStock   int // available below the configured threshold (but > 0)
	OutOfStock int // available == 0
}
