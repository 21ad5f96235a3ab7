package stock

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientStock matches any InsufficientStockError via errors.Is.
	ErrInsufficientStock = errors.New("insufficient stock")

	ErrVariantNotFound = errors.New("variant not found")

	// ErrCounterConflict means a SetReserved guard no longer held: a
	// concurrent writer moved the reserved counter between the caller's read
	// and the write.
	ErrCounterConflict = errors.New("reserved counter conflict")
)

// InsufficientStockError carries fresh availability for the caller's error
// message. The availability is read after the conditional update already
// failed; it never participates in the write decision.
type InsufficientStockError struct {
	ProductID string
	Size      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s/%s: requested %d, available %d",
		e.ProductID, e.Size, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }
