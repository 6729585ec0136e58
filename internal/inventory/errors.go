package inventory

import "fmt"

// ShortageError reports which product could not be reserved and how much was
// left. It matches ErrInsufficientStock under errors.Is.
type ShortageError struct {
	ProductID string
	Requested int
	Available int
}

func (e *ShortageError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *ShortageError) Unwrap() error { return ErrInsufficientStock }
