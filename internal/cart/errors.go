package cart

import (
	"fmt"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
)

var (
	ErrInvalidQuantity = apperr.New(apperr.KindValidation, fmt.Sprintf("quantity must be between 1 and %d", MaxLineQuantity))
	ErrTooManyLines    = apperr.New(apperr.KindValidation, fmt.Sprintf("a cart holds at most %d lines", MaxLines))
	ErrLineNotFound    = apperr.New(apperr.KindNotFound, "product is not in the cart")
	ErrEmptyCart       = apperr.New(apperr.KindValidation, "cart is empty")
	ErrUnavailable     = apperr.New(apperr.KindValidation, "product is not available")
	ErrCartChanged     = apperr.New(apperr.KindValidation, "some items in your cart changed")
	ErrCartOutOfStock  = apperr.New(apperr.KindInsufficientStock, "some items in your cart are out of stock")
)

// CheckoutError lists every line that failed checkout validation.
type CheckoutError struct {
	Issues []Issue
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("checkout rejected: %d line(s) need attention", len(e.Issues))
}

// Unwrap reports a stock problem ahead of a price change.
func (e *CheckoutError) Unwrap() error {
	for _, is := range e.Issues {
		if is.Kind == IssueInsufficientStock || is.Kind == IssueUnavailable {
			return ErrCartOutOfStock
		}
	}
	return ErrCartChanged
}
