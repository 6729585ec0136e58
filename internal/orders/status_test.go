package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPendingPayment, StatusConfirmed, true},
		{StatusPendingPayment, StatusProcessing, false},
		{StatusConfirmed, StatusProcessing, true},
		{StatusConfirmed, StatusShipped, false},
		{StatusProcessing, StatusShipped, true},
		{StatusShipped, StatusDelivered, true},
		{StatusShipped, StatusCancelled, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusPendingPayment, false},
		{StatusConfirmed, StatusPendingPayment, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range []Status{StatusPendingPayment, StatusConfirmed, StatusProcessing} {
		assert.True(t, s.Cancellable(), s)
		assert.False(t, s.Terminal(), s)
	}
	assert.False(t, StatusShipped.Cancellable())
	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, Status("CREATED").Valid())
	assert.False(t, Status("CREATED").Terminal())
}
