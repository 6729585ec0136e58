package payments

import "time"

type IntentStatus string

const (
	IntentCreated  IntentStatus = "created"
	IntentCaptured IntentStatus = "captured"
	IntentFailed   IntentStatus = "failed"
)

// Intent tracks collecting payment for one order. It is captured at most
// once, by a verified callback.
type Intent struct {
	ID                 string       `json:"id"`
	OrderID            string       `json:"order_id"`
	ProcessorOrderID   string       `json:"processor_order_id"`
	ProcessorPaymentID string       `json:"processor_payment_id,omitempty"`
	AmountMinor        int64        `json:"amount_minor"`
	Currency           string       `json:"currency"`
	Status             IntentStatus `json:"status"`
	FailureCode        string       `json:"failure_code,omitempty"`
	FailureReason      string       `json:"failure_reason,omitempty"`
	Attempts           int          `json:"attempts"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
	CapturedAt         *time.Time   `json:"captured_at,omitempty"`
}

// Checkout is what the client needs to render the processor's payment UI.
type Checkout struct {
	IntentID         string `json:"intent_id"`
	ProcessorOrderID string `json:"processor_order_id"`
	AmountMinor      int64  `json:"amount_minor"`
	Currency         string `json:"currency"`
	KeyID            string `json:"key_id"`
}

// Callback is the processor's signed confirmation. OrderID, when set, must
// match the intent's order.
type Callback struct {
	OrderID            string
	ProcessorOrderID   string
	ProcessorPaymentID string
	Signature          string
}

type Failure struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}
