package orders

// Status is the canonical order state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusDisputed   Status = "disputed"
	StatusRefunded   Status = "refunded"
)

// PaymentStatus tracks the money side independently of fulfillment.
type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentProcessing    PaymentStatus = "processing"
	PaymentPaid          PaymentStatus = "paid"
	PaymentFailed        PaymentStatus = "failed"
	PaymentRefunded      PaymentStatus = "refunded"
	PaymentPartialRefund PaymentStatus = "partial_refund"
)

// DeliveryStatus tracks fulfillment.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryShipped   DeliveryStatus = "shipped"
	DeliveryDelivered DeliveryStatus = "delivered"
)

// transitions is the single source of truth for order state changes.
// A transition is legal iff the target equals the source or appears in the
// source's allowed-next set. Terminal states have empty sets.
var transitions = map[Status][]Status{
	StatusPending:    {StatusPaid, StatusCancelled, StatusDisputed},
	StatusPaid:       {StatusProcessing, StatusShipped, StatusDelivered, StatusDisputed, StatusRefunded},
	StatusProcessing: {StatusShipped, StatusDelivered, StatusDisputed, StatusRefunded},
	StatusShipped:    {StatusDelivered, StatusDisputed, StatusRefunded},
	StatusDelivered:  {StatusCompleted, StatusDisputed, StatusRefunded},
	StatusDisputed:   {StatusCompleted, StatusRefunded, StatusCancelled},
	StatusCompleted:  {},
	StatusCancelled:  {},
	StatusRefunded:   {},
}

// ValidateTransition reports whether from → to is a legal order transition.
// Reflexive no-ops are always legal for known statuses.
func ValidateTransition(from, to Status) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	if from == to {
		return true
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0 && s != ""
}

// ValidStatus reports whether s is a known order status.
func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}
