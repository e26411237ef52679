package orders

type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	// StatusPending means payment cleared but the variant ran out of links;
	// the order waits for more inventory.
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
)

var validNext = map[Status]map[Status]bool{
	StatusPendingPayment: {StatusPending: true, StatusPaid: true},
	StatusPending:        {StatusPending: true, StatusPaid: true},
	StatusPaid:           {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Reconcilable reports whether a payment confirmation may still change the
// order.
func (s Status) Reconcilable() bool {
	return s == StatusPendingPayment || s == StatusPending
}
