package orders

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
	StatusFailed     Status = "failed"
	StatusOnHold     Status = "on_hold"
)

var knownStatus = map[Status]bool{
	StatusPending: true, StatusProcessing: true, StatusShipped: true,
	StatusDelivered: true, StatusCompleted: true, StatusCancelled: true,
	StatusRefunded: true, StatusFailed: true, StatusOnHold: true,
}

var terminal = map[Status]bool{
	StatusCompleted: true,
	StatusCancelled: true,
	StatusRefunded:  true,
	StatusDelivered: true,
	StatusFailed:    true,
}

// Cancellation is refused from these; note failed is not among them, so a
// failed order can still be cancelled to release its stock.
var notCancellable = map[Status]bool{
	StatusCompleted: true,
	StatusCancelled: true,
	StatusRefunded:  true,
	StatusDelivered: true,
}

var notRefundable = map[Status]bool{
	StatusRefunded:  true,
	StatusCancelled: true,
}

func (s Status) Valid() bool    { return knownStatus[s] }
func (s Status) Terminal() bool { return terminal[s] }

func CanCancel(s Status) bool { return !notCancellable[s] }
func CanRefund(s Status) bool { return !notRefundable[s] }

// PaymentStatus is the order-level summary of its payments.
type PaymentStatus string

const (
	PaymentUnpaid            PaymentStatus = "unpaid"
	PaymentPaid              PaymentStatus = "paid"
	PaymentFailed            PaymentStatus = "failed"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// PaymentRecord is the status of a single payments row.
type PaymentRecord string

const (
	PaymentRecordPending   PaymentRecord = "pending"
	PaymentRecordCompleted PaymentRecord = "completed"
	PaymentRecordFailed    PaymentRecord = "failed"
	PaymentRecordRefunded  PaymentRecord = "refunded"
)

// Recordable reports whether a caller may record a payment with this status.
// Refund rows are only written by the refund operation.
func (p PaymentRecord) Recordable() bool {
	switch p {
	case PaymentRecordPending, PaymentRecordCompleted, PaymentRecordFailed:
		return true
	}
	return false
}
