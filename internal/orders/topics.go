package orders

const (
	TopicOrderCreated    = "order.created"
	TopicStatusChanged   = "order.status_changed"
	TopicOrderCancelled  = "order.cancelled"
	TopicOrderRefunded   = "order.refunded"
	TopicPaymentRecorded = "order.payment_recorded"
)

// AllTopics is what the status projector subscribes to.
var AllTopics = []string{
	TopicOrderCreated,
	TopicStatusChanged,
	TopicOrderCancelled,
	TopicOrderRefunded,
	TopicPaymentRecorded,
}

// Partition key = order_id, so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
