package orders

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status.changed"
	TopicNotifications      = "order.notifications"
)

// PartitionKey keeps every event of one order on the same partition.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
