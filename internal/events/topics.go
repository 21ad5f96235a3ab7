package events

const (
	TopicStock  = "stock.events"
	TopicOrders = "order.events"
	TopicAlerts = "stock.alerts"
)

// Partition key = correlation id (session or order), so events for one
// checkout keep their order.
func PartitionKey(correlationID string) []byte { return []byte(correlationID) }
