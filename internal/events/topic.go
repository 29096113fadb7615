package events

import "strings"

// TopicFor derives the Kafka topic name for an event type: dots replaced
// with underscores, lowercased. "order.created" -> "order_created".
func TopicFor(eventType string) string {
	return strings.ToLower(strings.ReplaceAll(eventType, ".", "_"))
}
