// Package queue defines message payloads exchanged over the message broker.
package queue

// Queue names for the two side channels fed by the lifecycle
// controller. Both queues are durable; messages are persistent.
const (
	AuditQueueName  = "consumer.audit"
	NotifyQueueName = "consumer.notify"
)

// ConsumerActionEvent is published for every non-trivial lifecycle
// mutation. The same payload serves the audit trail and the owner
// notification; downstream consumers can act on it without querying
// the primary database.
type ConsumerActionEvent struct {
	ConsumerKey string `json:"consumer_key"`
	Action      string `json:"action"`
	Performer   string `json:"performer"`
	Comment     string `json:"comment,omitempty"`
	OccurredAt  string `json:"occurred_at"`
}
