package common

// Metadata keys attached to every published message and read back by the
// consumer for correlation and debugging.
const (
	HeaderEventType     = "eventType"
	HeaderOutboxID      = "outboxId"
	HeaderCorrelationID = "correlationId"
)

// Message is the bus envelope handed to subscribers. ID is the bus-assigned
// delivery identifier and is the only link between producer and consumer
// sides; it stays stable across redeliveries of the same record.
type Message struct {
	ID            string
	Topic         string
	Key           string
	EventType     string
	OutboxID      string
	CorrelationID string
	Payload       []byte

	// AckFunc acknowledges the delivery to the bus. Left nil in tests that
	// only exercise the state machine.
	AckFunc func()
}

func (m Message) Ack() {
	if m.AckFunc != nil {
		m.AckFunc()
	}
}
