package bus

import "time"

// Event represents a domain event published on the bus. Kind uses dotted
// namespaces ("message.", "sync.", "remote.", "storage.") so subscribers
// can filter by prefix.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
