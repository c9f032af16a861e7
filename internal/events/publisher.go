package events

// Publisher delivers domain events to an external broker.
type Publisher interface {
	Publish(topic string, event any) error
}

// Nop discards events. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(string, any) error { return nil }
