package amqp

import (
	"encoding/json"
	"time"
)

// Event kinds published by the intake service.
const (
	KindIntakeLogged = "intake.logged"
	KindLedgerReset  = "ledger.reset"
)

// IntakeEvent is the message published after a ledger mutation. For
// intake.logged the quantity fields and running total are set; for
// ledger.reset only the kind and timestamp carry meaning.
type IntakeEvent struct {
	Kind       string    `json:"kind"`
	Name       string    `json:"name,omitempty"`
	QuantityML float64   `json:"quantity_ml,omitempty"`
	Date       string    `json:"date,omitempty"` // ISO-8601 calendar date
	TotalML    float64   `json:"total_ml,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewIntakeLoggedEvent creates the event for one appended entry.
func NewIntakeLoggedEvent(name string, quantityML float64, date string, totalML float64) *IntakeEvent {
	return &IntakeEvent{
		Kind:       KindIntakeLogged,
		Name:       name,
		QuantityML: quantityML,
		Date:       date,
		TotalML:    totalML,
		Timestamp:  time.Now(),
	}
}

// NewLedgerResetEvent creates the event for a wholesale reset.
func NewLedgerResetEvent() *IntakeEvent {
	return &IntakeEvent{
		Kind:      KindLedgerReset,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the event to JSON bytes.
func (e *IntakeEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// IntakeEventFromJSON creates an event from JSON bytes.
func IntakeEventFromJSON(data []byte) (*IntakeEvent, error) {
	var e IntakeEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
