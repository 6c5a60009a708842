package protocol

import (
	"encoding/json"
	"time"
)

// EventKind names an inbound domain event.
type EventKind string

const (
	KindTicketUpdated      EventKind = "ticket.updated"
	KindInventoryUpdated   EventKind = "inventory.updated"
	KindSystemNotification EventKind = "system.notification"
	// KindUnknown matches every event type the client has no struct for.
	KindUnknown EventKind = "unknown"
)

// Event is the closed set of server-pushed events. Only types in this
// package implement it.
type Event interface {
	Kind() EventKind
	isEvent()
}

// TicketUpdated is pushed when a job ticket changes.
type TicketUpdated struct {
	TicketID   string    `json:"ticket_id"`
	Status     string    `json:"status"`
	AssignedTo string    `json:"assigned_to,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// InventoryUpdated is pushed when stock for an item changes.
type InventoryUpdated struct {
	ItemID   string `json:"item_id"`
	SKU      string `json:"sku,omitempty"`
	Quantity int    `json:"quantity"`
	Location string `json:"location,omitempty"`
}

// SystemNotification is a broadcast message for the dashboard.
type SystemNotification struct {
	Level   string `json:"level"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
}

// Unknown carries any event this client does not model, untouched.
type Unknown struct {
	Type    string
	Payload json.RawMessage
}

func (TicketUpdated) Kind() EventKind      { return KindTicketUpdated }
func (InventoryUpdated) Kind() EventKind   { return KindInventoryUpdated }
func (SystemNotification) Kind() EventKind { return KindSystemNotification }
func (Unknown) Kind() EventKind            { return KindUnknown }

func (TicketUpdated) isEvent()      {}
func (InventoryUpdated) isEvent()   {}
func (SystemNotification) isEvent() {}
func (Unknown) isEvent()            {}

// DecodeEvent maps a non-control frame onto the event union. Known types
// with a payload that does not decode fall back to Unknown so nothing the
// server sends is silently lost.
func DecodeEvent(f Frame) Event {
	switch EventKind(f.Type) {
	case KindTicketUpdated:
		var e TicketUpdated
		if decodePayload(f.Payload, &e) {
			return e
		}
	case KindInventoryUpdated:
		var e InventoryUpdated
		if decodePayload(f.Payload, &e) {
			return e
		}
	case KindSystemNotification:
		var e SystemNotification
		if decodePayload(f.Payload, &e) {
			return e
		}
	}
	return Unknown{Type: f.Type, Payload: f.Payload}
}

func decodePayload(raw json.RawMessage, v interface{}) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}
