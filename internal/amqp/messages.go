package amqp

import (
	"encoding/json"
	"time"
)

// ChildStateChangedMessage announces that a child's balance-affecting
// state changed (manual transaction, accrual, hold decrement). Consumers
// use it for cache invalidation and live refresh; they must tolerate
// duplicate or out-of-order delivery.
type ChildStateChangedMessage struct {
	ChildID   string    `json:"child_id"`
	TenantID  string    `json:"tenant_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewChildStateChangedMessage creates a message stamped with now.
func NewChildStateChangedMessage(childID, tenantID, message string) *ChildStateChangedMessage {
	return &ChildStateChangedMessage{
		ChildID:   childID,
		TenantID:  tenantID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ChildStateChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChildStateChangedFromJSON creates a message from JSON bytes
func ChildStateChangedFromJSON(data []byte) (*ChildStateChangedMessage, error) {
	var msg ChildStateChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
