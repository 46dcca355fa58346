package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// RecordChangeMessage is a lightweight notice that a row changed locally.
// Consumers fetch the row itself; the notice only says where to look.
type RecordChangeMessage struct {
	Table     string    `json:"table"`
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRecordChangeMessage creates a change notice stamped with the current time
func NewRecordChangeMessage(table, id, op string) *RecordChangeMessage {
	return &RecordChangeMessage{
		Table:     table,
		ID:        id,
		Operation: op,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *RecordChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RecordChangeMessageFromJSON decodes a change notice.
func RecordChangeMessageFromJSON(data []byte) (*RecordChangeMessage, error) {
	var msg RecordChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Table == "" || msg.ID == "" {
		return nil, fmt.Errorf("change message missing table or id")
	}
	return &msg, nil
}

// RecordSyncMessage carries a full row snapshot uploaded by the sync worker.
type RecordSyncMessage struct {
	Table     string         `json:"table"`
	ID        string         `json:"id"`
	Record    map[string]any `json:"record"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewRecordSyncMessage wraps a row snapshot. The id is taken from the row.
func NewRecordSyncMessage(table string, rec map[string]any) *RecordSyncMessage {
	id, _ := rec["id"].(string)
	return &RecordSyncMessage{
		Table:     table,
		ID:        id,
		Record:    rec,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *RecordSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RecordSyncMessageFromJSON decodes a row snapshot message.
func RecordSyncMessageFromJSON(data []byte) (*RecordSyncMessage, error) {
	var msg RecordSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
