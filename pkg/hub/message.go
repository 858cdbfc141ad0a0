// Package hub fans dashboard updates out to websocket clients.
//
// One goroutine (Run) owns the client set; every client has its own write
// pump, so no two goroutines ever write to the same connection.
package hub

import (
	"encoding/json"
	"time"
)

// MessageType indicates the websocket message format.
type MessageType int

const (
	// JSONMessage is a JSON-encoded message
	JSONMessage MessageType = iota
	// BinaryMessage is raw binary data (e.g., JPEG frames)
	BinaryMessage
)

// Message represents a message to be broadcast to clients.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage creates a JSON message from pre-encoded bytes.
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage creates a binary message.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// Envelope tags a JSON payload with its kind so one socket can carry
// several event types.
type Envelope struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// NewEnvelope encodes payload as an Envelope message.
func NewEnvelope(kind string, payload any) (Message, error) {
	data, err := json.Marshal(Envelope{Type: kind, Time: time.Now(), Data: payload})
	if err != nil {
		return Message{}, err
	}
	return NewJSONMessage(data), nil
}
