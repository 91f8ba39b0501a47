package server

import (
	"encoding/json"
	"time"
)

// Event names exchanged over the websocket.
const (
	EventPrivateMessage = "private_message"
	EventReceiveMessage = "receive_private_message"
	EventAck            = "ack"
)

// Ack error codes. Handshake failures never reach an ack; they close the
// connection instead.
const (
	ErrCodeInvalidPayload = "invalid_payload"
	ErrCodeUnknownUser    = "unknown_user"
	ErrCodeStoreError     = "store_error"
	ErrCodeUnknownEvent   = "unknown_event"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// PrivateMessage is the inbound private_message payload. The sender is
// always the connection's authenticated identity, never part of the
// payload.
type PrivateMessage struct {
	RecipientUserID string `json:"recipientUserId"`
	Message         string `json:"message"`
}

// Ack is returned to the sending connection for every inbound
// private_message. Success is defined by persistence, not delivery.
type Ack struct {
	Success   bool       `json:"success"`
	MessageID string     `json:"messageId,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// IncomingMessage is the receive_private_message payload forwarded to the
// recipient's registered connection.
type IncomingMessage struct {
	SenderUserID string    `json:"senderUserId"`
	MessageID    string    `json:"messageId"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"createdAt"`
}

func nack(code string) Ack {
	return Ack{Success: false, Error: code}
}

func marshalEvent(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
