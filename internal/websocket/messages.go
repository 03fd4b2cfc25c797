package websocket

import (
	"encoding/json"
	"log"
	"time"

	"roomwatch-backend/internal/model"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	TypeRoomStatus   MessageType = "room.status_changed"
	TypeRoomSnapshot MessageType = "room.snapshot"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// RoomBroadcaster turns room status changes into hub messages.
type RoomBroadcaster struct {
	hub *Hub
}

// NewRoomBroadcaster creates a broadcaster on hub.
func NewRoomBroadcaster(hub *Hub) *RoomBroadcaster {
	return &RoomBroadcaster{hub: hub}
}

// Broadcast sends a status change to the clients watching its room.
func (b *RoomBroadcaster) Broadcast(status model.RoomStatus) {
	data, err := NewMessage(TypeRoomStatus, status).JSON()
	if err != nil {
		log.Printf("Error encoding WebSocket message: %v", err)
		return
	}
	b.hub.Publish(status.RoomID, data)
}
