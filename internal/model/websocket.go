package model

// WebSocket control message types
const (
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
	WSMessageTypeSnapshot = "snapshot"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSSnapshotMessage is sent once when a subscriber connects.
type WSSnapshotMessage struct {
	Type    string          `json:"type"`
	Session SessionSnapshot `json:"session"`
}
