package ws

const (
	// client -> server
	MsgPing = "ping"

	// server -> client
	MsgReady = "ready"
	MsgPong  = "pong"
)

type message struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id,omitempty"`
}
