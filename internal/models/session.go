package models

// ConnState is the state of the realtime connection bound to a session.
type ConnState string

const (
	ConnStateDisconnected ConnState = "disconnected"
	ConnStateConnecting   ConnState = "connecting"
	ConnStateConnected    ConnState = "connected"
	ConnStateReconnecting ConnState = "reconnecting"
	ConnStateFailed       ConnState = "failed"
)

// AllConnStates lists every state, in state machine order.
var AllConnStates = []ConnState{
	ConnStateDisconnected,
	ConnStateConnecting,
	ConnStateConnected,
	ConnStateReconnecting,
	ConnStateFailed,
}

// SessionStatus is the API-friendly view of the current session.
type SessionStatus struct {
	UserID    string    `json:"user_id,omitempty"`
	State     ConnState `json:"state"`
	LastError string    `json:"last_error,omitempty"`
	Epoch     uint64    `json:"epoch"`
}
