package protocol

import (
	"encoding/json"
	"fmt"
)

// Frame is the JSON envelope carried by every WebSocket text message in
// either direction.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame marshals payload into a frame of the given type. A nil payload
// produces a frame without a payload field.
func NewFrame(frameType string, payload interface{}) (Frame, error) {
	f := Frame{Type: frameType}
	if payload == nil {
		return f, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", frameType, err)
	}
	f.Payload = raw
	return f, nil
}

// Control frame types. Anything else on the wire is a domain event.
const (
	TypeConnected   = "connected"
	TypeJoin        = "join"
	TypeJoined      = "joined"
	TypeError       = "error"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeLatencyPing = "latency_ping"
	TypeLatencyPong = "latency_pong"
)

// IsControl reports whether t is handled by the connection layer itself
// rather than delivered to subscribers.
func IsControl(t string) bool {
	switch t {
	case TypeConnected, TypeJoin, TypeJoined, TypeError,
		TypePing, TypePong, TypeLatencyPing, TypeLatencyPong:
		return true
	}
	return false
}

// Error codes carried in ErrorPayload.Code.
const (
	CodeUnauthorized   = "unauthorized"
	CodeForbidden      = "forbidden"
	CodeRateLimited    = "rate_limited"
	CodeSessionRevoked = "session_revoked"
)

// WebSocket close codes the server uses to tell the client what to do next.
const (
	CloseNormal         = 1000
	CloseTryAgainLater  = 1013
	CloseSessionRevoked = 4000
	CloseAuthRejected   = 4401
	CloseRateLimited    = 4429
)

// ConnectedPayload is the first frame the server sends after the upgrade.
type ConnectedPayload struct {
	ConnectionID string `json:"connection_id"`
}

// JoinPayload re-announces the bound identity so the server can attach the
// transport to its room. The server derives membership from the bearer
// token; these fields are informational.
type JoinPayload struct {
	SubjectID string `json:"subject_id"`
	Role      string `json:"role"`
}

// JoinedPayload acknowledges a join.
type JoinedPayload struct {
	Room string `json:"room,omitempty"`
}

// LatencyPayload correlates a latency_ping with its latency_pong.
type LatencyPayload struct {
	ID string `json:"id"`
}

// ErrorPayload is sent by the server in "error" frames.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// DecodeError extracts the ErrorPayload of an "error" frame. A frame with an
// unreadable payload yields an empty code.
func DecodeError(f Frame) ErrorPayload {
	var p ErrorPayload
	if len(f.Payload) > 0 {
		_ = json.Unmarshal(f.Payload, &p)
	}
	return p
}
