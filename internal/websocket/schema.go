package websocket

import "github.com/stemsi/exstem-gate/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing    Action = "ping"
	ActionRefresh Action = "refresh"
)

// RequestEnvelope is the only message shape a status client sends.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError    Event = "error"
	EventSnapshot Event = "snapshot"
	EventPong     Event = "pong"
)

// Snapshot reasons.
const (
	ReasonInitial   = "initial"
	ReasonSession   = "session_event"
	ReasonPeriodic  = "periodic"
	ReasonRequested = "requested"
)

// SnapshotResponse carries a full status partition.
type SnapshotResponse struct {
	Event  Event                   `json:"event"`
	Reason string                  `json:"reason"`
	Status *model.AssessmentStatus `json:"status"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
