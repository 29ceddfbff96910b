package domain

import "time"

// EventOp names a storage-affecting operation recorded in the event log.
type EventOp string

const (
	OpStore      EventOp = "store"
	OpForget     EventOp = "forget"
	OpDelete     EventOp = "delete"
	OpScratchpad EventOp = "scratchpad"
	OpPurge      EventOp = "purge"
)

// Event is one entry in the bounded per-stream event log. Events live in
// the KV backend until the sync worker persists them into the graph.
type Event struct {
	Op        EventOp   `json:"op"`
	ContextID string    `json:"context_id,omitempty"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Namespace string    `json:"namespace,omitempty"`
	Outcome   string    `json:"outcome"`
}
