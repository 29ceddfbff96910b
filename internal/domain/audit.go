package domain

import "time"

// DeleteMode distinguishes soft deletes from hard deletes in audit records.
type DeleteMode string

const (
	DeleteSoft DeleteMode = "soft"
	DeleteHard DeleteMode = "hard"
)

// AuditRecord is an append-only log entry for a destructive operation.
// It is written before the operation and never rolled back, so an orphan
// audit is possible and preferred over a silent deletion.
type AuditRecord struct {
	ID            string     `json:"id"`
	ContextID     string     `json:"context_id"`
	Actor         string     `json:"actor"`
	ActorType     AuthorType `json:"actor_type"`
	Reason        string     `json:"reason,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
	Mode          DeleteMode `json:"mode"`
	RetentionDays int        `json:"retention_days,omitempty"`
}
