package domain

import "time"

// ScratchpadEntry is keyed agent working memory held in the KV backend.
// Entries always carry a TTL and are surfaced only by key, never by search.
type ScratchpadEntry struct {
	AgentID   string        `json:"agent_id"`
	Key       string        `json:"key"`
	Value     string        `json:"value"`
	TTL       time.Duration `json:"ttl"`
	UpdatedAt time.Time     `json:"updated_at"`
}
