package domain

import "time"

// RelationshipType is the closed set of edge types between contexts.
type RelationshipType string

const (
	RelRelatesTo  RelationshipType = "RELATES_TO"
	RelDependsOn  RelationshipType = "DEPENDS_ON"
	RelPrecededBy RelationshipType = "PRECEDED_BY"
	RelFollowedBy RelationshipType = "FOLLOWED_BY"
	RelPartOf     RelationshipType = "PART_OF"
	RelImplements RelationshipType = "IMPLEMENTS"
	RelFixes      RelationshipType = "FIXES"
	RelReferences RelationshipType = "REFERENCES"
)

// ValidRelationshipTypes is the accepted edge type set.
var ValidRelationshipTypes = map[RelationshipType]bool{
	RelRelatesTo:  true,
	RelDependsOn:  true,
	RelPrecededBy: true,
	RelFollowedBy: true,
	RelPartOf:     true,
	RelImplements: true,
	RelFixes:      true,
	RelReferences: true,
}

// Relationship is a typed directed edge between two contexts. Edges hold
// ids, never pointers; the graph backend is the source of truth.
type Relationship struct {
	SourceID     string           `json:"source_id"`
	TargetID     string           `json:"target_id"`
	Type         RelationshipType `json:"type"`
	Reason       string           `json:"reason,omitempty"`
	AutoDetected bool             `json:"auto_detected"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Key identifies an edge for idempotence checks: a second detection of the
// same (source, target, type) is a no-op.
func (r Relationship) Key() string {
	return r.SourceID + "|" + r.TargetID + "|" + string(r.Type)
}
