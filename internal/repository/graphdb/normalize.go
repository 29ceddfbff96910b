package graphdb

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// Normalize converts driver-specific values into plain JSON-compatible
// structures: temporal values become ISO strings, nodes and relationships
// become maps, collections recurse.
func Normalize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case neo4j.Node:
		return map[string]any{
			"element_id": val.ElementId,
			"labels":     val.Labels,
			"properties": normalizeMap(val.Props),
		}
	case neo4j.Relationship:
		return map[string]any{
			"element_id": val.ElementId,
			"type":       val.Type,
			"start":      val.StartElementId,
			"end":        val.EndElementId,
			"properties": normalizeMap(val.Props),
		}
	case neo4j.Path:
		nodes := make([]any, len(val.Nodes))
		for i, n := range val.Nodes {
			nodes[i] = Normalize(n)
		}
		rels := make([]any, len(val.Relationships))
		for i, r := range val.Relationships {
			rels[i] = Normalize(r)
		}
		return map[string]any{"nodes": nodes, "relationships": rels}
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case dbtype.Date:
		return val.Time().Format("2006-01-02")
	case dbtype.LocalTime:
		return val.Time().Format("15:04:05.999999999")
	case dbtype.Time:
		return val.Time().Format("15:04:05.999999999Z07:00")
	case dbtype.LocalDateTime:
		return val.Time().Format("2006-01-02T15:04:05.999999999")
	case dbtype.Duration:
		return val.String()
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	case map[string]any:
		return normalizeMap(val)
	default:
		return val
	}
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Normalize(v)
	}
	return out
}
