// Package relationships detects typed edges for freshly written contexts.
// Detection runs after the graph write and never fails it: every edge is
// attempted independently and failures only show up in the returned stats.
package relationships

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"ctxstore/internal/domain"
)

var (
	uuidPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

	refPattern = regexp.MustCompile(`(?i)\b(?:PR|pull request|issue)\s*#\d+`)

	fixesPattern = regexp.MustCompile(`(?i)\b(?:fixes|fixed|resolves)\s+((?:issue|PR|pull request|bug)?\s*#\d+|[0-9a-fA-F]{8}-[0-9a-fA-F-]{27})`)

	implementsPattern = regexp.MustCompile(`(?i)\bimplement(?:s|ed|ing)\s+((?:issue|PR|pull request)?\s*#\d+|[0-9a-fA-F]{8}-[0-9a-fA-F-]{27})`)
)

// titleHitLimit bounds how many contexts a single textual mention may
// resolve to.
const titleHitLimit = 3

// GraphOps is the slice of the graph adapter the detector needs.
type GraphOps interface {
	Exists(ctx context.Context, id string) (bool, error)
	CreateRelationship(ctx context.Context, rel domain.Relationship) (bool, error)
	LatestBefore(ctx context.Context, ctype domain.ContextType, namespace string, before time.Time, excludeID string) (string, time.Time, error)
	ContainerForProject(ctx context.Context, projectID, excludeID string) (string, error)
	ContainerForSprint(ctx context.Context, sprintNumber int64, excludeID string) (string, error)
	FindByTitleToken(ctx context.Context, token, namespace string, limit int) ([]string, error)
}

// Stats reports what detection did for one context.
type Stats struct {
	Created        int
	AlreadyExisted int
	Failed         int
	Edges          []domain.Relationship
}

// Detector finds temporal, reference, and hierarchical edges.
type Detector struct {
	graph  GraphOps
	logger *zap.Logger
}

// New builds a detector over the graph adapter.
func New(graph GraphOps, logger *zap.Logger) *Detector {
	return &Detector{graph: graph, logger: logger}
}

// Detect runs all detectors for the context and merges the resulting edges.
// The same pair may legitimately gain edges of different types; duplicates
// of the same (source, target, type) collapse in the graph's merge.
func (d *Detector) Detect(ctx context.Context, c *domain.Context) Stats {
	var stats Stats
	d.detectTemporal(ctx, c, &stats)
	d.detectReferences(ctx, c, &stats)
	d.detectHierarchy(ctx, c, &stats)
	return stats
}

// detectTemporal links the context to its predecessor of the same type in
// the same namespace, in both directions.
func (d *Detector) detectTemporal(ctx context.Context, c *domain.Context, stats *Stats) {
	prevID, _, err := d.graph.LatestBefore(ctx, c.Type, c.Namespace, c.CreatedAt, c.ID)
	if err != nil {
		stats.Failed++
		d.logger.Warn("temporal lookup failed", zap.String("context_id", c.ID), zap.Error(err))
		return
	}
	if prevID == "" {
		return
	}
	reason := "previous " + string(c.Type) + " in " + c.Namespace
	d.create(ctx, stats, domain.Relationship{
		SourceID: c.ID, TargetID: prevID, Type: domain.RelPrecededBy,
		Reason: reason, AutoDetected: true, CreatedAt: c.CreatedAt,
	})
	d.create(ctx, stats, domain.Relationship{
		SourceID: prevID, TargetID: c.ID, Type: domain.RelFollowedBy,
		Reason: reason, AutoDetected: true, CreatedAt: c.CreatedAt,
	})
}

// detectReferences parses explicit mentions out of the text: context ids,
// PR and issue markers, and fixing/implementing declarations.
func (d *Detector) detectReferences(ctx context.Context, c *domain.Context, stats *Stats) {
	text := c.Text()
	if text == "" {
		return
	}

	for _, id := range dedupe(uuidPattern.FindAllString(text, -1)) {
		if strings.EqualFold(id, c.ID) {
			continue
		}
		ok, err := d.graph.Exists(ctx, id)
		if err != nil {
			stats.Failed++
			d.logger.Warn("reference lookup failed", zap.String("target", id), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		d.create(ctx, stats, domain.Relationship{
			SourceID: c.ID, TargetID: id, Type: domain.RelReferences,
			Reason: "mentions context id", AutoDetected: true, CreatedAt: c.CreatedAt,
		})
	}

	for _, token := range dedupe(refPattern.FindAllString(text, -1)) {
		d.linkByTitle(ctx, c, token, domain.RelReferences, "mentions "+token, stats)
	}
	for _, m := range fixesPattern.FindAllStringSubmatch(text, -1) {
		d.linkMention(ctx, c, strings.TrimSpace(m[1]), domain.RelFixes, "declares fixing "+strings.TrimSpace(m[1]), stats)
	}
	for _, m := range implementsPattern.FindAllStringSubmatch(text, -1) {
		d.linkMention(ctx, c, strings.TrimSpace(m[1]), domain.RelImplements, "declares implementing "+strings.TrimSpace(m[1]), stats)
	}
}

// linkMention resolves a captured mention that is either a context id or a
// title token and creates the edge with the given type.
func (d *Detector) linkMention(ctx context.Context, c *domain.Context, mention string, relType domain.RelationshipType, reason string, stats *Stats) {
	if uuidPattern.MatchString(mention) {
		if strings.EqualFold(mention, c.ID) {
			return
		}
		ok, err := d.graph.Exists(ctx, mention)
		if err != nil {
			stats.Failed++
			d.logger.Warn("mention lookup failed", zap.String("target", mention), zap.Error(err))
			return
		}
		if ok {
			d.create(ctx, stats, domain.Relationship{
				SourceID: c.ID, TargetID: mention, Type: relType,
				Reason: reason, AutoDetected: true, CreatedAt: c.CreatedAt,
			})
		}
		return
	}
	d.linkByTitle(ctx, c, mention, relType, reason, stats)
}

// linkByTitle creates edges to contexts whose title carries the token.
func (d *Detector) linkByTitle(ctx context.Context, c *domain.Context, token string, relType domain.RelationshipType, reason string, stats *Stats) {
	ids, err := d.graph.FindByTitleToken(ctx, token, c.Namespace, titleHitLimit)
	if err != nil {
		stats.Failed++
		d.logger.Warn("title lookup failed", zap.String("token", token), zap.Error(err))
		return
	}
	for _, id := range ids {
		if id == "" || id == c.ID {
			continue
		}
		d.create(ctx, stats, domain.Relationship{
			SourceID: c.ID, TargetID: id, Type: relType,
			Reason: reason, AutoDetected: true, CreatedAt: c.CreatedAt,
		})
	}
}

// detectHierarchy attaches the context to its project or sprint container
// when the content carries the markers and a container exists.
func (d *Detector) detectHierarchy(ctx context.Context, c *domain.Context, stats *Stats) {
	if pid, ok := c.Content[domain.ContentKeyProjectID].(string); ok && pid != "" {
		container, err := d.graph.ContainerForProject(ctx, pid, c.ID)
		switch {
		case err != nil:
			stats.Failed++
			d.logger.Warn("project container lookup failed", zap.String("project_id", pid), zap.Error(err))
		case container != "":
			d.create(ctx, stats, domain.Relationship{
				SourceID: c.ID, TargetID: container, Type: domain.RelPartOf,
				Reason: "shares project " + pid, AutoDetected: true, CreatedAt: c.CreatedAt,
			})
		}
	}

	if n, ok := sprintNumber(c.Content[domain.ContentKeySprintNumber]); ok {
		container, err := d.graph.ContainerForSprint(ctx, n, c.ID)
		switch {
		case err != nil:
			stats.Failed++
			d.logger.Warn("sprint container lookup failed", zap.Int64("sprint", n), zap.Error(err))
		case container != "":
			d.create(ctx, stats, domain.Relationship{
				SourceID: c.ID, TargetID: container, Type: domain.RelPartOf,
				Reason: "shares sprint", AutoDetected: true, CreatedAt: c.CreatedAt,
			})
		}
	}
}

func (d *Detector) create(ctx context.Context, stats *Stats, rel domain.Relationship) {
	created, err := d.graph.CreateRelationship(ctx, rel)
	if err != nil {
		stats.Failed++
		d.logger.Warn("edge creation failed",
			zap.String("source", rel.SourceID),
			zap.String("target", rel.TargetID),
			zap.String("type", string(rel.Type)),
			zap.Error(err),
		)
		return
	}
	if created {
		stats.Created++
		stats.Edges = append(stats.Edges, rel)
	} else {
		stats.AlreadyExisted++
	}
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, item := range items {
		key := strings.ToLower(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

func sprintNumber(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
