// Package graphdb adapts Neo4j as the graph backend. The graph is the
// source of truth for contexts: every successful store lands here first,
// relationships are typed edges between Context nodes, and audit records,
// synced events, and flushed scratchpads live here as their own labels.
package graphdb

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"ctxstore/internal/domain"
	apperrors "ctxstore/internal/errors"
	"ctxstore/internal/repository"
)

// neighborCap bounds the one-hop expansion per seed node so a densely
// connected context cannot flood the result set.
const neighborCap = 3

// Store is the Neo4j-backed graph adapter.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// New builds the adapter around an open driver.
func New(driver neo4j.DriverWithContext, database string, logger *zap.Logger) *Store {
	return &Store{
		driver:   driver,
		database: database,
		breaker:  repository.NewBreaker("graph", logger),
		logger:   logger,
	}
}

// NewDriver builds the Neo4j driver from configuration.
func NewDriver(uri, username, password string) (neo4j.DriverWithContext, error) {
	return neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
}

// Ping verifies connectivity, for startup checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// EnsureSchema creates the uniqueness constraint and the lookup indexes.
// Schema commands must run in auto-commit transactions, so this bypasses
// the managed-transaction helpers.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		"CREATE CONSTRAINT context_id_unique IF NOT EXISTS FOR (c:Context) REQUIRE c.id IS UNIQUE",
		"CREATE INDEX context_namespace IF NOT EXISTS FOR (c:Context) ON (c.namespace)",
		"CREATE INDEX context_created_at IF NOT EXISTS FOR (c:Context) ON (c.created_at)",
		"CREATE INDEX event_timestamp IF NOT EXISTS FOR (e:Event) ON (e.timestamp)",
	}
	sess := s.session(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)
	for _, stmt := range statements {
		result, err := sess.Run(ctx, stmt, nil)
		if err != nil {
			return apperrors.NewUnavailable(repository.BackendGraph, err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return apperrors.NewUnavailable(repository.BackendGraph, err)
		}
	}
	return nil
}

// Name implements repository.Backend.
func (s *Store) Name() string { return repository.BackendGraph }

// Store upserts the record as a :Context node and returns its element id.
// MERGE on the context id makes re-stores idempotent and clears any
// soft-delete markers, matching the resurrection semantics of the vector
// backend. Implements repository.Backend.
func (s *Store) Store(ctx context.Context, rec repository.Record) (string, error) {
	params := storeParams(rec)
	records, err := s.write(ctx, `MERGE (c:Context {id: $id})
SET c.type = $type, c.namespace = $namespace, c.title = $title,
    c.content = $content, c.author = $author, c.author_type = $author_type,
    c.tags = $tags, c.created_at = $created_at,
    c.content_json = $content_json, c.metadata_json = $metadata_json,
    c.project_id = $project_id, c.team_id = $team_id, c.user_id = $user_id,
    c.sprint_number = $sprint_number,
    c.deleted_at = NULL, c.purge_at = NULL
RETURN elementId(c) AS eid`, params)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", apperrors.NewInternal("graph upsert returned no row", nil)
	}
	eid, _ := records[0].Get("eid")
	id, _ := eid.(string)
	return id, nil
}

// Search implements repository.Backend. Seeds are filtered contexts whose
// title or content carries a query token, each expanded by one hop; with
// neither tokens nor filters it degrades to a recency scan, which serves
// queryless retrieval.
func (s *Store) Search(ctx context.Context, q repository.SearchQuery) ([]repository.SearchResult, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	cypher, params := buildSearchQuery(q)
	records, err := s.read(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	out := make([]repository.SearchResult, 0, len(records))
	for _, rec := range records {
		v, ok := rec.Get("c")
		if !ok {
			continue
		}
		node, ok := v.(neo4j.Node)
		if !ok {
			continue
		}
		if r := nodeToResult(node, 0); !seen[r.ID] {
			seen[r.ID] = true
			out = append(out, r)
		}
	}
	for _, rec := range records {
		nv, _ := rec.Get("neighbors")
		list, ok := nv.([]any)
		if !ok {
			continue
		}
		for _, item := range list {
			node, ok := item.(neo4j.Node)
			if !ok {
				continue
			}
			if r := nodeToResult(node, 1); !seen[r.ID] {
				seen[r.ID] = true
				out = append(out, r)
			}
		}
	}
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Delete removes the context node and all its edges. Deleting a missing
// node is a no-op. Implements repository.Backend.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.write(ctx, "MATCH (c:Context {id: $id}) DETACH DELETE c", map[string]any{"id": id})
	return err
}

// Health implements repository.Backend.
func (s *Store) Health(ctx context.Context) repository.Health {
	if s.breaker.State() == gobreaker.StateOpen {
		return repository.Health{State: repository.Degraded, Message: "circuit breaker open"}
	}
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return repository.Health{State: repository.Unhealthy, Message: err.Error()}
	}
	return repository.Health{State: repository.Healthy}
}

// GetContext fetches one context by id, soft-deleted or not.
func (s *Store) GetContext(ctx context.Context, id string) (*domain.Context, error) {
	records, err := s.read(ctx, "MATCH (c:Context {id: $id}) RETURN c", map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apperrors.NewNotFound("context " + id + " not found")
	}
	v, _ := records[0].Get("c")
	node, ok := v.(neo4j.Node)
	if !ok {
		return nil, apperrors.NewInternal("unexpected graph value for context", nil)
	}
	return nodeToContext(node), nil
}

// Exists reports whether a non-deleted context with the id is present.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	records, err := s.read(ctx,
		"MATCH (c:Context {id: $id}) WHERE c.deleted_at IS NULL RETURN c.id",
		map[string]any{"id": id})
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

// MarkIndexed records the vector handle on the node after a successful
// vector write, so lifecycle state survives restarts.
func (s *Store) MarkIndexed(ctx context.Context, id, vectorID string) error {
	_, err := s.write(ctx,
		"MATCH (c:Context {id: $id}) SET c.vector_id = $vector_id",
		map[string]any{"id": id, "vector_id": vectorID})
	return err
}

// SoftDelete stamps the delete markers. The node stays in place and keeps
// its edges until the purge sweeper takes it.
func (s *Store) SoftDelete(ctx context.Context, id string, deletedAt, purgeAt time.Time) error {
	records, err := s.write(ctx,
		"MATCH (c:Context {id: $id}) SET c.deleted_at = $deleted_at, c.purge_at = $purge_at RETURN c.id",
		map[string]any{"id": id, "deleted_at": deletedAt.UTC(), "purge_at": purgeAt.UTC()})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return apperrors.NewNotFound("context " + id + " not found")
	}
	return nil
}

// PurgeExpired hard-deletes contexts whose purge deadline has passed and
// returns their ids so the caller can clean the other backends.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time, batch int) ([]string, error) {
	records, err := s.write(ctx, `MATCH (c:Context)
WHERE c.purge_at IS NOT NULL AND c.purge_at <= $now
WITH c LIMIT $batch
WITH c, c.id AS id
DETACH DELETE c
RETURN id`, map[string]any{"now": now.UTC(), "batch": batch})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if v, ok := rec.Get("id"); ok {
			if id, ok := v.(string); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// CreateRelationship merges a typed edge between two contexts and reports
// whether it was newly created. Merging an existing (source, target, type)
// edge is a no-op; a missing endpoint matches nothing and is also a no-op.
func (s *Store) CreateRelationship(ctx context.Context, rel domain.Relationship) (bool, error) {
	cypher, err := relationshipCypher(rel.Type)
	if err != nil {
		return false, err
	}
	summary, err := s.writeSummary(ctx, cypher, map[string]any{
		"source":        rel.SourceID,
		"target":        rel.TargetID,
		"reason":        rel.Reason,
		"auto_detected": rel.AutoDetected,
		"created_at":    rel.CreatedAt.UTC(),
	})
	if err != nil {
		return false, err
	}
	return summary.Counters().RelationshipsCreated() > 0, nil
}

// RelationshipsOf returns every edge touching the context, in either
// direction.
func (s *Store) RelationshipsOf(ctx context.Context, id string) ([]domain.Relationship, error) {
	records, err := s.read(ctx, `MATCH (a:Context {id: $id})-[r]-(b:Context)
RETURN type(r) AS t, startNode(r).id AS src, endNode(r).id AS tgt,
       r.reason AS reason, r.auto_detected AS auto, r.created_at AS created`,
		map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	rels := make([]domain.Relationship, 0, len(records))
	for _, rec := range records {
		rel := domain.Relationship{
			Type:         domain.RelationshipType(stringValue(rec, "t")),
			SourceID:     stringValue(rec, "src"),
			TargetID:     stringValue(rec, "tgt"),
			Reason:       stringValue(rec, "reason"),
			AutoDetected: boolValue(rec, "auto"),
		}
		if v, ok := rec.Get("created"); ok {
			if ts, ok := v.(time.Time); ok {
				rel.CreatedAt = ts
			}
		}
		rels = append(rels, rel)
	}
	return rels, nil
}

// LatestBefore finds the most recent non-deleted context of the same type
// in the namespace created before the given instant. A zero id means none
// exists, which is not an error.
func (s *Store) LatestBefore(ctx context.Context, ctype domain.ContextType, namespace string, before time.Time, excludeID string) (string, time.Time, error) {
	records, err := s.read(ctx, `MATCH (c:Context)
WHERE c.type = $type AND c.namespace = $namespace AND c.id <> $exclude
  AND c.deleted_at IS NULL AND c.created_at < $before
RETURN c.id AS id, c.created_at AS created
ORDER BY c.created_at DESC LIMIT 1`, map[string]any{
		"type":      string(ctype),
		"namespace": namespace,
		"exclude":   excludeID,
		"before":    before.UTC(),
	})
	if err != nil || len(records) == 0 {
		return "", time.Time{}, err
	}
	id := stringValue(records[0], "id")
	var created time.Time
	if v, ok := records[0].Get("created"); ok {
		created, _ = v.(time.Time)
	}
	return id, created, nil
}

// ContainerForProject returns the oldest non-deleted context carrying the
// project id, the node hierarchical edges attach to.
func (s *Store) ContainerForProject(ctx context.Context, projectID, excludeID string) (string, error) {
	return s.oldestWith(ctx, "c.project_id = $value", projectID, excludeID)
}

// ContainerForSprint returns the oldest non-deleted context carrying the
// sprint number.
func (s *Store) ContainerForSprint(ctx context.Context, sprintNumber int64, excludeID string) (string, error) {
	return s.oldestWith(ctx, "c.sprint_number = $value", sprintNumber, excludeID)
}

func (s *Store) oldestWith(ctx context.Context, clause string, value any, excludeID string) (string, error) {
	records, err := s.read(ctx, `MATCH (c:Context)
WHERE `+clause+` AND c.id <> $exclude AND c.deleted_at IS NULL
RETURN c.id AS id ORDER BY c.created_at ASC LIMIT 1`,
		map[string]any{"value": value, "exclude": excludeID})
	if err != nil || len(records) == 0 {
		return "", err
	}
	return stringValue(records[0], "id"), nil
}

// FindByTitleToken returns ids of non-deleted contexts whose title contains
// the token, newest first. Reference detection uses it to resolve mentions
// like "PR #42" to stored contexts.
func (s *Store) FindByTitleToken(ctx context.Context, token, namespace string, limit int) ([]string, error) {
	if strings.TrimSpace(token) == "" || limit <= 0 {
		return nil, nil
	}
	params := map[string]any{"token": strings.ToLower(token), "limit": limit}
	clause := ""
	if namespace != "" {
		clause = " AND c.namespace = $namespace"
		params["namespace"] = namespace
	}
	records, err := s.read(ctx, `MATCH (c:Context)
WHERE c.deleted_at IS NULL AND toLower(c.title) CONTAINS $token`+clause+`
RETURN c.id AS id ORDER BY c.created_at DESC LIMIT $limit`, params)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, stringValue(rec, "id"))
	}
	return ids, nil
}

// ExecuteQuery runs caller-supplied Cypher and returns normalized rows.
// Without allowWrites the query must pass the read-only guard; client-side
// errors from the server (syntax, unknown labels) come back as validation
// errors rather than backend failures.
func (s *Store) ExecuteQuery(ctx context.Context, cypher string, params map[string]any, allowWrites bool) ([]map[string]any, error) {
	mode := neo4j.AccessModeRead
	if allowWrites {
		mode = neo4j.AccessModeWrite
	} else if err := ValidateReadOnly(cypher); err != nil {
		return nil, err
	}

	res, err := s.breaker.Execute(func() (any, error) {
		sess := s.session(ctx, mode)
		defer sess.Close(ctx)
		work := func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, cypher, params)
			if err != nil {
				return nil, err
			}
			return result.Collect(ctx)
		}
		if allowWrites {
			return sess.ExecuteWrite(ctx, work)
		}
		return sess.ExecuteRead(ctx, work)
	})
	if err != nil {
		if strings.Contains(err.Error(), "Neo.ClientError") {
			return nil, apperrors.NewValidation(err.Error())
		}
		return nil, apperrors.NewUnavailable(repository.BackendGraph, err)
	}
	records, _ := res.([]*neo4j.Record)
	rows := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		row := make(map[string]any, len(rec.Keys))
		for i, key := range rec.Keys {
			row[key] = Normalize(rec.Values[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteAudit appends an audit node. Audits are standalone on purpose: they
// reference the context by id only, so they survive its purge.
func (s *Store) WriteAudit(ctx context.Context, rec domain.AuditRecord) error {
	_, err := s.write(ctx, `CREATE (a:Audit {
	id: $id, context_id: $context_id, actor: $actor, actor_type: $actor_type,
	reason: $reason, timestamp: $timestamp, mode: $mode, retention_days: $retention_days
})`, map[string]any{
		"id":             rec.ID,
		"context_id":     rec.ContextID,
		"actor":          rec.Actor,
		"actor_type":     string(rec.ActorType),
		"reason":         rec.Reason,
		"timestamp":      rec.Timestamp.UTC(),
		"mode":           string(rec.Mode),
		"retention_days": rec.RetentionDays,
	})
	return err
}

// AuditsFor returns the audit trail of a context, oldest first.
func (s *Store) AuditsFor(ctx context.Context, contextID string) ([]domain.AuditRecord, error) {
	records, err := s.read(ctx,
		"MATCH (a:Audit {context_id: $id}) RETURN a ORDER BY a.timestamp ASC",
		map[string]any{"id": contextID})
	if err != nil {
		return nil, err
	}
	out := make([]domain.AuditRecord, 0, len(records))
	for _, rec := range records {
		v, _ := rec.Get("a")
		node, ok := v.(neo4j.Node)
		if !ok {
			continue
		}
		audit := domain.AuditRecord{
			ID:        propString(node, "id"),
			ContextID: propString(node, "context_id"),
			Actor:     propString(node, "actor"),
			ActorType: domain.AuthorType(propString(node, "actor_type")),
			Reason:    propString(node, "reason"),
			Mode:      domain.DeleteMode(propString(node, "mode")),
		}
		if ts, ok := node.Props["timestamp"].(time.Time); ok {
			audit.Timestamp = ts
		}
		if days, ok := node.Props["retention_days"].(int64); ok {
			audit.RetentionDays = int(days)
		}
		out = append(out, audit)
	}
	return out, nil
}

// AppendEvents persists drained events as :Event nodes in one transaction,
// linking each to its context when the context still exists.
func (s *Store) AppendEvents(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		rows = append(rows, map[string]any{
			"op":         string(ev.Op),
			"context_id": ev.ContextID,
			"actor":      ev.Actor,
			"timestamp":  ev.Timestamp.UTC(),
			"namespace":  ev.Namespace,
			"outcome":    ev.Outcome,
		})
	}
	_, err := s.write(ctx, `UNWIND $events AS ev
CREATE (e:Event {op: ev.op, context_id: ev.context_id, actor: ev.actor,
	timestamp: ev.timestamp, namespace: ev.namespace, outcome: ev.outcome})
WITH e, ev
OPTIONAL MATCH (c:Context {id: ev.context_id})
FOREACH (_ IN CASE WHEN c IS NULL THEN [] ELSE [1] END | CREATE (e)-[:ABOUT]->(c))`,
		map[string]any{"events": rows})
	return err
}

// DeleteEventsBefore trims synced events older than the cutoff and returns
// how many were removed.
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	summary, err := s.writeSummary(ctx,
		"MATCH (e:Event) WHERE e.timestamp < $cutoff DETACH DELETE e",
		map[string]any{"cutoff": cutoff.UTC()})
	if err != nil {
		return 0, err
	}
	return summary.Counters().NodesDeleted(), nil
}

// FlushScratchpad persists a scratchpad value as a :Scratchpad node so the
// sync worker can retain working memory past its KV expiry.
func (s *Store) FlushScratchpad(ctx context.Context, entry domain.ScratchpadEntry) error {
	_, err := s.write(ctx, `MERGE (s:Scratchpad {agent_id: $agent_id, key: $key})
SET s.value = $value, s.updated_at = $updated_at`, map[string]any{
		"agent_id":   entry.AgentID,
		"key":        entry.Key,
		"value":      entry.Value,
		"updated_at": entry.UpdatedAt.UTC(),
	})
	return err
}

// AllRecords streams every non-deleted context as a backend record, for
// rebuilding the text index at startup.
func (s *Store) AllRecords(ctx context.Context) ([]repository.Record, error) {
	records, err := s.read(ctx,
		"MATCH (c:Context) WHERE c.deleted_at IS NULL RETURN c ORDER BY c.created_at ASC",
		nil)
	if err != nil {
		return nil, err
	}
	out := make([]repository.Record, 0, len(records))
	for _, rec := range records {
		v, _ := rec.Get("c")
		node, ok := v.(neo4j.Node)
		if !ok {
			continue
		}
		out = append(out, nodeToRecord(node))
	}
	return out, nil
}

// Close releases the driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   mode,
	})
}

func (s *Store) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	return s.run(ctx, cypher, params, neo4j.AccessModeRead)
}

func (s *Store) write(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	return s.run(ctx, cypher, params, neo4j.AccessModeWrite)
}

func (s *Store) run(ctx context.Context, cypher string, params map[string]any, mode neo4j.AccessMode) ([]*neo4j.Record, error) {
	res, err := s.breaker.Execute(func() (any, error) {
		sess := s.session(ctx, mode)
		defer sess.Close(ctx)
		work := func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, cypher, params)
			if err != nil {
				return nil, err
			}
			return result.Collect(ctx)
		}
		if mode == neo4j.AccessModeWrite {
			return sess.ExecuteWrite(ctx, work)
		}
		return sess.ExecuteRead(ctx, work)
	})
	if err != nil {
		return nil, apperrors.NewUnavailable(repository.BackendGraph, err)
	}
	records, _ := res.([]*neo4j.Record)
	return records, nil
}

func (s *Store) writeSummary(ctx context.Context, cypher string, params map[string]any) (neo4j.ResultSummary, error) {
	res, err := s.breaker.Execute(func() (any, error) {
		sess := s.session(ctx, neo4j.AccessModeWrite)
		defer sess.Close(ctx)
		return sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, cypher, params)
			if err != nil {
				return nil, err
			}
			return result.Consume(ctx)
		})
	})
	if err != nil {
		return nil, apperrors.NewUnavailable(repository.BackendGraph, err)
	}
	summary, ok := res.(neo4j.ResultSummary)
	if !ok {
		return nil, apperrors.NewInternal("graph write returned no summary", nil)
	}
	return summary, nil
}

// storeParams flattens a backend record into node properties. Content and
// metadata stay as JSON strings because Neo4j properties cannot nest;
// project, team, user, and sprint markers are lifted into first-class
// properties so hierarchy detection can match on them.
func storeParams(rec repository.Record) map[string]any {
	contentJSON, metadataJSON := "{}", "{}"
	var content map[string]any
	if rec.Payload != nil {
		if m, ok := rec.Payload["content"].(map[string]any); ok {
			content = m
			if data, err := json.Marshal(m); err == nil {
				contentJSON = string(data)
			}
		}
		if m, ok := rec.Payload["metadata"].(map[string]any); ok {
			if data, err := json.Marshal(m); err == nil {
				metadataJSON = string(data)
			}
		}
	}

	params := map[string]any{
		"id":            rec.ID,
		"type":          rec.Type,
		"namespace":     rec.Namespace,
		"title":         rec.Title,
		"content":       rec.Text,
		"author":        rec.Author,
		"author_type":   payloadString(rec.Payload, "author_type"),
		"tags":          rec.Tags,
		"created_at":    rec.CreatedAt.UTC(),
		"content_json":  contentJSON,
		"metadata_json": metadataJSON,
		"project_id":    nil,
		"team_id":       nil,
		"user_id":       nil,
		"sprint_number": nil,
	}
	if content != nil {
		if v, ok := content[domain.ContentKeyProjectID].(string); ok && v != "" {
			params["project_id"] = v
		}
		if v, ok := content[domain.ContentKeyTeamID].(string); ok && v != "" {
			params["team_id"] = v
		}
		if v, ok := content[domain.ContentKeyUserID].(string); ok && v != "" {
			params["user_id"] = v
		}
		if n, ok := numberValue(content[domain.ContentKeySprintNumber]); ok {
			params["sprint_number"] = n
		}
	}
	return params
}

func nodeToResult(node neo4j.Node, hops int) repository.SearchResult {
	props := node.Props
	res := repository.SearchResult{
		ID:      propString(node, "id"),
		Score:   1.0 / float64(1+hops),
		Source:  repository.BackendGraph,
		Hops:    hops,
		Deleted: props["deleted_at"] != nil,
		Payload: nodePayload(node),
	}
	if ts, ok := props["created_at"].(time.Time); ok {
		res.CreatedAt = ts
	}
	return res
}

// nodePayload rebuilds the context payload shape from node properties.
func nodePayload(node neo4j.Node) map[string]any {
	payload := map[string]any{
		"type":      propString(node, "type"),
		"namespace": propString(node, "namespace"),
		"title":     propString(node, "title"),
		"author":    propString(node, "author"),
	}
	if tags, ok := node.Props["tags"]; ok {
		payload["tags"] = Normalize(tags)
	}
	payload["content"] = parseJSONProp(node, "content_json")
	if meta := parseJSONProp(node, "metadata_json"); len(meta) > 0 {
		payload["metadata"] = meta
	}
	return payload
}

func nodeToContext(node neo4j.Node) *domain.Context {
	c := &domain.Context{
		ID:         propString(node, "id"),
		Type:       domain.ContextType(propString(node, "type")),
		Namespace:  propString(node, "namespace"),
		Author:     propString(node, "author"),
		AuthorType: domain.AuthorType(propString(node, "author_type")),
		Content:    parseJSONProp(node, "content_json"),
		GraphID:    node.ElementId,
		VectorID:   propString(node, "vector_id"),
	}
	if c.AuthorType == "" {
		c.AuthorType = domain.AuthorHuman
	}
	if meta := parseJSONProp(node, "metadata_json"); len(meta) > 0 {
		c.Metadata = meta
	}
	if ts, ok := node.Props["created_at"].(time.Time); ok {
		c.CreatedAt = ts
	}
	if ts, ok := node.Props["deleted_at"].(time.Time); ok {
		c.DeletedAt = &ts
	}
	if ts, ok := node.Props["purge_at"].(time.Time); ok {
		c.PurgeAt = &ts
	}
	return c
}

func nodeToRecord(node neo4j.Node) repository.Record {
	rec := repository.Record{
		ID:        propString(node, "id"),
		Type:      propString(node, "type"),
		Namespace: propString(node, "namespace"),
		Title:     propString(node, "title"),
		Text:      propString(node, "content"),
		Author:    propString(node, "author"),
		Payload:   nodePayload(node),
	}
	if tags, ok := node.Props["tags"].([]any); ok {
		for _, t := range tags {
			if s, ok := t.(string); ok {
				rec.Tags = append(rec.Tags, s)
			}
		}
	}
	if ts, ok := node.Props["created_at"].(time.Time); ok {
		rec.CreatedAt = ts
	}
	return rec
}

func parseJSONProp(node neo4j.Node, key string) map[string]any {
	raw, ok := node.Props[key].(string)
	if !ok || raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

func propString(node neo4j.Node, key string) string {
	s, _ := node.Props[key].(string)
	return s
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}

func stringValue(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

func boolValue(rec *neo4j.Record, key string) bool {
	v, _ := rec.Get(key)
	b, _ := v.(bool)
	return b
}

func numberValue(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	return 0, false
}
