// Package vectordb adapts PostgreSQL with the pgvector extension as the
// vector backend. One table holds the embedding plus a payload mirror of
// content and metadata; scores are cosine similarity in [0,1].
package vectordb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"

	apperrors "ctxstore/internal/errors"
	"ctxstore/internal/repository"
)

var tablePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Store is the pgvector-backed vector adapter.
type Store struct {
	db      *sqlx.DB
	table   string
	dims    int
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewDB opens the Postgres pool through the pgx stdlib driver.
func NewDB(dsn string) (*sqlx.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	return sqlx.NewDb(db, "pgx"), nil
}

// New builds the adapter over an existing pool. The table name comes from
// configuration and must be a plain identifier.
func New(db *sqlx.DB, table string, dims int, logger *zap.Logger) (*Store, error) {
	if !tablePattern.MatchString(table) {
		return nil, apperrors.NewValidationf("invalid vector table name %q", table)
	}
	if dims <= 0 {
		return nil, apperrors.NewValidationf("vector dimensions must be positive, got %d", dims)
	}
	return &Store{
		db:      db,
		table:   table,
		dims:    dims,
		breaker: repository.NewBreaker("vector", logger),
		logger:  logger,
	}, nil
}

// EnsureSchema creates the extension, table, and index if missing, then
// verifies the stored embedding dimension matches configuration. A
// mismatch is fatal; rebuilding the collection is operator-initiated.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id         uuid PRIMARY KEY,
			parent_id  uuid,
			type       text NOT NULL,
			namespace  text NOT NULL,
			title      text NOT NULL DEFAULT '',
			content    text NOT NULL DEFAULT '',
			author     text NOT NULL DEFAULT '',
			tags       text[] NOT NULL DEFAULT '{}',
			payload    jsonb NOT NULL DEFAULT '{}',
			embedding  vector(%d) NOT NULL,
			created_at timestamptz NOT NULL,
			deleted_at timestamptz
		)`, s.table, s.dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_namespace_idx ON %s (namespace)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperrors.NewUnavailable(repository.BackendVector, err)
		}
	}

	var typmod int
	err := s.db.QueryRowContext(ctx,
		`SELECT atttypmod FROM pg_attribute WHERE attrelid = $1::regclass AND attname = 'embedding'`,
		s.table,
	).Scan(&typmod)
	if err != nil {
		return apperrors.NewUnavailable(repository.BackendVector, err)
	}
	if typmod > 0 && typmod != s.dims {
		return apperrors.NewValidationf(
			"vector collection %s has dimension %d but config wants %d; rebuild the collection",
			s.table, typmod, s.dims)
	}
	return nil
}

// Name implements repository.Backend.
func (s *Store) Name() string { return repository.BackendVector }

// Store implements repository.Backend. It refuses vectors whose dimension
// does not match the collection.
func (s *Store) Store(ctx context.Context, rec repository.Record) (string, error) {
	if len(rec.Vector) == 0 {
		return "", apperrors.NewValidation("vector backend requires an embedding")
	}
	if len(rec.Vector) != s.dims {
		return "", apperrors.NewValidationf("embedding dimension %d does not match collection dimension %d", len(rec.Vector), s.dims)
	}
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return "", apperrors.NewInternal("marshal vector payload", err)
	}

	var parentID any
	if rec.ParentID != "" {
		parentID = rec.ParentID
	}
	query := fmt.Sprintf(`INSERT INTO %s
		(id, parent_id, type, namespace, title, content, author, tags, payload, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			parent_id = EXCLUDED.parent_id,
			type = EXCLUDED.type,
			namespace = EXCLUDED.namespace,
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			author = EXCLUDED.author,
			tags = EXCLUDED.tags,
			payload = EXCLUDED.payload,
			embedding = EXCLUDED.embedding,
			deleted_at = NULL`, s.table)

	_, err = s.breaker.Execute(func() (any, error) {
		return s.db.ExecContext(ctx, query,
			rec.ID, parentID, rec.Type, rec.Namespace, rec.Title, rec.Text, rec.Author,
			tagsArray(rec.Tags), payload, pgvector.NewVector(rec.Vector), rec.CreatedAt)
	})
	if err != nil {
		return "", apperrors.NewUnavailable(repository.BackendVector, err)
	}
	return rec.ID, nil
}

// Search implements repository.Backend. Queries without a vector are not
// servable here and return empty. When AltVectors carry rewrite embeddings
// each one is searched too, and an id keeps its best similarity across all
// of them.
func (s *Store) Search(ctx context.Context, q repository.SearchQuery) ([]repository.SearchResult, error) {
	if len(q.Vector) == 0 || q.Limit <= 0 {
		return nil, nil
	}

	results, err := s.searchOne(ctx, q, q.Vector)
	if err != nil || len(q.AltVectors) == 0 {
		return results, err
	}

	best := make(map[string]int, len(results))
	for i, r := range results {
		best[r.ID] = i
	}
	for _, vec := range q.AltVectors {
		more, err := s.searchOne(ctx, q, vec)
		if err != nil {
			return nil, err
		}
		for _, r := range more {
			if i, ok := best[r.ID]; ok {
				if r.Score > results[i].Score {
					results[i].Score = r.Score
				}
				continue
			}
			best[r.ID] = len(results)
			results = append(results, r)
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func (s *Store) searchOne(ctx context.Context, q repository.SearchQuery, vec []float32) ([]repository.SearchResult, error) {
	if len(vec) != s.dims {
		return nil, apperrors.NewValidationf("query vector dimension %d does not match collection dimension %d", len(vec), s.dims)
	}

	where := []string{"deleted_at IS NULL"}
	args := []any{pgvector.NewVector(vec)}
	n := 2
	add := func(clause string, value any) {
		where = append(where, fmt.Sprintf(clause, n))
		args = append(args, value)
		n++
	}
	if q.Filters.Namespace != "" {
		add("namespace = $%d", q.Filters.Namespace)
	}
	if len(q.Filters.Types) > 0 {
		add("type = ANY($%d)", tagsArray(q.Filters.Types))
	}
	if len(q.Filters.Tags) > 0 {
		add("tags @> $%d", tagsArray(q.Filters.Tags))
	}
	if q.Filters.Author != "" {
		add("author = $%d", q.Filters.Author)
	}
	if q.Filters.Since != nil {
		add("created_at >= $%d", *q.Filters.Since)
	}
	if q.Filters.Until != nil {
		add("created_at <= $%d", *q.Filters.Until)
	}
	args = append(args, q.Limit)

	query := fmt.Sprintf(`SELECT id, parent_id, payload, created_at, 1 - (embedding <=> $1) AS score
		FROM %s WHERE %s ORDER BY embedding <=> $1 LIMIT $%d`,
		s.table, strings.Join(where, " AND "), n)

	res, err := s.breaker.Execute(func() (any, error) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanResults(rows)
	})
	if err != nil {
		return nil, apperrors.NewUnavailable(repository.BackendVector, err)
	}
	return res.([]repository.SearchResult), nil
}

func scanResults(rows *sql.Rows) ([]repository.SearchResult, error) {
	var results []repository.SearchResult
	for rows.Next() {
		var (
			id        string
			parentID  sql.NullString
			payload   []byte
			createdAt time.Time
			score     float64
		)
		if err := rows.Scan(&id, &parentID, &payload, &createdAt, &score); err != nil {
			return nil, err
		}
		var p map[string]any
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &p); err != nil {
				return nil, err
			}
		}
		if score < 0 {
			score = 0
		}
		results = append(results, repository.SearchResult{
			ID:        id,
			ParentID:  parentID.String,
			Score:     score,
			Source:    repository.BackendVector,
			Payload:   p,
			CreatedAt: createdAt,
		})
	}
	return results, rows.Err()
}

// Delete implements repository.Backend. The vector copy is not the source
// of truth, so delete removes the row outright.
func (s *Store) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 OR parent_id = $1`, s.table)
	_, err := s.breaker.Execute(func() (any, error) {
		return s.db.ExecContext(ctx, query, id)
	})
	if err != nil {
		return apperrors.NewUnavailable(repository.BackendVector, err)
	}
	return nil
}

// Health implements repository.Backend.
func (s *Store) Health(ctx context.Context) repository.Health {
	if s.breaker.State() == gobreaker.StateOpen {
		return repository.Health{State: repository.Degraded, Message: "circuit breaker open"}
	}
	if err := s.db.PingContext(ctx); err != nil {
		return repository.Health{State: repository.Unhealthy, Message: err.Error()}
	}
	return repository.Health{State: repository.Healthy}
}

// Ping verifies connectivity, for startup checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// tagsArray renders a text[] literal. The driver-level array support in
// pgx's database/sql mode does not cover []string directly.
func tagsArray(tags []string) string {
	if len(tags) == 0 {
		return "{}"
	}
	escaped := make([]string, len(tags))
	for i, tag := range tags {
		escaped[i] = `"` + strings.ReplaceAll(strings.ReplaceAll(tag, `\`, `\\`), `"`, `\"`) + `"`
	}
	return "{" + strings.Join(escaped, ",") + "}"
}
