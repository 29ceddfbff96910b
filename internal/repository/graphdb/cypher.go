package graphdb

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"ctxstore/internal/domain"
	apperrors "ctxstore/internal/errors"
	"ctxstore/internal/repository"
)

// writeClausePattern is deliberately conservative: any token that could
// mutate the graph rejects the whole query, even inside string literals.
var writeClausePattern = regexp.MustCompile(`(?i)\b(CREATE|MERGE|DELETE|DETACH|SET|REMOVE|DROP|FOREACH|CALL|LOAD)\b`)

// ValidateReadOnly rejects Cypher that contains write clauses or procedure
// calls. Tool-facing queries run through this unless the caller holds a
// writer role.
func ValidateReadOnly(cypher string) error {
	if strings.TrimSpace(cypher) == "" {
		return apperrors.NewValidation("query must not be empty")
	}
	if m := writeClausePattern.FindString(cypher); m != "" {
		return apperrors.NewValidationf("query contains write clause %q, read-only access", strings.ToUpper(m))
	}
	return nil
}

// relationshipCypher renders the MERGE statement for a typed edge. The
// relationship type cannot be parameterized in Cypher, so it is validated
// against the closed set before interpolation.
func relationshipCypher(relType domain.RelationshipType) (string, error) {
	if !domain.ValidRelationshipTypes[relType] {
		return "", apperrors.NewValidationf("unknown relationship type %q", relType)
	}
	return fmt.Sprintf(`MATCH (a:Context {id: $source}), (b:Context {id: $target})
MERGE (a)-[r:%s]->(b)
ON CREATE SET r.reason = $reason, r.auto_detected = $auto_detected, r.created_at = $created_at`, relType), nil
}

// buildSearchQuery assembles the filtered seed match plus a one-hop
// neighbor expansion. Tokens are matched case-insensitively against title
// and content; an empty token list degrades to a pure filter scan.
func buildSearchQuery(q repository.SearchQuery) (string, map[string]any) {
	var where []string
	params := map[string]any{
		"limit": q.Limit,
	}

	where = append(where, "c.deleted_at IS NULL")
	if q.Filters.Namespace != "" {
		where = append(where, "c.namespace = $namespace")
		params["namespace"] = q.Filters.Namespace
	}
	if len(q.Filters.Types) > 0 {
		where = append(where, "c.type IN $types")
		params["types"] = q.Filters.Types
	}
	if len(q.Filters.Tags) > 0 {
		where = append(where, "all(t IN $tags WHERE t IN c.tags)")
		params["tags"] = q.Filters.Tags
	}
	if q.Filters.Author != "" {
		where = append(where, "c.author = $author")
		params["author"] = q.Filters.Author
	}
	if q.Filters.Since != nil {
		where = append(where, "c.created_at >= datetime($since)")
		params["since"] = q.Filters.Since.UTC().Format(time.RFC3339Nano)
	}
	if q.Filters.Until != nil {
		where = append(where, "c.created_at <= datetime($until)")
		params["until"] = q.Filters.Until.UTC().Format(time.RFC3339Nano)
	}

	tokens := searchTokens(q.Text)
	for _, v := range q.Variants {
		tokens = appendNewTokens(tokens, searchTokens(v))
	}
	if len(tokens) > 0 {
		where = append(where, "any(tok IN $tokens WHERE toLower(c.title) CONTAINS tok OR toLower(c.content) CONTAINS tok)")
		params["tokens"] = tokens
	}

	cypher := fmt.Sprintf(`MATCH (c:Context)
WHERE %s
WITH c ORDER BY c.created_at DESC LIMIT $limit
OPTIONAL MATCH (c)-[]-(n:Context)
WHERE n.deleted_at IS NULL
RETURN c, collect(DISTINCT n)[..%d] AS neighbors`, strings.Join(where, " AND "), neighborCap)
	return cypher, params
}

// searchTokens lowercases and splits free text into match tokens, dropping
// fragments too short to be selective.
func searchTokens(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `.,;:!?"'()[]{}`)
		if len(f) < 2 {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func appendNewTokens(tokens, more []string) []string {
	for _, tok := range more {
		dup := false
		for _, have := range tokens {
			if have == tok {
				dup = true
				break
			}
		}
		if !dup {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}
