package query

import (
	"regexp"
	"strings"

	"ctxstore/internal/repository"
)

// Auto-mode feature probes. Entity-heavy queries (ids, PR/issue numbers,
// file paths) gain the graph; short or interrogative ones gain the KV path.
var (
	uuidProbe = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
	refProbe  = regexp.MustCompile(`(?i)\b(?:PR|pull request|issue)\s*#\d+`)
	pathProbe = regexp.MustCompile(`(?:^|\s)(?:/[\w.-]+){2,}`)
	whProbe   = regexp.MustCompile(`(?i)^(?:who|what|when|where|why|how|which|is|are|was|were|do|does|did|can|could|should)\b`)
)

// autoSelect picks a backend subset from query features.
func autoSelect(req Request) []string {
	q := strings.TrimSpace(req.Text)
	switch {
	case q == "" && len(req.Vector) == 0:
		// Filter scan: only the graph and KV paths can serve it.
		return []string{repository.BackendGraph, repository.BackendKV}
	case uuidProbe.MatchString(q) || refProbe.MatchString(q) || pathProbe.MatchString(q):
		return []string{repository.BackendVector, repository.BackendGraph, repository.BackendText}
	case whProbe.MatchString(q) || len(strings.Fields(q)) <= 4:
		return []string{repository.BackendVector, repository.BackendText, repository.BackendKV}
	default:
		return []string{repository.BackendVector, repository.BackendGraph, repository.BackendText, repository.BackendKV}
	}
}
