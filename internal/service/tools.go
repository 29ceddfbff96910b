package service

import (
	"context"
	"sort"

	"ctxstore/internal/auth"
	"ctxstore/internal/embedding"
	"ctxstore/internal/repository"
)

// ToolDescriptor advertises one tool: who may call it and whether its
// backing stores are currently up.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	MinRole     string `json:"min_role"`
	Available   bool   `json:"available"`
	Reason      string `json:"reason,omitempty"`
}

// ToolCatalog is what list_tools returns.
type ToolCatalog struct {
	Tools []ToolDescriptor `json:"tools"`
}

// HealthReport is the detailed health surface: per-backend state plus the
// embedding pipeline.
type HealthReport struct {
	Status    string                       `json:"status"`
	Backends  map[string]repository.Health `json:"backends"`
	Embedding embedding.Status             `json:"embedding_pipeline"`
}

// toolSpec ties a tool to the backends it cannot work without. anyBackend
// means one healthy backend of any kind suffices.
type toolSpec struct {
	name        string
	description string
	op          auth.Operation
	needs       []string
	anyBackend  bool
}

var toolSpecs = []toolSpec{
	{
		name:        "store_context",
		description: "Store a typed context across the graph, vector, kv and text backends.",
		op:          auth.OpStore,
		needs:       []string{repository.BackendGraph},
	},
	{
		name:        "retrieve_context",
		description: "Hybrid retrieval across vector, graph, text and kv backends.",
		op:          auth.OpRetrieve,
		anyBackend:  true,
	},
	{
		name:        "query_graph",
		description: "Run cypher against the context graph. Read-only below admin.",
		op:          auth.OpQueryGraph,
		needs:       []string{repository.BackendGraph},
	},
	{
		name:        "update_scratchpad",
		description: "Write agent working memory with a mandatory ttl.",
		op:          auth.OpScratchpadWrite,
		needs:       []string{repository.BackendKV},
	},
	{
		name:        "get_agent_state",
		description: "Read agent working memory by key, or list the keys.",
		op:          auth.OpScratchpadRead,
		needs:       []string{repository.BackendKV},
	},
	{
		name:        "delete_context",
		description: "Hard delete a context everywhere. Audited, human only.",
		op:          auth.OpDelete,
		needs:       []string{repository.BackendGraph},
	},
	{
		name:        "forget_context",
		description: "Soft delete a context with a scheduled purge. Audited.",
		op:          auth.OpForget,
		needs:       []string{repository.BackendGraph},
	},
}

// ListTools reports the tool catalog with live availability. Tools the
// principal cannot call are still listed so agents can plan an escalation.
func (s *service) ListTools(ctx context.Context, p auth.Principal) (*ToolCatalog, error) {
	if err := p.Can(auth.OpListTools); err != nil {
		return nil, err
	}
	health := s.deps.Registry.HealthAll(ctx)

	catalog := &ToolCatalog{Tools: make([]ToolDescriptor, 0, len(toolSpecs))}
	for _, spec := range toolSpecs {
		d := ToolDescriptor{
			Name:        spec.name,
			Description: spec.description,
			MinRole:     string(auth.MinRole(spec.op)),
			Available:   true,
		}
		if spec.anyBackend {
			d.Available, d.Reason = anyHealthy(health)
		} else {
			for _, need := range spec.needs {
				if h, ok := health[need]; !ok || h.State == repository.Unhealthy {
					d.Available = false
					d.Reason = need + " backend unavailable"
					break
				}
			}
		}
		catalog.Tools = append(catalog.Tools, d)
	}
	return catalog, nil
}

// HealthDetailed reports every backend plus the embedding pipeline. Status
// degrades when anything is off nominal but the report itself never fails.
func (s *service) HealthDetailed(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:    "ok",
		Backends:  s.deps.Registry.HealthAll(ctx),
		Embedding: s.deps.Embedder.Status(),
	}
	for _, name := range sortedKeys(report.Backends) {
		if report.Backends[name].State != repository.Healthy {
			report.Status = "degraded"
			break
		}
	}
	if !report.Embedding.SelfTestOK {
		report.Status = "degraded"
	}
	return report
}

func anyHealthy(health map[string]repository.Health) (bool, string) {
	for _, h := range health {
		if h.State != repository.Unhealthy {
			return true, ""
		}
	}
	return false, "no backend available"
}

func sortedKeys(m map[string]repository.Health) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
