package ranking

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"ctxstore/internal/config"
	"ctxstore/internal/query"
	"ctxstore/internal/repository"
)

// recencyFloor is the lowest the decay can push a score: old context is
// worth less, never nothing.
const recencyFloor = 0.1

// Scorer combines the per-backend signals of a merged result into one final
// score under a named weight policy, and attaches an explanation to every
// result it touches.
type Scorer struct {
	policies      map[string]config.RankingPolicy
	defaultPolicy string
	classifier    *Classifier
	logger        *zap.Logger

	// now is swappable so recency decay is testable.
	now func() time.Time
}

// NewScorer builds the scorer from the ranking configuration. Policies are
// validated at config load, so an empty set cannot reach here.
func NewScorer(cfg config.RankingConfig, classifier *Classifier, logger *zap.Logger) *Scorer {
	policies := make(map[string]config.RankingPolicy, len(cfg.Policies))
	for _, p := range cfg.Policies {
		policies[p.Name] = p
	}
	return &Scorer{
		policies:      policies,
		defaultPolicy: cfg.DefaultPolicy,
		classifier:    classifier,
		logger:        logger,
		now:           time.Now,
	}
}

// Rank implements query.Ranker. Results come back reordered by final score,
// ties broken by recency then id so equal inputs rank identically. The
// incoming slice is modified in place.
func (s *Scorer) Rank(_ context.Context, queryText, policyName string, results []query.Result) []query.Result {
	policy, ok := s.policies[policyName]
	if !ok {
		if policyName != "" {
			s.logger.Warn("unknown ranking policy, using default",
				zap.String("policy", policyName), zap.String("default", s.defaultPolicy))
		}
		policy = s.policies[s.defaultPolicy]
	}
	cls := s.classifier.Classify(queryText)
	queryLower := strings.ToLower(queryText)
	now := s.now()

	for i := range results {
		results[i] = s.score(&policy, cls, queryLower, now, results[i])
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].ID < results[j].ID
	})
	return results
}

func (s *Scorer) score(policy *config.RankingPolicy, cls Classification, queryLower string, now time.Time, r query.Result) query.Result {
	dense := r.SourceScores[repository.BackendVector]
	// The KV backend's exact-key score is a lexical signal: both match the
	// literal text of the query rather than its meaning.
	lexical := r.SourceScores[repository.BackendText]
	if kv := r.SourceScores[repository.BackendKV]; kv > lexical {
		lexical = kv
	}
	graph := 0.0
	if _, ok := r.SourceScores[repository.BackendGraph]; ok {
		graph = 1.0 / (float64(r.Hops) + 0.5)
	}
	fact := factPrior(cls.Intent, r)

	base := policy.Dense*dense + policy.Lexical*lexical + policy.Graph*graph + policy.FactPrior*fact

	exact := 1.0
	if exactMatch(queryLower, r) {
		exact = policy.ExactMatchFactor
	}
	recency := recencyDecay(now, r.CreatedAt, policy.RecencyTauDays)
	technical := 1.0
	if cls.Intent.Technical() && technicalType(payloadType(r.Payload)) {
		technical = policy.TechnicalBoost
	}

	final := base * exact * recency * technical
	r.Explanation = &query.Explanation{
		OriginalScore: r.Score,
		Boosts: map[string]float64{
			"dense":       policy.Dense * dense,
			"lexical":     policy.Lexical * lexical,
			"graph":       policy.Graph * graph,
			"fact_prior":  policy.FactPrior * fact,
			"exact_match": exact,
			"recency":     recency,
			"technical":   technical,
		},
		FinalScore: final,
	}
	r.Score = final
	return r
}

// factPrior estimates how declarative a result is. Stitched Q&A units carry
// an explicit confidence; everything else is judged by its text shape, then
// weighted by how well the type fits the intent.
func factPrior(intent Intent, r query.Result) float64 {
	prior := 0.5
	if c, ok := payloadFloat(r.Payload, "confidence"); ok {
		prior = c
	} else if text := payloadText(r.Payload); text != "" {
		switch {
		case interrogative(text):
			prior = 0.2
		case declarative(text):
			prior = 0.7
		}
	}
	prior *= typeWeight(intent, payloadType(r.Payload))
	if prior > 1 {
		prior = 1
	}
	if prior < 0 {
		prior = 0
	}
	return prior
}

// typeWeight prefers design and decision context over raw traces and logs
// when the query is technical. Non-technical intents treat all types alike.
func typeWeight(intent Intent, ctype string) float64 {
	if !intent.Technical() {
		return 1.0
	}
	switch ctype {
	case "design", "decision":
		return 1.2
	case "trace", "log":
		return 0.8
	}
	return 1.0
}

func technicalType(ctype string) bool {
	switch ctype {
	case "design", "decision", "trace", "test":
		return true
	}
	return false
}

// exactMatch reports whether the query literally names this result: its id,
// its full title, or one of its tags. Ids shorter than eight characters are
// not matched; substrings that short hit by accident.
func exactMatch(queryLower string, r query.Result) bool {
	if len(r.ID) >= 8 && strings.Contains(queryLower, strings.ToLower(r.ID)) {
		return true
	}
	if title := payloadString(r.Payload, "title"); title != "" {
		if strings.Contains(queryLower, strings.ToLower(title)) {
			return true
		}
	}
	for _, tag := range payloadTags(r.Payload) {
		if tag != "" && containsWord(queryLower, strings.ToLower(tag)) {
			return true
		}
	}
	return false
}

// recencyDecay is exp(-age_days/tau) floored at recencyFloor. Results with
// no timestamp are not punished for it.
func recencyDecay(now, createdAt time.Time, tauDays float64) float64 {
	if createdAt.IsZero() || tauDays <= 0 {
		return 1.0
	}
	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays <= 0 {
		return 1.0
	}
	decay := math.Exp(-ageDays / tauDays)
	if decay < recencyFloor {
		return recencyFloor
	}
	return decay
}

var interrogativeStarts = []string{"what", "how", "why", "where", "when", "who", "is ", "are ", "does ", "do ", "can "}

func interrogative(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if strings.HasSuffix(t, "?") {
		return true
	}
	for _, p := range interrogativeStarts {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	return false
}

// declarative looks for the copula shapes facts are written in.
func declarative(text string) bool {
	t := " " + strings.ToLower(strings.TrimSpace(text)) + " "
	for _, marker := range []string{" is ", " are ", " was ", " uses ", " set to ", " equals ", " means "} {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return strings.HasSuffix(strings.TrimSpace(text), ".")
}

func payloadType(payload map[string]any) string {
	return payloadString(payload, "type")
}

// payloadText pulls the best prose out of a result payload: the content
// map's text field, a stitched answer, or the title.
func payloadText(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if content, ok := payload["content"].(map[string]any); ok {
		for _, key := range []string{"text", "description", "body"} {
			if s, _ := content[key].(string); s != "" {
				return s
			}
		}
	}
	if s := payloadString(payload, "answer"); s != "" {
		return s
	}
	if s := payloadString(payload, "text"); s != "" {
		return s
	}
	return payloadString(payload, "title")
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}

func payloadFloat(payload map[string]any, key string) (float64, bool) {
	if payload == nil {
		return 0, false
	}
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func payloadTags(payload map[string]any) []string {
	if payload == nil {
		return nil
	}
	switch v := payload["tags"].(type) {
	case []string:
		return v
	case []any:
		tags := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
		return tags
	}
	return nil
}
