// Package ranking orders merged retrieval hits. A CPU-only intent
// classifier labels the query, a rewriter derives paraphrase variants for
// the backends, and a scorer combines the dense, lexical, graph and fact
// signals under a named weight policy. Nothing here calls the network, so
// ranking stays cheap relative to the searches it sits behind.
package ranking

import (
	"regexp"
	"sort"
	"strings"
)

// Intent is the coarse class of a retrieval query.
type Intent string

const (
	IntentConfiguration   Intent = "configuration"
	IntentTroubleshooting Intent = "troubleshooting"
	IntentHowTo           Intent = "howto"
	IntentConceptual      Intent = "conceptual"
	IntentLookup          Intent = "lookup"
	IntentUnknown         Intent = "unknown"
)

// Technical reports whether the intent is about system behavior. Only
// technical intents enable the scorer's technical type boost.
func (i Intent) Technical() bool {
	switch i {
	case IntentConfiguration, IntentTroubleshooting, IntentHowTo:
		return true
	}
	return false
}

// Classification is the classifier's verdict for one query. Entities are
// literal tokens worth matching exactly: quoted strings, identifiers with
// internal separators, and upper-case names.
type Classification struct {
	Intent     Intent
	Confidence float64
	Entities   []string
}

// intentRule scores one intent. A pattern hit is a strong signal; keyword
// hits accumulate on top of it.
type intentRule struct {
	intent   Intent
	pattern  *regexp.Regexp
	keywords []string
}

const (
	patternWeight = 0.6
	keywordWeight = 0.2
	// minConfidence is the floor below which a query is labeled unknown.
	minConfidence = 0.3
)

var intentRules = []intentRule{
	{
		intent:   IntentConfiguration,
		pattern:  regexp.MustCompile(`(?i)\b(configur\w*|settings?|option|parameter|env(ironment)?\s+variable|default\s+value)\b`),
		keywords: []string{"config", "set", "enable", "disable", "timeout", "limit", "port", "flag", "value"},
	},
	{
		intent:   IntentTroubleshooting,
		pattern:  regexp.MustCompile(`(?i)\b(error|fail\w*|crash\w*|broken|exception|not\s+work\w*|timeout\s+exceeded|panic)\b`),
		keywords: []string{"fix", "debug", "issue", "problem", "wrong", "stuck", "slow"},
	},
	{
		intent:   IntentHowTo,
		pattern:  regexp.MustCompile(`(?i)\b(how\s+(do|to|can|should)|steps?\s+to|guide|tutorial|instructions?)\b`),
		keywords: []string{"setup", "install", "create", "build", "deploy", "run", "use"},
	},
	{
		intent:   IntentConceptual,
		pattern:  regexp.MustCompile(`(?i)\b(why|what\s+is|what\s+are|difference\s+between|explain|meaning|purpose)\b`),
		keywords: []string{"architecture", "design", "concept", "overview", "rationale", "tradeoff"},
	},
	{
		intent:   IntentLookup,
		pattern:  regexp.MustCompile(`(?i)\b(find|show|list|get|lookup|look\s+up|latest|recent|last)\b`),
		keywords: []string{"search", "where", "when", "who", "which", "id", "named"},
	},
}

var (
	quotedPattern = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	// identPattern matches tokens with internal separators, the shape of
	// config keys, file names and service ids.
	identPattern = regexp.MustCompile(`\b[A-Za-z0-9]+(?:[._/-][A-Za-z0-9]+)+\b`)
	upperPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9_]{2,}\b`)
	uuidPattern  = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
)

// Classifier labels queries with an intent. It is stateless and safe for
// concurrent use.
type Classifier struct{}

// NewClassifier creates the rule-based classifier.
func NewClassifier() *Classifier { return &Classifier{} }

// Classify scores every rule against the query and returns the best intent
// with its confidence and the extracted entities. Queries that trip no rule
// convincingly come back as unknown with the entities still populated.
func (c *Classifier) Classify(query string) Classification {
	out := Classification{Intent: IntentUnknown, Entities: extractEntities(query)}
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return out
	}
	lower := strings.ToLower(trimmed)

	for _, rule := range intentRules {
		score := 0.0
		if rule.pattern.MatchString(trimmed) {
			score += patternWeight
		}
		for _, kw := range rule.keywords {
			if containsWord(lower, kw) {
				score += keywordWeight
			}
		}
		if score > 1 {
			score = 1
		}
		if score > out.Confidence {
			out.Confidence = score
			out.Intent = rule.intent
		}
	}
	if out.Confidence < minConfidence {
		out.Intent = IntentUnknown
	}
	return out
}

// extractEntities pulls literal match candidates out of the query, in
// stable order with duplicates removed.
func extractEntities(query string) []string {
	var entities []string
	seen := make(map[string]bool)
	add := func(e string) {
		e = strings.TrimSpace(e)
		if e == "" || seen[strings.ToLower(e)] {
			return
		}
		seen[strings.ToLower(e)] = true
		entities = append(entities, e)
	}

	for _, m := range quotedPattern.FindAllStringSubmatch(query, -1) {
		if m[1] != "" {
			add(m[1])
		} else {
			add(m[2])
		}
	}
	for _, m := range uuidPattern.FindAllString(query, -1) {
		add(m)
	}
	for _, m := range identPattern.FindAllString(query, -1) {
		add(m)
	}
	for _, m := range upperPattern.FindAllString(query, -1) {
		add(m)
	}
	sort.SliceStable(entities, func(i, j int) bool { return len(entities[i]) > len(entities[j]) })
	return entities
}

// containsWord matches a keyword on word boundaries without compiling a
// regexp per call.
func containsWord(lower, word string) bool {
	idx := 0
	for {
		i := strings.Index(lower[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordByte(lower[start-1])
		afterOK := end == len(lower) || !isWordByte(lower[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '_'
}
