package ranking

import (
	"fmt"
	"strings"
)

// contractions are expanded before any other rewrite so the variants carry
// the full words the index was built from.
var contractions = [][2]string{
	{"what's", "what is"}, {"how's", "how is"}, {"where's", "where is"},
	{"there's", "there is"}, {"it's", "it is"}, {"that's", "that is"},
	{"can't", "cannot"}, {"won't", "will not"}, {"don't", "do not"},
	{"doesn't", "does not"}, {"didn't", "did not"}, {"isn't", "is not"},
	{"aren't", "are not"}, {"wasn't", "was not"}, {"couldn't", "could not"},
	{"shouldn't", "should not"}, {"wouldn't", "would not"},
	{"we're", "we are"}, {"they're", "they are"}, {"you're", "you are"},
	{"i'm", "i am"}, {"i've", "i have"}, {"we've", "we have"},
}

// questionPrefixes are stripped to turn a question into its statement form.
var questionPrefixes = []string{
	"what is the", "what are the", "what is", "what are",
	"how do i", "how do we", "how do you", "how can i", "how to",
	"where is the", "where is", "where are",
	"why does the", "why does", "why is",
	"when does", "when did", "who is",
	"do we have", "is there a", "is there",
}

// intentTemplates phrase the query the way contexts of that intent tend to
// be written, so the lexical and dense signals meet them halfway.
var intentTemplates = map[Intent][]string{
	IntentConfiguration:   {"%s configuration", "%s setting value"},
	IntentTroubleshooting: {"%s error fix", "%s failure cause"},
	IntentHowTo:           {"steps to %s", "%s procedure"},
	IntentConceptual:      {"%s design rationale"},
	IntentLookup:          {"%s"},
}

// Rewriter derives up to maxRewrites paraphrase variants of a query.
// Variants are only produced when the classifier is confident about the
// intent; an unknown or weakly classified query goes to the backends as-is.
type Rewriter struct {
	classifier  *Classifier
	maxRewrites int
	confidence  float64
}

// NewRewriter wires the rewriter. maxRewrites caps the variants per query;
// confidence is the classifier score below which no rewrites are emitted.
func NewRewriter(classifier *Classifier, maxRewrites int, confidence float64) *Rewriter {
	if maxRewrites < 0 {
		maxRewrites = 0
	}
	return &Rewriter{classifier: classifier, maxRewrites: maxRewrites, confidence: confidence}
}

// Rewrite returns the variants for a query, never including the original
// and never more than the configured maximum. The same query always yields
// the same variants.
func (rw *Rewriter) Rewrite(query string, cls Classification) []string {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" || rw.maxRewrites == 0 || cls.Confidence < rw.confidence {
		return nil
	}

	var variants []string
	seen := map[string]bool{strings.ToLower(trimmed): true}
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" || seen[strings.ToLower(v)] || len(variants) >= rw.maxRewrites {
			return
		}
		seen[strings.ToLower(v)] = true
		variants = append(variants, v)
	}

	expanded := expandContractions(trimmed)
	add(expanded)

	// Question and statement forms of the same ask retrieve different
	// stitched units, so both shapes are always tried.
	if isQuestion(expanded) {
		add(toStatement(expanded))
	} else {
		add("what is " + strings.ToLower(expanded))
	}

	core := toStatement(expanded)
	if len(cls.Entities) > 0 {
		core = strings.Join(cls.Entities, " ")
	}
	for _, tmpl := range intentTemplates[cls.Intent] {
		add(fmt.Sprintf(tmpl, core))
	}
	return variants
}

func expandContractions(s string) string {
	lower := strings.ToLower(s)
	for _, pair := range contractions {
		if !strings.Contains(lower, pair[0]) {
			continue
		}
		// Rebuild from the lowered form; case only matters to humans here.
		lower = strings.ReplaceAll(lower, pair[0], pair[1])
		s = lower
	}
	return s
}

func isQuestion(s string) bool {
	if strings.HasSuffix(strings.TrimSpace(s), "?") {
		return true
	}
	lower := strings.ToLower(s)
	for _, p := range questionPrefixes {
		if strings.HasPrefix(lower, p+" ") || lower == p {
			return true
		}
	}
	return false
}

// toStatement strips the interrogative scaffolding, leaving the subject.
func toStatement(s string) string {
	out := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "?"))
	lower := strings.ToLower(out)
	for _, p := range questionPrefixes {
		if strings.HasPrefix(lower, p+" ") {
			return strings.TrimSpace(out[len(p)+1:])
		}
		if lower == p {
			return ""
		}
	}
	return out
}
