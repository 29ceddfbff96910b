// Package expansion derives question/answer pairs from narrative context
// text. Detection is regex-based over a closed set of fact types, and the
// generator is pure: the same context always expands to the same pairs, so
// re-indexing is idempotent.
package expansion

import (
	"fmt"
	"regexp"
	"strings"

	"ctxstore/internal/domain"
)

// Fact types the detector recognizes.
const (
	FactName          = "name"
	FactEmail         = "email"
	FactPreference    = "preference"
	FactConfiguration = "configuration"
	FactSprintGoal    = "sprint_goal"
)

// hardMaxPairs bounds fanout per context regardless of configuration.
const hardMaxPairs = 8

var (
	namePattern = regexp.MustCompile(`\b(?i:my name is|name's|i am called|call me)\s+([A-Z][\w'-]*(?:\s+[A-Z][\w'-]*){0,2})`)

	emailPattern = regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)

	preferencePattern = regexp.MustCompile(`(?i)\b(?:i|we|the team) (?:prefers?|like to use|favor)\s+([^.,;!?\n]{3,80})`)

	configPattern = regexp.MustCompile(`(?i)\b([A-Za-z][\w.-]*\w)\s*(?:=|is set to|set to)\s*("[^"]{1,64}"|[\w./:@-]{0,63}\w)`)

	sprintGoalPattern = regexp.MustCompile(`(?i)\bsprint (?:goal|objective)(?:\s+is)?\s*[:\-]?\s+([^.!?\n]{3,120})`)
)

// Expander turns context text into bounded Q&A pairs.
type Expander struct {
	maxPairs int
}

// New builds an expander. The configured cap is clamped to the hard limit.
func New(maxPairs int) *Expander {
	if maxPairs <= 0 || maxPairs > hardMaxPairs {
		maxPairs = hardMaxPairs
	}
	return &Expander{maxPairs: maxPairs}
}

// Expand emits Q&A pairs for the context's text, tagged with the context id
// so the dispatcher can collapse hits back to the parent. Order follows
// fact type priority then position in the text.
func (e *Expander) Expand(c *domain.Context) []domain.QAPair {
	text := c.Text()
	if strings.TrimSpace(text) == "" {
		return nil
	}

	pairs := make([]domain.QAPair, 0, e.maxPairs)
	seen := make(map[string]bool)
	add := func(p domain.QAPair) {
		key := p.Question + "|" + p.Answer
		if seen[key] || len(pairs) >= e.maxPairs {
			return
		}
		seen[key] = true
		p.ParentID = c.ID
		pairs = append(pairs, p)
	}

	for _, m := range namePattern.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		add(domain.QAPair{
			Question:   "What is the person's name?",
			Answer:     fmt.Sprintf("The person's name is %s.", name),
			FactType:   FactName,
			Confidence: 0.9,
		})
	}

	for _, m := range emailPattern.FindAllString(text, -1) {
		add(domain.QAPair{
			Question:   "What is the email address?",
			Answer:     fmt.Sprintf("The email address is %s.", m),
			FactType:   FactEmail,
			Confidence: 0.95,
		})
	}

	for _, m := range configPattern.FindAllStringSubmatch(text, -1) {
		key := m[1]
		value := strings.Trim(m[2], `"`)
		add(domain.QAPair{
			Question:   fmt.Sprintf("What is %s set to?", key),
			Answer:     fmt.Sprintf("%s is set to %s.", key, value),
			FactType:   FactConfiguration,
			Confidence: 0.85,
		})
	}

	for _, m := range sprintGoalPattern.FindAllStringSubmatch(text, -1) {
		goal := strings.TrimSpace(m[1])
		add(domain.QAPair{
			Question:   "What is the sprint goal?",
			Answer:     fmt.Sprintf("The sprint goal is %s.", goal),
			FactType:   FactSprintGoal,
			Confidence: 0.8,
		})
	}

	for _, m := range preferencePattern.FindAllStringSubmatch(text, -1) {
		pref := strings.TrimSpace(m[1])
		add(domain.QAPair{
			Question:   "What does the author prefer?",
			Answer:     fmt.Sprintf("The author prefers %s.", pref),
			FactType:   FactPreference,
			Confidence: 0.7,
		})
	}

	return pairs
}
