package expansion

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxstore/internal/domain"
)

func contextWithText(text string) *domain.Context {
	return &domain.Context{
		ID:      "ctx-1",
		Type:    domain.TypeLog,
		Content: map[string]any{"text": text},
	}
}

func pairsByType(pairs []domain.QAPair, factType string) []domain.QAPair {
	var out []domain.QAPair
	for _, p := range pairs {
		if p.FactType == factType {
			out = append(out, p)
		}
	}
	return out
}

func TestExpandDetectsName(t *testing.T) {
	pairs := New(0).Expand(contextWithText("My name is Ada Lovelace and I work on the analytical engine."))

	named := pairsByType(pairs, FactName)
	require.Len(t, named, 1)
	assert.Equal(t, "What is the person's name?", named[0].Question)
	assert.Equal(t, "The person's name is Ada Lovelace.", named[0].Answer)
	assert.Equal(t, 0.9, named[0].Confidence)
	assert.Equal(t, "ctx-1", named[0].ParentID)
}

func TestExpandDetectsEmail(t *testing.T) {
	pairs := New(0).Expand(contextWithText("Reach the on-call rotation at oncall@example.org for escalations."))

	emails := pairsByType(pairs, FactEmail)
	require.Len(t, emails, 1)
	assert.Equal(t, "The email address is oncall@example.org.", emails[0].Answer)
	assert.Equal(t, 0.95, emails[0].Confidence)
}

func TestExpandDetectsConfiguration(t *testing.T) {
	pairs := New(0).Expand(contextWithText("Worker pool uses MAX_RETRIES=5 and the dial timeout is set to 30s."))

	configs := pairsByType(pairs, FactConfiguration)
	require.Len(t, configs, 2)
	assert.Equal(t, "What is MAX_RETRIES set to?", configs[0].Question)
	assert.Equal(t, "MAX_RETRIES is set to 5.", configs[0].Answer)
	assert.Equal(t, "timeout is set to 30s.", configs[1].Answer)
}

func TestExpandDetectsSprintGoal(t *testing.T) {
	pairs := New(0).Expand(contextWithText("Sprint goal: ship hybrid dispatch behind a flag."))

	goals := pairsByType(pairs, FactSprintGoal)
	require.Len(t, goals, 1)
	assert.Equal(t, "The sprint goal is ship hybrid dispatch behind a flag.", goals[0].Answer)
}

func TestExpandDetectsPreference(t *testing.T) {
	pairs := New(0).Expand(contextWithText("For logging I prefer structured output with zap."))

	prefs := pairsByType(pairs, FactPreference)
	require.Len(t, prefs, 1)
	assert.Equal(t, "The author prefers structured output with zap.", prefs[0].Answer)
	assert.Equal(t, 0.7, prefs[0].Confidence)
}

func TestExpandCapsFanout(t *testing.T) {
	text := ""
	for i := 0; i < 12; i++ {
		text += fmt.Sprintf("Contact user%d@example.org. ", i)
	}

	assert.Len(t, New(0).Expand(contextWithText(text)), 8)
	assert.Len(t, New(3).Expand(contextWithText(text)), 3)
	assert.Len(t, New(99).Expand(contextWithText(text)), 8)
}

func TestExpandIsIdempotent(t *testing.T) {
	c := contextWithText("My name is Grace Hopper, email grace@navy.mil, and I prefer compilers over assembly.")
	e := New(0)

	first := e.Expand(c)
	second := e.Expand(c)
	assert.Equal(t, first, second)
	require.NotEmpty(t, first)
}

func TestExpandDeduplicates(t *testing.T) {
	pairs := New(0).Expand(contextWithText("Ping ops@example.org. Again: ops@example.org."))
	assert.Len(t, pairsByType(pairs, FactEmail), 1)
}

func TestExpandEmptyAndPlainText(t *testing.T) {
	assert.Nil(t, New(0).Expand(contextWithText("   ")))
	assert.Empty(t, New(0).Expand(contextWithText("The deploy finished without incident today.")))
}

func TestStitchedUnit(t *testing.T) {
	pairs := New(0).Expand(contextWithText("My name is Alan Turing."))
	require.NotEmpty(t, pairs)
	assert.Equal(t, pairs[0].Question+" "+pairs[0].Answer, pairs[0].Stitched())
}
