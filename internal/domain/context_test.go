package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContextState(t *testing.T) {
	now := time.Now().UTC()

	t.Run("Draft", func(t *testing.T) {
		c := &Context{ID: "a"}
		assert.Equal(t, StateDraft, c.State())
	})

	t.Run("StoredAfterGraphWrite", func(t *testing.T) {
		c := &Context{ID: "a", GraphID: "a"}
		assert.Equal(t, StateStored, c.State())
	})

	t.Run("IndexedAfterVectorWrite", func(t *testing.T) {
		c := &Context{ID: "a", GraphID: "a", VectorID: "a"}
		assert.Equal(t, StateIndexed, c.State())
	})

	t.Run("SoftDeletedWinsOverIndexed", func(t *testing.T) {
		c := &Context{ID: "a", GraphID: "a", VectorID: "a", DeletedAt: &now}
		assert.Equal(t, StateSoftDeleted, c.State())
		assert.True(t, c.IsDeleted())
	})
}

func TestContextText(t *testing.T) {
	t.Run("PrefersTextField", func(t *testing.T) {
		c := &Context{Content: map[string]any{
			"text":  "the text",
			"title": "the title",
		}}
		assert.Equal(t, "the text", c.Text())
	})

	t.Run("FallsBackToTitleAndDescription", func(t *testing.T) {
		c := &Context{Content: map[string]any{
			"title":       "adopt parallel dispatch",
			"description": "fan out to all backends",
		}}
		assert.Equal(t, "adopt parallel dispatch\nfan out to all backends", c.Text())
	})

	t.Run("EmptyContent", func(t *testing.T) {
		c := &Context{Content: map[string]any{}}
		assert.Equal(t, "", c.Text())
	})
}

func TestContextTags(t *testing.T) {
	t.Run("StringSlice", func(t *testing.T) {
		c := &Context{Metadata: map[string]any{"tags": []string{"a", "b"}}}
		assert.Equal(t, []string{"a", "b"}, c.Tags())
	})

	t.Run("DecodedJSONSlice", func(t *testing.T) {
		c := &Context{Metadata: map[string]any{"tags": []any{"a", 7, "b"}}}
		assert.Equal(t, []string{"a", "b"}, c.Tags())
	})

	t.Run("Missing", func(t *testing.T) {
		c := &Context{}
		assert.Nil(t, c.Tags())
	})
}

func TestRelationshipKey(t *testing.T) {
	a := Relationship{SourceID: "s", TargetID: "t", Type: RelFollowedBy}
	b := Relationship{SourceID: "s", TargetID: "t", Type: RelFollowedBy, Reason: "different"}
	c := Relationship{SourceID: "s", TargetID: "t", Type: RelPrecededBy}
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestQAPairStitched(t *testing.T) {
	q := QAPair{Question: "What's my name?", Answer: "My name is Matt."}
	assert.Equal(t, "What's my name? My name is Matt.", q.Stitched())
}
