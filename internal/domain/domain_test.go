package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewTabRelationship(t *testing.T) {
	now := time.Now()

	t.Run("canonicalizes pair ordering", func(t *testing.T) {
		rel := NewTabRelationship(9, 3, []string{"Go"}, []string{"Go"}, now)
		assert.Equal(t, 3, rel.TabIDLow)
		assert.Equal(t, 9, rel.TabIDHigh)
	})

	t.Run("jaccard strength", func(t *testing.T) {
		rel := NewTabRelationship(1, 2,
			[]string{"Go", "SQLite", "Testing"},
			[]string{"Go", "SQLite", "Docker"}, now)
		assert.Equal(t, 2, rel.SharedCount)
		assert.ElementsMatch(t, []string{"Go", "SQLite"}, rel.SharedEntities)
		assert.InDelta(t, 0.5, rel.Strength, 1e-9, "2 shared over 4 in the union")
	})

	t.Run("disjoint sets have zero strength", func(t *testing.T) {
		rel := NewTabRelationship(1, 2, []string{"Go"}, []string{"Pasta"}, now)
		assert.Zero(t, rel.SharedCount)
		assert.Zero(t, rel.Strength)
	})
}

func TestTemporalValidityContains(t *testing.T) {
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	end := base.AddDate(0, 1, 0)

	open := TemporalValidityRange{IsCurrent: true}
	assert.True(t, open.Contains(base))

	bounded := TemporalValidityRange{StartTime: &base, EndTime: &end}
	assert.True(t, bounded.Contains(base.AddDate(0, 0, 10)))
	assert.False(t, bounded.Contains(base.AddDate(0, 0, -1)))
	assert.False(t, bounded.Contains(end.AddDate(0, 0, 1)))
}

func TestParseEntityType(t *testing.T) {
	assert.Equal(t, EntityTypeTool, ParseEntityType(" Tool "))
	assert.Equal(t, EntityTypeConcept, ParseEntityType("CONCEPT"))
	assert.Equal(t, EntityType("framework"), ParseEntityType("framework"), "legacy tag accepted")
	assert.Equal(t, EntityTypeOther, ParseEntityType("banana"))
}

func TestEntityNeedsEnrichment(t *testing.T) {
	now := time.Now()
	ttl := 7 * 24 * time.Hour

	fresh := now.Add(-time.Hour)
	stale := now.Add(-8 * 24 * time.Hour)

	assert.True(t, (&Entity{}).NeedsEnrichment(now, ttl), "never enriched")
	assert.True(t, (&Entity{IsEnriched: true}).NeedsEnrichment(now, ttl), "flag without timestamp")
	assert.False(t, (&Entity{IsEnriched: true, EnrichedAt: &fresh}).NeedsEnrichment(now, ttl))
	assert.True(t, (&Entity{IsEnriched: true, EnrichedAt: &stale}).NeedsEnrichment(now, ttl))
}

func TestTabCachedAnalysis(t *testing.T) {
	tab := &Tab{Title: "Go docs", URL: "https://go.dev"}
	assert.Equal(t, "Go docs https://go.dev", tab.EmbeddingText())
	assert.False(t, tab.HasCachedAnalysis())

	tab.Embedding = []float32{1}
	assert.False(t, tab.HasCachedAnalysis(), "embedding alone is not enough")
	tab.Entities = []string{"Go"}
	assert.True(t, tab.HasCachedAnalysis())
}
