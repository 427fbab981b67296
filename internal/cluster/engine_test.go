package cluster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabgraph-backend/internal/domain"
	"tabgraph-backend/internal/llm"
)

type stubEmbeddings struct {
	byName map[string][]float32
	err    error
}

func (s *stubEmbeddings) EntityEmbeddingsByNames(_ context.Context, names []string) (map[string][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string][]float32)
	for _, n := range names {
		if v, ok := s.byName[n]; ok {
			out[n] = v
		}
	}
	return out, nil
}

type stubCompleter struct {
	responses []string
	err       error
	calls     int
}

func (s *stubCompleter) Complete(_ context.Context, _, _ string, _ llm.CompletionOptions) (string, error) {
	i := s.calls
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if i >= len(s.responses) {
		return "", errors.New("no stubbed response")
	}
	return s.responses[i], nil
}

func defaultSettings() Settings {
	return Settings{
		SimilarityThreshold: 0.75,
		HybridThreshold:     0.50,
		HybridWeight:        0.5,
		RenameThreshold:     3,
	}
}

func newTestEngine(namer *stubCompleter) *Engine {
	var n *Namer
	if namer != nil {
		n = NewNamer(namer, nil)
	}
	return NewEngine(&stubEmbeddings{}, n, defaultSettings(), nil)
}

func tab(id int, title string, embedding []float32, entities ...string) *domain.Tab {
	return &domain.Tab{
		ID:           id,
		Title:        title,
		URL:          "https://example.com/" + title,
		Embedding:    embedding,
		Entities:     entities,
		LastAccessed: time.Now(),
		IsActive:     true,
	}
}

func TestAssignSeparatesDomains(t *testing.T) {
	e := newTestEngine(nil)
	ctx := context.Background()

	webA, isNew := e.Assign(ctx, tab(1, "react-docs", []float32{1, 0}, "React"), true)
	assert.True(t, isNew)
	webB, isNew := e.Assign(ctx, tab(2, "react-hooks", []float32{0.95, 0.05}, "React"), true)
	assert.False(t, isNew)
	assert.Equal(t, webA, webB)

	cooking, isNew := e.Assign(ctx, tab(3, "pasta", []float32{0, 1}, "Pasta"), true)
	assert.True(t, isNew)
	assert.NotEqual(t, webA, cooking)

	stats := e.Stats()
	assert.Equal(t, 2, stats.ClusterCount)
	assert.Equal(t, 3, stats.TabCount)
}

func TestHybridScoring(t *testing.T) {
	ctx := context.Background()

	// Cluster of two tabs sharing {Go, Testing}; candidate sits at cosine
	// 0.5 against the centroid, below the pure threshold.
	seed := func() *Engine {
		e := newTestEngine(nil)
		e.Assign(ctx, tab(1, "go-testing", []float32{1, 0}, "Go", "Testing"), true)
		e.Assign(ctx, tab(2, "go-table-tests", []float32{1, 0}, "Go", "Testing"), true)
		return e
	}
	borderline := []float32{0.5, 0.8660254}

	t.Run("entity overlap pulls a borderline tab in", func(t *testing.T) {
		e := seed()
		// jaccard({Go,Testing,CI}, {Go,Testing}) = 2/3; score = 0.25 + 0.333.
		id, isNew := e.Assign(ctx, tab(3, "ci-pipelines", borderline, "Go", "Testing", "CI"), true)
		assert.False(t, isNew)
		assert.Equal(t, e.ClusterForTab(1), id)
	})

	t.Run("without entities the pure threshold applies", func(t *testing.T) {
		e := seed()
		_, isNew := e.Assign(ctx, tab(3, "ci-pipelines", borderline), true)
		assert.True(t, isNew, "cosine 0.5 alone must not reach 0.75")
	})

	t.Run("disjoint entities keep the tab out", func(t *testing.T) {
		e := seed()
		// jaccard = 0; score = 0.25 < 0.50.
		_, isNew := e.Assign(ctx, tab(3, "pasta", borderline, "Pasta"), true)
		assert.True(t, isNew)
	})
}

func TestCentroidMaintenance(t *testing.T) {
	ctx := context.Background()

	t.Run("removal eagerly recomputes the centroid", func(t *testing.T) {
		e := newTestEngine(nil)
		e.Assign(ctx, tab(1, "a", []float32{1, 0}), true)
		e.Assign(ctx, tab(2, "b", []float32{0.9, 0.1}), true)
		e.Assign(ctx, tab(3, "c", []float32{0.8, 0.2}), true)

		require.True(t, e.Remove(ctx, 3))

		clusters := e.Clusters()
		require.Len(t, clusters, 1)
		centroid := clusters[0].Centroid
		require.Len(t, centroid, 2)
		assert.InDelta(t, 0.95, float64(centroid[0]), 1e-6)
		assert.InDelta(t, 0.05, float64(centroid[1]), 1e-6)
	})

	t.Run("entity-name embeddings take precedence over tab embeddings", func(t *testing.T) {
		source := &stubEmbeddings{byName: map[string][]float32{
			"React": {0, 1},
		}}
		e := NewEngine(source, nil, defaultSettings(), nil)
		e.Assign(ctx, tab(1, "a", []float32{1, 0}, "React"), true)

		clusters := e.Clusters()
		require.Len(t, clusters, 1)
		assert.Equal(t, []float32{0, 1}, clusters[0].Centroid)
	})

	t.Run("store failure falls back to tab embeddings", func(t *testing.T) {
		source := &stubEmbeddings{err: errors.New("db closed")}
		e := NewEngine(source, nil, defaultSettings(), nil)
		e.Assign(ctx, tab(1, "a", []float32{1, 0}, "React"), true)

		clusters := e.Clusters()
		require.Len(t, clusters, 1)
		assert.Equal(t, []float32{1, 0}, clusters[0].Centroid)
	})
}

func TestClusterLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("cluster below two tabs is deleted", func(t *testing.T) {
		e := newTestEngine(nil)
		e.Assign(ctx, tab(1, "a", []float32{1, 0}), true)
		e.Assign(ctx, tab(2, "b", []float32{0.95, 0.05}), true)

		require.True(t, e.Remove(ctx, 2))

		assert.Equal(t, 0, e.Stats().ClusterCount)
		assert.Equal(t, "", e.ClusterForTab(1), "survivor is released with the cluster")
	})

	t.Run("re-assignment moves the tab when another cluster wins", func(t *testing.T) {
		e := newTestEngine(nil)
		e.Assign(ctx, tab(1, "a", []float32{1, 0}), true)
		e.Assign(ctx, tab(2, "b", []float32{1, 0}), true)
		e.Assign(ctx, tab(5, "e", []float32{1, 0}), true)
		e.Assign(ctx, tab(3, "c", []float32{0, 1}), true)
		e.Assign(ctx, tab(4, "d", []float32{0, 1}), true)

		first := e.ClusterForTab(2)
		// Same tab id arrives with an embedding matching the other cluster.
		second, isNew := e.Assign(ctx, tab(2, "b2", []float32{0, 1}), true)

		assert.False(t, isNew)
		assert.NotEqual(t, first, second)
		assert.Equal(t, e.ClusterForTab(3), second)
		assert.Equal(t, 5, e.Stats().TabCount, "tab must not be double-counted")
	})

	t.Run("identical re-ingest preserves membership", func(t *testing.T) {
		e := newTestEngine(nil)
		vectors := [][]float32{{1, 0}, {0.8, 0.6}, {0.6, 0.8}, {0.5, 0.87}}
		batch := func() ([]string, int) {
			ids := make([]string, len(vectors))
			created := 0
			for i, v := range vectors {
				id, isNew := e.Assign(ctx, tab(i+1, "t", v), true)
				ids[i] = id
				if isNew {
					created++
				}
			}
			return ids, created
		}

		first, created := batch()
		require.Equal(t, 1, created)
		require.Equal(t, 1, e.Stats().ClusterCount)
		counterAfterFirst := e.Clusters()[0].TabsAddedSinceNaming

		second, created := batch()
		assert.Equal(t, 0, created, "re-ingest performs updates, not creations")
		assert.Equal(t, first, second, "every tab keeps its cluster")
		assert.Equal(t, 1, e.Stats().ClusterCount)
		assert.Equal(t, 4, e.Stats().TabCount)
		assert.Equal(t, domain.ClusterPalette[0], e.Clusters()[0].Color,
			"the color pool does not advance on updates")
		assert.Equal(t, counterAfterFirst, e.Clusters()[0].TabsAddedSinceNaming,
			"updates do not count as additions")
	})

	t.Run("a stable two-tab cluster survives identical re-ingest", func(t *testing.T) {
		e := newTestEngine(nil)
		a, _ := e.Assign(ctx, tab(1, "a", []float32{1, 0}), true)
		e.Assign(ctx, tab(2, "b", []float32{0.8, 0.6}), true)

		id1, isNew1 := e.Assign(ctx, tab(1, "a", []float32{1, 0}), true)
		id2, isNew2 := e.Assign(ctx, tab(2, "b", []float32{0.8, 0.6}), true)

		assert.False(t, isNew1)
		assert.False(t, isNew2)
		assert.Equal(t, a, id1)
		assert.Equal(t, a, id2)
		assert.Equal(t, 1, e.Stats().ClusterCount)
	})

	t.Run("colors are round-robin and never reclaimed", func(t *testing.T) {
		e := newTestEngine(nil)
		vectors := [][]float32{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}
		for i, v := range vectors[:3] {
			e.Assign(ctx, tab(i+1, "t", v), true)
		}
		e.Remove(ctx, 2) // deletes the second cluster

		e.Assign(ctx, tab(5, "t5", vectors[3]), true)
		clusters := e.Clusters()
		require.Len(t, clusters, 3)
		assert.Equal(t, domain.ClusterPalette[3], clusters[2].Color,
			"palette index advances past deleted clusters")
	})
}

func TestNaming(t *testing.T) {
	ctx := context.Background()

	t.Run("online rename fires at the threshold and resets the counter", func(t *testing.T) {
		namer := &stubCompleter{responses: []string{"Web Development"}}
		e := newTestEngine(namer)

		e.Assign(ctx, tab(1, "react", []float32{1, 0}), false)
		e.Assign(ctx, tab(2, "vue", []float32{0.98, 0.02}), false)
		assert.Equal(t, 0, namer.calls, "two adds stay below the threshold")

		e.Assign(ctx, tab(3, "svelte", []float32{0.97, 0.03}), false)
		assert.Equal(t, 1, namer.calls)

		clusters := e.Clusters()
		require.Len(t, clusters, 1)
		assert.Equal(t, "Web Development", clusters[0].Name)
		assert.Equal(t, 0, clusters[0].TabsAddedSinceNaming)
	})

	t.Run("established clusters rename online even when naming is deferred", func(t *testing.T) {
		namer := &stubCompleter{responses: []string{`{"names":["Frontend"]}`, "Web Frameworks"}}
		e := newTestEngine(namer)

		id, _ := e.Assign(ctx, tab(1, "react", []float32{1, 0}), true)
		e.Assign(ctx, tab(2, "vue", []float32{0.99, 0.01}), true)
		e.NameNewClusters(ctx, []string{id})
		require.Equal(t, 1, namer.calls)
		require.Equal(t, "Frontend", e.Clusters()[0].Name)

		// Growth across later ingests, which always defer naming.
		e.Assign(ctx, tab(3, "svelte", []float32{0.98, 0.02}), true)
		e.Assign(ctx, tab(4, "angular", []float32{0.97, 0.03}), true)
		assert.Equal(t, 1, namer.calls, "two adds since naming stay below the threshold")

		e.Assign(ctx, tab(5, "solid", []float32{0.96, 0.04}), true)
		assert.Equal(t, 2, namer.calls)

		clusters := e.Clusters()
		assert.Equal(t, "Web Frameworks", clusters[0].Name)
		assert.Equal(t, 0, clusters[0].TabsAddedSinceNaming)
	})

	t.Run("removals never rename", func(t *testing.T) {
		namer := &stubCompleter{responses: []string{"Frontend"}}
		e := newTestEngine(namer)
		for i := 1; i <= 4; i++ {
			e.Assign(ctx, tab(i, "t", []float32{1, 0}), false)
		}
		callsAfterAdds := namer.calls

		e.Remove(ctx, 4)
		e.Remove(ctx, 3)
		assert.Equal(t, callsAfterAdds, namer.calls)
	})

	t.Run("deferred batch naming", func(t *testing.T) {
		namer := &stubCompleter{responses: []string{`{"names":["Frontend Tools","Italian Cooking"]}`}}
		e := newTestEngine(namer)

		a1, _ := e.Assign(ctx, tab(1, "react", []float32{1, 0}), true)
		e.Assign(ctx, tab(2, "vue", []float32{0.98, 0.02}), true)
		b1, _ := e.Assign(ctx, tab(3, "pasta", []float32{0, 1}), true)
		e.Assign(ctx, tab(4, "risotto", []float32{0.02, 0.98}), true)

		e.NameNewClusters(ctx, []string{a1, b1})

		clusters := e.Clusters()
		require.Len(t, clusters, 2)
		assert.Equal(t, "Frontend Tools", clusters[0].Name)
		assert.Equal(t, "Italian Cooking", clusters[1].Name)
		assert.Equal(t, 1, namer.calls, "one structured call names the whole batch")
	})

	t.Run("length mismatch falls back to per-cluster naming", func(t *testing.T) {
		namer := &stubCompleter{responses: []string{
			`{"names":["Only One"]}`, // two clusters expected
			"Frontend",
			"Cooking",
		}}
		e := newTestEngine(namer)

		a1, _ := e.Assign(ctx, tab(1, "react", []float32{1, 0}), true)
		e.Assign(ctx, tab(2, "vue", []float32{0.98, 0.02}), true)
		b1, _ := e.Assign(ctx, tab(3, "pasta", []float32{0, 1}), true)
		e.Assign(ctx, tab(4, "risotto", []float32{0.02, 0.98}), true)

		e.NameNewClusters(ctx, []string{a1, b1})

		clusters := e.Clusters()
		assert.Equal(t, "Frontend", clusters[0].Name)
		assert.Equal(t, "Cooking", clusters[1].Name)
	})

	t.Run("single-tab clusters are never named", func(t *testing.T) {
		namer := &stubCompleter{}
		e := newTestEngine(namer)
		id, _ := e.Assign(ctx, tab(1, "react", []float32{1, 0}), true)

		e.NameNewClusters(ctx, []string{id})

		assert.Equal(t, 0, namer.calls)
		assert.Equal(t, domain.PlaceholderClusterName, e.Clusters()[0].Name)
	})
}

func TestUpdateSettings(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(nil)
	e.Assign(ctx, tab(1, "a", []float32{1, 0}), true)
	e.Assign(ctx, tab(2, "b", []float32{1, 0}), true)

	// cosine ~0.71 joins only after the threshold is lowered.
	candidate := []float32{1, 1}
	_, isNew := e.Assign(ctx, tab(3, "c", candidate), true)
	assert.True(t, isNew)
	e.Remove(ctx, 3)

	s := defaultSettings()
	s.SimilarityThreshold = 0.6
	e.UpdateSettings(s)

	_, isNew = e.Assign(ctx, tab(3, "c", candidate), true)
	assert.False(t, isNew)
}
