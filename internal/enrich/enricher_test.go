package enrich

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabgraph-backend/internal/domain"
)

type stubAgent struct {
	answers []string
	errs    []error
	calls   int
	queries []string
}

func (s *stubAgent) Answer(_ context.Context, query string) (string, error) {
	i := s.calls
	s.calls++
	s.queries = append(s.queries, query)
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	var answer string
	if i < len(s.answers) {
		answer = s.answers[i]
	}
	return answer, err
}

func newTestEnricher(agent *stubAgent) *Enricher {
	return NewEnricher(agent, 3, time.Millisecond, 10*time.Millisecond, nil)
}

func TestEnrich(t *testing.T) {
	t.Run("parses the structured answer", func(t *testing.T) {
		agent := &stubAgent{answers: []string{
			"Type: tool\nDescription: Neo4j is a graph database.\nRelated: Cypher, Graph Database, GraphQL",
		}}
		e := newTestEnricher(agent)

		enrichment := e.Enrich(context.Background(), "Neo4j", nil)

		assert.Equal(t, domain.EntityTypeTool, enrichment.Type)
		assert.Equal(t, "Neo4j is a graph database.", enrichment.Description)
		assert.Equal(t, []string{"Cypher", "Graph Database", "GraphQL"}, enrichment.Related)
		assert.False(t, enrichment.IsEmpty())
	})

	t.Run("tolerates markdown decoration", func(t *testing.T) {
		agent := &stubAgent{answers: []string{
			"- **Type:** concept\n- **Description:** A consensus algorithm.\n- **Related:** Paxos",
		}}
		e := newTestEnricher(agent)

		enrichment := e.Enrich(context.Background(), "Raft", nil)

		assert.Equal(t, domain.EntityTypeConcept, enrichment.Type)
		assert.Equal(t, "A consensus algorithm.", enrichment.Description)
		assert.Equal(t, []string{"Paxos"}, enrichment.Related)
	})

	t.Run("freeform answer becomes the description", func(t *testing.T) {
		agent := &stubAgent{answers: []string{"Raft is a consensus algorithm for replicated logs."}}
		e := newTestEnricher(agent)

		enrichment := e.Enrich(context.Background(), "Raft", nil)

		assert.Equal(t, domain.EntityTypeOther, enrichment.Type)
		assert.Equal(t, "Raft is a consensus algorithm for replicated logs.", enrichment.Description)
	})

	t.Run("tab context is threaded into the query and source URL", func(t *testing.T) {
		agent := &stubAgent{answers: []string{"Type: concept\nDescription: Autonomous LLM workers."}}
		e := newTestEnricher(agent)

		enrichment := e.Enrich(context.Background(), "agents", &TabRef{
			TabID: 7,
			Title: "LangChain Agents",
			URL:   "https://python.langchain.com/docs/agents",
		})

		require.Len(t, agent.queries, 1)
		assert.Contains(t, agent.queries[0], "LangChain Agents")
		assert.Contains(t, agent.queries[0], "python.langchain.com")
		assert.Equal(t, "https://python.langchain.com/docs/agents", enrichment.SourceURL)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		agent := &stubAgent{
			errs:    []error{errors.New("503"), errors.New("503"), nil},
			answers: []string{"", "", "Type: tool\nDescription: Container runtime."},
		}
		e := newTestEnricher(agent)

		enrichment := e.Enrich(context.Background(), "Docker", nil)

		assert.Equal(t, 3, agent.calls)
		assert.Equal(t, "Container runtime.", enrichment.Description)
	})

	t.Run("exhausted retries return an empty enrichment", func(t *testing.T) {
		agent := &stubAgent{errs: []error{errors.New("down"), errors.New("down"), errors.New("down")}}
		e := newTestEnricher(agent)

		enrichment := e.Enrich(context.Background(), "Docker", nil)

		assert.Equal(t, 3, agent.calls)
		assert.True(t, enrichment.IsEmpty())
		assert.Equal(t, "Docker", enrichment.Name)
	})
}

// --- worker ---

type memStore struct {
	mu          sync.Mutex
	entities    []*domain.Entity
	enrichments map[int64]domain.Enrichment
	contexts    map[[2]int64]string // (entityID, tabID) -> description
	embeddings  map[int64][]float32
	closed      bool
}

func newMemStore(entities ...*domain.Entity) *memStore {
	return &memStore{
		entities:    entities,
		enrichments: make(map[int64]domain.Enrichment),
		contexts:    make(map[[2]int64]string),
		embeddings:  make(map[int64][]float32),
	}
}

func (m *memStore) EntitiesByNames(_ context.Context, names []string) ([]*domain.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []*domain.Entity
	for _, e := range m.entities {
		if want[e.Name] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) SaveEnrichment(_ context.Context, id int64, enr domain.Enrichment, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrichments[id] = enr
	return nil
}

func (m *memStore) SaveTabContext(_ context.Context, id int64, tabID int, desc string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[[2]int64{id, int64(tabID)}] = desc
	return nil
}

func (m *memStore) SaveEntityEmbedding(_ context.Context, id int64, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embeddings[id] = vec
	return nil
}

func (m *memStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type stubEmbedder struct{ dims int }

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dims)
		out[i][0] = float32(i + 1)
	}
	return out, nil
}

func TestWorker(t *testing.T) {
	recent := time.Now().Add(-time.Hour)
	stale := time.Now().Add(-30 * 24 * time.Hour)

	t.Run("enriches stale and new entities, skips fresh ones", func(t *testing.T) {
		store := newMemStore(
			&domain.Entity{ID: 1, Name: "Neo4j"},
			&domain.Entity{ID: 2, Name: "Docker", IsEnriched: true, EnrichedAt: &recent, Embedding: []float32{1}},
			&domain.Entity{ID: 3, Name: "React", IsEnriched: true, EnrichedAt: &stale, Embedding: []float32{1}},
		)
		agent := &stubAgent{answers: []string{
			"Type: tool\nDescription: Graph database.",
			"Type: tool\nDescription: UI library.",
		}}
		worker := NewWorker(
			func() (Store, error) { return store, nil },
			newTestEnricher(agent),
			&stubEmbedder{dims: 4},
			7*24*time.Hour,
			nil,
		)
		worker.Start(context.Background())

		ok := worker.Enqueue(Job{Entities: []EntityRef{
			{Name: "Neo4j", Tabs: []TabRef{{TabID: 10, Title: "Neo4j docs", URL: "https://neo4j.com"}}},
			{Name: "Docker"},
			{Name: "React", Tabs: []TabRef{{TabID: 11, Title: "React docs", URL: "https://react.dev"}}},
		}})
		require.True(t, ok)
		worker.Stop()

		assert.True(t, store.closed)
		assert.Contains(t, store.enrichments, int64(1))
		assert.NotContains(t, store.enrichments, int64(2), "fresh entity must not be re-enriched")
		assert.Contains(t, store.enrichments, int64(3))
		assert.Equal(t, "Graph database.", store.contexts[[2]int64{1, 10}])
	})

	t.Run("embeds names that lack vectors", func(t *testing.T) {
		store := newMemStore(
			&domain.Entity{ID: 1, Name: "Neo4j"},
			&domain.Entity{ID: 2, Name: "Docker", Embedding: []float32{1, 2}},
		)
		agent := &stubAgent{answers: []string{
			"Type: tool\nDescription: Graph database.",
			"Type: tool\nDescription: Container runtime.",
		}}
		worker := NewWorker(
			func() (Store, error) { return store, nil },
			newTestEnricher(agent),
			&stubEmbedder{dims: 4},
			7*24*time.Hour,
			nil,
		)
		worker.Start(context.Background())
		worker.Enqueue(Job{Entities: []EntityRef{{Name: "Neo4j"}, {Name: "Docker"}}})
		worker.Stop()

		assert.Contains(t, store.embeddings, int64(1))
		assert.NotContains(t, store.embeddings, int64(2))
	})

	t.Run("empty job is a no-op", func(t *testing.T) {
		factoryCalled := false
		worker := NewWorker(
			func() (Store, error) { factoryCalled = true; return newMemStore(), nil },
			newTestEnricher(&stubAgent{}),
			&stubEmbedder{dims: 4},
			time.Hour,
			nil,
		)
		worker.Start(context.Background())
		assert.True(t, worker.Enqueue(Job{}))
		worker.Stop()
		assert.False(t, factoryCalled)
	})
}
