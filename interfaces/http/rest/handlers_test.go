package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabgraph-backend/internal/cluster"
	"tabgraph-backend/internal/domain"
	"tabgraph-backend/internal/ingest"
	"tabgraph-backend/internal/search"
	"tabgraph-backend/internal/viz"
	"tabgraph-backend/pkg/api"
	appErrors "tabgraph-backend/pkg/errors"
)

type stubPipeline struct {
	ingested   []*domain.Tab
	ingestErr  error
	result     *ingest.Result
	deletedIDs []int
	reEnriched int

	reEnrichForce bool
}

func (s *stubPipeline) Ingest(_ context.Context, tabs []*domain.Tab, _ time.Time) (*ingest.Result, error) {
	s.ingested = tabs
	if s.ingestErr != nil {
		return nil, s.ingestErr
	}
	if s.result != nil {
		return s.result, nil
	}
	return &ingest.Result{Processed: len(tabs)}, nil
}

func (s *stubPipeline) Delete(_ context.Context, tabIDs []int) (int, int, error) {
	s.deletedIDs = tabIDs
	return len(tabIDs), 1, nil
}

func (s *stubPipeline) ReEnrich(_ context.Context, force bool) (int, error) {
	s.reEnrichForce = force
	return s.reEnriched, nil
}

type stubSearcher struct {
	query string
	num   int
	resp  *search.Response
	err   error
}

func (s *stubSearcher) Search(_ context.Context, query string, numResults int) (*search.Response, error) {
	s.query = query
	s.num = numResults
	return s.resp, s.err
}

type stubFinder struct {
	found []*domain.Entity
}

func (s *stubFinder) SearchEntities(_ context.Context, _ string, _ int) ([]*domain.Entity, error) {
	return s.found, nil
}

type emptyVizStore struct{}

func (emptyVizStore) EntitiesByNames(context.Context, []string) ([]*domain.Entity, error) {
	return nil, nil
}
func (emptyVizStore) ContextsForEntity(context.Context, int64) (map[int]string, error) {
	return nil, nil
}
func (emptyVizStore) CurrentTriplets(context.Context, int) ([]*domain.Triplet, error) {
	return nil, nil
}

type noEmbeddings struct{}

func (noEmbeddings) EntityEmbeddingsByNames(context.Context, []string) (map[string][]float32, error) {
	return nil, nil
}

func newTestEngine(t *testing.T, tabs ...*domain.Tab) *cluster.Engine {
	t.Helper()
	engine := cluster.NewEngine(noEmbeddings{}, nil, cluster.Settings{
		SimilarityThreshold: 0.75,
		HybridThreshold:     0.50,
		HybridWeight:        0.5,
		RenameThreshold:     3,
	}, nil)
	for _, tab := range tabs {
		engine.Assign(context.Background(), tab, true)
	}
	return engine
}

func newTestServer(t *testing.T, pipeline *stubPipeline, engine *cluster.Engine, searcher Searcher, finder EntityFinder) *httptest.Server {
	t.Helper()
	if engine == nil {
		engine = newTestEngine(t)
	}
	assembler := viz.NewAssembler(engine, emptyVizStore{}, nil)
	h := NewHandler(pipeline, engine, assembler, searcher, finder, nil)
	srv := httptest.NewServer(NewRouter(h, RouterConfig{}, nil))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &stubPipeline{}, nil, nil, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	body := decode[api.HealthResponse](t, resp)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, Version, body.Version)
	assert.False(t, body.Timestamp.IsZero())
}

func TestIngestEndpoint(t *testing.T) {
	t.Run("success echoes the pipeline result", func(t *testing.T) {
		pipeline := &stubPipeline{result: &ingest.Result{
			Processed:     2,
			CacheHits:     1,
			CacheMisses:   1,
			NewClusters:   1,
			ImportantTabs: []int{7},
			TabData:       []ingest.TabResult{{ID: 7, Embedding: []float32{1}, Entities: []string{"Go"}}},
		}}
		srv := newTestServer(t, pipeline, nil, nil, nil)

		resp := postJSON(t, srv.URL+"/api/tabs/ingest",
			`{"tabs":[{"id":7,"url":"https://go.dev","title":"Go"},{"id":8,"url":"https://go.dev/doc"}]}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decode[api.IngestResponse](t, resp)
		assert.Equal(t, "success", body.Status)
		assert.NotEmpty(t, body.SessionID)
		assert.Equal(t, 2, body.Processed)
		assert.Equal(t, []int{7}, body.ImportantTabs)
		require.Len(t, body.TabData, 1)
		assert.Equal(t, []string{"Go"}, body.TabData[0].Entities)

		require.Len(t, pipeline.ingested, 2)
		assert.Equal(t, "https://go.dev", pipeline.ingested[0].URL)
	})

	t.Run("missing tab fields fail validation with 422", func(t *testing.T) {
		srv := newTestServer(t, &stubPipeline{}, nil, nil, nil)

		resp := postJSON(t, srv.URL+"/api/tabs/ingest", `{"tabs":[{"title":"no id or url"}]}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("malformed JSON is a 400", func(t *testing.T) {
		srv := newTestServer(t, &stubPipeline{}, nil, nil, nil)

		resp := postJSON(t, srv.URL+"/api/tabs/ingest", `{"tabs": nope}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("pipeline failure is a 500", func(t *testing.T) {
		srv := newTestServer(t, &stubPipeline{ingestErr: errors.New("db locked")}, nil, nil, nil)

		resp := postJSON(t, srv.URL+"/api/tabs/ingest", `{"tabs":[{"id":1,"url":"https://a.example"}]}`)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

		body := decode[api.ErrorResponse](t, resp)
		assert.Equal(t, "internal server error", body.Error, "internal detail is not leaked")
	})
}

func TestDeleteEndpoint(t *testing.T) {
	t.Run("deletes and reports orphans", func(t *testing.T) {
		pipeline := &stubPipeline{}
		srv := newTestServer(t, pipeline, nil, nil, nil)

		resp := postJSON(t, srv.URL+"/api/tabs/delete", `{"tab_ids":[3,4]}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decode[api.DeleteResponse](t, resp)
		assert.Equal(t, 2, body.Deleted)
		assert.Equal(t, 1, body.OrphansRemoved)
		assert.Equal(t, []int{3, 4}, pipeline.deletedIDs)
	})

	t.Run("empty id list is a 422", func(t *testing.T) {
		srv := newTestServer(t, &stubPipeline{}, nil, nil, nil)

		resp := postJSON(t, srv.URL+"/api/tabs/delete", `{"tab_ids":[]}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestClustersEndpoint(t *testing.T) {
	engine := newTestEngine(t,
		&domain.Tab{ID: 1, Title: "React docs", URL: "https://react.dev", Embedding: []float32{1, 0}, Entities: []string{"React"}},
		&domain.Tab{ID: 2, Title: "React hooks", URL: "https://react.dev/h", Embedding: []float32{0.99, 0.01}, Entities: []string{"React"}},
	)
	srv := newTestServer(t, &stubPipeline{}, engine, nil, nil)

	resp, err := http.Get(srv.URL + "/api/tabs/clusters")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[api.ClustersResponse](t, resp)
	require.Equal(t, 1, body.ClusterCount)
	assert.Equal(t, 2, body.TabCount)
	require.Len(t, body.Clusters, 1)
	assert.Len(t, body.Clusters[0].Tabs, 2)
	assert.NotEmpty(t, body.Clusters[0].Color)
}

func TestVisualizationEndpoint(t *testing.T) {
	engine := newTestEngine(t,
		&domain.Tab{ID: 1, Title: "React docs", URL: "https://react.dev", Embedding: []float32{1, 0}, Entities: []string{"React"}, LastAccessed: time.Now()},
		&domain.Tab{ID: 2, Title: "React hooks", URL: "https://react.dev/h", Embedding: []float32{0.99, 0.01}, Entities: []string{"React"}, LastAccessed: time.Now()},
	)
	srv := newTestServer(t, &stubPipeline{}, engine, nil, nil)

	resp, err := http.Get(srv.URL + "/api/graph/visualization")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[viz.Graph](t, resp)
	assert.NotEmpty(t, body.Nodes)
	assert.NotEmpty(t, body.Edges)
}

func TestRecommendationsEndpoint(t *testing.T) {
	engine := newTestEngine(t,
		&domain.Tab{ID: 1, Title: "React docs", URL: "https://react.dev", Embedding: []float32{1, 0}, Entities: []string{"React"}},
		&domain.Tab{ID: 2, Title: "React hooks", URL: "https://react.dev/h", Embedding: []float32{0.99, 0.01}, Entities: []string{"React"}},
	)

	t.Run("searches using the cluster's topics", func(t *testing.T) {
		searcher := &stubSearcher{resp: &search.Response{Results: []search.Result{
			{Title: "React 19", URL: "https://react.dev/blog", Snippet: "New release."},
		}}}
		srv := newTestServer(t, &stubPipeline{}, engine, searcher, nil)

		resp, err := http.Get(srv.URL + "/api/recommendations")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decode[api.RecommendationsResponse](t, resp)
		assert.Contains(t, body.Query, "React")
		assert.Equal(t, 5, searcher.num)
		require.Len(t, body.Recommendations, 1)
		assert.Equal(t, "React 19", body.Recommendations[0].Title)
	})

	t.Run("unknown cluster is a 404", func(t *testing.T) {
		srv := newTestServer(t, &stubPipeline{}, engine, &stubSearcher{}, nil)

		resp, err := http.Get(srv.URL + "/api/recommendations?cluster_id=missing")
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("upstream failure is a 502", func(t *testing.T) {
		searcher := &stubSearcher{err: appErrors.NewExternal("search api", errors.New("timeout"))}
		srv := newTestServer(t, &stubPipeline{}, engine, searcher, nil)

		resp, err := http.Get(srv.URL + "/api/recommendations")
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("no search client is a 503", func(t *testing.T) {
		srv := newTestServer(t, &stubPipeline{}, engine, nil, nil)

		resp, err := http.Get(srv.URL + "/api/recommendations")
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestReEnrichEndpoint(t *testing.T) {
	t.Run("default sweep is not forced", func(t *testing.T) {
		pipeline := &stubPipeline{reEnriched: 12}
		srv := newTestServer(t, pipeline, nil, nil, nil)

		resp := postJSON(t, srv.URL+"/api/entities/re-enrich", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decode[api.ReEnrichResponse](t, resp)
		assert.Equal(t, 12, body.Enqueued)
		assert.False(t, pipeline.reEnrichForce)
	})

	t.Run("force flag in the body", func(t *testing.T) {
		pipeline := &stubPipeline{}
		srv := newTestServer(t, pipeline, nil, nil, nil)

		resp := postJSON(t, srv.URL+"/api/entities/re-enrich", `{"force":true}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
		assert.True(t, pipeline.reEnrichForce)
	})

	t.Run("force flag as a query parameter", func(t *testing.T) {
		pipeline := &stubPipeline{}
		srv := newTestServer(t, pipeline, nil, nil, nil)

		resp := postJSON(t, srv.URL+"/api/entities/re-enrich?force=true", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
		assert.True(t, pipeline.reEnrichForce)
	})
}

func TestEntitySearchEndpoint(t *testing.T) {
	t.Run("returns stored entities", func(t *testing.T) {
		finder := &stubFinder{found: []*domain.Entity{
			{ID: 1, Name: "React", Type: domain.EntityTypeTool, WebDescription: "UI library."},
		}}
		srv := newTestServer(t, &stubPipeline{}, nil, nil, finder)

		resp, err := http.Get(srv.URL + "/api/entities/search?q=Rea")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decode[api.EntitySearchResponse](t, resp)
		require.Len(t, body.Entities, 1)
		assert.Equal(t, "React", body.Entities[0].Name)
		assert.Equal(t, "tool", body.Entities[0].Type)
	})

	t.Run("missing query is a 422", func(t *testing.T) {
		srv := newTestServer(t, &stubPipeline{}, nil, nil, &stubFinder{})

		resp, err := http.Get(srv.URL + "/api/entities/search")
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		resp.Body.Close()
	})
}
