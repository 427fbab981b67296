// Package rest exposes the service over HTTP: snapshot ingest, cluster and
// graph reads, recommendations, and maintenance operations.
package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tabgraph-backend/internal/cluster"
	"tabgraph-backend/internal/domain"
	"tabgraph-backend/internal/ingest"
	"tabgraph-backend/internal/search"
	"tabgraph-backend/internal/viz"
	"tabgraph-backend/pkg/api"
	appErrors "tabgraph-backend/pkg/errors"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Ingestor is the slice of the pipeline the handlers drive.
type Ingestor interface {
	Ingest(ctx context.Context, tabs []*domain.Tab, ingestedAt time.Time) (*ingest.Result, error)
	Delete(ctx context.Context, tabIDs []int) (deleted int, orphans int, err error)
	ReEnrich(ctx context.Context, force bool) (int, error)
}

// Searcher runs web searches for the recommendations endpoint.
type Searcher interface {
	Search(ctx context.Context, query string, numResults int) (*search.Response, error)
}

// EntityFinder serves the entity prefix search.
type EntityFinder interface {
	SearchEntities(ctx context.Context, prefix string, limit int) ([]*domain.Entity, error)
}

// Handler holds the dependencies of the HTTP surface.
type Handler struct {
	pipeline  Ingestor
	engine    *cluster.Engine
	assembler *viz.Assembler
	searcher  Searcher
	entities  EntityFinder
	logger    *zap.Logger
}

// NewHandler wires the HTTP handlers. searcher and entities may be nil; the
// endpoints needing them degrade to 503 and an empty result respectively.
func NewHandler(
	pipeline Ingestor,
	engine *cluster.Engine,
	assembler *viz.Assembler,
	searcher Searcher,
	entities EntityFinder,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		pipeline:  pipeline,
		engine:    engine,
		assembler: assembler,
		searcher:  searcher,
		entities:  entities,
		logger:    logger,
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	api.Success(w, http.StatusOK, api.HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().UTC(),
	})
}

// IngestTabs accepts a full snapshot of the open tabs and runs the pipeline.
func (h *Handler) IngestTabs(w http.ResponseWriter, r *http.Request) {
	var req api.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := api.Validate(req); err != nil {
		api.FromError(w, err)
		return
	}

	ingestedAt := time.Now()
	if req.Timestamp != nil {
		ingestedAt = *req.Timestamp
	}

	tabs := make([]*domain.Tab, len(req.Tabs))
	for i, payload := range req.Tabs {
		tabs[i] = payload.ToDomain()
	}

	result, err := h.pipeline.Ingest(r.Context(), tabs, ingestedAt)
	if err != nil {
		h.logger.Error("ingest failed", zap.Error(err))
		api.FromError(w, err)
		return
	}

	resp := api.IngestResponse{
		Status:         "success",
		SessionID:      uuid.New().String(),
		Processed:      result.Processed,
		CacheHits:      result.CacheHits,
		CacheMisses:    result.CacheMisses,
		NewClusters:    result.NewClusters,
		ClosedTabs:     result.ClosedTabs,
		OrphansRemoved: result.OrphansRemoved,
		ImportantTabs:  result.ImportantTabs,
	}
	for _, td := range result.TabData {
		resp.TabData = append(resp.TabData, api.TabAnalysis{
			ID:        td.ID,
			Embedding: td.Embedding,
			Entities:  td.Entities,
		})
	}
	api.Success(w, http.StatusOK, resp)
}

// DeleteTabs hard-deletes the named tabs and their orphaned entities.
func (h *Handler) DeleteTabs(w http.ResponseWriter, r *http.Request) {
	var req api.DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := api.Validate(req); err != nil {
		api.FromError(w, err)
		return
	}

	deleted, orphans, err := h.pipeline.Delete(r.Context(), req.TabIDs)
	if err != nil {
		h.logger.Error("delete failed", zap.Error(err))
		api.FromError(w, err)
		return
	}
	api.Success(w, http.StatusOK, api.DeleteResponse{
		Status:         "success",
		Deleted:        deleted,
		OrphansRemoved: orphans,
	})
}

// GetClusters returns the live cluster set with members.
func (h *Handler) GetClusters(w http.ResponseWriter, _ *http.Request) {
	clusters := h.engine.Clusters()

	resp := api.ClustersResponse{Clusters: make([]api.ClusterView, 0, len(clusters))}
	for _, c := range clusters {
		view := api.ClusterView{
			ID:             c.ID,
			Name:           c.Name,
			Color:          string(c.Color),
			TabCount:       len(c.Tabs),
			SharedEntities: c.SharedEntities,
			Tabs:           make([]api.ClusterTab, 0, len(c.Tabs)),
		}
		for _, t := range c.Tabs {
			view.Tabs = append(view.Tabs, api.ClusterTab{
				ID:           t.ID,
				Title:        t.Title,
				URL:          t.URL,
				DisplayLabel: t.DisplayLabel,
			})
		}
		resp.Clusters = append(resp.Clusters, view)
		resp.TabCount += len(c.Tabs)
	}
	resp.ClusterCount = len(clusters)
	api.Success(w, http.StatusOK, resp)
}

// GetVisualization assembles the node/edge graph view.
func (h *Handler) GetVisualization(w http.ResponseWriter, r *http.Request) {
	opts := viz.Options{
		MinClusterSize:       queryInt(r, "min_cluster_size", 0),
		IncludeSingletons:    queryBool(r, "include_singletons"),
		TimeRangeHours:       queryInt(r, "time_range_hours", 0),
		MaxRelationshipEdges: queryInt(r, "max_edges", 0),
	}
	api.Success(w, http.StatusOK, h.assembler.Build(r.Context(), opts))
}

// GetRecommendations searches the web for content related to one cluster.
// Without an explicit cluster_id the largest cluster is used.
func (h *Handler) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	if h.searcher == nil {
		api.Error(w, http.StatusServiceUnavailable, "search is not configured")
		return
	}

	target, err := h.targetCluster(r.URL.Query().Get("cluster_id"))
	if err != nil {
		api.FromError(w, err)
		return
	}

	query := recommendationQuery(target)
	limit := queryInt(r, "limit", 5)

	resp, err := h.searcher.Search(r.Context(), query, limit)
	if err != nil {
		h.logger.Error("recommendation search failed",
			zap.String("cluster_id", target.ID),
			zap.Error(err),
		)
		api.FromError(w, err)
		return
	}

	out := api.RecommendationsResponse{
		ClusterID:       target.ID,
		ClusterName:     target.Name,
		Query:           query,
		Recommendations: make([]api.Recommendation, 0, len(resp.Results)),
	}
	for _, hit := range resp.Results {
		out.Recommendations = append(out.Recommendations, api.Recommendation{
			Title:        hit.Title,
			URL:          hit.URL,
			Snippet:      hit.Snippet,
			ThumbnailURL: hit.ThumbnailURL,
		})
	}
	api.Success(w, http.StatusOK, out)
}

// ReEnrichEntities refreshes entity enrichment. By default only pairs
// lacking a stored context are scheduled; force=true (body or query)
// re-enriches everything.
func (h *Handler) ReEnrichEntities(w http.ResponseWriter, r *http.Request) {
	var req api.ReEnrichRequest
	// The body is optional; a missing or empty body means the default sweep.
	_ = json.NewDecoder(r.Body).Decode(&req)
	force := req.Force || queryBool(r, "force")

	count, err := h.pipeline.ReEnrich(r.Context(), force)
	if err != nil {
		h.logger.Error("re-enrich failed", zap.Error(err))
		api.FromError(w, err)
		return
	}
	api.Success(w, http.StatusOK, api.ReEnrichResponse{
		Status:   "success",
		Enqueued: count,
	})
}

// SearchEntities serves the entity prefix search.
func (h *Handler) SearchEntities(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		api.FromError(w, appErrors.NewValidation("query parameter q is required"))
		return
	}
	limit := queryInt(r, "limit", 10)

	resp := api.EntitySearchResponse{Query: query, Entities: []api.EntityView{}}
	if h.entities != nil {
		found, err := h.entities.SearchEntities(r.Context(), query, limit)
		if err != nil {
			h.logger.Error("entity search failed", zap.Error(err))
			api.FromError(w, err)
			return
		}
		for _, e := range found {
			resp.Entities = append(resp.Entities, api.EntityView{
				ID:          e.ID,
				Name:        e.Name,
				Type:        string(e.Type),
				Description: e.WebDescription,
				SourceURL:   e.SourceURL,
			})
		}
	}
	api.Success(w, http.StatusOK, resp)
}

// targetCluster resolves the cluster a request is scoped to, defaulting to
// the largest live cluster.
func (h *Handler) targetCluster(id string) (*domain.TabCluster, error) {
	clusters := h.engine.Clusters()
	if len(clusters) == 0 {
		return nil, appErrors.NewNotFound("no clusters available")
	}
	if id == "" {
		largest := clusters[0]
		for _, c := range clusters[1:] {
			if len(c.Tabs) > len(largest.Tabs) {
				largest = c
			}
		}
		return largest, nil
	}
	for _, c := range clusters {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, appErrors.NewNotFound("cluster not found: " + id)
}

// recommendationQuery builds the search query from the cluster name and its
// hub entities, skipping the placeholder name of unnamed clusters.
func recommendationQuery(c *domain.TabCluster) string {
	var parts []string
	if c.Name != "" && c.Name != domain.PlaceholderClusterName {
		parts = append(parts, c.Name)
	}
	parts = append(parts, c.HubEntities(3)...)
	if len(parts) == 0 {
		for _, t := range c.Tabs {
			if t.Title != "" {
				parts = append(parts, t.Title)
				break
			}
		}
	}
	return strings.Join(parts, " ")
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}
