// Package api defines the request and response shapes of the HTTP surface
// together with the JSON response helpers.
package api

import (
	"time"

	"tabgraph-backend/internal/domain"
)

// TabPayload is one browser tab as reported by the extension. Embedding and
// Entities are the analysis echo from a previous ingest; when both are
// present the server skips the external API calls for this tab.
type TabPayload struct {
	ID           int        `json:"id" validate:"required"`
	URL          string     `json:"url" validate:"required"`
	Title        string     `json:"title"`
	FaviconURL   string     `json:"favicon_url,omitempty"`
	WindowID     *int       `json:"window_id,omitempty"`
	GroupID      *int       `json:"group_id,omitempty"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`
	Important    bool       `json:"important,omitempty"`
	Embedding    []float32  `json:"embedding,omitempty"`
	Entities     []string   `json:"entities,omitempty"`
}

// ToDomain converts the payload into the domain model.
func (p TabPayload) ToDomain() *domain.Tab {
	tab := &domain.Tab{
		ID:         p.ID,
		URL:        p.URL,
		Title:      p.Title,
		FaviconURL: p.FaviconURL,
		WindowID:   p.WindowID,
		GroupID:    p.GroupID,
		Important:  p.Important,
		Embedding:  p.Embedding,
		Entities:   p.Entities,
	}
	if p.LastAccessed != nil {
		tab.LastAccessed = *p.LastAccessed
	}
	return tab
}

// IngestRequest is the full-snapshot ingest body. Tabs is the complete set of
// currently open tabs; anything stored as active but absent here is closed.
type IngestRequest struct {
	Tabs      []TabPayload `json:"tabs" validate:"required,dive"`
	Timestamp *time.Time   `json:"timestamp,omitempty"`
}

// TabAnalysis echoes one tab's computed embedding and entities back to the
// caller for client-side caching.
type TabAnalysis struct {
	ID        int       `json:"id"`
	Embedding []float32 `json:"embedding"`
	Entities  []string  `json:"entities"`
}

// IngestResponse summarizes one ingest.
type IngestResponse struct {
	Status         string        `json:"status"`
	SessionID      string        `json:"session_id"`
	Processed      int           `json:"processed"`
	CacheHits      int           `json:"cache_hits"`
	CacheMisses    int           `json:"cache_misses"`
	NewClusters    int           `json:"new_clusters"`
	ClosedTabs     int           `json:"closed_tabs"`
	OrphansRemoved int           `json:"orphans_removed"`
	ImportantTabs  []int         `json:"important_tabs"`
	TabData        []TabAnalysis `json:"tab_data"`
}

// DeleteRequest names tabs to hard-delete.
type DeleteRequest struct {
	TabIDs []int `json:"tab_ids" validate:"required,min=1"`
}

// DeleteResponse reports the outcome of a delete.
type DeleteResponse struct {
	Status         string `json:"status"`
	Deleted        int    `json:"deleted"`
	OrphansRemoved int    `json:"orphans_removed"`
}

// ClusterTab is the per-tab slice of a cluster view.
type ClusterTab struct {
	ID           int    `json:"id"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	DisplayLabel string `json:"display_label,omitempty"`
}

// ClusterView is one live cluster with its members.
type ClusterView struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Color          string       `json:"color"`
	TabCount       int          `json:"tab_count"`
	SharedEntities []string     `json:"shared_entities,omitempty"`
	Tabs           []ClusterTab `json:"tabs"`
}

// ClustersResponse is the full live cluster set.
type ClustersResponse struct {
	Clusters     []ClusterView `json:"clusters"`
	ClusterCount int           `json:"cluster_count"`
	TabCount     int           `json:"tab_count"`
}

// Recommendation is one suggested web result for a cluster.
type Recommendation struct {
	Title        string `json:"title"`
	URL          string `json:"url"`
	Snippet      string `json:"snippet"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// RecommendationsResponse carries cluster-scoped web recommendations.
type RecommendationsResponse struct {
	ClusterID       string           `json:"cluster_id"`
	ClusterName     string           `json:"cluster_name"`
	Query           string           `json:"query"`
	Recommendations []Recommendation `json:"recommendations"`
}

// ReEnrichRequest tunes the re-enrichment sweep. The body is optional;
// Force false limits the sweep to (entity, tab) pairs lacking a stored
// context.
type ReEnrichRequest struct {
	Force bool `json:"force"`
}

// ReEnrichResponse reports how many entities were scheduled.
type ReEnrichResponse struct {
	Status   string `json:"status"`
	Enqueued int    `json:"enqueued"`
}

// EntityView is one entity search hit.
type EntityView struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	SourceURL   string `json:"source_url,omitempty"`
}

// EntitySearchResponse is the entity prefix-search result.
type EntitySearchResponse struct {
	Query    string       `json:"query"`
	Entities []EntityView `json:"entities"`
}

// HealthResponse is the health endpoint body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
