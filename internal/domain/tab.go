// Package domain defines the core model of the tab graph: browser tabs,
// extracted entities, the edges between them, and the in-memory clusters.
package domain

import (
	"time"
)

// Tab represents a browser tab and everything the service has learned about it.
//
// A tab is created on its first appearance in an ingest, updated in place on
// later appearances while the browser keeps the same id, marked inactive by
// reconciliation when it disappears from an ingest, and hard-deleted only by
// an explicit delete request.
type Tab struct {
	ID           int        `json:"id"`
	URL          string     `json:"url"`
	Title        string     `json:"title"`
	FaviconURL   string     `json:"favicon_url,omitempty"`
	Entities     []string   `json:"entities,omitempty"`
	Embedding    []float32  `json:"embedding,omitempty"`
	Summary      string     `json:"summary,omitempty"`
	Label        string     `json:"label,omitempty"`
	Source       string     `json:"source,omitempty"`
	DisplayLabel string     `json:"display_label,omitempty"`
	OpenedAt     time.Time  `json:"opened_at"`
	LastAccessed time.Time  `json:"last_accessed"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	WindowID     *int       `json:"window_id,omitempty"`
	GroupID      *int       `json:"group_id,omitempty"`
	IsActive     bool       `json:"is_active"`
	Important    bool       `json:"important"`
}

// EmbeddingText is the canonical text embedded for a tab.
func (t *Tab) EmbeddingText() string {
	return t.Title + " " + t.URL
}

// HasCachedAnalysis reports whether the caller supplied both an embedding and
// entities, letting the ingest pipeline skip the external API calls.
func (t *Tab) HasCachedAnalysis() bool {
	return len(t.Embedding) > 0 && len(t.Entities) > 0
}
