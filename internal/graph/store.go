// Package graph defines the contract of the persistent knowledge-graph
// store: tabs, entities, the edges between them, per-tab entity contexts,
// and temporal triplets. The store is the system's source of durable truth
// and the serialization point for all state mutations.
package graph

import (
	"context"
	"time"

	"tabgraph-backend/internal/domain"
)

// SharedTab is one result of a shared-entity query: another tab together
// with the entity names it has in common with the query tab.
type SharedTab struct {
	TabID          int
	SharedEntities []string
}

// EntityStore covers the entity table and its enrichment lifecycle.
type EntityStore interface {
	// UpsertEntity creates the (name, type) entity if it does not exist and
	// returns the stored row either way.
	UpsertEntity(ctx context.Context, name string, entityType domain.EntityType, now time.Time) (*domain.Entity, error)
	EntityByID(ctx context.Context, id int64) (*domain.Entity, error)
	// EntityByName returns the first entity with the given name across
	// types, or a NOT_FOUND error.
	EntityByName(ctx context.Context, name string) (*domain.Entity, error)
	// EntitiesByNames batch-fetches entities; missing names are simply
	// absent from the result.
	EntitiesByNames(ctx context.Context, names []string) ([]*domain.Entity, error)
	SearchEntities(ctx context.Context, prefix string, limit int) ([]*domain.Entity, error)
	// SaveEnrichment writes the global enrichment fields and marks the
	// entity enriched.
	SaveEnrichment(ctx context.Context, entityID int64, enrichment domain.Enrichment, enrichedAt time.Time) error
	// EntitiesNeedingEnrichment returns entities that were never enriched
	// or whose enrichment predates now - ttl.
	EntitiesNeedingEnrichment(ctx context.Context, now time.Time, ttl time.Duration, limit int) ([]*domain.Entity, error)
	// DeleteEntity removes the entity and its triplets.
	DeleteEntity(ctx context.Context, id int64) error
	// CollectOrphans deletes entities no tab references, returning the
	// number removed. Run after reconciliation closes tabs.
	CollectOrphans(ctx context.Context) (int, error)
	SaveEntityEmbedding(ctx context.Context, entityID int64, embedding []float32) error
	// EntityEmbeddingsByNames returns the stored name-embedding for each
	// given name that has one. Centroid math prefers these vectors.
	EntityEmbeddingsByNames(ctx context.Context, names []string) (map[string][]float32, error)
}

// TabStore covers the tab table.
type TabStore interface {
	// UpsertTab inserts or updates the row for tab.ID. opened_at is
	// preserved on update; everything else follows the given record.
	UpsertTab(ctx context.Context, tab *domain.Tab) error
	TabByID(ctx context.Context, id int) (*domain.Tab, error)
	ActiveTabs(ctx context.Context) ([]*domain.Tab, error)
	TabsInRange(ctx context.Context, from, to time.Time) ([]*domain.Tab, error)
	// MarkTabClosed sets closed_at and clears is_active, keeping the row.
	MarkTabClosed(ctx context.Context, id int, closedAt time.Time) error
	// DeleteTab hard-deletes the tab; links, contexts and tab-tab edges
	// cascade.
	DeleteTab(ctx context.Context, id int) error
}

// LinkStore covers tab-entity edges and the derived tab-tab edges.
type LinkStore interface {
	// LinkTabEntity upserts the edge, bumping last_seen on re-link.
	LinkTabEntity(ctx context.Context, tabID int, entityID int64, seenAt time.Time) error
	EntitiesForTab(ctx context.Context, tabID int) ([]*domain.Entity, error)
	TabsForEntity(ctx context.Context, entityID int64) ([]*domain.Tab, error)
	// TabsSharingEntities finds active tabs sharing at least minShared
	// entity names with tabID, ordered by overlap descending.
	TabsSharingEntities(ctx context.Context, tabID int, minShared int) ([]SharedTab, error)

	// UpsertTabRelationship canonicalizes (low, high) and preserves
	// first_seen on update.
	UpsertTabRelationship(ctx context.Context, rel *domain.TabRelationship) error
	RelationshipsForTab(ctx context.Context, tabID int) ([]*domain.TabRelationship, error)
	// RebuildTabRelationships recomputes the Jaccard edges incident to
	// tabID from the current link table and upserts each. Returns the
	// number of edges written.
	RebuildTabRelationships(ctx context.Context, tabID int, minShared int, now time.Time) (int, error)
}

// ContextStore covers per-(entity, tab) contextual descriptions.
type ContextStore interface {
	SaveTabContext(ctx context.Context, entityID int64, tabID int, description string, enrichedAt time.Time) error
	TabContext(ctx context.Context, entityID int64, tabID int) (*domain.EntityTabContext, error)
	// ContextsForEntity returns tab_id → description for every context the
	// entity carries.
	ContextsForEntity(ctx context.Context, entityID int64) (map[int]string, error)
}

// TripletStore covers temporal subject-predicate-object relationships.
type TripletStore interface {
	InsertTriplet(ctx context.Context, triplet *domain.Triplet) error
	// TripletsForEntity returns triplets where the entity is subject or
	// object.
	TripletsForEntity(ctx context.Context, entityID int64) ([]*domain.Triplet, error)
	CurrentTriplets(ctx context.Context, limit int) ([]*domain.Triplet, error)
	// TripletsAt returns the entity's triplets whose validity window
	// contains at.
	TripletsAt(ctx context.Context, entityID int64, at time.Time) ([]*domain.Triplet, error)
}

// Store is the full graph-store contract.
type Store interface {
	EntityStore
	TabStore
	LinkStore
	ContextStore
	TripletStore

	Close() error
}
