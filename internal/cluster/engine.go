// Package cluster maintains the in-memory set of tab clusters: online
// centroid assignment with hybrid cosine+Jaccard scoring, eager centroid
// maintenance, and LLM naming. Clusters are process-resident; they are
// rebuilt from the live tab set on the next ingest after a restart.
package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tabgraph-backend/internal/domain"
)

// EmbeddingSource provides stored entity-name embeddings for centroid math.
// The graph store satisfies it.
type EmbeddingSource interface {
	EntityEmbeddingsByNames(ctx context.Context, names []string) (map[string][]float32, error)
}

// Settings are the assignment tunables, hot-reloadable via UpdateSettings.
type Settings struct {
	// SimilarityThreshold applies to pure-cosine comparisons.
	SimilarityThreshold float64
	// HybridThreshold applies when the Jaccard term participates.
	HybridThreshold float64
	// HybridWeight is the Jaccard share of the hybrid score.
	HybridWeight float64
	// RenameThreshold is the adds-since-naming count that triggers an
	// online rename.
	RenameThreshold int
}

// Engine is the single-writer cluster engine. The ingest pipeline serializes
// mutations; the internal lock additionally protects concurrent readers
// (clusters endpoint, visualization).
type Engine struct {
	mu         sync.RWMutex
	clusters   []*domain.TabCluster // creation order; assignment iterates in this order
	byTab      map[int]*domain.TabCluster
	colorIndex int // monotonic; colors are never reclaimed

	settings   Settings
	embeddings EmbeddingSource
	namer      *Namer
	logger     *zap.Logger
}

// NewEngine builds an engine. namer may be nil, in which case clusters keep
// fallback names derived from their content.
func NewEngine(embeddings EmbeddingSource, namer *Namer, settings Settings, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		byTab:      make(map[int]*domain.TabCluster),
		settings:   settings,
		embeddings: embeddings,
		namer:      namer,
		logger:     logger,
	}
}

// UpdateSettings swaps the assignment tunables, used by config hot reload.
func (e *Engine) UpdateSettings(s Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = s
}

// Assign places the tab into the best-scoring existing cluster, or seeds a
// new one. When deferNaming is true, newly triggered renames are postponed
// until NameNewClusters runs for the whole batch. Returns the cluster id and
// whether a new cluster was created.
func (e *Engine) Assign(ctx context.Context, tab *domain.Tab, deferNaming bool) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// A tab already assigned is updated in place; it moves only when another
	// cluster strictly outscores its current one. Removing it first would
	// shift the centroid it contributed to and an unchanged tab could fail to
	// re-match its own cluster.
	if current, ok := e.byTab[tab.ID]; ok {
		return e.reassignLocked(ctx, current, tab, deferNaming), false
	}

	best, bestScore := e.bestMatch(tab, nil)

	if best != nil {
		e.joinLocked(ctx, best, tab, deferNaming, bestScore)
		return best.ID, false
	}

	created := &domain.TabCluster{
		ID:        uuid.NewString(),
		Name:      domain.PlaceholderClusterName,
		Color:     domain.ClusterPalette[e.colorIndex%len(domain.ClusterPalette)],
		CreatedAt: time.Now(),
	}
	e.colorIndex++
	created.AddTab(tab)
	created.RecomputeSharedEntities()
	e.recomputeCentroid(ctx, created)
	e.clusters = append(e.clusters, created)
	e.byTab[tab.ID] = created
	e.logger.Debug("new cluster seeded",
		zap.Int("tab_id", tab.ID),
		zap.String("cluster", created.ID),
		zap.String("color", string(created.Color)),
	)
	return created.ID, true
}

// joinLocked adds the tab to the cluster and refreshes the cluster's derived
// state. Renames triggered by the add follow the deferral rule.
func (e *Engine) joinLocked(ctx context.Context, c *domain.TabCluster, tab *domain.Tab, deferNaming bool, score float64) {
	c.AddTab(tab)
	e.byTab[tab.ID] = c
	c.RecomputeSharedEntities()
	e.recomputeCentroid(ctx, c)
	e.logger.Debug("tab joined cluster",
		zap.Int("tab_id", tab.ID),
		zap.String("cluster", c.ID),
		zap.Float64("score", score),
	)
	e.maybeRenameLocked(ctx, c, deferNaming)
}

// reassignLocked handles a tab that is already a member of a cluster: the
// stored copy is refreshed, the cluster's shared entities and centroid are
// recomputed, and the tab moves only when a different cluster strictly beats
// its current one. An identical re-ingest is therefore a pure update.
func (e *Engine) reassignLocked(ctx context.Context, current *domain.TabCluster, tab *domain.Tab, deferNaming bool) string {
	current.ReplaceTab(tab)
	current.RecomputeSharedEntities()
	e.recomputeCentroid(ctx, current)

	currentScore, _ := e.scoreLocked(tab, current)
	challenger, challengerScore := e.bestMatch(tab, current)
	if challenger == nil || challengerScore <= currentScore {
		return current.ID
	}

	e.removeLocked(ctx, current, tab.ID)
	e.joinLocked(ctx, challenger, tab, deferNaming, challengerScore)
	e.logger.Debug("tab moved clusters",
		zap.Int("tab_id", tab.ID),
		zap.String("from", current.ID),
		zap.String("to", challenger.ID),
	)
	return challenger.ID
}

// maybeRenameLocked applies the online rename rule after an addition. Newly
// seeded clusters still carry the placeholder and are named by the deferred
// batch pass; established clusters rename inline once enough tabs were added
// since the last naming, even mid-batch.
func (e *Engine) maybeRenameLocked(ctx context.Context, c *domain.TabCluster, deferNaming bool) {
	if c.TabCount < 2 || !c.ShouldRename(e.settings.RenameThreshold) {
		return
	}
	if deferNaming && c.Name == domain.PlaceholderClusterName {
		return
	}
	e.renameLocked(ctx, c)
}

// scoreLocked scores the tab against one cluster. The second return reports
// whether the score is usable and meets the applicable threshold; the hybrid
// score and threshold apply when both sides carry entities.
func (e *Engine) scoreLocked(tab *domain.Tab, c *domain.TabCluster) (float64, bool) {
	if len(c.Centroid) == 0 || len(tab.Embedding) == 0 {
		return 0, false
	}
	cos := cosine(tab.Embedding, c.Centroid)

	score := cos
	threshold := e.settings.SimilarityThreshold
	if len(tab.Entities) > 0 && len(c.SharedEntities) > 0 {
		w := e.settings.HybridWeight
		score = (1-w)*cos + w*jaccard(tab.Entities, c.SharedEntities)
		threshold = e.settings.HybridThreshold
	}
	return score, score >= threshold
}

// bestMatch scans clusters in creation order, skipping the given cluster; the
// first cluster reaching the best score wins ties. A cluster without a
// centroid, or a tab without an embedding, cannot match.
func (e *Engine) bestMatch(tab *domain.Tab, skip *domain.TabCluster) (*domain.TabCluster, float64) {
	var best *domain.TabCluster
	bestScore := 0.0

	for _, c := range e.clusters {
		if c == skip {
			continue
		}
		score, ok := e.scoreLocked(tab, c)
		if !ok {
			continue
		}
		if best == nil || score > bestScore {
			best = c
			bestScore = score
		}
	}
	return best, bestScore
}

// Remove takes the tab out of its cluster, eagerly recomputing the shared
// entities and centroid so the cluster never scores against stale state.
// Removals never rename; a cluster left below two tabs is deleted.
func (e *Engine) Remove(ctx context.Context, tabID int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.byTab[tabID]
	if !ok {
		return false
	}
	e.removeLocked(ctx, c, tabID)
	return true
}

func (e *Engine) removeLocked(ctx context.Context, c *domain.TabCluster, tabID int) {
	if !c.RemoveTab(tabID) {
		return
	}
	delete(e.byTab, tabID)

	if c.BelowMinimum() {
		e.deleteClusterLocked(c)
		return
	}
	c.RecomputeSharedEntities()
	e.recomputeCentroid(ctx, c)
}

func (e *Engine) deleteClusterLocked(c *domain.TabCluster) {
	for _, t := range c.Tabs {
		delete(e.byTab, t.ID)
	}
	kept := e.clusters[:0]
	for _, existing := range e.clusters {
		if existing != c {
			kept = append(kept, existing)
		}
	}
	e.clusters = kept
	e.logger.Debug("cluster deleted below minimum size", zap.String("cluster", c.ID))
}

// recomputeCentroid prefers the mean of the cluster's unique entity-name
// embeddings, falling back to the mean of tab embeddings. With neither, the
// centroid is nil and the cluster cannot attract tabs.
func (e *Engine) recomputeCentroid(ctx context.Context, c *domain.TabCluster) {
	if names := c.UniqueEntityNames(); len(names) > 0 && e.embeddings != nil {
		stored, err := e.embeddings.EntityEmbeddingsByNames(ctx, names)
		if err != nil {
			e.logger.Warn("fetching entity embeddings for centroid",
				zap.String("cluster", c.ID),
				zap.Error(err),
			)
		} else if len(stored) > 0 {
			vectors := make([][]float32, 0, len(stored))
			for _, name := range names {
				if v, ok := stored[name]; ok {
					vectors = append(vectors, v)
				}
			}
			if centroid := mean(vectors); centroid != nil {
				c.Centroid = centroid
				return
			}
		}
	}

	vectors := make([][]float32, 0, len(c.Tabs))
	for _, t := range c.Tabs {
		vectors = append(vectors, t.Embedding)
	}
	c.Centroid = mean(vectors)
}

// NameNewClusters runs the deferred batch-naming pass over the given cluster
// ids: every one still carrying the placeholder name and holding at least
// two tabs is named. One structured call covers them all; a length mismatch
// falls back to naming each cluster individually.
func (e *Engine) NameNewClusters(ctx context.Context, ids []string) {
	if e.namer == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var eligible []*domain.TabCluster
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for _, c := range e.clusters {
		if want[c.ID] && c.Name == domain.PlaceholderClusterName && c.TabCount >= 2 {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return
	}

	names, err := e.namer.NameBatch(ctx, eligible)
	if err != nil {
		e.logger.Warn("batch cluster naming failed, naming individually",
			zap.Int("clusters", len(eligible)),
			zap.Error(err),
		)
		for _, c := range eligible {
			e.renameLocked(ctx, c)
		}
		return
	}
	for i, c := range eligible {
		c.MarkNamed(names[i])
	}
}

func (e *Engine) renameLocked(ctx context.Context, c *domain.TabCluster) {
	if e.namer == nil {
		c.MarkNamed(fallbackName(c))
		return
	}
	c.MarkNamed(e.namer.NameOne(ctx, c))
}

// ClusterForTab returns the id of the cluster holding the tab, or "".
func (e *Engine) ClusterForTab(tabID int) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if c, ok := e.byTab[tabID]; ok {
		return c.ID
	}
	return ""
}

// Clusters returns a snapshot of the current clusters in creation order.
// Members are shallow copies; tab pointers are shared.
func (e *Engine) Clusters() []*domain.TabCluster {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.TabCluster, len(e.clusters))
	for i, c := range e.clusters {
		snapshot := *c
		snapshot.Tabs = append([]*domain.Tab(nil), c.Tabs...)
		snapshot.SharedEntities = append([]string(nil), c.SharedEntities...)
		out[i] = &snapshot
	}
	return out
}

// ClusterStat is the per-cluster slice of Stats.
type ClusterStat struct {
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	Color    domain.ClusterColor `json:"color"`
	TabCount int                 `json:"tab_count"`
}

// Stats summarizes the live cluster set.
type Stats struct {
	ClusterCount int           `json:"cluster_count"`
	TabCount     int           `json:"tab_count"`
	Clusters     []ClusterStat `json:"clusters"`
}

// Stats returns counts over the live cluster set.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := Stats{ClusterCount: len(e.clusters)}
	for _, c := range e.clusters {
		stats.TabCount += c.TabCount
		stats.Clusters = append(stats.Clusters, ClusterStat{
			ID:       c.ID,
			Name:     c.Name,
			Color:    c.Color,
			TabCount: c.TabCount,
		})
	}
	return stats
}
