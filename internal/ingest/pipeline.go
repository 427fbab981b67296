// Package ingest implements the hot path: a full snapshot of the user's
// open tabs comes in, the graph and the cluster engine are reconciled to it,
// and analysis results go back out for the extension to cache.
package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"tabgraph-backend/internal/cluster"
	"tabgraph-backend/internal/domain"
	"tabgraph-backend/internal/enrich"
	"tabgraph-backend/internal/extract"
	"tabgraph-backend/internal/metadata"
	"tabgraph-backend/internal/observability"
)

// Store is the slice of the graph store the pipeline mutates. The full
// graph store satisfies it.
type Store interface {
	ActiveTabs(ctx context.Context) ([]*domain.Tab, error)
	MarkTabClosed(ctx context.Context, id int, closedAt time.Time) error
	CollectOrphans(ctx context.Context) (int, error)
	UpsertTab(ctx context.Context, tab *domain.Tab) error
	UpsertEntity(ctx context.Context, name string, entityType domain.EntityType, now time.Time) (*domain.Entity, error)
	LinkTabEntity(ctx context.Context, tabID int, entityID int64, seenAt time.Time) error
	RebuildTabRelationships(ctx context.Context, tabID int, minShared int, now time.Time) (int, error)
	DeleteTab(ctx context.Context, id int) error
	EntitiesByNames(ctx context.Context, names []string) ([]*domain.Entity, error)
	ContextsForEntity(ctx context.Context, entityID int64) (map[int]string, error)
}

// Embedder is the batched embedding capability.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Extractor is the batched entity-extraction capability.
type Extractor interface {
	ExtractBatch(ctx context.Context, tabs []extract.TabInput) [][]string
}

// Enqueuer schedules background enrichment.
type Enqueuer interface {
	Enqueue(job enrich.Job) bool
}

// TabResult is the per-tab analysis echoed back to the caller so it can be
// cached and resent, skipping the external calls next time.
type TabResult struct {
	ID        int       `json:"id"`
	Embedding []float32 `json:"embedding"`
	Entities  []string  `json:"entities"`
}

// Result summarizes one ingest.
type Result struct {
	Processed      int
	CacheHits      int
	CacheMisses    int
	NewClusters    int
	ClosedTabs     int
	OrphansRemoved int
	ImportantTabs  []int
	TabData        []TabResult
}

// Pipeline orchestrates one ingest end to end. A coarse mutex serializes
// calls: two concurrent ingests would race on reconciliation and cluster
// assignment, and the snapshots they carry are full replacements anyway.
type Pipeline struct {
	mu sync.Mutex

	store      Store
	engine     *cluster.Engine
	embedder   Embedder
	extractor  Extractor
	enqueuer   Enqueuer
	provider   metadata.Provider
	summarizer *metadata.Summarizer
	metrics    *observability.Metrics
	tracer     *observability.TracerProvider
	logger     *zap.Logger
}

// NewPipeline wires the ingest path. provider, summarizer, enqueuer, metrics
// and tracer may be nil.
func NewPipeline(
	store Store,
	engine *cluster.Engine,
	embedder Embedder,
	extractor Extractor,
	enqueuer Enqueuer,
	provider metadata.Provider,
	summarizer *metadata.Summarizer,
	metrics *observability.Metrics,
	tracer *observability.TracerProvider,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:      store,
		engine:     engine,
		embedder:   embedder,
		extractor:  extractor,
		enqueuer:   enqueuer,
		provider:   provider,
		summarizer: summarizer,
		metrics:    metrics,
		tracer:     tracer,
		logger:     logger,
	}
}

// Ingest processes the full current tab set. Tabs carrying a cached
// embedding and entity list skip the external calls; the rest are embedded
// and extracted in one batch each, the two calls running concurrently.
func (p *Pipeline) Ingest(ctx context.Context, tabs []*domain.Tab, ingestedAt time.Time) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	started := time.Now()

	ctx, span := p.tracer.StartSpan(ctx, "ingest")
	defer span.End()

	result := &Result{Processed: len(tabs)}

	if err := p.reconcile(ctx, tabs, ingestedAt, result); err != nil {
		return nil, err
	}

	var missing []*domain.Tab
	for _, tab := range tabs {
		tab.IsActive = true
		if tab.LastAccessed.IsZero() {
			tab.LastAccessed = ingestedAt
		}
		if tab.HasCachedAnalysis() {
			result.CacheHits++
		} else {
			result.CacheMisses++
			missing = append(missing, tab)
		}
	}

	if err := p.analyze(ctx, missing); err != nil {
		return nil, err
	}

	newClusterIDs := p.assign(ctx, tabs, ingestedAt, result)
	p.engine.NameNewClusters(ctx, newClusterIDs)
	result.NewClusters = len(newClusterIDs)

	p.enqueueEnrichment(tabs)

	for _, tab := range tabs {
		if tab.Important {
			result.ImportantTabs = append(result.ImportantTabs, tab.ID)
		}
		if len(tab.Embedding) > 0 && len(tab.Entities) > 0 {
			result.TabData = append(result.TabData, TabResult{
				ID:        tab.ID,
				Embedding: tab.Embedding,
				Entities:  tab.Entities,
			})
		}
	}

	stats := p.engine.Stats()
	p.metrics.ObserveIngest(len(tabs), result.CacheHits, result.CacheMisses,
		stats.ClusterCount, time.Since(started))
	p.logger.Info("ingest complete",
		zap.Int("tabs", len(tabs)),
		zap.Int("cache_hits", result.CacheHits),
		zap.Int("closed", result.ClosedTabs),
		zap.Int("new_clusters", result.NewClusters),
		zap.Int("clusters", stats.ClusterCount),
		zap.Duration("took", time.Since(started)),
	)
	return result, nil
}

// reconcile closes every stored active tab missing from the snapshot and
// collects entities orphaned by the closures.
func (p *Pipeline) reconcile(ctx context.Context, tabs []*domain.Tab, ingestedAt time.Time, result *Result) error {
	ctx, span := p.tracer.StartSpan(ctx, "ingest.reconcile")
	defer span.End()

	activeIDs := make(map[int]bool, len(tabs))
	for _, tab := range tabs {
		activeIDs[tab.ID] = true
	}

	stored, err := p.store.ActiveTabs(ctx)
	if err != nil {
		return err
	}
	for _, tab := range stored {
		if activeIDs[tab.ID] {
			continue
		}
		if err := p.store.MarkTabClosed(ctx, tab.ID, ingestedAt); err != nil {
			return err
		}
		p.engine.Remove(ctx, tab.ID)
		result.ClosedTabs++
	}

	if result.ClosedTabs > 0 {
		removed, err := p.store.CollectOrphans(ctx)
		if err != nil {
			return err
		}
		result.OrphansRemoved = removed
	}
	return nil
}

// analyze embeds and extracts the tabs lacking cached analysis. The two
// batch calls are independent and run concurrently; assignment waits for
// both.
func (p *Pipeline) analyze(ctx context.Context, missing []*domain.Tab) error {
	if len(missing) == 0 {
		return nil
	}
	ctx, span := p.tracer.StartSpan(ctx, "ingest.analyze")
	defer span.End()

	texts := make([]string, len(missing))
	inputs := make([]extract.TabInput, len(missing))
	for i, tab := range missing {
		texts[i] = tab.EmbeddingText()
		inputs[i] = extract.TabInput{Title: tab.Title, URL: tab.URL}
	}

	var (
		wg       sync.WaitGroup
		vectors  [][]float32
		embedErr error
		entities [][]string
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		started := time.Now()
		vectors, embedErr = p.embedder.EmbedBatch(ctx, texts)
		p.metrics.ObserveExternalCall("embed", time.Since(started))
	}()
	go func() {
		defer wg.Done()
		started := time.Now()
		entities = p.extractor.ExtractBatch(ctx, inputs)
		p.metrics.ObserveExternalCall("extract", time.Since(started))
	}()
	wg.Wait()

	if embedErr != nil {
		return embedErr
	}
	for i, tab := range missing {
		tab.Embedding = vectors[i]
		if len(tab.Entities) == 0 && i < len(entities) {
			tab.Entities = entities[i]
		}
	}
	return nil
}

// assign runs cluster assignment in batch order, persisting each tab's side
// effects inline: the tab row, its entity rows and links, and the rebuilt
// Jaccard edges. Returns the ids of clusters created by this batch.
func (p *Pipeline) assign(ctx context.Context, tabs []*domain.Tab, ingestedAt time.Time, result *Result) []string {
	ctx, span := p.tracer.StartSpan(ctx, "ingest.assign")
	defer span.End()

	var newClusterIDs []string
	for _, tab := range tabs {
		p.describe(ctx, tab)

		clusterID, isNew := p.engine.Assign(ctx, tab, true)
		if isNew {
			newClusterIDs = append(newClusterIDs, clusterID)
		}

		if err := p.persistTab(ctx, tab, ingestedAt); err != nil {
			// The cluster assignment stands; durable state catches up on
			// the next ingest.
			p.logger.Error("persisting tab",
				zap.Int("tab_id", tab.ID),
				zap.Error(err),
			)
		}
	}
	return newClusterIDs
}

func (p *Pipeline) describe(ctx context.Context, tab *domain.Tab) {
	if p.provider != nil && tab.DisplayLabel == "" {
		meta := p.provider.Describe(ctx, tab)
		tab.Label = meta.Label
		tab.Source = meta.Source
		tab.DisplayLabel = meta.DisplayLabel()
	}
	// Summaries are cosmetic and cost a model call each, so only important
	// tabs get one.
	if p.summarizer != nil && tab.Important && tab.Summary == "" {
		tab.Summary = p.summarizer.Summarize(ctx, tab)
	}
}

func (p *Pipeline) persistTab(ctx context.Context, tab *domain.Tab, ingestedAt time.Time) error {
	if err := p.store.UpsertTab(ctx, tab); err != nil {
		return err
	}
	for _, name := range tab.Entities {
		entity, err := p.store.UpsertEntity(ctx, name, domain.EntityTypeOther, ingestedAt)
		if err != nil {
			return err
		}
		if err := p.store.LinkTabEntity(ctx, tab.ID, entity.ID, ingestedAt); err != nil {
			return err
		}
	}
	if len(tab.Entities) > 0 {
		if _, err := p.store.RebuildTabRelationships(ctx, tab.ID, 1, ingestedAt); err != nil {
			return err
		}
	}
	return nil
}

// enqueueEnrichment schedules the batch's entities for background
// enrichment, each with the tabs it was seen on as context. Never blocks.
func (p *Pipeline) enqueueEnrichment(tabs []*domain.Tab) {
	if p.enqueuer == nil {
		return
	}

	refs := make(map[string]*enrich.EntityRef)
	var order []string
	for _, tab := range tabs {
		for _, name := range tab.Entities {
			ref, ok := refs[name]
			if !ok {
				ref = &enrich.EntityRef{Name: name}
				refs[name] = ref
				order = append(order, name)
			}
			ref.Tabs = append(ref.Tabs, enrich.TabRef{
				TabID: tab.ID,
				Title: tab.Title,
				URL:   tab.URL,
			})
		}
	}
	if len(order) == 0 {
		return
	}

	job := enrich.Job{Entities: make([]enrich.EntityRef, 0, len(order))}
	for _, name := range order {
		job.Entities = append(job.Entities, *refs[name])
	}
	if p.enqueuer.Enqueue(job) {
		p.metrics.EnrichmentEnqueued()
	}
}

// Delete hard-deletes tabs on explicit request, removing them from the
// engine and collecting any entities left orphaned.
func (p *Pipeline) Delete(ctx context.Context, tabIDs []int) (deleted int, orphans int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range tabIDs {
		p.engine.Remove(ctx, id)
		if err := p.store.DeleteTab(ctx, id); err != nil {
			return deleted, 0, err
		}
		deleted++
	}

	orphans, err = p.store.CollectOrphans(ctx)
	if err != nil {
		return deleted, 0, err
	}
	return deleted, orphans, nil
}

// ReEnrich schedules entities of the active tabs for re-enrichment. By
// default only (entity, tab) pairs still lacking a stored context are
// scheduled; force schedules every pair regardless. Either way the enqueued
// job bypasses the cache TTL: the selection here is the filter. Returns the
// number of entities enqueued.
func (p *Pipeline) ReEnrich(ctx context.Context, force bool) (int, error) {
	if p.enqueuer == nil {
		return 0, nil
	}

	tabs, err := p.store.ActiveTabs(ctx)
	if err != nil {
		return 0, err
	}

	refs := make(map[string]*enrich.EntityRef)
	var order []string
	for _, tab := range tabs {
		for _, name := range tab.Entities {
			ref, ok := refs[name]
			if !ok {
				ref = &enrich.EntityRef{Name: name}
				refs[name] = ref
				order = append(order, name)
			}
			ref.Tabs = append(ref.Tabs, enrich.TabRef{TabID: tab.ID, Title: tab.Title, URL: tab.URL})
		}
	}
	if !force {
		order = p.dropContextualizedPairs(ctx, refs, order)
	}
	if len(order) == 0 {
		return 0, nil
	}

	job := enrich.Job{Force: true, Entities: make([]enrich.EntityRef, 0, len(order))}
	for _, name := range order {
		job.Entities = append(job.Entities, *refs[name])
	}
	p.enqueuer.Enqueue(job)
	p.metrics.EnrichmentEnqueued()
	return len(order), nil
}

// dropContextualizedPairs removes (entity, tab) pairs that already carry a
// stored context, and entities left with no pairs. Entities not yet in the
// store keep all their pairs; a context lookup failure keeps the entity's
// pairs rather than silently skipping them.
func (p *Pipeline) dropContextualizedPairs(ctx context.Context, refs map[string]*enrich.EntityRef, order []string) []string {
	entities, err := p.store.EntitiesByNames(ctx, order)
	if err != nil {
		p.logger.Warn("fetching entities for re-enrichment filter", zap.Error(err))
		return order
	}
	byName := make(map[string]*domain.Entity, len(entities))
	for _, e := range entities {
		if _, ok := byName[e.Name]; !ok {
			byName[e.Name] = e
		}
	}

	kept := order[:0]
	for _, name := range order {
		ref := refs[name]
		entity, ok := byName[name]
		if !ok {
			kept = append(kept, name)
			continue
		}
		contexts, err := p.store.ContextsForEntity(ctx, entity.ID)
		if err != nil {
			p.logger.Warn("fetching entity contexts for re-enrichment filter",
				zap.String("entity", name),
				zap.Error(err),
			)
			kept = append(kept, name)
			continue
		}

		missing := ref.Tabs[:0]
		for _, tab := range ref.Tabs {
			if _, has := contexts[tab.TabID]; !has {
				missing = append(missing, tab)
			}
		}
		ref.Tabs = missing
		if len(ref.Tabs) > 0 {
			kept = append(kept, name)
		}
	}
	return kept
}
