package enrich

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"tabgraph-backend/internal/domain"
)

// Store is the slice of the graph store the worker writes through.
// Implementations are NOT expected to be shared with the request path: the
// worker opens its own connection per job via the factory.
type Store interface {
	EntitiesByNames(ctx context.Context, names []string) ([]*domain.Entity, error)
	SaveEnrichment(ctx context.Context, entityID int64, enrichment domain.Enrichment, enrichedAt time.Time) error
	SaveTabContext(ctx context.Context, entityID int64, tabID int, description string, enrichedAt time.Time) error
	SaveEntityEmbedding(ctx context.Context, entityID int64, embedding []float32) error
	Close() error
}

// StoreFactory opens a fresh store connection for one job.
type StoreFactory func() (Store, error)

// Embedder is the embedding capability the worker uses to vectorize entity
// names for centroid math.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EntityRef names one entity to enrich together with the tabs it was seen on.
type EntityRef struct {
	Name string
	Tabs []TabRef
}

// Job is one batch of entities queued for background enrichment, typically
// the entities of a single ingest. Force bypasses the cache-TTL check, used
// by the explicit re-enrich endpoint.
type Job struct {
	Entities []EntityRef
	Force    bool
}

// Worker runs enrichment jobs on a single background goroutine. Jobs are
// fire-and-forget: the ingest path enqueues and returns, and a full queue
// drops the job rather than blocking a request.
type Worker struct {
	factory   StoreFactory
	enricher  *Enricher
	embedder  Embedder
	cacheTTL  time.Duration
	jobs      chan Job
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	logger    *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

const jobQueueSize = 64

// NewWorker builds a worker. cacheTTL controls how stale an enrichment may be
// before an entity is re-enriched.
func NewWorker(factory StoreFactory, enricher *Enricher, embedder Embedder, cacheTTL time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		factory:  factory,
		enricher: enricher,
		embedder: embedder,
		cacheTTL: cacheTTL,
		jobs:     make(chan Job, jobQueueSize),
		logger:   logger,
		now:      time.Now,
	}
}

// Start launches the worker goroutine. ctx cancellation aborts the job in
// flight; Stop drains the queue first.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for job := range w.jobs {
				if ctx.Err() != nil {
					return
				}
				w.process(ctx, job)
			}
		}()
	})
}

// Enqueue submits a job without blocking. Returns false if the queue is full
// and the job was dropped.
func (w *Worker) Enqueue(job Job) bool {
	if len(job.Entities) == 0 {
		return true
	}
	select {
	case w.jobs <- job:
		return true
	default:
		w.logger.Warn("enrichment queue full, dropping job",
			zap.Int("entities", len(job.Entities)),
		)
		return false
	}
}

// Stop closes the queue and waits for the in-flight job to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.jobs) })
	w.wg.Wait()
}

func (w *Worker) process(ctx context.Context, job Job) {
	store, err := w.factory()
	if err != nil {
		w.logger.Error("opening enrichment store", zap.Error(err))
		return
	}
	defer store.Close()

	names := make([]string, 0, len(job.Entities))
	refByName := make(map[string]EntityRef, len(job.Entities))
	for _, ref := range job.Entities {
		names = append(names, ref.Name)
		refByName[ref.Name] = ref
	}

	entities, err := store.EntitiesByNames(ctx, names)
	if err != nil {
		w.logger.Error("fetching entities for enrichment", zap.Error(err))
		return
	}

	now := w.now()
	enriched := 0
	for _, entity := range entities {
		if !job.Force && !entity.NeedsEnrichment(now, w.cacheTTL) {
			continue
		}
		ref, ok := refByName[entity.Name]
		if !ok {
			continue
		}
		if w.enrichEntity(ctx, store, entity, ref) {
			enriched++
		}
	}

	w.embedMissing(ctx, store, entities)

	w.logger.Info("enrichment job finished",
		zap.Int("entities", len(entities)),
		zap.Int("enriched", enriched),
	)
}

// enrichEntity writes one per-tab context row per tab the entity was seen on,
// then the global fields. The global description is written unconditionally,
// so the most recent context wins.
func (w *Worker) enrichEntity(ctx context.Context, store Store, entity *domain.Entity, ref EntityRef) bool {
	tabs := ref.Tabs
	if len(tabs) == 0 {
		tabs = []TabRef{{}}
	}

	var last domain.Enrichment
	succeeded := false
	for i := range tabs {
		tab := &tabs[i]
		if tab.TabID == 0 && tab.URL == "" {
			tab = nil
		}

		enrichment := w.enricher.Enrich(ctx, entity.Name, tab)
		if enrichment.IsEmpty() {
			continue
		}
		succeeded = true
		last = enrichment

		if tab != nil {
			if err := store.SaveTabContext(ctx, entity.ID, tab.TabID, enrichment.Description, w.now()); err != nil {
				w.logger.Warn("saving entity tab context",
					zap.String("entity", entity.Name),
					zap.Int("tab_id", tab.TabID),
					zap.Error(err),
				)
			}
		}
	}

	if !succeeded {
		return false
	}
	if err := store.SaveEnrichment(ctx, entity.ID, last, w.now()); err != nil {
		w.logger.Warn("saving enrichment",
			zap.String("entity", entity.Name),
			zap.Error(err),
		)
		return false
	}
	return true
}

// embedMissing vectorizes entity names that have no stored embedding yet.
// Cluster centroids prefer these vectors over raw tab embeddings.
func (w *Worker) embedMissing(ctx context.Context, store Store, entities []*domain.Entity) {
	var missing []*domain.Entity
	var texts []string
	for _, entity := range entities {
		if len(entity.Embedding) == 0 {
			missing = append(missing, entity)
			texts = append(texts, entity.Name)
		}
	}
	if len(missing) == 0 {
		return
	}

	vectors, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		w.logger.Warn("embedding entity names", zap.Int("count", len(texts)), zap.Error(err))
		return
	}

	for i, entity := range missing {
		if err := store.SaveEntityEmbedding(ctx, entity.ID, vectors[i]); err != nil {
			w.logger.Warn("saving entity embedding",
				zap.String("entity", entity.Name),
				zap.Error(err),
			)
		}
	}
}
