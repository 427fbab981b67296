// Package sqlite implements the graph store on SQLite via mattn/go-sqlite3.
//
// A Store wraps one database handle. The request path and the background
// enrichment worker each open their own Store against the same file; WAL
// mode lets the reader side proceed while the single writer works.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"tabgraph-backend/internal/domain"
	"tabgraph-backend/internal/graph"
	appErrors "tabgraph-backend/pkg/errors"
)

// Store is the SQLite-backed graph store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ graph.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema. The parent directory is created when missing.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// churn inside this handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	logger.Info("graph store opened", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- entities ---

const entityColumns = "id, name, type, web_description, related_entities, source_url, is_enriched, enriched_at, embedding, created_at"

const prefixedEntityColumns = "e.id, e.name, e.type, e.web_description, e.related_entities, e.source_url, e.is_enriched, e.enriched_at, e.embedding, e.created_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*domain.Entity, error) {
	var (
		e          domain.Entity
		entityType string
		related    string
		enrichedAt sql.NullString
		embedding  []byte
		createdAt  string
	)
	if err := row.Scan(&e.ID, &e.Name, &entityType, &e.WebDescription, &related,
		&e.SourceURL, &e.IsEnriched, &enrichedAt, &embedding, &createdAt); err != nil {
		return nil, err
	}

	e.Type = domain.EntityType(entityType)
	e.RelatedEntities = decodeList(related)

	var err error
	if enrichedAt.Valid {
		if e.EnrichedAt, err = parseTimePtr(&enrichedAt.String); err != nil {
			return nil, err
		}
	}
	if e.Embedding, err = unpackVector(embedding); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) UpsertEntity(ctx context.Context, name string, entityType domain.EntityType, now time.Time) (*domain.Entity, error) {
	if entityType == "" {
		entityType = domain.EntityTypeOther
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO entities (name, type, created_at) VALUES (?, ?, ?)`,
		name, string(entityType), formatTime(now))
	if err != nil {
		return nil, appErrors.Wrap(err, "upserting entity")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE name = ? AND type = ?`,
		name, string(entityType))
	entity, err := scanEntity(row)
	if err != nil {
		return nil, appErrors.Wrap(err, "reading upserted entity")
	}
	return entity, nil
}

func (s *Store) EntityByID(ctx context.Context, id int64) (*domain.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	entity, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, appErrors.NewNotFound(fmt.Sprintf("entity %d not found", id))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, "fetching entity")
	}
	return entity, nil
}

func (s *Store) EntityByName(ctx context.Context, name string) (*domain.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE name = ? ORDER BY id LIMIT 1`, name)
	entity, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, appErrors.NewNotFound(fmt.Sprintf("entity %q not found", name))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, "fetching entity by name")
	}
	return entity, nil
}

func (s *Store) EntitiesByNames(ctx context.Context, names []string) ([]*domain.Entity, error) {
	if len(names) == 0 {
		return nil, nil
	}
	query := `SELECT ` + entityColumns + ` FROM entities WHERE name IN (` + placeholders(len(names)) + `) ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, stringArgs(names)...)
	if err != nil {
		return nil, appErrors.Wrap(err, "batch fetching entities")
	}
	defer rows.Close()
	return collectEntities(rows)
}

func (s *Store) SearchEntities(ctx context.Context, prefix string, limit int) ([]*domain.Entity, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE name LIKE ? ESCAPE '\' COLLATE NOCASE ORDER BY name LIMIT ?`,
		escapeLike(prefix)+"%", limit)
	if err != nil {
		return nil, appErrors.Wrap(err, "searching entities")
	}
	defer rows.Close()
	return collectEntities(rows)
}

func (s *Store) SaveEnrichment(ctx context.Context, entityID int64, enrichment domain.Enrichment, enrichedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE entities SET
			type = COALESCE(NULLIF(?, ''), type),
			web_description = ?,
			related_entities = ?,
			source_url = COALESCE(NULLIF(?, ''), source_url),
			is_enriched = 1,
			enriched_at = ?
		WHERE id = ?`,
		string(enrichment.Type), enrichment.Description, encodeList(enrichment.Related),
		enrichment.SourceURL, formatTime(enrichedAt), entityID)
	if err != nil {
		return appErrors.Wrap(err, "saving enrichment")
	}
	return nil
}

func (s *Store) EntitiesNeedingEnrichment(ctx context.Context, now time.Time, ttl time.Duration, limit int) ([]*domain.Entity, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := formatTime(now.Add(-ttl))
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities
		WHERE is_enriched = 0 OR enriched_at IS NULL OR enriched_at < ?
		ORDER BY created_at LIMIT ?`,
		cutoff, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, "listing entities needing enrichment")
	}
	defer rows.Close()
	return collectEntities(rows)
}

func (s *Store) DeleteEntity(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id); err != nil {
		return appErrors.Wrap(err, "deleting entity")
	}
	return nil
}

func (s *Store) CollectOrphans(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE id NOT IN (SELECT entity_id FROM tab_entities)`)
	if err != nil {
		return 0, appErrors.Wrap(err, "collecting orphan entities")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, appErrors.Wrap(err, "counting collected orphans")
	}
	if n > 0 {
		s.logger.Debug("orphan entities collected", zap.Int64("count", n))
	}
	return int(n), nil
}

func (s *Store) SaveEntityEmbedding(ctx context.Context, entityID int64, embedding []float32) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE entities SET embedding = ? WHERE id = ?`,
		packVector(embedding), entityID)
	if err != nil {
		return appErrors.Wrap(err, "saving entity embedding")
	}
	return nil
}

func (s *Store) EntityEmbeddingsByNames(ctx context.Context, names []string) (map[string][]float32, error) {
	if len(names) == 0 {
		return nil, nil
	}
	query := `SELECT name, embedding FROM entities
		WHERE embedding IS NOT NULL AND name IN (` + placeholders(len(names)) + `) ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, stringArgs(names)...)
	if err != nil {
		return nil, appErrors.Wrap(err, "fetching entity embeddings")
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var name string
		var blob []byte
		if err := rows.Scan(&name, &blob); err != nil {
			return nil, appErrors.Wrap(err, "scanning entity embedding")
		}
		if _, ok := out[name]; ok {
			continue
		}
		vec, err := unpackVector(blob)
		if err != nil {
			return nil, appErrors.Wrap(err, "decoding entity embedding")
		}
		out[name] = vec
	}
	return out, rows.Err()
}

// --- tabs ---

const tabColumns = "id, url, title, favicon_url, entities, embedding, summary, label, source, display_label, opened_at, last_accessed, closed_at, window_id, group_id, is_active, important"

const prefixedTabColumns = "t.id, t.url, t.title, t.favicon_url, t.entities, t.embedding, t.summary, t.label, t.source, t.display_label, t.opened_at, t.last_accessed, t.closed_at, t.window_id, t.group_id, t.is_active, t.important"

func scanTab(row rowScanner) (*domain.Tab, error) {
	var (
		t            domain.Tab
		entities     string
		embedding    []byte
		openedAt     string
		lastAccessed string
		closedAt     sql.NullString
		windowID     sql.NullInt64
		groupID      sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.URL, &t.Title, &t.FaviconURL, &entities, &embedding,
		&t.Summary, &t.Label, &t.Source, &t.DisplayLabel, &openedAt, &lastAccessed,
		&closedAt, &windowID, &groupID, &t.IsActive, &t.Important); err != nil {
		return nil, err
	}

	t.Entities = decodeList(entities)

	var err error
	if t.Embedding, err = unpackVector(embedding); err != nil {
		return nil, err
	}
	if t.OpenedAt, err = parseTime(openedAt); err != nil {
		return nil, err
	}
	if t.LastAccessed, err = parseTime(lastAccessed); err != nil {
		return nil, err
	}
	if closedAt.Valid {
		if t.ClosedAt, err = parseTimePtr(&closedAt.String); err != nil {
			return nil, err
		}
	}
	if windowID.Valid {
		v := int(windowID.Int64)
		t.WindowID = &v
	}
	if groupID.Valid {
		v := int(groupID.Int64)
		t.GroupID = &v
	}
	return &t, nil
}

// UpsertTab inserts or updates the tab row. On update opened_at is kept, and
// analysis fields (entities, embedding, summary, labels) are only overwritten
// when the incoming record actually carries them.
func (s *Store) UpsertTab(ctx context.Context, tab *domain.Tab) error {
	openedAt := tab.OpenedAt
	if openedAt.IsZero() {
		openedAt = tab.LastAccessed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tabs (`+tabColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			url           = excluded.url,
			title         = excluded.title,
			favicon_url   = excluded.favicon_url,
			entities      = CASE WHEN excluded.entities = '[]' THEN tabs.entities ELSE excluded.entities END,
			embedding     = COALESCE(excluded.embedding, tabs.embedding),
			summary       = CASE WHEN excluded.summary = '' THEN tabs.summary ELSE excluded.summary END,
			label         = CASE WHEN excluded.label = '' THEN tabs.label ELSE excluded.label END,
			source        = CASE WHEN excluded.source = '' THEN tabs.source ELSE excluded.source END,
			display_label = CASE WHEN excluded.display_label = '' THEN tabs.display_label ELSE excluded.display_label END,
			last_accessed = excluded.last_accessed,
			closed_at     = excluded.closed_at,
			window_id     = excluded.window_id,
			group_id      = excluded.group_id,
			is_active     = excluded.is_active,
			important     = excluded.important`,
		tab.ID, tab.URL, tab.Title, tab.FaviconURL, encodeList(tab.Entities),
		packVector(tab.Embedding), tab.Summary, tab.Label, tab.Source, tab.DisplayLabel,
		formatTime(openedAt), formatTime(tab.LastAccessed), formatTimePtr(tab.ClosedAt),
		nullableInt(tab.WindowID), nullableInt(tab.GroupID), tab.IsActive, tab.Important)
	if err != nil {
		return appErrors.Wrap(err, "upserting tab")
	}
	return nil
}

func (s *Store) TabByID(ctx context.Context, id int) (*domain.Tab, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tabColumns+` FROM tabs WHERE id = ?`, id)
	tab, err := scanTab(row)
	if err == sql.ErrNoRows {
		return nil, appErrors.NewNotFound(fmt.Sprintf("tab %d not found", id))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, "fetching tab")
	}
	return tab, nil
}

func (s *Store) ActiveTabs(ctx context.Context) ([]*domain.Tab, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tabColumns+` FROM tabs WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, appErrors.Wrap(err, "listing active tabs")
	}
	defer rows.Close()
	return collectTabs(rows)
}

func (s *Store) TabsInRange(ctx context.Context, from, to time.Time) ([]*domain.Tab, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tabColumns+` FROM tabs WHERE last_accessed >= ? AND last_accessed <= ? ORDER BY last_accessed`,
		formatTime(from), formatTime(to))
	if err != nil {
		return nil, appErrors.Wrap(err, "listing tabs in range")
	}
	defer rows.Close()
	return collectTabs(rows)
}

func (s *Store) MarkTabClosed(ctx context.Context, id int, closedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tabs SET closed_at = ?, is_active = 0 WHERE id = ?`,
		formatTime(closedAt), id)
	if err != nil {
		return appErrors.Wrap(err, "marking tab closed")
	}
	return nil
}

func (s *Store) DeleteTab(ctx context.Context, id int) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tabs WHERE id = ?`, id); err != nil {
		return appErrors.Wrap(err, "deleting tab")
	}
	return nil
}

// --- helpers ---

func collectEntities(rows *sql.Rows) ([]*domain.Entity, error) {
	var out []*domain.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, appErrors.Wrap(err, "scanning entity")
		}
		out = append(out, entity)
	}
	return out, rows.Err()
}

func collectTabs(rows *sql.Rows) ([]*domain.Tab, error) {
	var out []*domain.Tab
	for rows.Next() {
		tab, err := scanTab(rows)
		if err != nil {
			return nil, appErrors.Wrap(err, "scanning tab")
		}
		out = append(out, tab)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(names []string) []interface{} {
	args := make([]interface{}, len(names))
	for i, n := range names {
		args[i] = n
	}
	return args
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
