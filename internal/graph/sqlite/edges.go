package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tabgraph-backend/internal/domain"
	"tabgraph-backend/internal/graph"
	appErrors "tabgraph-backend/pkg/errors"
)

// --- tab-entity links ---

func (s *Store) LinkTabEntity(ctx context.Context, tabID int, entityID int64, seenAt time.Time) error {
	ts := formatTime(seenAt)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tab_entities (tab_id, entity_id, first_seen, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tab_id, entity_id) DO UPDATE SET last_seen = excluded.last_seen`,
		tabID, entityID, ts, ts)
	if err != nil {
		return appErrors.Wrap(err, "linking tab to entity")
	}
	return nil
}

func (s *Store) EntitiesForTab(ctx context.Context, tabID int) ([]*domain.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixedEntityColumns+`
		FROM entities e
		JOIN tab_entities te ON te.entity_id = e.id
		WHERE te.tab_id = ?
		ORDER BY te.first_seen, e.id`,
		tabID)
	if err != nil {
		return nil, appErrors.Wrap(err, "listing entities for tab")
	}
	defer rows.Close()
	return collectEntities(rows)
}

func (s *Store) TabsForEntity(ctx context.Context, entityID int64) ([]*domain.Tab, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixedTabColumns+`
		FROM tabs t
		JOIN tab_entities te ON te.tab_id = t.id
		WHERE te.entity_id = ?
		ORDER BY t.id`,
		entityID)
	if err != nil {
		return nil, appErrors.Wrap(err, "listing tabs for entity")
	}
	defer rows.Close()
	return collectTabs(rows)
}

// TabsSharingEntities returns the active tabs sharing at least minShared
// entity names with tabID, most overlap first. Grouping happens in Go; the
// per-tab row counts are small.
func (s *Store) TabsSharingEntities(ctx context.Context, tabID int, minShared int) ([]graph.SharedTab, error) {
	if minShared < 1 {
		minShared = 1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT other.tab_id, e.name
		FROM tab_entities mine
		JOIN tab_entities other ON other.entity_id = mine.entity_id AND other.tab_id != mine.tab_id
		JOIN entities e ON e.id = mine.entity_id
		JOIN tabs t ON t.id = other.tab_id AND t.is_active = 1
		WHERE mine.tab_id = ?
		ORDER BY other.tab_id, e.id`,
		tabID)
	if err != nil {
		return nil, appErrors.Wrap(err, "querying shared-entity tabs")
	}
	defer rows.Close()

	byTab := make(map[int][]string)
	var order []int
	for rows.Next() {
		var otherID int
		var name string
		if err := rows.Scan(&otherID, &name); err != nil {
			return nil, appErrors.Wrap(err, "scanning shared-entity row")
		}
		if _, ok := byTab[otherID]; !ok {
			order = append(order, otherID)
		}
		byTab[otherID] = append(byTab[otherID], name)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.Wrap(err, "reading shared-entity rows")
	}

	var out []graph.SharedTab
	for _, id := range order {
		if len(byTab[id]) >= minShared {
			out = append(out, graph.SharedTab{TabID: id, SharedEntities: byTab[id]})
		}
	}
	// Most overlap first, id ascending as the tie-break.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && moreShared(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func moreShared(a, b graph.SharedTab) bool {
	if len(a.SharedEntities) != len(b.SharedEntities) {
		return len(a.SharedEntities) > len(b.SharedEntities)
	}
	return a.TabID < b.TabID
}

// --- tab-tab relationships ---

func (s *Store) UpsertTabRelationship(ctx context.Context, rel *domain.TabRelationship) error {
	low, high := rel.TabIDLow, rel.TabIDHigh
	if low > high {
		low, high = high, low
	}
	if low == high {
		return appErrors.NewValidation(fmt.Sprintf("self-relationship for tab %d", low))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tab_relationships (tab_id_low, tab_id_high, shared_entities, shared_count, strength, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tab_id_low, tab_id_high) DO UPDATE SET
			shared_entities = excluded.shared_entities,
			shared_count    = excluded.shared_count,
			strength        = excluded.strength,
			last_seen       = excluded.last_seen`,
		low, high, encodeList(rel.SharedEntities), rel.SharedCount, rel.Strength,
		formatTime(rel.FirstSeen), formatTime(rel.LastSeen))
	if err != nil {
		return appErrors.Wrap(err, "upserting tab relationship")
	}
	return nil
}

func (s *Store) RelationshipsForTab(ctx context.Context, tabID int) ([]*domain.TabRelationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tab_id_low, tab_id_high, shared_entities, shared_count, strength, first_seen, last_seen
		FROM tab_relationships
		WHERE tab_id_low = ? OR tab_id_high = ?
		ORDER BY strength DESC, tab_id_low, tab_id_high`,
		tabID, tabID)
	if err != nil {
		return nil, appErrors.Wrap(err, "listing tab relationships")
	}
	defer rows.Close()

	var out []*domain.TabRelationship
	for rows.Next() {
		var rel domain.TabRelationship
		var shared, firstSeen, lastSeen string
		if err := rows.Scan(&rel.TabIDLow, &rel.TabIDHigh, &shared, &rel.SharedCount,
			&rel.Strength, &firstSeen, &lastSeen); err != nil {
			return nil, appErrors.Wrap(err, "scanning tab relationship")
		}
		rel.SharedEntities = decodeList(shared)
		if rel.FirstSeen, err = parseTime(firstSeen); err != nil {
			return nil, appErrors.Wrap(err, "decoding tab relationship")
		}
		if rel.LastSeen, err = parseTime(lastSeen); err != nil {
			return nil, appErrors.Wrap(err, "decoding tab relationship")
		}
		out = append(out, &rel)
	}
	return out, rows.Err()
}

// RebuildTabRelationships recomputes the Jaccard edges incident to tabID
// from the current link table.
func (s *Store) RebuildTabRelationships(ctx context.Context, tabID int, minShared int, now time.Time) (int, error) {
	myEntities, err := s.entityNamesForTab(ctx, tabID)
	if err != nil {
		return 0, err
	}
	if len(myEntities) == 0 {
		return 0, nil
	}

	sharing, err := s.TabsSharingEntities(ctx, tabID, minShared)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, other := range sharing {
		otherEntities, err := s.entityNamesForTab(ctx, other.TabID)
		if err != nil {
			return written, err
		}
		rel := domain.NewTabRelationship(tabID, other.TabID, myEntities, otherEntities, now)
		if rel.SharedCount < minShared {
			continue
		}
		if err := s.UpsertTabRelationship(ctx, &rel); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func (s *Store) entityNamesForTab(ctx context.Context, tabID int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.name
		FROM entities e
		JOIN tab_entities te ON te.entity_id = e.id
		WHERE te.tab_id = ?
		ORDER BY e.id`,
		tabID)
	if err != nil {
		return nil, appErrors.Wrap(err, "listing entity names for tab")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, appErrors.Wrap(err, "scanning entity name")
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// --- entity-tab contexts ---

func (s *Store) SaveTabContext(ctx context.Context, entityID int64, tabID int, description string, enrichedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_tab_contexts (entity_id, tab_id, description, enriched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (entity_id, tab_id) DO UPDATE SET
			description = excluded.description,
			enriched_at = excluded.enriched_at`,
		entityID, tabID, description, formatTime(enrichedAt))
	if err != nil {
		return appErrors.Wrap(err, "saving entity tab context")
	}
	return nil
}

func (s *Store) TabContext(ctx context.Context, entityID int64, tabID int) (*domain.EntityTabContext, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entity_id, tab_id, description, enriched_at
		FROM entity_tab_contexts WHERE entity_id = ? AND tab_id = ?`,
		entityID, tabID)

	var out domain.EntityTabContext
	var enrichedAt string
	err := row.Scan(&out.EntityID, &out.TabID, &out.Description, &enrichedAt)
	if err == sql.ErrNoRows {
		return nil, appErrors.NewNotFound(fmt.Sprintf("no context for entity %d on tab %d", entityID, tabID))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, "fetching entity tab context")
	}
	if out.EnrichedAt, err = parseTime(enrichedAt); err != nil {
		return nil, appErrors.Wrap(err, "decoding entity tab context")
	}
	return &out, nil
}

func (s *Store) ContextsForEntity(ctx context.Context, entityID int64) (map[int]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tab_id, description FROM entity_tab_contexts WHERE entity_id = ?`,
		entityID)
	if err != nil {
		return nil, appErrors.Wrap(err, "listing entity tab contexts")
	}
	defer rows.Close()

	out := make(map[int]string)
	for rows.Next() {
		var tabID int
		var description string
		if err := rows.Scan(&tabID, &description); err != nil {
			return nil, appErrors.Wrap(err, "scanning entity tab context")
		}
		out[tabID] = description
	}
	return out, rows.Err()
}

// --- triplets ---

const tripletColumns = `t.id, t.subject_id, subj.name, t.predicate, t.object_id, obj.name,
	t.start_time, t.end_time, t.is_current, t.confidence, t.source, t.created_at`

const tripletJoins = `
	FROM triplets t
	JOIN entities subj ON subj.id = t.subject_id
	JOIN entities obj ON obj.id = t.object_id`

func (s *Store) InsertTriplet(ctx context.Context, triplet *domain.Triplet) error {
	createdAt := triplet.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO triplets (subject_id, predicate, object_id, start_time, end_time, is_current, confidence, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		triplet.SubjectID, triplet.Predicate, triplet.ObjectID,
		formatTimePtr(triplet.Validity.StartTime), formatTimePtr(triplet.Validity.EndTime),
		triplet.Validity.IsCurrent, triplet.Confidence, triplet.Source, formatTime(createdAt))
	if err != nil {
		return appErrors.Wrap(err, "inserting triplet")
	}
	if id, err := result.LastInsertId(); err == nil {
		triplet.ID = id
	}
	return nil
}

func (s *Store) TripletsForEntity(ctx context.Context, entityID int64) ([]*domain.Triplet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tripletColumns+tripletJoins+`
		WHERE t.subject_id = ? OR t.object_id = ?
		ORDER BY t.created_at DESC`,
		entityID, entityID)
	if err != nil {
		return nil, appErrors.Wrap(err, "listing triplets for entity")
	}
	defer rows.Close()
	return collectTriplets(rows)
}

func (s *Store) CurrentTriplets(ctx context.Context, limit int) ([]*domain.Triplet, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tripletColumns+tripletJoins+`
		WHERE t.is_current = 1
		ORDER BY t.confidence DESC, t.created_at DESC
		LIMIT ?`,
		limit)
	if err != nil {
		return nil, appErrors.Wrap(err, "listing current triplets")
	}
	defer rows.Close()
	return collectTriplets(rows)
}

// TripletsAt filters the entity's triplets by validity window in Go; the
// open-ended window logic is clearer here than in SQL.
func (s *Store) TripletsAt(ctx context.Context, entityID int64, at time.Time) ([]*domain.Triplet, error) {
	all, err := s.TripletsForEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	var out []*domain.Triplet
	for _, triplet := range all {
		if triplet.Validity.Contains(at) {
			out = append(out, triplet)
		}
	}
	return out, nil
}

func collectTriplets(rows *sql.Rows) ([]*domain.Triplet, error) {
	var out []*domain.Triplet
	for rows.Next() {
		var (
			t         domain.Triplet
			startTime sql.NullString
			endTime   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&t.ID, &t.SubjectID, &t.SubjectName, &t.Predicate,
			&t.ObjectID, &t.ObjectName, &startTime, &endTime, &t.Validity.IsCurrent,
			&t.Confidence, &t.Source, &createdAt); err != nil {
			return nil, appErrors.Wrap(err, "scanning triplet")
		}

		var err error
		if startTime.Valid {
			if t.Validity.StartTime, err = parseTimePtr(&startTime.String); err != nil {
				return nil, appErrors.Wrap(err, "decoding triplet")
			}
		}
		if endTime.Valid {
			if t.Validity.EndTime, err = parseTimePtr(&endTime.String); err != nil {
				return nil, appErrors.Wrap(err, "decoding triplet")
			}
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, appErrors.Wrap(err, "decoding triplet")
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
