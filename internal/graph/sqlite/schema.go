package sqlite

// schema is applied on every open; all statements are idempotent.
//
// Conventions: timestamps are UTC RFC 3339 strings with fixed nanosecond
// precision so they order lexicographically, vectors are packed
// little-endian float32 BLOBs, string lists are JSON arrays.
const schema = `
CREATE TABLE IF NOT EXISTS tabs (
    id            INTEGER PRIMARY KEY,
    url           TEXT NOT NULL,
    title         TEXT NOT NULL,
    favicon_url   TEXT NOT NULL DEFAULT '',
    entities      TEXT NOT NULL DEFAULT '[]',
    embedding     BLOB,
    summary       TEXT NOT NULL DEFAULT '',
    label         TEXT NOT NULL DEFAULT '',
    source        TEXT NOT NULL DEFAULT '',
    display_label TEXT NOT NULL DEFAULT '',
    opened_at     TEXT NOT NULL,
    last_accessed TEXT NOT NULL,
    closed_at     TEXT,
    window_id     INTEGER,
    group_id      INTEGER,
    is_active     INTEGER NOT NULL DEFAULT 1,
    important     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_tabs_active ON tabs(is_active);
CREATE INDEX IF NOT EXISTS idx_tabs_last_accessed ON tabs(last_accessed);

CREATE TABLE IF NOT EXISTS entities (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    name             TEXT NOT NULL,
    type             TEXT NOT NULL,
    web_description  TEXT NOT NULL DEFAULT '',
    related_entities TEXT NOT NULL DEFAULT '[]',
    source_url       TEXT NOT NULL DEFAULT '',
    is_enriched      INTEGER NOT NULL DEFAULT 0,
    enriched_at      TEXT,
    embedding        BLOB,
    created_at       TEXT NOT NULL,
    UNIQUE (name, type)
);

CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name);
CREATE INDEX IF NOT EXISTS idx_entities_enriched ON entities(is_enriched, enriched_at);

CREATE TABLE IF NOT EXISTS tab_entities (
    tab_id     INTEGER NOT NULL REFERENCES tabs(id) ON DELETE CASCADE,
    entity_id  INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    first_seen TEXT NOT NULL,
    last_seen  TEXT NOT NULL,
    PRIMARY KEY (tab_id, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_tab_entities_entity ON tab_entities(entity_id);

CREATE TABLE IF NOT EXISTS tab_relationships (
    tab_id_low      INTEGER NOT NULL REFERENCES tabs(id) ON DELETE CASCADE,
    tab_id_high     INTEGER NOT NULL REFERENCES tabs(id) ON DELETE CASCADE,
    shared_entities TEXT NOT NULL DEFAULT '[]',
    shared_count    INTEGER NOT NULL DEFAULT 0,
    strength        REAL NOT NULL DEFAULT 0,
    first_seen      TEXT NOT NULL,
    last_seen       TEXT NOT NULL,
    PRIMARY KEY (tab_id_low, tab_id_high),
    CHECK (tab_id_low < tab_id_high)
);

CREATE TABLE IF NOT EXISTS entity_tab_contexts (
    entity_id   INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    tab_id      INTEGER NOT NULL REFERENCES tabs(id) ON DELETE CASCADE,
    description TEXT NOT NULL,
    enriched_at TEXT NOT NULL,
    PRIMARY KEY (entity_id, tab_id)
);

CREATE TABLE IF NOT EXISTS triplets (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    subject_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    predicate  TEXT NOT NULL,
    object_id  INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    start_time TEXT,
    end_time   TEXT,
    is_current INTEGER NOT NULL DEFAULT 1,
    confidence REAL NOT NULL DEFAULT 1,
    source     TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_triplets_subject ON triplets(subject_id);
CREATE INDEX IF NOT EXISTS idx_triplets_object ON triplets(object_id);
CREATE INDEX IF NOT EXISTS idx_triplets_current ON triplets(is_current);
`
