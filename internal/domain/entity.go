package domain

import (
	"strings"
	"time"
)

// EntityType is the closed set of types an enriched entity can carry.
type EntityType string

const (
	EntityTypeConcept      EntityType = "concept"
	EntityTypeTool         EntityType = "tool"
	EntityTypePerson       EntityType = "person"
	EntityTypeOrganization EntityType = "organization"
	EntityTypeMethod       EntityType = "method"
	EntityTypeResource     EntityType = "resource"
	EntityTypeTopic        EntityType = "topic"
	EntityTypeStandard     EntityType = "standard"
	EntityTypeEvent        EntityType = "event"
	EntityTypeLocation     EntityType = "location"
	EntityTypeOther        EntityType = "other"
)

// legacyEntityTypes are tags written by earlier versions of the enricher.
// They are accepted on read but never produced.
var legacyEntityTypes = map[string]bool{
	"technology":           true,
	"framework":            true,
	"database":             true,
	"programming language": true,
	"platform":             true,
	"unknown":              true,
}

// ParseEntityType normalizes a free-form type string from the agent into the
// closed set, defaulting to "other" for anything unrecognized.
func ParseEntityType(s string) EntityType {
	normalized := strings.ToLower(strings.TrimSpace(s))
	switch EntityType(normalized) {
	case EntityTypeConcept, EntityTypeTool, EntityTypePerson, EntityTypeOrganization,
		EntityTypeMethod, EntityTypeResource, EntityTypeTopic, EntityTypeStandard,
		EntityTypeEvent, EntityTypeLocation, EntityTypeOther:
		return EntityType(normalized)
	}
	if legacyEntityTypes[normalized] {
		return EntityType(normalized)
	}
	return EntityTypeOther
}

// Entity is a topic/concept extracted from one or more tabs.
// Uniqueness is (Name, Type). An entity is deleted when no tab references it.
type Entity struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Type            EntityType `json:"type"`
	WebDescription  string     `json:"web_description,omitempty"`
	RelatedEntities []string   `json:"related_entities,omitempty"`
	SourceURL       string     `json:"source_url,omitempty"`
	IsEnriched      bool       `json:"is_enriched"`
	EnrichedAt      *time.Time `json:"enriched_at,omitempty"`
	Embedding       []float32  `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
}

// NeedsEnrichment applies the cache-TTL rule: an entity needs (re-)enrichment
// when it has never been enriched or its enrichment is older than ttl.
func (e *Entity) NeedsEnrichment(now time.Time, ttl time.Duration) bool {
	if !e.IsEnriched || e.EnrichedAt == nil {
		return true
	}
	return now.Sub(*e.EnrichedAt) > ttl
}

// TabEntityLink is the many-to-many edge between a tab and an entity.
type TabEntityLink struct {
	TabID     int       `json:"tab_id"`
	EntityID  int64     `json:"entity_id"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// EntityTabContext holds the context-specific description of an entity as it
// appears on one particular tab. The same entity name ("tools", say) carries
// a different description on an AI documentation page than on a hardware
// store page.
type EntityTabContext struct {
	EntityID    int64     `json:"entity_id"`
	TabID       int       `json:"tab_id"`
	Description string    `json:"description"`
	EnrichedAt  time.Time `json:"enriched_at"`
}

// Enrichment is the record produced by the entity enricher for one
// (entity, tab) pair. An empty Description means enrichment failed and the
// entity stays un-enriched.
type Enrichment struct {
	Name        string
	Type        EntityType
	Description string
	Related     []string
	SourceURL   string
}

// IsEmpty reports whether the enrichment carries no usable description.
func (e Enrichment) IsEmpty() bool {
	return strings.TrimSpace(e.Description) == ""
}
