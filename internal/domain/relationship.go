package domain

import (
	"time"
)

// TabRelationship is the undirected tab-tab edge, materialized with
// TabIDLow < TabIDHigh so each pair is stored exactly once.
type TabRelationship struct {
	TabIDLow       int       `json:"tab_id_low"`
	TabIDHigh      int       `json:"tab_id_high"`
	SharedEntities []string  `json:"shared_entities"`
	SharedCount    int       `json:"shared_count"`
	Strength       float64   `json:"strength"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
}

// NewTabRelationship canonicalizes the pair ordering and computes the Jaccard
// strength |A∩B| / |A∪B| from the two entity sets.
func NewTabRelationship(a, b int, entitiesA, entitiesB []string, now time.Time) TabRelationship {
	if a > b {
		a, b = b, a
		entitiesA, entitiesB = entitiesB, entitiesA
	}

	setA := make(map[string]bool, len(entitiesA))
	for _, e := range entitiesA {
		setA[e] = true
	}
	union := make(map[string]bool, len(entitiesA)+len(entitiesB))
	for _, e := range entitiesA {
		union[e] = true
	}

	var shared []string
	sharedSeen := make(map[string]bool)
	for _, e := range entitiesB {
		if setA[e] && !sharedSeen[e] {
			shared = append(shared, e)
			sharedSeen[e] = true
		}
		union[e] = true
	}

	strength := 0.0
	if len(union) > 0 {
		strength = float64(len(shared)) / float64(len(union))
	}

	return TabRelationship{
		TabIDLow:       a,
		TabIDHigh:      b,
		SharedEntities: shared,
		SharedCount:    len(shared),
		Strength:       strength,
		FirstSeen:      now,
		LastSeen:       now,
	}
}

// TemporalValidityRange bounds the window in which a triplet holds.
type TemporalValidityRange struct {
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	IsCurrent bool       `json:"is_current"`
}

// Contains reports whether t falls inside the validity window.
func (r TemporalValidityRange) Contains(t time.Time) bool {
	if r.StartTime != nil && t.Before(*r.StartTime) {
		return false
	}
	if r.EndTime != nil && t.After(*r.EndTime) {
		return false
	}
	return true
}

// Triplet is a temporal (subject, predicate, object) relationship between two
// entities. Triplet chains may form cycles; only the visualization assembler
// reads them, truncated to a fixed limit.
type Triplet struct {
	ID          int64                 `json:"id"`
	SubjectID   int64                 `json:"subject_id"`
	SubjectName string                `json:"subject_name,omitempty"`
	Predicate   string                `json:"predicate"`
	ObjectID    int64                 `json:"object_id"`
	ObjectName  string                `json:"object_name,omitempty"`
	Validity    TemporalValidityRange `json:"temporal_validity"`
	Confidence  float64               `json:"confidence"`
	Source      string                `json:"source,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
}
