// Package viz assembles the node/edge view of the live clusters and the
// knowledge graph for rendering.
package viz

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tabgraph-backend/internal/cluster"
	"tabgraph-backend/internal/domain"
)

// Node is one renderable node. Fields beyond ID/Type/Label apply only to
// some node types.
type Node struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // "cluster", "tab" or "entity"
	Label    string `json:"label"`
	Color    string `json:"color,omitempty"`
	TabCount int    `json:"tab_count,omitempty"`

	// Tab fields. ClusterID is a soft association for layout, not a
	// compound-graph parent.
	URL       string `json:"url,omitempty"`
	Summary   string `json:"summary,omitempty"`
	ClusterID string `json:"cluster_id,omitempty"`

	// Cluster fields.
	SharedEntities []string `json:"shared_entities,omitempty"`

	// Entity fields.
	EntityType  string         `json:"entity_type,omitempty"`
	Description string         `json:"description,omitempty"`
	TabContexts map[int]string `json:"tab_contexts,omitempty"`
}

// Edge connects two nodes. Weight is a layout hint: containment edges pull
// strongly, reference edges weakly.
type Edge struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Type       string  `json:"type"` // "contains", "references" or "relationship"
	Weight     float64 `json:"weight"`
	Predicate  string  `json:"predicate,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Graph is the assembled view.
type Graph struct {
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Options filter the assembled view.
type Options struct {
	// MinClusterSize drops clusters with fewer tabs; 0 means the default
	// of 2.
	MinClusterSize int
	// IncludeSingletons lowers the effective minimum to one tab.
	IncludeSingletons bool
	// TimeRangeHours drops tabs not accessed within the window; 0 disables
	// the filter.
	TimeRangeHours int
	// MaxRelationshipEdges caps entity-entity triplet edges; 0 means the
	// default of 25.
	MaxRelationshipEdges int
}

const (
	containsWeight   = 2.0
	referencesWeight = 0.5

	defaultMinClusterSize = 2
	defaultMaxEdges       = 25
)

// Store is the read slice of the graph store the assembler uses.
type Store interface {
	EntitiesByNames(ctx context.Context, names []string) ([]*domain.Entity, error)
	ContextsForEntity(ctx context.Context, entityID int64) (map[int]string, error)
	CurrentTriplets(ctx context.Context, limit int) ([]*domain.Triplet, error)
}

// Assembler builds visualization graphs from the engine and store.
type Assembler struct {
	engine *cluster.Engine
	store  Store
	logger *zap.Logger
}

// NewAssembler wires an assembler.
func NewAssembler(engine *cluster.Engine, store Store, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{engine: engine, store: store, logger: logger}
}

// Build assembles the current view. Store failures degrade the view (missing
// descriptions, missing relationship edges) rather than failing it.
func (a *Assembler) Build(ctx context.Context, opts Options) *Graph {
	minSize := opts.MinClusterSize
	if minSize <= 0 {
		minSize = defaultMinClusterSize
	}
	if opts.IncludeSingletons {
		minSize = 1
	}
	maxEdges := opts.MaxRelationshipEdges
	if maxEdges <= 0 {
		maxEdges = defaultMaxEdges
	}

	var cutoff time.Time
	if opts.TimeRangeHours > 0 {
		cutoff = time.Now().Add(-time.Duration(opts.TimeRangeHours) * time.Hour)
	}

	graph := &Graph{GeneratedAt: time.Now()}
	entityNames := make(map[string]bool)
	var entityOrder []string
	type tabRef struct {
		tab       *domain.Tab
		clusterID string
		color     string
	}
	var tabs []tabRef

	for _, c := range a.engine.Clusters() {
		members := c.Tabs
		if !cutoff.IsZero() {
			var recent []*domain.Tab
			for _, t := range members {
				if !t.LastAccessed.Before(cutoff) {
					recent = append(recent, t)
				}
			}
			members = recent
		}
		if len(members) < minSize {
			continue
		}

		graph.Nodes = append(graph.Nodes, Node{
			ID:             clusterNodeID(c.ID),
			Type:           "cluster",
			Label:          c.Name,
			Color:          string(c.Color),
			TabCount:       len(members),
			SharedEntities: c.HubEntities(5),
		})

		for _, t := range members {
			tabs = append(tabs, tabRef{tab: t, clusterID: c.ID, color: string(c.Color)})
			for _, name := range t.Entities {
				if !entityNames[name] {
					entityNames[name] = true
					entityOrder = append(entityOrder, name)
				}
			}
		}
	}

	for _, ref := range tabs {
		label := ref.tab.DisplayLabel
		if label == "" {
			label = ref.tab.Title
		}
		graph.Nodes = append(graph.Nodes, Node{
			ID:        tabNodeID(ref.tab.ID),
			Type:      "tab",
			Label:     label,
			Color:     ref.color,
			URL:       ref.tab.URL,
			Summary:   ref.tab.Summary,
			ClusterID: ref.clusterID,
		})
		graph.Edges = append(graph.Edges, Edge{
			Source: clusterNodeID(ref.clusterID),
			Target: tabNodeID(ref.tab.ID),
			Type:   "contains",
			Weight: containsWeight,
		})
	}

	entityIDsByName := a.appendEntityNodes(ctx, graph, entityOrder)

	for _, ref := range tabs {
		for _, name := range ref.tab.Entities {
			graph.Edges = append(graph.Edges, Edge{
				Source: tabNodeID(ref.tab.ID),
				Target: entityNodeID(name),
				Type:   "references",
				Weight: referencesWeight,
			})
		}
	}

	a.appendRelationshipEdges(ctx, graph, entityIDsByName, maxEdges)
	return graph
}

// appendEntityNodes emits one node per distinct entity, decorated with the
// stored global description and the per-tab context map when available.
func (a *Assembler) appendEntityNodes(ctx context.Context, graph *Graph, names []string) map[string]int64 {
	idsByName := make(map[string]int64)
	if len(names) == 0 {
		return idsByName
	}

	stored := make(map[string]*domain.Entity)
	entities, err := a.store.EntitiesByNames(ctx, names)
	if err != nil {
		a.logger.Warn("fetching entities for visualization", zap.Error(err))
	} else {
		for _, e := range entities {
			if _, ok := stored[e.Name]; !ok {
				stored[e.Name] = e
			}
		}
	}

	for _, name := range names {
		node := Node{
			ID:    entityNodeID(name),
			Type:  "entity",
			Label: name,
		}
		if e, ok := stored[name]; ok {
			idsByName[name] = e.ID
			node.EntityType = string(e.Type)
			node.Description = e.WebDescription
			contexts, err := a.store.ContextsForEntity(ctx, e.ID)
			if err != nil {
				a.logger.Warn("fetching entity contexts",
					zap.String("entity", name),
					zap.Error(err),
				)
			} else if len(contexts) > 0 {
				node.TabContexts = contexts
			}
		}
		graph.Nodes = append(graph.Nodes, node)
	}
	return idsByName
}

// appendRelationshipEdges draws up to maxEdges current entity-entity triplet
// edges between entities present in the view.
func (a *Assembler) appendRelationshipEdges(ctx context.Context, graph *Graph, idsByName map[string]int64, maxEdges int) {
	if len(idsByName) == 0 {
		return
	}
	triplets, err := a.store.CurrentTriplets(ctx, maxEdges*4)
	if err != nil {
		a.logger.Warn("fetching triplets for visualization", zap.Error(err))
		return
	}

	inView := make(map[int64]string, len(idsByName))
	for name, id := range idsByName {
		inView[id] = name
	}

	added := 0
	for _, triplet := range triplets {
		if added >= maxEdges {
			return
		}
		subj, okS := inView[triplet.SubjectID]
		obj, okO := inView[triplet.ObjectID]
		if !okS || !okO {
			continue
		}
		graph.Edges = append(graph.Edges, Edge{
			Source:     entityNodeID(subj),
			Target:     entityNodeID(obj),
			Type:       "relationship",
			Weight:     triplet.Confidence,
			Predicate:  triplet.Predicate,
			Confidence: triplet.Confidence,
		})
		added++
	}
}

func clusterNodeID(id string) string { return "cluster:" + id }
func tabNodeID(id int) string        { return fmt.Sprintf("tab:%d", id) }
func entityNodeID(name string) string {
	return "entity:" + name
}
