package domain

import (
	"sort"
	"time"
)

// ClusterColor is one of the nine Chrome tab-group colors.
type ClusterColor string

const (
	ColorGrey   ClusterColor = "grey"
	ColorBlue   ClusterColor = "blue"
	ColorRed    ClusterColor = "red"
	ColorYellow ClusterColor = "yellow"
	ColorGreen  ClusterColor = "green"
	ColorPink   ClusterColor = "pink"
	ColorPurple ClusterColor = "purple"
	ColorCyan   ClusterColor = "cyan"
	ColorOrange ClusterColor = "orange"
)

// ClusterPalette is the fixed color pool, assigned round-robin and never
// reclaimed on cluster deletion.
var ClusterPalette = []ClusterColor{
	ColorGrey, ColorBlue, ColorRed, ColorYellow, ColorGreen,
	ColorPink, ColorPurple, ColorCyan, ColorOrange,
}

// PlaceholderClusterName marks a cluster created during a batch ingest that
// has not yet received its generated name.
const PlaceholderClusterName = "New Cluster"

// TabCluster groups semantically related tabs. Clusters are process-resident:
// they are rebuilt from the live tab set after a restart and never persisted.
type TabCluster struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Color                ClusterColor `json:"color"`
	Tabs                 []*Tab       `json:"tabs"`
	SharedEntities       []string     `json:"shared_entities"`
	TabCount             int          `json:"tab_count"`
	TabsAddedSinceNaming int          `json:"tabs_added_since_naming"`
	Centroid             []float32    `json:"-"`
	CreatedAt            time.Time    `json:"created_at"`
}

// AddTab appends a tab and bumps the naming counter. The caller is
// responsible for recomputing the centroid afterwards.
func (c *TabCluster) AddTab(tab *Tab) {
	c.Tabs = append(c.Tabs, tab)
	c.TabCount = len(c.Tabs)
	c.TabsAddedSinceNaming++
}

// RemoveTab removes the tab with the given id. It never touches the naming
// counter: removals must not trigger a rename.
func (c *TabCluster) RemoveTab(tabID int) bool {
	kept := c.Tabs[:0]
	removed := false
	for _, t := range c.Tabs {
		if t.ID == tabID {
			removed = true
			continue
		}
		kept = append(kept, t)
	}
	if removed {
		c.Tabs = kept
		c.TabCount = len(c.Tabs)
	}
	return removed
}

// ReplaceTab swaps the member with the same id for the given tab, keeping
// membership and the naming counter untouched: refreshing a tab already in
// the cluster is an update, not an addition.
func (c *TabCluster) ReplaceTab(tab *Tab) bool {
	for i, t := range c.Tabs {
		if t.ID == tab.ID {
			c.Tabs[i] = tab
			return true
		}
	}
	return false
}

// ContainsTab reports whether the tab with the given id is a member.
func (c *TabCluster) ContainsTab(tabID int) bool {
	for _, t := range c.Tabs {
		if t.ID == tabID {
			return true
		}
	}
	return false
}

// BelowMinimum reports whether the cluster has dropped under the two-tab
// survival threshold and should be deleted by the engine.
func (c *TabCluster) BelowMinimum() bool {
	return c.TabCount < 2
}

// ShouldRename reports whether enough tabs were added since the last naming.
func (c *TabCluster) ShouldRename(threshold int) bool {
	return c.TabsAddedSinceNaming >= threshold
}

// MarkNamed records that the cluster was just (re)named.
func (c *TabCluster) MarkNamed(name string) {
	c.Name = name
	c.TabsAddedSinceNaming = 0
}

// TabTitles returns the member titles in insertion order.
func (c *TabCluster) TabTitles() []string {
	titles := make([]string, len(c.Tabs))
	for i, t := range c.Tabs {
		titles[i] = t.Title
	}
	return titles
}

// RecomputeSharedEntities rebuilds the frequency-ranked shared-entity list
// from the current member tabs. With two or more tabs an entity must appear
// in at least two of them; a single-tab cluster shares all of its tab's
// entities. Ties break alphabetically so the ordering is deterministic.
func (c *TabCluster) RecomputeSharedEntities() {
	counts := make(map[string]int)
	for _, t := range c.Tabs {
		seen := make(map[string]bool, len(t.Entities))
		for _, e := range t.Entities {
			if !seen[e] {
				counts[e]++
				seen[e] = true
			}
		}
	}

	minCount := 2
	if len(c.Tabs) == 1 {
		minCount = 1
	}

	shared := make([]string, 0, len(counts))
	for e, n := range counts {
		if n >= minCount {
			shared = append(shared, e)
		}
	}
	sort.Slice(shared, func(i, j int) bool {
		if counts[shared[i]] != counts[shared[j]] {
			return counts[shared[i]] > counts[shared[j]]
		}
		return shared[i] < shared[j]
	})
	c.SharedEntities = shared
}

// UniqueEntityNames returns the deduplicated union of the member tabs'
// entities, in first-seen order.
func (c *TabCluster) UniqueEntityNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, t := range c.Tabs {
		for _, e := range t.Entities {
			if !seen[e] {
				seen[e] = true
				names = append(names, e)
			}
		}
	}
	return names
}

// HubEntities returns the top-n shared entities, the cluster's most frequent
// topics, used for naming and downstream recommendation queries.
func (c *TabCluster) HubEntities(n int) []string {
	if len(c.SharedEntities) <= n {
		return c.SharedEntities
	}
	return c.SharedEntities[:n]
}
