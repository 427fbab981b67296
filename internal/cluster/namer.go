package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"tabgraph-backend/internal/domain"
	"tabgraph-backend/internal/llm"
)

// Completer is the LLM capability the namer needs.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, opts llm.CompletionOptions) (string, error)
}

// Namer generates short cluster names from sample titles and shared entities.
type Namer struct {
	client Completer
	logger *zap.Logger
}

// NewNamer builds a namer.
func NewNamer(client Completer, logger *zap.Logger) *Namer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Namer{client: client, logger: logger}
}

const (
	namingSystem = "You name groups of related browser tabs with short, general category labels."

	maxSampleTitles  = 10
	maxSampleShared  = 10
	maxNameWordCount = 3
)

// NameOne generates a name for a single cluster, degrading to a name derived
// from the cluster's own content when the model is unavailable.
func (n *Namer) NameOne(ctx context.Context, c *domain.TabCluster) string {
	prompt := fmt.Sprintf(`These browser tabs belong to one group:

%s
Key shared topics: %s

Give this group a general 1-3 word category name in Title Case. Respond with the name only.`,
		titleLines(c), strings.Join(sample(c.SharedEntities, maxSampleShared), ", "))

	response, err := n.client.Complete(ctx, namingSystem, prompt, llm.CompletionOptions{
		Temperature: 0.3,
		MaxTokens:   20,
	})
	if err != nil {
		n.logger.Warn("cluster naming failed", zap.String("cluster", c.ID), zap.Error(err))
		return fallbackName(c)
	}
	if name := cleanName(response); name != "" {
		return name
	}
	return fallbackName(c)
}

// NameBatch names all given clusters in one structured call. The returned
// slice is index-aligned with the input; any shape mismatch is an error and
// the caller falls back to per-cluster naming.
func (n *Namer) NameBatch(ctx context.Context, clusters []*domain.TabCluster) ([]string, error) {
	var sb strings.Builder
	for i, c := range clusters {
		fmt.Fprintf(&sb, "Group %d:\n%sKey shared topics: %s\n\n",
			i+1, titleLines(c), strings.Join(sample(c.SharedEntities, maxSampleShared), ", "))
	}

	prompt := fmt.Sprintf(`Name each of the %d browser tab groups below with a general 1-3 word category in Title Case.

%sRespond with a JSON object {"names": ["..."]} containing exactly %d names, one per group in order.`,
		len(clusters), sb.String(), len(clusters))

	response, err := n.client.Complete(ctx, namingSystem, prompt, llm.CompletionOptions{
		Temperature: 0.3,
		MaxTokens:   30 * len(clusters),
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Names []string `json:"names"`
	}
	if err := json.Unmarshal([]byte(llm.StripFences(response)), &parsed); err != nil {
		return nil, fmt.Errorf("parsing batch naming response: %w", err)
	}
	if len(parsed.Names) != len(clusters) {
		return nil, fmt.Errorf("batch naming returned %d names for %d clusters", len(parsed.Names), len(clusters))
	}

	names := make([]string, len(clusters))
	for i, raw := range parsed.Names {
		name := cleanName(raw)
		if name == "" {
			name = fallbackName(clusters[i])
		}
		names[i] = name
	}
	return names, nil
}

func titleLines(c *domain.TabCluster) string {
	var sb strings.Builder
	for _, title := range sample(c.TabTitles(), maxSampleTitles) {
		sb.WriteString("- ")
		sb.WriteString(title)
		sb.WriteString("\n")
	}
	return sb.String()
}

func sample(list []string, max int) []string {
	if len(list) <= max {
		return list
	}
	return list[:max]
}

// cleanName strips quoting and trailing punctuation and enforces the word
// limit.
func cleanName(raw string) string {
	name := strings.TrimSpace(raw)
	name = strings.Trim(name, `"'.`)
	name = strings.TrimSpace(name)
	words := strings.Fields(name)
	if len(words) == 0 {
		return ""
	}
	if len(words) > maxNameWordCount {
		words = words[:maxNameWordCount]
	}
	return strings.Join(words, " ")
}

// fallbackName derives a name without the model: the top shared entity, or
// the first member's first title words.
func fallbackName(c *domain.TabCluster) string {
	if len(c.SharedEntities) > 0 {
		return c.SharedEntities[0]
	}
	if len(c.Tabs) > 0 {
		words := strings.Fields(c.Tabs[0].Title)
		if len(words) > 2 {
			words = words[:2]
		}
		if len(words) > 0 {
			return strings.Join(words, " ")
		}
	}
	return domain.PlaceholderClusterName
}
