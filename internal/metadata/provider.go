// Package metadata derives display labels and one-line summaries for tabs.
package metadata

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"tabgraph-backend/internal/domain"
	"tabgraph-backend/internal/llm"
)

// Metadata is the display information attached to a tab.
type Metadata struct {
	Label  string `json:"label"`
	Source string `json:"source"`
}

// DisplayLabel renders the UI string, "label • source", omitting whichever
// side is empty.
func (m Metadata) DisplayLabel() string {
	switch {
	case m.Label != "" && m.Source != "":
		return m.Label + " • " + m.Source
	case m.Label != "":
		return m.Label
	default:
		return m.Source
	}
}

// Provider produces display metadata for a tab.
type Provider interface {
	Describe(ctx context.Context, tab *domain.Tab) Metadata
}

// Completer is the LLM capability the agent provider needs.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, opts llm.CompletionOptions) (string, error)
}

// NewProvider selects an implementation by configuration string: "agent"
// asks the LLM, "static" (the default) uses domain heuristics only.
func NewProvider(kind string, completer Completer, logger *zap.Logger) Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	static := &StaticProvider{}
	if kind == "agent" && completer != nil {
		return &AgentProvider{completer: completer, fallback: static, logger: logger}
	}
	return static
}

// knownSources maps well-known registrable domains to display names.
var knownSources = map[string]string{
	"github":        "GitHub",
	"stackoverflow": "Stack Overflow",
	"youtube":       "YouTube",
	"medium":        "Medium",
	"reddit":        "Reddit",
	"wikipedia":     "Wikipedia",
	"arxiv":         "arXiv",
	"news":          "Hacker News",
	"ycombinator":   "Hacker News",
	"docs":          "Documentation",
}

var hostRe = regexp.MustCompile(`https?://(?:www\.)?([^/]+)`)

// StaticProvider derives metadata without any network call: the label is the
// tab title trimmed of site suffixes, the source comes from the domain.
type StaticProvider struct{}

func (p *StaticProvider) Describe(_ context.Context, tab *domain.Tab) Metadata {
	return Metadata{
		Label:  trimTitle(tab.Title),
		Source: sourceFromURL(tab.URL),
	}
}

// AgentProvider asks the LLM for a short label and source, falling back to
// the static provider when the call or its parse fails.
type AgentProvider struct {
	completer Completer
	fallback  *StaticProvider
	logger    *zap.Logger
}

func (p *AgentProvider) Describe(ctx context.Context, tab *domain.Tab) Metadata {
	prompt := "Given this browser tab, produce a short display label (max 6 words) and the name of the site or publication it comes from.\n\n" +
		"Title: " + tab.Title + "\nURL: " + tab.URL + "\n\n" +
		`Respond as a JSON object: {"label": "...", "source": "..."}`

	response, err := p.completer.Complete(ctx, "", prompt, llm.CompletionOptions{
		Temperature: 0.2,
		MaxTokens:   60,
		JSONMode:    true,
	})
	if err != nil {
		p.logger.Debug("agent metadata failed, using static provider",
			zap.String("url", tab.URL),
			zap.Error(err),
		)
		return p.fallback.Describe(ctx, tab)
	}

	var meta Metadata
	if err := json.Unmarshal([]byte(llm.StripFences(response)), &meta); err != nil || meta.Label == "" {
		return p.fallback.Describe(ctx, tab)
	}
	if meta.Source == "" {
		meta.Source = sourceFromURL(tab.URL)
	}
	return meta
}

// trimTitle drops the trailing " - Site Name" / " | Site Name" suffix most
// pages append to their titles.
func trimTitle(title string) string {
	for _, sep := range []string{" | ", " – ", " — ", " - "} {
		if i := strings.LastIndex(title, sep); i > 0 {
			title = title[:i]
		}
	}
	return strings.TrimSpace(title)
}

// sourceFromURL maps the registrable domain onto a display name, title-casing
// unknown domains.
func sourceFromURL(rawURL string) string {
	m := hostRe.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	domainPart := strings.SplitN(m[1], ".", 2)[0]
	if domainPart == "" {
		return ""
	}
	if name, ok := knownSources[strings.ToLower(domainPart)]; ok {
		return name
	}
	return strings.ToUpper(domainPart[:1]) + domainPart[1:]
}
