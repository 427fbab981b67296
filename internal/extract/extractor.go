// Package extract turns tab titles and URLs into short entity lists.
//
// Extraction prefers a structured LLM call and degrades through keyword
// heuristics so the result is never empty: clustering and the knowledge
// graph both assume every tab carries at least one entity.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"tabgraph-backend/internal/llm"
)

// TabInput is one tab's extraction input.
type TabInput struct {
	Title   string
	URL     string
	Content string
}

// Completer is the slice of the LLM client the extractor needs.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, opts llm.CompletionOptions) (string, error)
}

// Extractor extracts 3–max short topic entities per tab.
type Extractor struct {
	client      Completer
	maxEntities int
	logger      *zap.Logger
}

// NewExtractor builds an extractor. maxEntities bounds the per-tab list;
// values below 3 are raised to the reference default of 8.
func NewExtractor(client Completer, maxEntities int, logger *zap.Logger) *Extractor {
	if maxEntities < 3 {
		maxEntities = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{client: client, maxEntities: maxEntities, logger: logger}
}

// Extract returns the entities for a single tab. It never returns an empty
// list: LLM failure falls back to keyword extraction, which itself falls
// back to the domain name or first title word.
func (e *Extractor) Extract(ctx context.Context, tab TabInput) []string {
	entities, err := e.extractWithLLM(ctx, tab)
	if err == nil && len(entities) > 0 {
		return entities
	}
	if err != nil {
		e.logger.Warn("LLM entity extraction failed, using keyword fallback",
			zap.String("title", tab.Title),
			zap.Error(err),
		)
	}
	return e.extractWithKeywords(tab)
}

// ExtractBatch extracts entities for all tabs in one structured LLM call,
// returning lists in input order. A response whose length does not match the
// input is treated as a failure and every tab drops back to the scalar path.
func (e *Extractor) ExtractBatch(ctx context.Context, tabs []TabInput) [][]string {
	if len(tabs) == 0 {
		return nil
	}
	if len(tabs) == 1 {
		return [][]string{e.Extract(ctx, tabs[0])}
	}

	lists, err := e.extractBatchWithLLM(ctx, tabs)
	if err == nil {
		return lists
	}
	e.logger.Warn("batch entity extraction failed, falling back per tab",
		zap.Int("batch_size", len(tabs)),
		zap.Error(err),
	)

	lists = make([][]string, len(tabs))
	for i, tab := range tabs {
		lists[i] = e.Extract(ctx, tab)
	}
	return lists
}

const extractionSystem = "You are an expert at extracting key technical concepts from webpages."

func (e *Extractor) extractWithLLM(ctx context.Context, tab TabInput) ([]string, error) {
	context_ := fmt.Sprintf("Title: %s\nURL: %s", tab.Title, tab.URL)
	if tab.Content != "" {
		snippet := tab.Content
		if len(snippet) > 500 {
			snippet = snippet[:500]
		}
		context_ += "\nContent: " + snippet
	}

	prompt := fmt.Sprintf(`Extract the most important technical concepts, technologies, tools, frameworks, and topics from this webpage.

%s

Return 3-%d key entities as a comma-separated list. Focus on:
- Technologies (e.g., "React", "Python", "Neo4j")
- Frameworks (e.g., "Next.js", "Django")
- Concepts (e.g., "Machine Learning", "Graph Database")
- Tools (e.g., "Docker", "Git")

Return ONLY the entity names, comma-separated, nothing else.`, context_, e.maxEntities)

	response, err := e.client.Complete(ctx, extractionSystem, prompt, llm.CompletionOptions{
		Temperature: 0.3,
		MaxTokens:   100,
	})
	if err != nil {
		return nil, err
	}

	var entities []string
	for _, part := range strings.Split(response, ",") {
		name := strings.TrimSpace(part)
		if len(name) > 1 && len(name) < 50 {
			entities = append(entities, name)
		}
	}
	if len(entities) > e.maxEntities {
		entities = entities[:e.maxEntities]
	}
	return entities, nil
}

func (e *Extractor) extractBatchWithLLM(ctx context.Context, tabs []TabInput) ([][]string, error) {
	var sb strings.Builder
	for i, tab := range tabs {
		fmt.Fprintf(&sb, "%d. Title: %s\n   URL: %s\n", i+1, tab.Title, tab.URL)
	}

	prompt := fmt.Sprintf(`Extract the most important technical concepts, technologies, tools, frameworks, and topics for each of the %d webpages below.

%s
Respond with a JSON object of the form {"results": [{"entities": ["..."]}]} containing exactly %d elements, one per webpage in order. Each "entities" array holds 3-%d short entity names.`,
		len(tabs), sb.String(), len(tabs), e.maxEntities)

	response, err := e.client.Complete(ctx, extractionSystem, prompt, llm.CompletionOptions{
		Temperature: 0.3,
		MaxTokens:   120 * len(tabs),
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Results []struct {
			Entities []string `json:"entities"`
		} `json:"results"`
	}
	if err := json.Unmarshal([]byte(llm.StripFences(response)), &parsed); err != nil {
		return nil, fmt.Errorf("parsing batch extraction response: %w", err)
	}
	if len(parsed.Results) != len(tabs) {
		return nil, fmt.Errorf("batch extraction returned %d results for %d tabs", len(parsed.Results), len(tabs))
	}

	lists := make([][]string, len(tabs))
	for i, result := range parsed.Results {
		var entities []string
		for _, name := range result.Entities {
			name = strings.TrimSpace(name)
			if len(name) > 1 && len(name) < 50 {
				entities = append(entities, name)
			}
		}
		if len(entities) == 0 {
			entities = e.extractWithKeywords(tabs[i])
		}
		if len(entities) > e.maxEntities {
			entities = entities[:e.maxEntities]
		}
		lists[i] = entities
	}
	return lists, nil
}

// techVocabulary is the fixed keyword set the fallback scans titles and URLs
// for. Matches are title-cased into entities.
var techVocabulary = []string{
	"react", "vue", "angular", "python", "javascript", "typescript",
	"node", "django", "flask", "fastapi", "express",
	"docker", "kubernetes", "aws", "azure", "gcp",
	"mongodb", "postgresql", "mysql", "redis", "neo4j",
	"tensorflow", "pytorch", "ml", "ai", "api", "rest", "graphql",
	"git", "github", "gitlab", "nextjs", "next.js",
	"machine learning", "deep learning", "neural network",
	"database", "graph database", "sql", "nosql",
}

var (
	nonWordRe = regexp.MustCompile(`[^\w\s-]`)
	domainRe  = regexp.MustCompile(`https?://(?:www\.)?([^/]+)`)
)

func (e *Extractor) extractWithKeywords(tab TabInput) []string {
	seen := make(map[string]bool)

	// Capitalized words in the title are likely proper nouns.
	for _, word := range strings.Fields(tab.Title) {
		cleaned := nonWordRe.ReplaceAllString(word, "")
		if len(cleaned) <= 2 {
			continue
		}
		first := rune(cleaned[0])
		if (first >= 'A' && first <= 'Z') || vocabularyContains(strings.ToLower(cleaned)) {
			seen[cleaned] = true
		}
	}

	urlLower := strings.ToLower(tab.URL)
	for _, keyword := range techVocabulary {
		if strings.Contains(urlLower, keyword) {
			seen[titleCase(keyword)] = true
		}
	}

	domain := registrableDomain(tab.URL)
	if len(domain) > 2 {
		seen[titleCase(domain)] = true
	}

	entities := make([]string, 0, len(seen))
	for name := range seen {
		entities = append(entities, name)
	}
	sort.Strings(entities)
	if len(entities) > e.maxEntities {
		entities = entities[:e.maxEntities]
	}

	// Last-resort fallback so no tab ever ends up entity-less.
	if len(entities) == 0 {
		switch {
		case domain != "":
			entities = []string{titleCase(domain)}
		case tab.Title != "":
			entities = []string{strings.Fields(tab.Title)[0]}
		default:
			entities = []string{"Unknown"}
		}
	}
	return entities
}

func vocabularyContains(word string) bool {
	for _, keyword := range techVocabulary {
		if keyword == word {
			return true
		}
	}
	return false
}

// registrableDomain extracts the leftmost label of the host, e.g.
// "https://www.github.com/x" → "github".
func registrableDomain(rawURL string) string {
	m := domainRe.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return strings.SplitN(m[1], ".", 2)[0]
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
