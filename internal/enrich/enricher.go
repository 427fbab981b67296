// Package enrich looks up web knowledge about extracted entities and writes
// it back into the graph store from a background worker.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tabgraph-backend/internal/domain"
)

// TabRef identifies the tab whose page provides the context an entity is
// being enriched in.
type TabRef struct {
	TabID int
	Title string
	URL   string
}

// Answerer is the retrieval-augmented query capability the enricher needs
// from the search client.
type Answerer interface {
	Answer(ctx context.Context, query string) (string, error)
}

// Enricher produces contextual descriptions for entities via the search
// agent. It retries transient failures and degrades to an empty enrichment
// rather than erroring: a missing description only means the entity stays
// un-enriched until the next pass.
type Enricher struct {
	agent       Answerer
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	logger      *zap.Logger
}

// NewEnricher builds an enricher with the given retry policy.
func NewEnricher(agent Answerer, maxAttempts int, backoffBase, backoffCap time.Duration, logger *zap.Logger) *Enricher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	if backoffCap <= 0 {
		backoffCap = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		agent:       agent,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
		logger:      logger,
	}
}

// Enrich looks up name, anchored to the given tab when one is provided so
// that ambiguous names ("tools", "agents") resolve to the page's meaning.
// The returned enrichment is empty when every attempt failed.
func (e *Enricher) Enrich(ctx context.Context, name string, tab *TabRef) domain.Enrichment {
	query := e.buildQuery(name, tab)

	var answer string
	var err error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		answer, err = e.agent.Answer(ctx, query)
		if err == nil && strings.TrimSpace(answer) != "" {
			break
		}
		if attempt == e.maxAttempts {
			e.logger.Warn("entity enrichment failed after retries",
				zap.String("entity", name),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return domain.Enrichment{Name: name}
		}
		if !e.sleep(ctx, attempt) {
			return domain.Enrichment{Name: name}
		}
	}

	enrichment := e.parseAnswer(name, answer)
	if tab != nil {
		enrichment.SourceURL = tab.URL
	}
	return enrichment
}

func (e *Enricher) buildQuery(name string, tab *TabRef) string {
	var context_ string
	if tab != nil {
		context_ = fmt.Sprintf(" as it appears on the webpage %q (%s)", tab.Title, tab.URL)
	}
	return fmt.Sprintf(`Provide concise factual information about %q%s.

Respond in exactly this format:
Type: one of concept, tool, person, organization, method, resource, topic, standard, event, location, other
Description: one or two sentences describing what it is in this context
Related: comma-separated list of up to 5 closely related concepts`, name, context_)
}

// parseAnswer reads the Type/Description/Related lines leniently: the agent
// sometimes bolds the labels or prefixes them with list markers. When no
// Description line is found, the whole answer stands in for it.
func (e *Enricher) parseAnswer(name, answer string) domain.Enrichment {
	enrichment := domain.Enrichment{Name: name, Type: domain.EntityTypeOther}

	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*# ")
		line = strings.ReplaceAll(line, "**", "")

		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "type:"):
			enrichment.Type = domain.ParseEntityType(line[len("type:"):])
		case strings.HasPrefix(lower, "description:"):
			enrichment.Description = strings.TrimSpace(line[len("description:"):])
		case strings.HasPrefix(lower, "related:"):
			enrichment.Related = splitRelated(line[len("related:"):])
		}
	}

	if enrichment.Description == "" {
		text := strings.TrimSpace(answer)
		if len(text) > 300 {
			text = text[:300]
		}
		enrichment.Description = text
	}
	return enrichment
}

func splitRelated(s string) []string {
	var related []string
	for _, part := range strings.Split(s, ",") {
		name := strings.TrimSpace(part)
		if name != "" && !strings.EqualFold(name, "none") {
			related = append(related, name)
		}
		if len(related) == 5 {
			break
		}
	}
	return related
}

// sleep waits out the exponential backoff for the given attempt, returning
// false if the context was cancelled first.
func (e *Enricher) sleep(ctx context.Context, attempt int) bool {
	delay := e.backoffBase << (attempt - 1)
	if delay > e.backoffCap {
		delay = e.backoffCap
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
