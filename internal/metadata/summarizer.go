package metadata

import (
	"context"

	"go.uber.org/zap"

	"tabgraph-backend/internal/domain"
	"tabgraph-backend/internal/llm"
)

// Summarizer produces one-line tab summaries for the visualization surface.
type Summarizer struct {
	completer Completer
	logger    *zap.Logger
}

// NewSummarizer builds a summarizer. A nil completer disables summaries.
func NewSummarizer(completer Completer, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{completer: completer, logger: logger}
}

// Summarize returns a one-sentence summary of the tab, or "" when the model
// is unavailable. It retries once; summaries are cosmetic and not worth more.
func (s *Summarizer) Summarize(ctx context.Context, tab *domain.Tab) string {
	if s.completer == nil {
		return ""
	}

	prompt := "Summarize what this browser tab is about in one short sentence (max 20 words).\n\n" +
		"Title: " + tab.Title + "\nURL: " + tab.URL
	if len(tab.Entities) > 0 {
		prompt += "\nKey topics: "
		for i, e := range tab.Entities {
			if i > 0 {
				prompt += ", "
			}
			prompt += e
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		summary, err := s.completer.Complete(ctx, "", prompt, llm.CompletionOptions{
			Temperature: 0.3,
			MaxTokens:   50,
		})
		if err == nil && summary != "" {
			return summary
		}
		if attempt == 1 {
			s.logger.Debug("tab summary failed", zap.String("url", tab.URL), zap.Error(err))
		}
	}
	return ""
}
