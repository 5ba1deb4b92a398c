package orchestrator

import (
	"context"
	"log/slog"
	"strings"

	"github.com/choraleia/helpdesk/pkg/db"
)

const (
	defaultTitle   = "Support conversation"
	maxTitleLength = 80
)

// TitleGenerator summarizes a conversation into a short title.
type TitleGenerator struct {
	completion Completion
	logger     *slog.Logger
}

func NewTitleGenerator(completion Completion, logger *slog.Logger) *TitleGenerator {
	return &TitleGenerator{completion: completion, logger: logger}
}

// Generate falls back to the first customer message when the model fails.
func (g *TitleGenerator) Generate(ctx context.Context, messages []db.Message) string {
	transcript := formatHistory(messages)
	if transcript == "" {
		return defaultTitle
	}
	resp, err := g.completion.Invoke(ctx, "Write a short title (at most 6 words) for this customer support conversation. "+
		"Reply with the title only, no quotes.\n\n"+transcript)
	if err != nil {
		g.logger.Warn("Title generation failed", "error", err)
		return fallbackTitle(messages)
	}
	title := cleanTitle(resp.Content)
	if title == "" {
		return fallbackTitle(messages)
	}
	return title
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(strings.SplitN(strings.TrimSpace(s), "\n", 2)[0])
	s = strings.Trim(s, "\"'`*# ")
	s = strings.TrimPrefix(s, "Title:")
	s = strings.TrimSpace(s)
	return truncateRunes(s, maxTitleLength)
}

func fallbackTitle(messages []db.Message) string {
	for _, m := range messages {
		if m.Type == db.MessageTypeCustomer && strings.TrimSpace(m.Content) != "" {
			return truncateRunes(strings.TrimSpace(m.Content), 60)
		}
	}
	return defaultTitle
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}

// formatHistory renders customer and agent messages as a transcript.
func formatHistory(messages []db.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		var who string
		switch m.Type {
		case db.MessageTypeCustomer:
			who = "Customer"
		case db.MessageTypeBotAgent, db.MessageTypeHumanAgent:
			who = "Agent"
		default:
			continue
		}
		sb.WriteString(who)
		sb.WriteString(": ")
		sb.WriteString(strings.TrimSpace(m.Content))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
