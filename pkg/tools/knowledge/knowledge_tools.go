// Package knowledge exposes the organization's document knowledge base as a tool.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/choraleia/helpdesk/pkg/orchestrator"
	"github.com/choraleia/helpdesk/pkg/tools"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

// Tool IDs
const (
	ToolIDSearchKnowledge tools.ToolID = "search_knowledge_base"
)

const (
	defaultLimit = 3
	maxLimit     = 10
	maxSnippet   = 800
)

var searchDef = tools.ToolDefinition{
	ID:          ToolIDSearchKnowledge,
	Name:        "Search knowledge base",
	Description: "Search the company's knowledge base documents for policies, product facts and how-to guides.",
	Category:    tools.CategoryKnowledge,
	Params: map[string]*schema.ParameterInfo{
		"query": {Type: schema.String, Required: true, Desc: "What to search for, in the customer's words"},
		"limit": {Type: schema.Integer, Desc: "Maximum documents to return (default: 3)"},
	},
	Available: func(tc *tools.ToolContext) bool { return tc.Knowledge != nil },
}

func init() {
	tools.Register(searchDef, newSearchTool)
}

type SearchInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type SearchOutput struct {
	Count     int          `json:"count"`
	Documents []FoundEntry `json:"documents"`
}

type FoundEntry struct {
	Title      string  `json:"title,omitempty"`
	Source     string  `json:"source,omitempty"`
	Content    string  `json:"content"`
	Similarity float32 `json:"similarity"`
}

func newSearchTool(tc *tools.ToolContext) tool.InvokableTool {
	search := tc.Knowledge
	orgID := tc.OrganizationID

	return utils.NewTool(searchDef.Info(), func(ctx context.Context, input *SearchInput) (string, error) {
		if search == nil {
			return "", fmt.Errorf("knowledge base is not configured")
		}
		query := strings.TrimSpace(input.Query)
		if query == "" {
			return "", fmt.Errorf("query is required")
		}
		limit := input.Limit
		if limit <= 0 {
			limit = defaultLimit
		}
		if limit > maxLimit {
			limit = maxLimit
		}

		hits, err := search.Search(ctx, orgID, query, limit)
		if err != nil {
			return "", fmt.Errorf("search failed: %w", err)
		}
		hits = orchestrator.FilterPlaceholderDocuments(hits)

		out := SearchOutput{Count: len(hits), Documents: make([]FoundEntry, 0, len(hits))}
		for _, h := range hits {
			content := strings.TrimSpace(h.Content)
			if r := []rune(content); len(r) > maxSnippet {
				content = string(r[:maxSnippet]) + "..."
			}
			out.Documents = append(out.Documents, FoundEntry{
				Title:      h.Title(),
				Source:     h.Source(),
				Content:    content,
				Similarity: h.Similarity,
			})
		}
		data, err := json.Marshal(out)
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
}
