package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/choraleia/helpdesk/pkg/orchestrator"
	"github.com/choraleia/helpdesk/pkg/utils"
)

// BuiltinToolInfo represents detailed information about a built-in tool
type BuiltinToolInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Dangerous   bool   `json:"dangerous"`
	Available   bool   `json:"available"`
}

// BuiltinToolsService lists the registered tools and runs them for the
// orchestrator. Only read-only tools are ever offered to the model.
type BuiltinToolsService struct {
	ctx    *ToolContext
	logger *slog.Logger
}

// NewBuiltinToolsService creates a new built-in tools service
func NewBuiltinToolsService(ctx *ToolContext) *BuiltinToolsService {
	return &BuiltinToolsService{ctx: ctx, logger: utils.GetLogger()}
}

var _ orchestrator.ToolInvoker = (*BuiltinToolsService)(nil)

func (s *BuiltinToolsService) available(def ToolDefinition, tc *ToolContext) bool {
	return def.Available == nil || def.Available(tc)
}

func (s *BuiltinToolsService) info(def ToolDefinition) BuiltinToolInfo {
	return BuiltinToolInfo{
		ID:          string(def.ID),
		Name:        def.Name,
		Description: def.Description,
		Category:    string(def.Category),
		Dangerous:   def.Dangerous,
		Available:   s.available(def, s.ctx),
	}
}

// ListAll returns all built-in tools info
func (s *BuiltinToolsService) ListAll() []BuiltinToolInfo {
	defs := ListToolDefinitions()
	result := make([]BuiltinToolInfo, len(defs))
	for i, def := range defs {
		result[i] = s.info(def)
	}
	return result
}

// ListByCategory returns built-in tools filtered by category
func (s *BuiltinToolsService) ListByCategory(category string) []BuiltinToolInfo {
	defs := ListToolsByCategory(ToolCategory(category))
	result := make([]BuiltinToolInfo, len(defs))
	for i, def := range defs {
		result[i] = s.info(def)
	}
	return result
}

// GetToolInfo returns info for a specific tool
func (s *BuiltinToolsService) GetToolInfo(id string) (*BuiltinToolInfo, error) {
	def, ok := GetToolDefinition(ToolID(id))
	if !ok {
		return nil, fmt.Errorf("built-in tool not found: %s", id)
	}
	info := s.info(def)
	return &info, nil
}

// GetCategories returns all available categories
func (s *BuiltinToolsService) GetCategories() []string {
	return []string{
		string(CategoryKnowledge),
		string(CategoryCustomerData),
	}
}

// ValidateToolID checks if a tool ID is valid
func (s *BuiltinToolsService) ValidateToolID(id string) bool {
	return IsRegistered(ToolID(id))
}

// Specs describes the named tools that are registered, read-only and usable
// by the organization. Unknown names are skipped.
func (s *BuiltinToolsService) Specs(orgID string, names []string) []orchestrator.ToolSpec {
	tc := s.ctx.WithConversation(orgID, "")
	var specs []orchestrator.ToolSpec
	seen := make(map[string]bool)
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		def, ok := GetToolDefinition(ToolID(name))
		if !ok {
			s.logger.Debug("Playbook references unknown tool", "tool", name)
			continue
		}
		if def.Dangerous || !s.available(def, tc) {
			continue
		}
		specs = append(specs, toSpec(def, tc))
	}
	return specs
}

func toSpec(def ToolDefinition, tc *ToolContext) orchestrator.ToolSpec {
	desc := def.Description
	if def.Describe != nil {
		if extra := def.Describe(tc); extra != "" {
			desc += " " + extra
		}
	}
	params := make([]orchestrator.ToolParam, 0, len(def.Params))
	for name, p := range def.Params {
		params = append(params, orchestrator.ToolParam{Name: name, Description: p.Desc, Required: p.Required})
	}
	sort.Slice(params, func(i, j int) bool {
		if params[i].Required != params[j].Required {
			return params[i].Required
		}
		return params[i].Name < params[j].Name
	})
	return orchestrator.ToolSpec{Name: string(def.ID), Description: desc, Parameters: params}
}

// Invoke runs one call in the scope of its conversation.
func (s *BuiltinToolsService) Invoke(ctx context.Context, call orchestrator.ToolCall) (string, error) {
	def, ok := GetToolDefinition(ToolID(call.Name))
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", call.Name)
	}
	if def.Dangerous {
		return "", fmt.Errorf("tool %s is not allowed", call.Name)
	}
	tc := s.ctx.WithConversation(call.OrganizationID, call.ConversationID)
	if !s.available(def, tc) {
		return "", fmt.Errorf("tool %s is not configured", call.Name)
	}
	t, err := GetTool(def.ID, tc)
	if err != nil {
		return "", err
	}
	s.logger.Info("Invoking tool", "tool", call.Name, "conversationID", call.ConversationID, "callID", call.ID)
	out, err := t.InvokableRun(ctx, call.Arguments)
	if err != nil {
		return "", fmt.Errorf("%s: %w", call.Name, err)
	}
	return out, nil
}

// Close releases the data source connections.
func (s *BuiltinToolsService) Close() error {
	return s.ctx.Close()
}
