// Package tools provides the lookup tools support playbooks can call.
// Tools register themselves from init; import tools/all to load every one.
package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// ToolID identifies a built-in tool. It is also the name playbooks list.
type ToolID string

// Tool categories
const (
	CategoryKnowledge    ToolCategory = "knowledge"
	CategoryCustomerData ToolCategory = "customer_data"
)

// ToolCategory represents the category of a tool
type ToolCategory string

// ToolDefinition describes a built-in tool
type ToolDefinition struct {
	ID          ToolID       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    ToolCategory `json:"category"`
	Dangerous   bool         `json:"dangerous"` // Whether this tool can modify data

	Params map[string]*schema.ParameterInfo `json:"-"`
	// Available reports whether the tool can run with this context. Nil means always.
	Available func(tc *ToolContext) bool `json:"-"`
	// Describe extends Description with context details such as source names.
	Describe func(tc *ToolContext) string `json:"-"`
}

// Info builds the eino tool info for the definition.
func (d ToolDefinition) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        string(d.ID),
		Desc:        d.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(d.Params),
	}
}

// ToolFactory is a function that creates a tool instance
type ToolFactory func(ctx *ToolContext) tool.InvokableTool

// Registry manages built-in tools
type Registry struct {
	definitions map[ToolID]ToolDefinition
	factories   map[ToolID]ToolFactory
	mu          sync.RWMutex
}

// Global registry instance
var globalRegistry = &Registry{
	definitions: make(map[ToolID]ToolDefinition),
	factories:   make(map[ToolID]ToolFactory),
}

// Register registers a tool with its definition and factory
func Register(def ToolDefinition, factory ToolFactory) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if def.Name == "" {
		def.Name = string(def.ID)
	}
	globalRegistry.definitions[def.ID] = def
	globalRegistry.factories[def.ID] = factory
}

// GetTool returns an invokable tool by ID
func GetTool(id ToolID, ctx *ToolContext) (tool.InvokableTool, error) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	factory, exists := globalRegistry.factories[id]
	if !exists {
		return nil, fmt.Errorf("unknown tool: %s", id)
	}
	return factory(ctx), nil
}

// GetToolDefinition returns a tool definition by ID
func GetToolDefinition(id ToolID) (ToolDefinition, bool) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	def, ok := globalRegistry.definitions[id]
	return def, ok
}

// ListToolDefinitions returns all available tool definitions sorted by category and name
func ListToolDefinitions() []ToolDefinition {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	result := make([]ToolDefinition, 0, len(globalRegistry.definitions))
	for _, def := range globalRegistry.definitions {
		result = append(result, def)
	}
	sortDefinitions(result)
	return result
}

// ListToolsByCategory returns tools filtered by category
func ListToolsByCategory(category ToolCategory) []ToolDefinition {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	var result []ToolDefinition
	for _, def := range globalRegistry.definitions {
		if def.Category == category {
			result = append(result, def)
		}
	}
	sortDefinitions(result)
	return result
}

// ListSafeTools returns only non-dangerous tools (read-only operations)
func ListSafeTools() []ToolDefinition {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	var result []ToolDefinition
	for _, def := range globalRegistry.definitions {
		if !def.Dangerous {
			result = append(result, def)
		}
	}
	sortDefinitions(result)
	return result
}

// IsRegistered checks if a tool ID is registered
func IsRegistered(id ToolID) bool {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	_, exists := globalRegistry.definitions[id]
	return exists
}

func sortDefinitions(defs []ToolDefinition) {
	sort.Slice(defs, func(i, j int) bool {
		if defs[i].Category != defs[j].Category {
			return defs[i].Category < defs[j].Category
		}
		return defs[i].Name < defs[j].Name
	})
}
