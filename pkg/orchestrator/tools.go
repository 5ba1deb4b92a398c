package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/utils"
	"github.com/google/uuid"
)

// maxToolOutput bounds what a tool result may add to a prompt or message.
const maxToolOutput = 4000

// ToolSpec describes one callable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  []ToolParam
}

type ToolParam struct {
	Name        string
	Description string
	Required    bool
}

// ToolCall is one invocation chosen by the model. Arguments is a JSON object.
type ToolCall struct {
	ID             string
	Name           string
	Arguments      string
	OrganizationID string
	ConversationID string
}

// ToolResult is what a call returned. Failed calls keep the error text in Output.
type ToolResult struct {
	Call   ToolCall
	Output string
	Err    error
}

// ToolSelector asks the model whether a lookup should run before the reply.
type ToolSelector struct {
	completion Completion
	logger     *slog.Logger
}

func NewToolSelector(completion Completion, logger *slog.Logger) *ToolSelector {
	return &ToolSelector{completion: completion, logger: logger}
}

type toolChoice struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// Select returns nil when the model picks no tool, names an unknown one, or
// answers with something unparseable.
func (s *ToolSelector) Select(ctx context.Context, specs []ToolSpec, message, history string) *ToolCall {
	if len(specs) == 0 {
		return nil
	}
	resp, err := s.completion.Invoke(ctx, buildToolPrompt(specs, message, history))
	if err != nil {
		s.logger.Warn("Tool selection call failed", "error", err)
		return nil
	}
	raw := utils.ExtractJSON(resp.Content)
	if raw == "" {
		s.logger.Debug("Tool selection reply had no JSON", "response", truncate(resp.Content, 200))
		return nil
	}
	var choice toolChoice
	if err := json.Unmarshal([]byte(raw), &choice); err != nil {
		s.logger.Warn("Unparseable tool selection reply", "error", err, "response", truncate(raw, 200))
		return nil
	}
	name := strings.TrimSpace(choice.Tool)
	if name == "" || strings.EqualFold(name, "none") {
		return nil
	}
	if !hasTool(specs, name) {
		s.logger.Warn("Model chose an unavailable tool", "tool", name)
		return nil
	}
	args := strings.TrimSpace(string(choice.Arguments))
	if args == "" || args == "null" {
		args = "{}"
	}
	return &ToolCall{ID: uuid.NewString(), Name: name, Arguments: args}
}

func hasTool(specs []ToolSpec, name string) bool {
	for _, s := range specs {
		if s.Name == name {
			return true
		}
	}
	return false
}

func buildToolPrompt(specs []ToolSpec, message, history string) string {
	var sb strings.Builder
	sb.WriteString("Decide whether calling one of these support tools would help answer the customer's latest message.\n\n")
	sb.WriteString("Tools:\n")
	for _, t := range specs {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
		for _, p := range t.Parameters {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(&sb, "    %s (%s): %s\n", p.Name, req, p.Description)
		}
	}
	if history != "" {
		sb.WriteString("\nRecent conversation:\n")
		sb.WriteString(history)
		sb.WriteString("\n")
	}
	sb.WriteString("\nCustomer: ")
	sb.WriteString(message)
	sb.WriteString("\n\nOnly call a tool when the customer has already given the values it needs. ")
	sb.WriteString(`Respond with JSON only: {"tool": "<tool name or none>", "arguments": {<parameter>: <value>}}`)
	return sb.String()
}

// runTools lets the playbook's tools contribute to this cycle's reply. At most
// one call is made; its request and result are stored as tool messages.
func (e *Engine) runTools(ctx context.Context, conv *db.Conversation, plan *Plan, message, history string) error {
	if e.tools == nil || plan.Path != PathPlaybook || plan.Playbook == nil || len(plan.Playbook.Tools) == 0 {
		return nil
	}
	specs := e.tools.Specs(conv.OrganizationID, plan.Playbook.Tools)
	if len(specs) == 0 {
		return nil
	}
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	if _, err := e.dedup.AddToolsContext(ctx, conv, names); err != nil {
		return err
	}

	call := e.selector.Select(ctx, specs, message, history)
	if call == nil {
		return nil
	}
	call.OrganizationID = conv.OrganizationID
	call.ConversationID = conv.ID

	if _, err := e.postMessage(ctx, conv, db.NewMessage{
		Type:     db.MessageTypeToolCall,
		Content:  call.Name + " " + call.Arguments,
		Metadata: &db.ToolCallMetadata{CallID: call.ID, ToolName: call.Name, Arguments: call.Arguments},
	}); err != nil {
		return err
	}

	tctx, cancel := context.WithTimeout(ctx, e.cfg.ToolTimeout)
	out, err := e.tools.Invoke(tctx, *call)
	cancel()
	res := ToolResult{Call: *call, Output: truncate(strings.TrimSpace(out), maxToolOutput)}
	if err != nil {
		e.logger.Warn("Tool call failed", "conversationID", conv.ID, "tool", call.Name, "error", err)
		res.Err = err
		res.Output = "error: " + truncate(err.Error(), maxToolOutput)
	}
	if res.Output == "" {
		res.Output = "(no result)"
	}

	if _, err := e.postMessage(ctx, conv, db.NewMessage{
		Type:     db.MessageTypeToolResponse,
		Content:  res.Output,
		Metadata: &db.ToolResponseMetadata{CallID: call.ID, IsError: res.Err != nil},
	}); err != nil {
		return err
	}
	plan.ToolResults = append(plan.ToolResults, res)
	return nil
}

func toolCallIDs(results []ToolResult) []string {
	if len(results) == 0 {
		return nil
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Call.ID)
	}
	return ids
}
