package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/models"
)

// Path is the execution route chosen for one cycle.
type Path string

const (
	PathDocumentQA Path = "document-qa"
	PathPlaybook   Path = "playbook"
)

// Plan is the output of the plan builder.
type Plan struct {
	Path           Path
	Playbook       *db.Playbook
	Agent          *db.Agent
	Selection      *PlaybookSelection
	ProbeHit       *models.DocumentMatch
	SupportingDocs []models.DocumentMatch
	ToolResults    []ToolResult
}

func (p *Plan) PlaybookID() string {
	if p == nil || p.Playbook == nil {
		return ""
	}
	return p.Playbook.ID
}

func (p *Plan) AgentID() string {
	if p == nil || p.Agent == nil {
		return ""
	}
	return p.Agent.ID
}

// PlanInput is what the plan builder needs about the current turn.
type PlanInput struct {
	Conversation *db.Conversation
	Message      string
	History      string
}

// PlanBuilder combines intent, playbook selection, context injection and the
// document probe into a Plan.
type PlanBuilder struct {
	matcher    *PlaybookMatcher
	dedup      *ContextDeduplicator
	agents     AgentStore
	completion Completion
	search     VectorSearch
	cfg        Config
	logger     *slog.Logger
}

func NewPlanBuilder(matcher *PlaybookMatcher, dedup *ContextDeduplicator, agents AgentStore, completion Completion, search VectorSearch, cfg Config, logger *slog.Logger) *PlanBuilder {
	return &PlanBuilder{
		matcher:    matcher,
		dedup:      dedup,
		agents:     agents,
		completion: completion,
		search:     search,
		cfg:        cfg,
		logger:     logger,
	}
}

// Build decides the path for this turn. Document-qa is chosen only when the
// probe says yes and the top hit scores above the document relevance bar.
func (b *PlanBuilder) Build(ctx context.Context, in PlanInput) (*Plan, error) {
	conv := in.Conversation
	sel, err := b.matcher.SelectPlaybook(ctx, in.Message, conv.OrganizationID, in.History, conv.PlaybookID)
	if err != nil {
		return nil, err
	}
	if sel.Switched && sel.Previous != nil && !ShouldAllowSwitch(sel.Previous, sel.Playbook) {
		b.logger.Info("Playbook switch blocked",
			"conversationID", conv.ID, "current", sel.Previous.ID, "proposed", sel.SelectedID())
		sel.Reasoning = fmt.Sprintf("Switch to %q blocked; %q must finish first", sel.Playbook.Title, sel.Previous.Title)
		sel.Playbook = sel.Previous
		sel.Switched = false
	}

	plan := &Plan{
		Path:      PathPlaybook,
		Playbook:  sel.Playbook,
		Agent:     b.resolveAgent(ctx, conv),
		Selection: sel,
	}

	if hit := b.probe(ctx, conv.OrganizationID, in.Message); hit != nil {
		plan.ProbeHit = hit
		switch {
		case hit.Similarity > float32(b.cfg.DocumentRelevance):
			plan.Path = PathDocumentQA
		case hit.Similarity >= float32(b.cfg.SupportingRelevance):
			plan.SupportingDocs = []models.DocumentMatch{*hit}
		}
	}

	if _, err := b.dedup.AddAgentContext(ctx, conv, plan.Agent); err != nil {
		return nil, err
	}
	if plan.Path == PathPlaybook {
		if _, err := b.dedup.AddPlaybookContext(ctx, conv, plan.Playbook); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

func (b *PlanBuilder) resolveAgent(ctx context.Context, conv *db.Conversation) *db.Agent {
	if b.agents == nil {
		return nil
	}
	if conv.AgentID != "" {
		a, err := b.agents.GetAgent(ctx, conv.AgentID, conv.OrganizationID)
		if err != nil {
			b.logger.Warn("Failed to load agent", "agentID", conv.AgentID, "error", err)
		} else if a != nil {
			return a
		} else {
			b.logger.Info("Agent not found, using default", "agentID", conv.AgentID)
		}
	}
	a, err := b.agents.GetDefaultAgent(ctx, conv.OrganizationID)
	if err != nil {
		b.logger.Warn("Failed to load default agent", "organizationID", conv.OrganizationID, "error", err)
		return nil
	}
	return a
}

// probe asks whether the message needs the knowledge base and, if so, returns
// the single best hit. Any failure counts as "no".
func (b *PlanBuilder) probe(ctx context.Context, orgID, message string) *models.DocumentMatch {
	if b.search == nil {
		return nil
	}
	resp, err := b.completion.Invoke(ctx, buildProbePrompt(message))
	if err != nil {
		b.logger.Warn("Document probe call failed", "error", err)
		return nil
	}
	if !isAffirmative(resp.Content) {
		return nil
	}

	hits, err := b.search.Search(ctx, orgID, message, 1)
	if err != nil {
		b.logger.Warn("Document probe search failed", "organizationID", orgID, "error", err)
		return nil
	}
	if len(hits) == 0 {
		return nil
	}
	return &hits[0]
}

func buildProbePrompt(message string) string {
	return "Decide whether answering this customer message would benefit from searching the company's " +
		"knowledge base documents (policies, product facts, how-to guides). Greetings, small talk and " +
		"requests about the customer's own account do not.\n\nCustomer message:\n" + message +
		"\n\nAnswer with YES or NO only."
}

func isAffirmative(s string) bool {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimLeft(s, "\"'*` ")
	return strings.HasPrefix(s, "YES")
}
