package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/models"
)

const (
	// FallbackReply is sent when the model cannot be reached.
	FallbackReply = "I'm sorry, I'm having trouble responding right now. Please bear with me and I'll get back to you shortly."
	// DontKnowReply is sent when the knowledge base has nothing usable.
	DontKnowReply = "I'm sorry, I don't have information about that in our knowledge base. Could you share a bit more detail, or would you like me to connect you with a member of our team?"
)

// System prompt section headers, in the order they are assembled.
const (
	sectionPlaybook   = "## Playbook"
	sectionPersona    = "## Persona"
	sectionFlow       = "## Conversation flow"
	sectionDocuments  = "## Reference documents"
	sectionTools      = "## Tool results"
	sectionGuardrails = "## Accuracy rules"
)

const antiHallucinationRules = sectionGuardrails + `
- Never invent phone numbers, email addresses, URLs, prices, policies or deadlines.
- Only state facts that appear in this prompt or in the conversation.
- If you do not know something, say "I don't have that information" and offer to connect the customer with the team.
- Do not promise actions you cannot take.`

var placeholderPattern = regexp.MustCompile(`(?i)(\bexample\.(com|org|net)\b|\btest\.com\b|lorem ipsum|\bplaceholder\b|\bsample (document|content|text)\b|\bdummy (data|content|text)\b|\bfoo@bar\b|\btest document\b)`)

// ExecutionInput is the customer turn being answered.
type ExecutionInput struct {
	OrganizationID string
	Message        string
	History        string
}

// ExecutionResult is the reply produced for one cycle. Degraded results carry
// the model error in Err and a fixed fallback in Content.
type ExecutionResult struct {
	Path      Path
	Content   string
	Documents []models.DocumentMatch
	Degraded  bool
	Err       error
	Usage     *models.TokenUsage
}

// Executor produces the reply for a plan.
type Executor struct {
	completion Completion
	search     VectorSearch
	topK       int
	logger     *slog.Logger
}

func NewExecutor(completion Completion, search VectorSearch, cfg Config, logger *slog.Logger) *Executor {
	return &Executor{completion: completion, search: search, topK: cfg.DocumentTopK, logger: logger}
}

// Execute never returns an error; failures come back as degraded results.
func (e *Executor) Execute(ctx context.Context, plan *Plan, in ExecutionInput) *ExecutionResult {
	if plan.Path == PathDocumentQA {
		return e.executeDocumentQA(ctx, in)
	}
	return e.executePlaybook(ctx, plan, in)
}

func (e *Executor) executeDocumentQA(ctx context.Context, in ExecutionInput) *ExecutionResult {
	res := &ExecutionResult{Path: PathDocumentQA}
	if e.search == nil {
		res.Content = DontKnowReply
		return res
	}
	hits, err := e.search.Search(ctx, in.OrganizationID, in.Message, e.topK)
	if err != nil {
		e.logger.Warn("Document search failed", "organizationID", in.OrganizationID, "error", err)
		return degraded(res, Transient("document search", err))
	}

	docs := FilterPlaceholderDocuments(hits)
	if len(docs) == 0 {
		res.Content = DontKnowReply
		return res
	}

	system := "You are a customer support assistant. Answer the customer's question using ONLY the numbered " +
		"context below and cite the sources you used by number, like [1]. If the context does not contain " +
		"the answer, say you don't have that information.\n\n" + antiHallucinationRules +
		"\n\nContext:\n" + formatCitations(docs)
	resp, err := e.completion.InvokeWithSystemPrompt(ctx, system, formatUserTurn(in.History, in.Message))
	if err != nil {
		e.logger.Warn("Document answer call failed", "error", err)
		return degraded(res, Transient("document answer", err))
	}
	res.Content = strings.TrimSpace(resp.Content)
	res.Documents = docs
	res.Usage = resp.Usage
	if res.Content == "" {
		res.Content = DontKnowReply
	}
	return res
}

func (e *Executor) executePlaybook(ctx context.Context, plan *Plan, in ExecutionInput) *ExecutionResult {
	res := &ExecutionResult{Path: PathPlaybook}
	system := BuildSystemPrompt(plan, in.Message)
	resp, err := e.completion.InvokeWithSystemPrompt(ctx, system, formatUserTurn(in.History, in.Message))
	if err != nil {
		e.logger.Warn("Playbook reply call failed", "playbookID", plan.PlaybookID(), "error", err)
		return degraded(res, Transient("playbook reply", err))
	}
	res.Content = strings.TrimSpace(resp.Content)
	res.Documents = plan.SupportingDocs
	res.Usage = resp.Usage
	if res.Content == "" {
		return degraded(res, Transient("playbook reply", fmt.Errorf("empty completion")))
	}
	return res
}

func degraded(res *ExecutionResult, err error) *ExecutionResult {
	res.Content = FallbackReply
	res.Degraded = true
	res.Err = err
	res.Documents = nil
	return res
}

// BuildSystemPrompt assembles the playbook-path system prompt: playbook
// instructions, agent persona, conversation-flow guidance, reference
// documents, tool results, then the accuracy rules. Missing layers are skipped.
func BuildSystemPrompt(plan *Plan, message string) string {
	var sections []string
	sections = append(sections, "You are a customer support assistant. Reply to the customer's latest message.")

	if pb := plan.Playbook; pb != nil {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s: %s\n", sectionPlaybook, pb.Title)
		if pb.Instructions != "" {
			sb.WriteString(pb.Instructions)
			sb.WriteString("\n")
		}
		if len(pb.RequiredFields) > 0 {
			fmt.Fprintf(&sb, "Information to collect before finishing: %s\n", strings.Join(pb.RequiredFields, ", "))
		}
		sections = append(sections, strings.TrimRight(sb.String(), "\n"))
	}

	if a := plan.Agent; a != nil {
		var sb strings.Builder
		sb.WriteString(sectionPersona + "\n")
		fmt.Fprintf(&sb, "Your name is %s.\n", a.Name)
		if a.Tone != "" {
			fmt.Fprintf(&sb, "Tone: %s\n", a.Tone)
		}
		if a.Avoid != "" {
			fmt.Fprintf(&sb, "Avoid: %s\n", a.Avoid)
		}
		if a.Trigger != "" {
			fmt.Fprintf(&sb, "You handle: %s\n", a.Trigger)
		}
		if a.Instructions != "" {
			sb.WriteString(a.Instructions + "\n")
		}
		sections = append(sections, strings.TrimRight(sb.String(), "\n"))
	}

	sections = append(sections, sectionFlow+"\n"+flowGuidance(message, plan.Playbook))

	if len(plan.SupportingDocs) > 0 {
		sections = append(sections, sectionDocuments+"\nUse these only if they are relevant:\n"+formatCitations(plan.SupportingDocs))
	}

	if len(plan.ToolResults) > 0 {
		var sb strings.Builder
		sb.WriteString(sectionTools + "\nLookups made for this reply. Treat them as current facts about the customer:\n")
		for _, r := range plan.ToolResults {
			fmt.Fprintf(&sb, "- %s %s\n%s\n", r.Call.Name, r.Call.Arguments, r.Output)
		}
		sections = append(sections, strings.TrimRight(sb.String(), "\n"))
	}

	sections = append(sections, antiHallucinationRules)
	return strings.Join(sections, "\n\n")
}

func flowGuidance(message string, pb *db.Playbook) string {
	switch {
	case frustrationSignal(message):
		return "The customer sounds frustrated. Acknowledge it briefly, stay calm and offer to involve a human agent."
	case closingSignal(message):
		return "The customer appears satisfied or is wrapping up. Confirm briefly and ask whether there is anything else you can help with."
	case pb != nil && len(pb.RequiredFields) > 0:
		return "Keep collecting the listed information, one item at a time. Do not change topic until it is complete."
	default:
		return "Keep the reply short. Ask one clarifying question if the request is ambiguous."
	}
}

// FilterPlaceholderDocuments drops hits that look like test or placeholder data.
func FilterPlaceholderDocuments(docs []models.DocumentMatch) []models.DocumentMatch {
	out := make([]models.DocumentMatch, 0, len(docs))
	for _, d := range docs {
		if placeholderPattern.MatchString(d.Content) ||
			placeholderPattern.MatchString(d.Source()) ||
			placeholderPattern.MatchString(d.Title()) {
			continue
		}
		if strings.TrimSpace(d.Content) == "" {
			continue
		}
		out = append(out, d)
	}
	return out
}

func formatCitations(docs []models.DocumentMatch) string {
	var sb strings.Builder
	for i, d := range docs {
		title := d.Title()
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&sb, "[%d] %s\n%s\n\n", i+1, title, strings.TrimSpace(d.Content))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatUserTurn(history, message string) string {
	if history == "" {
		return message
	}
	return "Conversation so far:\n" + history + "\n\nCustomer: " + message
}

func citationIDs(docs []models.DocumentMatch) []string {
	if len(docs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, DocumentKey(d))
	}
	return ids
}
