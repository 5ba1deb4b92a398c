package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/utils"
)

// escalationRuleConfidence is the score given to the escalation playbook when
// the model is unavailable and the rules detect a request for a human.
const escalationRuleConfidence = 0.9

// PlaybookSelection is the matcher's decision for one message.
type PlaybookSelection struct {
	Playbook   *db.Playbook
	Previous   *db.Playbook
	Intent     db.IntentAnalysis
	Switched   bool
	Confidence float64
	Reasoning  string
}

// SelectedID returns the selected playbook ID or "".
func (s *PlaybookSelection) SelectedID() string {
	if s == nil || s.Playbook == nil {
		return ""
	}
	return s.Playbook.ID
}

type playbookScore struct {
	playbook   *db.Playbook
	confidence float64
	reasoning  string
}

// PlaybookMatcher picks the playbook that best fits the latest message.
type PlaybookMatcher struct {
	classifier      *IntentClassifier
	playbooks       PlaybookStore
	completion      Completion
	matchFloor      float64
	switchThreshold float64
	logger          *slog.Logger
}

func NewPlaybookMatcher(classifier *IntentClassifier, playbooks PlaybookStore, completion Completion, cfg Config, logger *slog.Logger) *PlaybookMatcher {
	return &PlaybookMatcher{
		classifier:      classifier,
		playbooks:       playbooks,
		completion:      completion,
		matchFloor:      cfg.MatchFloor,
		switchThreshold: cfg.SwitchThreshold,
		logger:          logger,
	}
}

// SelectPlaybook classifies the message and scores the organization's active
// playbooks against it. A conversation already running a playbook stays on
// it unless a different playbook scores at least the switch threshold or is
// the human escalation playbook.
func (m *PlaybookMatcher) SelectPlaybook(ctx context.Context, message, orgID, history, currentID string) (*PlaybookSelection, error) {
	sel := &PlaybookSelection{
		Intent: m.classifier.Classify(ctx, message, history),
	}

	all, err := m.playbooks.GetPlaybooks(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list playbooks: %w", err)
	}
	var active []*db.Playbook
	for i := range all {
		if all[i].IsActive() {
			active = append(active, &all[i])
		}
	}

	current := m.resolveCurrent(ctx, orgID, currentID, active)
	sel.Previous = current
	if len(active) == 0 {
		return sel, nil
	}

	scores := m.score(ctx, message, history, active, sel.Intent)
	if len(scores) == 0 {
		if current != nil {
			sel.Playbook = current
			sel.Reasoning = fmt.Sprintf("No playbook scored above %.2f; staying on %q", m.matchFloor, current.Title)
		}
		return sel, nil
	}

	best := scores[0]
	if current != nil && best.playbook.ID != current.ID &&
		best.confidence < m.switchThreshold && best.playbook.Trigger != db.TriggerHumanEscalation {
		sel.Playbook = current
		sel.Confidence = best.confidence
		sel.Reasoning = fmt.Sprintf("Best match %q scored %.2f, below switch threshold %.2f; staying on %q",
			best.playbook.Title, best.confidence, m.switchThreshold, current.Title)
		return sel, nil
	}

	sel.Playbook = best.playbook
	sel.Confidence = best.confidence
	sel.Reasoning = best.reasoning
	sel.Switched = currentIDOf(current) != best.playbook.ID
	return sel, nil
}

// resolveCurrent returns the active playbook the conversation is running, or
// nil when there is none or it is gone.
func (m *PlaybookMatcher) resolveCurrent(ctx context.Context, orgID, currentID string, active []*db.Playbook) *db.Playbook {
	if currentID == "" {
		return nil
	}
	for _, p := range active {
		if p.ID == currentID {
			return p
		}
	}
	p, err := m.playbooks.GetPlaybook(ctx, currentID, orgID)
	if err != nil {
		m.logger.Warn("Failed to load current playbook", "playbookID", currentID, "error", err)
		return nil
	}
	if p == nil {
		m.logger.Info("Current playbook not found, ignoring", "playbookID", currentID)
		return nil
	}
	if !p.IsActive() {
		m.logger.Info("Current playbook is no longer active, ignoring", "playbookID", currentID, "status", p.Status)
		return nil
	}
	return p
}

type matchReply struct {
	Matches []struct {
		ID         string  `json:"id"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	} `json:"matches"`
}

// score returns playbooks above the match floor, best first.
func (m *PlaybookMatcher) score(ctx context.Context, message, history string, active []*db.Playbook, intent db.IntentAnalysis) []playbookScore {
	resp, err := m.completion.Invoke(ctx, buildMatchPrompt(message, history, active))
	if err != nil {
		m.logger.Warn("Playbook scoring call failed, using rules", "error", err)
		return m.filter(matchByRules(active, intent))
	}

	raw := utils.ExtractJSON(resp.Content)
	var reply matchReply
	if raw == "" || json.Unmarshal([]byte(raw), &reply) != nil {
		m.logger.Warn("Failed to parse playbook scores, using rules", "response", truncate(resp.Content, 200))
		return m.filter(matchByRules(active, intent))
	}

	byID := make(map[string]*db.Playbook, len(active))
	for _, p := range active {
		byID[p.ID] = p
	}
	var scores []playbookScore
	for _, mt := range reply.Matches {
		p, ok := byID[strings.TrimSpace(mt.ID)]
		if !ok {
			continue
		}
		scores = append(scores, playbookScore{playbook: p, confidence: clamp01(mt.Confidence), reasoning: mt.Reasoning})
	}
	return m.filter(scores)
}

func (m *PlaybookMatcher) filter(scores []playbookScore) []playbookScore {
	var out []playbookScore
	for _, s := range scores {
		if s.confidence > m.matchFloor {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].confidence > out[j].confidence })
	return out
}

// matchByRules only ever proposes the escalation playbook.
func matchByRules(active []*db.Playbook, intent db.IntentAnalysis) []playbookScore {
	if !hasIntent(intent, IntentRequestHuman) {
		return nil
	}
	for _, p := range active {
		if p.Trigger == db.TriggerHumanEscalation {
			return []playbookScore{{
				playbook:   p,
				confidence: escalationRuleConfidence,
				reasoning:  "Customer asked for a human",
			}}
		}
	}
	return nil
}

func buildMatchPrompt(message, history string, active []*db.Playbook) string {
	var sb strings.Builder
	sb.WriteString("Score how relevant each support playbook is to the customer's latest message.\n")
	sb.WriteString("Use 0.0 for unrelated and 1.0 for a certain match. Generic chit-chat should score low.\n\n")
	sb.WriteString("Playbooks:\n")
	for _, p := range active {
		fmt.Fprintf(&sb, "- id: %s\n  title: %s\n  trigger: %s\n", p.ID, p.Title, p.Trigger)
		if p.Description != "" {
			fmt.Fprintf(&sb, "  description: %s\n", p.Description)
		}
	}
	if history != "" {
		sb.WriteString("\nRecent conversation:\n")
		sb.WriteString(history)
		sb.WriteString("\n")
	}
	sb.WriteString("\nCustomer message:\n")
	sb.WriteString(message)
	sb.WriteString("\n\nRespond with JSON only: {\"matches\": [{\"id\": \"...\", \"confidence\": 0.0, \"reasoning\": \"...\"}]}")
	return sb.String()
}

func currentIDOf(p *db.Playbook) string {
	if p == nil {
		return ""
	}
	return p.ID
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
