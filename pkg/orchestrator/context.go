package orchestrator

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"time"

	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/models"
)

// ContextDeduplicator injects agent, playbook, document and tool briefings
// into a conversation at most once per context epoch.
type ContextDeduplicator struct {
	store  ConversationStore
	now    func() time.Time
	logger *slog.Logger
}

func NewContextDeduplicator(store ConversationStore, now func() time.Time, logger *slog.Logger) *ContextDeduplicator {
	return &ContextDeduplicator{store: store, now: now, logger: logger}
}

func (d *ContextDeduplicator) AddAgentContext(ctx context.Context, conv *db.Conversation, agent *db.Agent) (bool, error) {
	if agent == nil {
		return false, nil
	}
	return d.add(ctx, conv, db.ContextAgents, []string{agent.ID}, func([]string) string {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Agent persona: %s.", agent.Name)
		if agent.Tone != "" {
			fmt.Fprintf(&sb, " Tone: %s.", agent.Tone)
		}
		if agent.Avoid != "" {
			fmt.Fprintf(&sb, " Avoid: %s.", agent.Avoid)
		}
		return sb.String()
	})
}

func (d *ContextDeduplicator) AddPlaybookContext(ctx context.Context, conv *db.Conversation, pb *db.Playbook) (bool, error) {
	if pb == nil {
		return false, nil
	}
	return d.add(ctx, conv, db.ContextPlaybooks, []string{pb.ID}, func([]string) string {
		s := fmt.Sprintf("Playbook in use: %s.", pb.Title)
		if len(pb.RequiredFields) > 0 {
			s += " Collecting: " + strings.Join(pb.RequiredFields, ", ") + "."
		}
		return s
	})
}

func (d *ContextDeduplicator) AddDocumentsContext(ctx context.Context, conv *db.Conversation, docs []models.DocumentMatch) (bool, error) {
	if len(docs) == 0 {
		return false, nil
	}
	keys := make([]string, 0, len(docs))
	titles := make(map[string]string, len(docs))
	for _, doc := range docs {
		k := DocumentKey(doc)
		keys = append(keys, k)
		titles[k] = doc.Title()
	}
	return d.add(ctx, conv, db.ContextDocuments, keys, func(added []string) string {
		parts := make([]string, 0, len(added))
		for _, k := range added {
			if t := titles[k]; t != "" {
				parts = append(parts, t)
			} else {
				parts = append(parts, k)
			}
		}
		return "Knowledge base documents referenced: " + strings.Join(parts, "; ")
	})
}

func (d *ContextDeduplicator) AddToolsContext(ctx context.Context, conv *db.Conversation, tools []string) (bool, error) {
	return d.add(ctx, conv, db.ContextTools, tools, func(added []string) string {
		return "Tools available: " + strings.Join(added, ", ")
	})
}

// ResetContext starts a new context epoch: every tracking set is emptied so
// the next cycle re-injects its briefings.
func (d *ContextDeduplicator) ResetContext(ctx context.Context, conv *db.Conversation) error {
	next := conv.OrchestrationStatus.Clone()
	next.ContextTracking = db.ContextTracking{}
	next.LastUpdated = d.now()
	return writeConversation(ctx, d.store, conv, &db.ConversationPatch{OrchestrationStatus: &next})
}

func (d *ContextDeduplicator) add(ctx context.Context, conv *db.Conversation, kind db.ContextKind, ids []string, summary func(added []string) string) (bool, error) {
	next := conv.OrchestrationStatus.Clone()
	added := next.ContextTracking.Add(kind, ids...)
	if len(added) == 0 {
		return false, nil
	}

	_, err := d.store.AddMessage(ctx, conv.ID, conv.OrganizationID, db.NewMessage{
		Type:     db.MessageTypeSystem,
		Content:  summary(added),
		Metadata: &db.ContextAddedMetadata{Context: kind, IDs: added},
	})
	if err != nil {
		return false, fmt.Errorf("add %s context message: %w", kind, err)
	}

	next.LastUpdated = d.now()
	if err := writeConversation(ctx, d.store, conv, &db.ConversationPatch{OrchestrationStatus: &next}); err != nil {
		return false, fmt.Errorf("track %s context: %w", kind, err)
	}
	d.logger.Debug("Context added", "conversationID", conv.ID, "kind", kind, "ids", added)
	return true, nil
}

// DocumentKey is the dedup key of a search hit: its ID, or a content hash
// when the hit has no stable ID.
func DocumentKey(doc models.DocumentMatch) string {
	if doc.ID != "" {
		return doc.ID
	}
	return ContentKey(doc.Content)
}

// ContentKey hashes content with 32-bit FNV-1a.
func ContentKey(content string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(content))
	return fmt.Sprintf("doc:%08x", h.Sum32())
}

// writeConversation persists patch and mirrors it onto conv. When conv was
// read under a processing lock the write is fenced by that lock's token.
func writeConversation(ctx context.Context, store ConversationStore, conv *db.Conversation, patch *db.ConversationPatch) error {
	if patch.LockToken == "" {
		patch.LockToken = conv.ProcessingLockedBy
	}
	if _, err := store.UpdateConversation(ctx, conv.ID, conv.OrganizationID, patch); err != nil {
		return err
	}
	patch.Apply(conv)
	return nil
}
