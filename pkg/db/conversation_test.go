package db

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ConversationStatus
		want     bool
	}{
		{ConversationStatusOpen, ConversationStatusProcessing, true},
		{ConversationStatusProcessing, ConversationStatusOpen, true},
		{ConversationStatusProcessing, ConversationStatusPendingHuman, true},
		{ConversationStatusPendingHuman, ConversationStatusHumanTookOver, true},
		{ConversationStatusResolved, ConversationStatusOpen, true},
		{ConversationStatusResolved, ConversationStatusProcessing, false},
		{ConversationStatusClosed, ConversationStatusPendingHuman, false},
		{ConversationStatusHumanTookOver, ConversationStatusProcessing, false},
		{ConversationStatusClosed, ConversationStatusClosed, true},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestContextTrackingAddSkipsDuplicates(t *testing.T) {
	var ct ContextTracking
	added := ct.Add(ContextPlaybooks, "pb-1", "pb-2", "pb-1", "")
	if len(added) != 2 {
		t.Fatalf("expected 2 added ids, got %v", added)
	}
	if again := ct.Add(ContextPlaybooks, "pb-2"); len(again) != 0 {
		t.Fatalf("expected no ids on re-add, got %v", again)
	}
	if !ct.Has(ContextPlaybooks, "pb-1") || ct.Has(ContextAgents, "pb-1") {
		t.Fatalf("unexpected membership: %+v", ct)
	}
}

func TestOrchestrationStatusCloneDoesNotAlias(t *testing.T) {
	orig := OrchestrationStatus{
		State:           StateExecutingPlaybook,
		CurrentPlaybook: &PlaybookRef{ID: "pb-1"},
		IntentAnalysis:  &IntentAnalysis{Intents: []string{"billing"}},
	}
	orig.ContextTracking.Add(ContextDocuments, "doc-1")

	cp := orig.Clone()
	cp.CurrentPlaybook.ID = "pb-2"
	cp.IntentAnalysis.Intents[0] = "complaint"
	cp.ContextTracking.Add(ContextDocuments, "doc-2")

	if orig.CurrentPlaybook.ID != "pb-1" || orig.IntentAnalysis.Intents[0] != "billing" {
		t.Fatalf("clone aliased pointer fields: %+v", orig)
	}
	if len(orig.ContextTracking.Documents) != 1 {
		t.Fatalf("clone aliased tracking sets: %v", orig.ContextTracking.Documents)
	}
}

func TestMessageMetadataEnvelope(t *testing.T) {
	in := MessageMetadata{Variant: &ReminderMetadata{IsReminder: true}}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"kind":"reminder","data":{"is_reminder":true}}` {
		t.Fatalf("unexpected envelope: %s", b)
	}

	var out MessageMetadata
	if err := out.Scan(string(b)); err != nil {
		t.Fatal(err)
	}
	msg := Message{Metadata: out}
	if !msg.IsReminder() {
		t.Fatalf("expected reminder variant, got %#v", out.Variant)
	}

	if err := out.Scan(`{"kind":"bogus","data":{}}`); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestPatchClearLockKeepsCooldown(t *testing.T) {
	until := time.Now().Add(time.Minute)
	c := &Conversation{ProcessingLockedUntil: &until, ProcessingLockedBy: "w1", CooldownUntil: &until}
	p := &ConversationPatch{ClearLock: true}
	p.Apply(c)
	if c.ProcessingLockedUntil != nil || c.ProcessingLockedBy != "" {
		t.Fatalf("lock not cleared: %+v", c)
	}
	if c.CooldownUntil == nil {
		t.Fatal("cooldown cleared without ClearCooldown")
	}
	cols := p.Columns()
	if _, ok := cols["cooldown_until"]; ok {
		t.Fatalf("unexpected cooldown column: %v", cols)
	}
}
