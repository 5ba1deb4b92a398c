package orchestrator

import "github.com/choraleia/helpdesk/pkg/db"

// nonInterruptibleKinds are playbook kinds that run to completion once started.
var nonInterruptibleKinds = map[string]bool{
	db.PlaybookKindIntake:     true,
	db.PlaybookKindOnboarding: true,
}

// ShouldAllowSwitch reports whether a conversation running current may move
// to proposed. Escalation always wins; a playbook that is collecting required
// fields, or whose kind is non-interruptible, keeps the conversation.
func ShouldAllowSwitch(current, proposed *db.Playbook) bool {
	if current == nil {
		return true
	}
	if proposed != nil && proposed.Trigger == db.TriggerHumanEscalation {
		return true
	}
	if len(current.RequiredFields) > 0 {
		return false
	}
	if nonInterruptibleKinds[current.Kind] {
		return false
	}
	return true
}
