package db

import (
	"database/sql/driver"
	"time"
)

// OrchestrationState is the externally observable phase of a processing cycle.
type OrchestrationState string

const (
	StateWaitingForUser     OrchestrationState = "waiting_for_user"
	StateAnalyzingIntent    OrchestrationState = "analyzing_intent"
	StateSearchingDocuments OrchestrationState = "searching_documents"
	StateExecutingPlaybook  OrchestrationState = "executing_playbook"
	StateClosed             OrchestrationState = "closed"
	StateResolved           OrchestrationState = "resolved"
	StatePendingHuman       OrchestrationState = "pending_human"
	StateError              OrchestrationState = "error"
)

// InFlight reports whether the state belongs to a running cycle.
func (s OrchestrationState) InFlight() bool {
	switch s {
	case StateAnalyzingIntent, StateSearchingDocuments, StateExecutingPlaybook:
		return true
	}
	return false
}

// OrchestrationStatus is a value object that is always replaced as a whole.
type OrchestrationStatus struct {
	State             OrchestrationState `json:"state"`
	CurrentPlaybook   *PlaybookRef       `json:"current_playbook,omitempty"`
	DocumentsUsed     []DocumentRef      `json:"documents_used,omitempty"`
	IntentAnalysis    *IntentAnalysis    `json:"intent_analysis,omitempty"`
	ProcessingDetails *ProcessingDetails `json:"processing_details,omitempty"`
	ContextTracking   ContextTracking    `json:"context_tracking"`
	LastUpdated       time.Time          `json:"last_updated"`
}

type PlaybookRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type DocumentRef struct {
	ID         string  `json:"id"`
	Title      string  `json:"title,omitempty"`
	Similarity float32 `json:"similarity"`
}

// IntentAnalysis is the classifier output attached to the status.
type IntentAnalysis struct {
	Intents    []string `json:"intents"`
	Confidence float64  `json:"confidence"`
	Source     string   `json:"source"` // ai, rules
	Reasoning  string   `json:"reasoning,omitempty"`
	Switched   bool     `json:"switched"`
}

// ProcessingDetails carries lock metadata and the chosen path for one cycle.
type ProcessingDetails struct {
	WorkerToken   string     `json:"worker_token,omitempty"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	Path          string     `json:"path,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// ContextKind names one of the deduplication sets.
type ContextKind string

const (
	ContextAgents    ContextKind = "agents"
	ContextPlaybooks ContextKind = "playbooks"
	ContextDocuments ContextKind = "documents"
	ContextTools     ContextKind = "tools"
)

// ContextTracking holds the IDs already injected during the current context epoch.
type ContextTracking struct {
	Agents    []string `json:"agents"`
	Playbooks []string `json:"playbooks"`
	Documents []string `json:"documents"`
	Tools     []string `json:"tools"`
}

func (t *ContextTracking) set(kind ContextKind) *[]string {
	switch kind {
	case ContextAgents:
		return &t.Agents
	case ContextPlaybooks:
		return &t.Playbooks
	case ContextDocuments:
		return &t.Documents
	case ContextTools:
		return &t.Tools
	}
	return nil
}

// Has reports whether id is tracked under kind.
func (t *ContextTracking) Has(kind ContextKind, id string) bool {
	s := t.set(kind)
	if s == nil {
		return false
	}
	for _, v := range *s {
		if v == id {
			return true
		}
	}
	return false
}

// Add appends the ids not yet tracked and returns them, in input order.
func (t *ContextTracking) Add(kind ContextKind, ids ...string) []string {
	s := t.set(kind)
	if s == nil {
		return nil
	}
	var added []string
	for _, id := range ids {
		if id == "" || t.Has(kind, id) {
			continue
		}
		*s = append(*s, id)
		added = append(added, id)
	}
	return added
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (s OrchestrationStatus) Clone() OrchestrationStatus {
	out := s
	if s.CurrentPlaybook != nil {
		p := *s.CurrentPlaybook
		out.CurrentPlaybook = &p
	}
	if s.DocumentsUsed != nil {
		out.DocumentsUsed = append([]DocumentRef(nil), s.DocumentsUsed...)
	}
	if s.IntentAnalysis != nil {
		ia := *s.IntentAnalysis
		ia.Intents = append([]string(nil), s.IntentAnalysis.Intents...)
		out.IntentAnalysis = &ia
	}
	if s.ProcessingDetails != nil {
		pd := *s.ProcessingDetails
		out.ProcessingDetails = &pd
	}
	out.ContextTracking = ContextTracking{
		Agents:    append([]string(nil), s.ContextTracking.Agents...),
		Playbooks: append([]string(nil), s.ContextTracking.Playbooks...),
		Documents: append([]string(nil), s.ContextTracking.Documents...),
		Tools:     append([]string(nil), s.ContextTracking.Tools...),
	}
	return out
}

// Value implements driver.Valuer for database storage
func (s OrchestrationStatus) Value() (driver.Value, error) {
	return jsonValue(s)
}

// Scan implements sql.Scanner for database retrieval
func (s *OrchestrationStatus) Scan(value interface{}) error {
	return jsonScan(value, s)
}
