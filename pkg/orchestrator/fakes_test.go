package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/event"
	"github.com/choraleia/helpdesk/pkg/models"
)

// testClock is a settable clock shared by the engine and the fake store.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memStore is an in-memory ConversationStore with the same conditional
// lock semantics as the SQL store.
type memStore struct {
	mu    sync.Mutex
	clock *testClock
	convs map[string]*db.Conversation
	msgs  map[string][]db.Message
	seq   int

	failAddMessage error
}

func newMemStore(clock *testClock) *memStore {
	return &memStore{
		clock: clock,
		convs: map[string]*db.Conversation{},
		msgs:  map[string][]db.Message{},
	}
}

func key(id, orgID string) string { return orgID + "/" + id }

func copyConv(c *db.Conversation) *db.Conversation {
	cp := *c
	cp.OrchestrationStatus = c.OrchestrationStatus.Clone()
	if c.ResolutionMetadata != nil {
		r := *c.ResolutionMetadata
		cp.ResolutionMetadata = &r
	}
	return &cp
}

func (s *memStore) put(c *db.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Status == "" {
		c.Status = db.ConversationStatusOpen
	}
	s.convs[key(c.ID, c.OrganizationID)] = copyConv(c)
}

func (s *memStore) get(id, orgID string) *db.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[key(id, orgID)]
	if !ok {
		return nil
	}
	return copyConv(c)
}

// addAt appends a message with an explicit timestamp.
func (s *memStore) addAt(convID, orgID string, typ db.MessageType, content string, at time.Time, meta db.MetadataVariant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	k := key(convID, orgID)
	s.msgs[k] = append(s.msgs[k], db.Message{
		ID:             fmt.Sprintf("m%d", s.seq),
		ConversationID: convID,
		OrganizationID: orgID,
		Type:           typ,
		Content:        content,
		Metadata:       db.MessageMetadata{Variant: meta},
		CreatedAt:      at,
	})
}

func (s *memStore) messages(convID, orgID string) []db.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]db.Message(nil), s.msgs[key(convID, orgID)]...)
}

func (s *memStore) messagesOfType(convID, orgID string, typ db.MessageType) []db.Message {
	var out []db.Message
	for _, m := range s.messages(convID, orgID) {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (s *memStore) GetConversation(_ context.Context, id, orgID string) (*db.Conversation, error) {
	return s.get(id, orgID), nil
}

func (s *memStore) UpdateConversation(_ context.Context, id, orgID string, patch *db.ConversationPatch) (*db.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[key(id, orgID)]
	if !ok {
		return nil, ErrConversationNotFound
	}
	if patch.Status != nil && !db.CanTransition(c.Status, *patch.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", db.ErrInvalidTransition, c.Status, *patch.Status)
	}
	if patch.LockToken != "" && c.ProcessingLockedBy != patch.LockToken {
		return nil, fmt.Errorf("%w: %s", ErrLockLost, patch.LockToken)
	}
	patch.Apply(c)
	c.UpdatedAt = s.clock.Now()
	return copyConv(c), nil
}

func (s *memStore) AcquireProcessingLock(_ context.Context, id, orgID, token string, now, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[key(id, orgID)]
	if !ok {
		return false, nil
	}
	if c.IsLocked(now) || c.InCooldown(now) {
		return false, nil
	}
	u := until
	c.ProcessingLockedUntil = &u
	c.ProcessingLockedBy = token
	c.NeedsProcessing = false
	return true, nil
}

func (s *memStore) ReleaseProcessingLock(_ context.Context, id, orgID, token string, patch *db.ConversationPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[key(id, orgID)]
	if !ok || c.ProcessingLockedBy != token {
		return false, nil
	}
	patch.Apply(c)
	return true, nil
}

func (s *memStore) AddMessage(_ context.Context, convID, orgID string, msg db.NewMessage) (*db.Message, error) {
	if s.failAddMessage != nil {
		return nil, s.failAddMessage
	}
	// Keep creation order strictly increasing.
	s.mu.Lock()
	at := s.clock.Now().Add(time.Duration(s.seq) * time.Microsecond)
	s.mu.Unlock()
	s.addAt(convID, orgID, msg.Type, msg.Content, at, msg.Metadata)
	msgs := s.messages(convID, orgID)
	m := msgs[len(msgs)-1]
	return &m, nil
}

func (s *memStore) GetLastMessages(_ context.Context, convID, orgID string, n int) ([]db.Message, error) {
	msgs := s.messages(convID, orgID)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

func (s *memStore) ListConversationsByStatus(_ context.Context, orgID string, status db.ConversationStatus) ([]db.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.Conversation
	for _, c := range s.convs {
		if c.OrganizationID == orgID && c.Status == status {
			out = append(out, *copyConv(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memPlaybooks struct {
	items []db.Playbook
	err   error
}

func (p *memPlaybooks) GetPlaybooks(_ context.Context, orgID string) ([]db.Playbook, error) {
	if p.err != nil {
		return nil, p.err
	}
	var out []db.Playbook
	for _, pb := range p.items {
		if pb.OrganizationID == orgID {
			out = append(out, pb)
		}
	}
	return out, nil
}

func (p *memPlaybooks) GetPlaybook(_ context.Context, id, orgID string) (*db.Playbook, error) {
	for _, pb := range p.items {
		if pb.ID == id && pb.OrganizationID == orgID {
			cp := pb
			return &cp, nil
		}
	}
	return nil, nil
}

type memAgents struct {
	items []db.Agent
}

func (a *memAgents) GetAgent(_ context.Context, id, orgID string) (*db.Agent, error) {
	for _, ag := range a.items {
		if ag.ID == id && ag.OrganizationID == orgID {
			cp := ag
			return &cp, nil
		}
	}
	return nil, nil
}

func (a *memAgents) GetDefaultAgent(_ context.Context, orgID string) (*db.Agent, error) {
	for _, ag := range a.items {
		if ag.IsDefault && ag.OrganizationID == orgID {
			cp := ag
			return &cp, nil
		}
	}
	return nil, nil
}

// Prompt markers used to route fake completions.
const (
	markIntent   = "Classify the intent"
	markMatch    = "Score how relevant each support playbook"
	markProbe    = "would benefit from searching"
	markDetect   = "Decide how this support conversation should proceed"
	markTitle    = "Write a short title"
	markHandover = "handing this conversation to a human colleague"
	markReply    = "Reply to the customer's latest message"
	markDocQA    = "using ONLY the numbered"
)

type fakeRule struct {
	marker  string
	content string
	err     error
}

// fakeCompletion answers by the first rule whose marker appears in the
// prompt and records every call.
type fakeCompletion struct {
	mu       sync.Mutex
	rules    []fakeRule
	fallback string
	err      error
	prompts  []string
	// during runs before the answer for prompts containing its marker.
	during   map[string]func()
}

func newFakeCompletion() *fakeCompletion {
	return &fakeCompletion{fallback: "OK"}
}

func (f *fakeCompletion) on(marker, content string) *fakeCompletion {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, fakeRule{marker: marker, content: content})
	return f
}

func (f *fakeCompletion) fail(marker string, err error) *fakeCompletion {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, fakeRule{marker: marker, err: err})
	return f
}

// whileAnswering runs fn each time a prompt containing marker is answered.
func (f *fakeCompletion) whileAnswering(marker string, fn func()) *fakeCompletion {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.during == nil {
		f.during = make(map[string]func())
	}
	f.during[marker] = fn
	return f
}

func (f *fakeCompletion) respond(prompt string) (*models.Completion, error) {
	f.mu.Lock()
	var hooks []func()
	for marker, fn := range f.during {
		if strings.Contains(prompt, marker) {
			hooks = append(hooks, fn)
		}
	}
	f.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	for _, r := range f.rules {
		if strings.Contains(prompt, r.marker) {
			if r.err != nil {
				return nil, r.err
			}
			return &models.Completion{Content: r.content}, nil
		}
	}
	return &models.Completion{Content: f.fallback}, nil
}

func (f *fakeCompletion) Invoke(_ context.Context, prompt string) (*models.Completion, error) {
	return f.respond(prompt)
}

func (f *fakeCompletion) InvokeWithSystemPrompt(_ context.Context, system, user string) (*models.Completion, error) {
	return f.respond(system + "\n\n" + user)
}

func (f *fakeCompletion) calls(marker string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.prompts {
		if strings.Contains(p, marker) {
			n++
		}
	}
	return n
}

func (f *fakeCompletion) lastPrompt(marker string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.prompts) - 1; i >= 0; i-- {
		if strings.Contains(f.prompts[i], marker) {
			return f.prompts[i]
		}
	}
	return ""
}

type fakeSearch struct {
	mu    sync.Mutex
	hits  []models.DocumentMatch
	err   error
	calls int
}

func (s *fakeSearch) Search(_ context.Context, _ string, _ string, limit int) ([]models.DocumentMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if limit > 0 && len(s.hits) > limit {
		return append([]models.DocumentMatch(nil), s.hits[:limit]...), nil
	}
	return append([]models.DocumentMatch(nil), s.hits...), nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recordingEmitter) Emit(ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventName())
	}
	return out
}

var errModelDown = errors.New("model unavailable")

const testOrg = "org-1"
