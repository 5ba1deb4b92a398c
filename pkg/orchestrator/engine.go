package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/event"
	"github.com/choraleia/helpdesk/pkg/models"
	"github.com/choraleia/helpdesk/pkg/utils"
	"github.com/google/uuid"
)

const (
	// EscalationAckMessage is used when the model cannot write the handover note.
	EscalationAckMessage = "I'm connecting you with a member of our support team. Someone will be with you shortly."

	releaseTimeout = 10 * time.Second
)

// Engine runs processing cycles and inactivity sweeps. It holds no per
// conversation state; any number of engines may share one store.
type Engine struct {
	store      ConversationStore
	completion Completion
	cfg        Config

	lock       *LockCoordinator
	classifier *IntentClassifier
	matcher    *PlaybookMatcher
	dedup      *ContextDeduplicator
	planner    *PlanBuilder
	executor   *Executor
	detector   *DetectorChain
	tracker    *StatusTracker
	titles     *TitleGenerator
	monitor    *InactivityMonitor
	tools      ToolInvoker
	selector   *ToolSelector

	emitter     Emitter
	now         func() time.Time
	logger      *slog.Logger
	workerToken string
}

type engineOptions struct {
	logger    *slog.Logger
	emitter   Emitter
	now       func() time.Time
	token     string
	detectors []Detector
	tools     ToolInvoker
}

// Option customizes an Engine.
type Option func(*engineOptions)

func WithLogger(l *slog.Logger) Option { return func(o *engineOptions) { o.logger = l } }

func WithEmitter(em Emitter) Option { return func(o *engineOptions) { o.emitter = em } }

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option { return func(o *engineOptions) { o.now = now } }

func WithWorkerToken(token string) Option { return func(o *engineOptions) { o.token = token } }

// WithDetectors replaces the default detector chain.
func WithDetectors(ds ...Detector) Option { return func(o *engineOptions) { o.detectors = ds } }

// WithTools lets playbooks that list tools call them before replying.
func WithTools(inv ToolInvoker) Option { return func(o *engineOptions) { o.tools = inv } }

// New wires the engine components leaves first. search may be nil, in which
// case the document path is never taken.
func New(store ConversationStore, playbooks PlaybookStore, agents AgentStore, completion Completion, search VectorSearch, cfg Config, opts ...Option) *Engine {
	o := engineOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = utils.GetLogger()
	}
	if o.emitter == nil {
		o.emitter = nopEmitter{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	cfg = cfg.withDefaults()
	logger := o.logger

	e := &Engine{
		store:       store,
		completion:  completion,
		cfg:         cfg,
		emitter:     o.emitter,
		now:         o.now,
		logger:      logger,
		workerToken: o.token,
	}
	e.lock = NewLockCoordinator(store, o.now, logger)
	e.classifier = NewIntentClassifier(completion, logger)
	e.matcher = NewPlaybookMatcher(e.classifier, playbooks, completion, cfg, logger)
	e.dedup = NewContextDeduplicator(store, o.now, logger)
	e.planner = NewPlanBuilder(e.matcher, e.dedup, agents, completion, search, cfg, logger)
	e.executor = NewExecutor(completion, search, cfg, logger)
	if o.detectors == nil {
		o.detectors = DefaultDetectors(completion, logger)
	}
	e.detector = NewDetectorChain(logger, o.detectors...)
	e.tracker = NewStatusTracker(store, o.emitter, o.now, logger)
	e.titles = NewTitleGenerator(completion, logger)
	e.monitor = NewInactivityMonitor(store, e.lock, e.tracker, e.titles, o.emitter, cfg, o.now, logger)
	if o.tools != nil {
		e.tools = o.tools
		e.selector = NewToolSelector(completion, logger)
	}
	return e
}

// ForWorker returns a copy of the engine that identifies itself with token.
func (e *Engine) ForWorker(token string) *Engine {
	cp := *e
	cp.workerToken = token
	return &cp
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) token() string {
	if e.workerToken != "" {
		return e.workerToken
	}
	return uuid.NewString()
}

// cycle is the state of one ProcessConversation call.
type cycle struct {
	convID      string
	orgID       string
	token       string
	lockedUntil time.Time
	conv        *db.Conversation
}

// ProcessConversation answers the customer's pending messages. Lock
// contention is a silent skip. Failures clear the lock and set
// needs_processing so a later call retries; nothing escapes to the caller.
func (e *Engine) ProcessConversation(ctx context.Context, convID, orgID string) {
	c := &cycle{convID: convID, orgID: orgID, token: e.token()}
	res, err := e.lock.TryAcquire(ctx, convID, orgID, c.token, e.cfg.LockWindow)
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			e.logger.Warn("Conversation not found", "conversationID", convID, "organizationID", orgID)
			return
		}
		e.logger.Error("Failed to acquire processing lock", "conversationID", convID, "error", err)
		return
	}
	if res != LockGranted {
		e.logger.Debug("Skipping conversation", "conversationID", convID, "lock", res)
		return
	}
	c.lockedUntil = e.now().Add(e.cfg.LockWindow)

	cycleCtx, cancel := context.WithTimeout(ctx, e.cfg.LockWindow)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic in processing cycle", "conversationID", convID, "panic", r, "stack", string(debug.Stack()))
			e.fail(ctx, c, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := e.runCycle(cycleCtx, c); err != nil {
		if IsTransient(err) {
			e.logger.Warn("Processing cycle failed, will retry", "conversationID", convID, "error", err)
		} else {
			e.logger.Error("Processing cycle failed", "conversationID", convID, "error", err)
		}
		e.fail(ctx, c, err)
		return
	}

	rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer rcancel()
	if err := e.lock.Release(rctx, convID, orgID, c.token); err != nil {
		e.logger.Error("Failed to release processing lock", "conversationID", convID, "error", err)
	}
}

func (e *Engine) fail(parent context.Context, c *cycle, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), releaseTimeout)
	defer cancel()
	if c.conv != nil {
		if err := e.tracker.Fail(ctx, c.conv, cause); err != nil {
			e.logger.Error("Failed to record error state", "conversationID", c.convID, "error", err)
		}
	}
	if err := e.lock.Fail(ctx, c.convID, c.orgID, c.token); err != nil {
		e.logger.Error("Failed to clear processing lock", "conversationID", c.convID, "error", err)
	}
}

func (e *Engine) runCycle(ctx context.Context, c *cycle) error {
	conv, err := e.store.GetConversation(ctx, c.convID, c.orgID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		return nil
	}
	switch conv.Status {
	case db.ConversationStatusPendingHuman, db.ConversationStatusHumanTookOver,
		db.ConversationStatusResolved, db.ConversationStatusClosed:
		e.logger.Debug("Conversation not handled by bot", "conversationID", conv.ID, "status", conv.Status)
		return nil
	}

	msgs, err := e.store.GetLastMessages(ctx, conv.ID, conv.OrganizationID, e.cfg.HistoryMessages)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	pending, prior := splitPending(msgs)
	if len(pending) == 0 {
		if conv.Status == db.ConversationStatusProcessing {
			// Left behind by a worker that died after replying.
			e.logger.Info("Reopening abandoned conversation", "conversationID", conv.ID)
			return e.tracker.Update(ctx, conv, &db.ConversationPatch{Status: db.StatusPtr(db.ConversationStatusOpen)}, func(s *db.OrchestrationStatus) {
				s.State = db.StateWaitingForUser
			})
		}
		return nil
	}
	c.conv = conv
	lastPending := pending[len(pending)-1]
	message := joinContents(pending)
	history := formatHistory(prior)

	if err := e.tracker.Begin(ctx, conv, c.token, c.lockedUntil); err != nil {
		return err
	}

	plan, err := e.planner.Build(ctx, PlanInput{Conversation: conv, Message: message, History: history})
	if err != nil {
		return fmt.Errorf("build plan: %w", err)
	}
	if err := e.recordPlan(ctx, conv, plan); err != nil {
		return err
	}
	if err := e.runTools(ctx, conv, plan, message, history); err != nil {
		return err
	}

	result := e.executor.Execute(ctx, plan, ExecutionInput{
		OrganizationID: conv.OrganizationID,
		Message:        message,
		History:        history,
	})
	if len(result.Documents) > 0 {
		if _, err := e.dedup.AddDocumentsContext(ctx, conv, result.Documents); err != nil {
			return err
		}
	}

	meta := &db.ReplyMetadata{
		Path:            string(result.Path),
		PlaybookID:      plan.PlaybookID(),
		AgentID:         plan.AgentID(),
		Citations:       citationIDs(result.Documents),
		ToolCalls:       toolCallIDs(plan.ToolResults),
		Fallback:        result.Degraded,
		AnsweredThrough: lastPending.ID,
	}
	if result.Usage != nil {
		meta.PromptTokens = result.Usage.PromptTokens
		meta.CompletionTokens = result.Usage.CompletionTokens
	}
	if result.Degraded && apologizedSince(msgs, lastPending.ID) {
		// The customer already has an apology for this run; just retry later.
		return result.Err
	}
	reply, err := e.postMessage(ctx, conv, db.NewMessage{Type: db.MessageTypeBotAgent, Content: result.Content, Metadata: meta})
	if err != nil {
		return err
	}
	if result.Degraded {
		return result.Err
	}

	det := e.detector.Detect(ctx, DetectionInput{Message: message, History: history, Reply: result.Content})
	return e.finish(ctx, conv, det, message, append(msgs, *reply), result.Documents)
}

// recordPlan stores the plan decision and moves to the path's state.
func (e *Engine) recordPlan(ctx context.Context, conv *db.Conversation, plan *Plan) error {
	pbID, agentID := plan.PlaybookID(), plan.AgentID()
	patch := &db.ConversationPatch{PlaybookID: &pbID}
	if agentID != "" {
		patch.AgentID = &agentID
	}
	return e.tracker.Update(ctx, conv, patch, func(s *db.OrchestrationStatus) {
		s.State = stateForPath(plan.Path)
		s.CurrentPlaybook = playbookRef(plan.Playbook)
		ia := plan.Selection.Intent
		ia.Switched = plan.Selection.Switched
		if plan.Selection.Reasoning != "" {
			ia.Reasoning = plan.Selection.Reasoning
		}
		s.IntentAnalysis = &ia
		if s.ProcessingDetails != nil {
			s.ProcessingDetails.Path = string(plan.Path)
		}
		s.DocumentsUsed = nil
		if plan.ProbeHit != nil && (plan.Path == PathDocumentQA || len(plan.SupportingDocs) > 0) {
			s.DocumentsUsed = []db.DocumentRef{{
				ID:         DocumentKey(*plan.ProbeHit),
				Title:      plan.ProbeHit.Title(),
				Similarity: plan.ProbeHit.Similarity,
			}}
		}
	})
}

// finish applies the detection outcome and ends the cycle's status.
// docs are the documents the reply was built from; they replace the probe hit
// recorded with the plan.
func (e *Engine) finish(ctx context.Context, conv *db.Conversation, det Detection, message string, transcript []db.Message, docs []models.DocumentMatch) error {
	now := e.now()
	patch := &db.ConversationPatch{}
	var state db.OrchestrationState

	switch det.Outcome {
	case OutcomeCloseSatisfied, OutcomeCloseUnsatisfied:
		satisfied := det.Outcome == OutcomeCloseSatisfied
		status, label := db.ConversationStatusClosed, db.StateClosed
		if satisfied {
			status, label = db.ConversationStatusResolved, db.StateResolved
		}
		state = label
		title := e.titles.Generate(ctx, transcript)
		patch.Status = db.StatusPtr(status)
		patch.Title = &title
		patch.ResolutionMetadata = &db.ResolutionMetadata{
			Resolved:   satisfied,
			Confidence: det.Confidence,
			Reason:     det.Reason,
			ResolvedAt: now,
		}
		if _, err := e.postMessage(ctx, conv, db.NewMessage{
			Type:    db.MessageTypeSystem,
			Content: fmt.Sprintf("Conversation marked as %s.", status),
			Metadata: &db.ClosureMetadata{
				Satisfied:  satisfied,
				Confidence: det.Confidence,
				Reason:     det.Reason,
				Tier:       det.Tier,
			},
		}); err != nil {
			return err
		}

	case OutcomeEscalate:
		state = db.StatePendingHuman
		ack := e.acknowledgeEscalation(ctx, message)
		if _, err := e.postMessage(ctx, conv, db.NewMessage{
			Type:     db.MessageTypeBotAgent,
			Content:  ack,
			Metadata: &db.EscalationMetadata{Reason: det.Reason, Tier: det.Tier},
		}); err != nil {
			return err
		}
		title := e.titles.Generate(ctx, transcript)
		patch.Status = db.StatusPtr(db.ConversationStatusPendingHuman)
		patch.Title = &title

	default:
		state = db.StateWaitingForUser
		patch.Status = db.StatusPtr(db.ConversationStatusOpen)
	}

	if err := e.tracker.Update(ctx, conv, patch, func(s *db.OrchestrationStatus) {
		s.State = state
		if len(docs) > 0 {
			s.DocumentsUsed = documentRefs(docs)
		}
		if s.ProcessingDetails != nil {
			s.ProcessingDetails.FinishedAt = &now
			s.ProcessingDetails.Error = ""
		}
	}); err != nil {
		return err
	}

	switch det.Outcome {
	case OutcomeCloseSatisfied, OutcomeCloseUnsatisfied:
		e.emitter.Emit(event.ConversationClosedEvent{
			ConversationID: conv.ID,
			OrganizationID: conv.OrganizationID,
			Status:         string(conv.Status),
			Reason:         det.Reason,
		})
	case OutcomeEscalate:
		e.emitter.Emit(event.ConversationEscalatedEvent{
			ConversationID: conv.ID,
			OrganizationID: conv.OrganizationID,
			Reason:         det.Reason,
		})
	}
	return nil
}

func (e *Engine) acknowledgeEscalation(ctx context.Context, message string) string {
	resp, err := e.completion.InvokeWithSystemPrompt(ctx,
		"You are a customer support assistant handing this conversation to a human colleague. "+
			"Write one or two short sentences telling the customer a team member will join shortly. "+
			"Do not promise a specific time.",
		message)
	if err != nil {
		e.logger.Warn("Escalation acknowledgment call failed", "error", err)
		return EscalationAckMessage
	}
	if s := strings.TrimSpace(resp.Content); s != "" {
		return s
	}
	return EscalationAckMessage
}

func (e *Engine) postMessage(ctx context.Context, conv *db.Conversation, msg db.NewMessage) (*db.Message, error) {
	m, err := e.store.AddMessage(ctx, conv.ID, conv.OrganizationID, msg)
	if err != nil {
		return nil, fmt.Errorf("add %s message: %w", msg.Type, err)
	}
	e.emitter.Emit(event.MessageCreatedEvent{
		ConversationID: conv.ID,
		OrganizationID: conv.OrganizationID,
		MessageID:      m.ID,
		Type:           string(m.Type),
	})
	return m, nil
}

// CheckInactiveConversations runs one inactivity sweep for the organization.
func (e *Engine) CheckInactiveConversations(ctx context.Context, orgID string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic in inactivity sweep", "organizationID", orgID, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	report, err := e.monitor.Check(ctx, orgID, e.token())
	if err != nil {
		e.logger.Error("Inactivity sweep failed", "organizationID", orgID, "error", err)
		return
	}
	if report.Reminded > 0 || report.Closed > 0 {
		e.logger.Info("Inactivity sweep finished", "organizationID", orgID,
			"checked", report.Checked, "reminded", report.Reminded, "closed", report.Closed, "skipped", report.Skipped)
	}
}

// ResetContext starts a new context epoch for the conversation.
func (e *Engine) ResetContext(ctx context.Context, convID, orgID string) error {
	token := e.token()
	res, err := e.lock.TryAcquire(ctx, convID, orgID, token, e.cfg.LockWindow)
	if err != nil {
		return err
	}
	if res != LockGranted {
		return ErrConversationBusy
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := e.lock.Release(rctx, convID, orgID, token); err != nil {
			e.logger.Error("Failed to release lock after context reset", "conversationID", convID, "error", err)
		}
	}()

	conv, err := e.store.GetConversation(ctx, convID, orgID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		return ErrConversationNotFound
	}
	if err := e.dedup.ResetContext(ctx, conv); err != nil {
		return fmt.Errorf("reset context: %w", err)
	}
	e.logger.Info("Context reset", "conversationID", convID)
	return nil
}

// splitPending separates the customer messages not yet answered from the
// rest of the window. A bot reply answers the customer messages up to its
// AnsweredThrough marker; other agent messages answer everything before them.
// Fallback replies answer nothing, so a failed cycle is retried in full.
func splitPending(msgs []db.Message) (pending, prior []db.Message) {
	answered := -1
	for i, m := range msgs {
		if !m.Type.IsAssistant() || isFallback(m) {
			continue
		}
		covered := i
		if r, ok := m.Metadata.Variant.(*db.ReplyMetadata); ok {
			if j := messageIndex(msgs, r.AnsweredThrough); j >= 0 {
				covered = j
			}
		}
		answered = max(answered, covered)
	}
	for i, m := range msgs {
		switch {
		case i > answered && m.Type == db.MessageTypeCustomer:
			pending = append(pending, m)
		case isFallback(m):
		default:
			prior = append(prior, m)
		}
	}
	return pending, prior
}

func documentRefs(docs []models.DocumentMatch) []db.DocumentRef {
	refs := make([]db.DocumentRef, 0, len(docs))
	for _, d := range docs {
		refs = append(refs, db.DocumentRef{ID: DocumentKey(d), Title: d.Title(), Similarity: d.Similarity})
	}
	return refs
}

func messageIndex(msgs []db.Message, id string) int {
	if id == "" {
		return -1
	}
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// apologizedSince reports whether a fallback reply already follows the
// message with the given ID.
func apologizedSince(msgs []db.Message, id string) bool {
	for _, m := range msgs[messageIndex(msgs, id)+1:] {
		if isFallback(m) {
			return true
		}
	}
	return false
}

func isFallback(m db.Message) bool {
	r, ok := m.Metadata.Variant.(*db.ReplyMetadata)
	return ok && r.Fallback
}

func joinContents(msgs []db.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if s := strings.TrimSpace(m.Content); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}
