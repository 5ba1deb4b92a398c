package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/choraleia/helpdesk/pkg/config"
	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/orchestrator"
	"github.com/choraleia/helpdesk/pkg/utils"
	"github.com/google/uuid"
)

// ConversationProcessor runs one orchestration cycle.
type ConversationProcessor interface {
	ProcessConversation(ctx context.Context, convID, orgID string)
}

// PendingLister finds conversations whose processing is due.
type PendingLister interface {
	ListPendingConversations(ctx context.Context, now time.Time, limit int) ([]db.Conversation, error)
}

// Dispatcher feeds queued conversations to a fixed pool of workers. A poller
// re-enqueues conversations still flagged needs_processing, which covers
// failed cycles, cooldown skips and jobs lost by the queue.
type Dispatcher struct {
	queue        WorkQueue
	pending      PendingLister
	newProcessor func(token string) ConversationProcessor
	workers      int
	pollInterval time.Duration
	dequeueWait  time.Duration
	now          func() time.Time
	logger       *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewDispatcher(engine *orchestrator.Engine, queue WorkQueue, pending PendingLister, cfg config.OrchestrationConfig) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = config.DefaultWorkers
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = config.DefaultPollInterval
	}
	return &Dispatcher{
		queue:   queue,
		pending: pending,
		newProcessor: func(token string) ConversationProcessor {
			return engine.ForWorker(token)
		},
		workers:      workers,
		pollInterval: poll,
		dequeueWait:  2 * time.Second,
		now:          time.Now,
		logger:       utils.GetLogger(),
	}
}

// Start launches the workers and the poller. It returns immediately.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("dispatcher already running")
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.running = true

	for i := 0; i < d.workers; i++ {
		token := fmt.Sprintf("worker-%d-%s", i, uuid.NewString()[:8])
		d.wg.Add(1)
		go d.work(ctx, token)
	}
	if d.pending != nil {
		d.wg.Add(1)
		go d.poll(ctx)
	}
	d.logger.Info("Dispatcher started", "workers", d.workers, "pollInterval", d.pollInterval)
	return nil
}

// Stop cancels the workers and waits for in-flight cycles to return.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("Dispatcher stopped")
}

func (d *Dispatcher) work(ctx context.Context, token string) {
	defer d.wg.Done()
	proc := d.newProcessor(token)
	logger := d.logger.With("worker", token)

	for {
		if ctx.Err() != nil {
			return
		}
		job, err := d.queue.Dequeue(ctx, d.dequeueWait)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			logger.Warn("Dequeue failed", "error", err)
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}
		if job == nil {
			continue
		}
		if wait := job.NotBefore.Sub(d.now()); wait > 0 {
			if !sleepCtx(ctx, wait) {
				return
			}
		}
		logger.Debug("Processing conversation", "conversationID", job.ConversationID, "organizationID", job.OrganizationID)
		proc.ProcessConversation(ctx, job.ConversationID, job.OrganizationID)
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.EnqueuePending(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warn("Pending conversation poll failed", "error", err)
			}
		}
	}
}

// EnqueuePending queues every conversation that is due for processing.
func (d *Dispatcher) EnqueuePending(ctx context.Context) (int, error) {
	convs, err := d.pending.ListPendingConversations(ctx, d.now(), d.workers*4)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range convs {
		if err := d.queue.Enqueue(ctx, ProcessJob{ConversationID: c.ID, OrganizationID: c.OrganizationID}); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		d.logger.Debug("Re-enqueued pending conversations", "count", n)
	}
	return n, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
