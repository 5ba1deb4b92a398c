package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/choraleia/helpdesk/pkg/config"
	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/orchestrator"
	"github.com/choraleia/helpdesk/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testOrg = "org-1"

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	g, err := OpenDatabase(config.DatabaseConfig{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := g.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return g
}

func newTestStore(t *testing.T) *ConversationStore {
	t.Helper()
	store := NewConversationStore(openTestDB(t))
	require.NoError(t, store.CreateConversation(context.Background(), &db.Conversation{ID: "c1", OrganizationID: testOrg, NeedsProcessing: true}))
	return store
}

func TestConversationStoreLockIsMutuallyExclusive(t *testing.T) {
	store := newTestStore(t)
	lock := orchestrator.NewLockCoordinator(store, time.Now, utils.GetLogger())

	const workers = 8
	results := make([]orchestrator.LockResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := lock.TryAcquire(context.Background(), "c1", testOrg, fmt.Sprintf("w%d", i), 30*time.Second)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	granted := 0
	for _, r := range results {
		if r == orchestrator.LockGranted {
			granted++
		} else {
			assert.Equal(t, orchestrator.LockAlreadyLocked, r)
		}
	}
	assert.Equal(t, 1, granted)

	conv, err := store.GetConversation(context.Background(), "c1", testOrg)
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ProcessingLockedBy)
	assert.False(t, conv.NeedsProcessing)
}

func TestConversationStoreLockRespectsCooldown(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	cooldown := now.Add(3 * time.Second)
	_, err := store.UpdateConversation(ctx, "c1", testOrg, &db.ConversationPatch{CooldownUntil: &cooldown})
	require.NoError(t, err)

	ok, err := store.AcquireProcessingLock(ctx, "c1", testOrg, "w1", now, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	conv, err := store.GetConversation(ctx, "c1", testOrg)
	require.NoError(t, err)
	assert.Nil(t, conv.ProcessingLockedUntil)
	assert.True(t, conv.NeedsProcessing)

	later := cooldown.Add(time.Millisecond)
	ok, err = store.AcquireProcessingLock(ctx, "c1", testOrg, "w1", later, later.Add(30*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConversationStoreReleaseRequiresToken(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	ok, err := store.AcquireProcessingLock(ctx, "c1", testOrg, "w1", now, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.ReleaseProcessingLock(ctx, "c1", testOrg, "w2", &db.ConversationPatch{ClearLock: true})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.ReleaseProcessingLock(ctx, "c1", testOrg, "w1", &db.ConversationPatch{ClearLock: true, LastProcessedAt: &now})
	require.NoError(t, err)
	assert.True(t, ok)

	conv, err := store.GetConversation(ctx, "c1", testOrg)
	require.NoError(t, err)
	assert.Nil(t, conv.ProcessingLockedUntil)
	assert.Empty(t, conv.ProcessingLockedBy)
	require.NotNil(t, conv.LastProcessedAt)
}

func TestConversationStoreFencesUpdatesByLockToken(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	ok, err := store.AcquireProcessingLock(ctx, "c1", testOrg, "w1", now, now.Add(time.Second))
	require.NoError(t, err)
	require.True(t, ok)

	title := "Refund question"
	_, err = store.UpdateConversation(ctx, "c1", testOrg, &db.ConversationPatch{Title: &title, LockToken: "w1"})
	require.NoError(t, err)

	// w1 overran its window and w2 took over.
	later := now.Add(2 * time.Second)
	ok, err = store.AcquireProcessingLock(ctx, "c1", testOrg, "w2", later, later.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	stale := "Stale title"
	_, err = store.UpdateConversation(ctx, "c1", testOrg, &db.ConversationPatch{
		Title:     &stale,
		Status:    db.StatusPtr(db.ConversationStatusProcessing),
		LockToken: "w1",
	})
	assert.ErrorIs(t, err, orchestrator.ErrLockLost)

	conv, err := store.GetConversation(ctx, "c1", testOrg)
	require.NoError(t, err)
	assert.Equal(t, "Refund question", conv.Title)
	assert.Equal(t, db.ConversationStatusOpen, conv.Status)
	assert.Equal(t, "w2", conv.ProcessingLockedBy)
}

func TestConversationStoreRejectsInvalidTransition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpdateConversation(ctx, "c1", testOrg, &db.ConversationPatch{Status: db.StatusPtr(db.ConversationStatusResolved)})
	require.NoError(t, err)

	_, err = store.UpdateConversation(ctx, "c1", testOrg, &db.ConversationPatch{Status: db.StatusPtr(db.ConversationStatusProcessing)})
	assert.ErrorIs(t, err, db.ErrInvalidTransition)

	_, err = store.UpdateConversation(ctx, "missing", testOrg, &db.ConversationPatch{})
	assert.ErrorIs(t, err, orchestrator.ErrConversationNotFound)
}

func TestConversationStorePersistsStatusAndMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	status := db.OrchestrationStatus{
		State:           db.StateExecutingPlaybook,
		CurrentPlaybook: &db.PlaybookRef{ID: "refund", Title: "Refunds"},
		ContextTracking: db.ContextTracking{Agents: []string{"ag-1"}},
	}
	_, err := store.UpdateConversation(ctx, "c1", testOrg, &db.ConversationPatch{OrchestrationStatus: &status})
	require.NoError(t, err)

	_, err = store.AddMessage(ctx, "c1", testOrg, db.NewMessage{Type: db.MessageTypeCustomer, Content: "hi"})
	require.NoError(t, err)
	_, err = store.AddMessage(ctx, "c1", testOrg, db.NewMessage{
		Type:     db.MessageTypeBotAgent,
		Content:  "Are you still there?",
		Metadata: &db.ReminderMetadata{IsReminder: true},
	})
	require.NoError(t, err)

	conv, err := store.GetConversation(ctx, "c1", testOrg)
	require.NoError(t, err)
	assert.Equal(t, db.StateExecutingPlaybook, conv.OrchestrationStatus.State)
	assert.Equal(t, []string{"ag-1"}, conv.OrchestrationStatus.ContextTracking.Agents)

	msgs, err := store.GetLastMessages(ctx, "c1", testOrg, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Nil(t, msgs[0].Metadata.Variant)
	assert.True(t, msgs[1].IsReminder())

	last, err := store.GetLastMessages(ctx, "c1", testOrg, 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "Are you still there?", last[0].Content)
}

func TestConversationStoreListings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateConversation(ctx, &db.Conversation{ID: "c2", OrganizationID: "org-2"}))
	require.NoError(t, store.CreateConversation(ctx, &db.Conversation{ID: "c3", OrganizationID: testOrg, Status: db.ConversationStatusResolved}))

	orgs, err := store.ListOrganizationsWithOpenConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{testOrg, "org-2"}, orgs)

	pending, err := store.ListPendingConversations(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c1", pending[0].ID)

	// A worker died mid-cycle: processing, nothing flagged, lock expired.
	past := time.Now().Add(-time.Minute)
	require.NoError(t, store.CreateConversation(ctx, &db.Conversation{ID: "c4", OrganizationID: testOrg}))
	_, err = store.UpdateConversation(ctx, "c4", testOrg, &db.ConversationPatch{Status: db.StatusPtr(db.ConversationStatusProcessing)})
	require.NoError(t, err)
	ok, err := store.AcquireProcessingLock(ctx, "c4", testOrg, "dead", past.Add(-time.Minute), past)
	require.NoError(t, err)
	require.True(t, ok)

	pending, err = store.ListPendingConversations(ctx, time.Now(), 10)
	require.NoError(t, err)
	var ids []string
	for _, c := range pending {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{"c1", "c4"}, ids)

	// Still inside its window, so it is left alone.
	pending, err = store.ListPendingConversations(ctx, past.Add(-30*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c1", pending[0].ID)

	open, err := store.ListConversationsByStatus(ctx, testOrg, db.ConversationStatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "c1", open[0].ID)
}
