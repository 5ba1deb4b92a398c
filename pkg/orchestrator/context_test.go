package orchestrator

import (
	"context"
	"testing"

	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/models"
	"github.com/choraleia/helpdesk/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDedupFixture(t *testing.T) (*ContextDeduplicator, *memStore, *db.Conversation) {
	t.Helper()
	clock := newTestClock()
	store := newMemStore(clock)
	store.put(&db.Conversation{ID: "c1", OrganizationID: testOrg})
	return NewContextDeduplicator(store, clock.Now, utils.GetLogger()), store, store.get("c1", testOrg)
}

func TestAddPlaybookContextIsIdempotent(t *testing.T) {
	dedup, store, conv := newDedupFixture(t)
	ctx := context.Background()
	pb := &db.Playbook{ID: "pb-1", Title: "Refunds"}

	added, err := dedup.AddPlaybookContext(ctx, conv, pb)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = dedup.AddPlaybookContext(ctx, conv, pb)
	require.NoError(t, err)
	assert.False(t, added)

	system := store.messagesOfType("c1", testOrg, db.MessageTypeSystem)
	require.Len(t, system, 1)
	meta, ok := system[0].Metadata.Variant.(*db.ContextAddedMetadata)
	require.True(t, ok)
	assert.Equal(t, db.ContextPlaybooks, meta.Context)
	assert.Equal(t, []string{"pb-1"}, meta.IDs)

	persisted := store.get("c1", testOrg)
	assert.Equal(t, []string{"pb-1"}, persisted.OrchestrationStatus.ContextTracking.Playbooks)
}

func TestAddDocumentsContextOnlyInjectsNewIDs(t *testing.T) {
	dedup, store, conv := newDedupFixture(t)
	ctx := context.Background()
	docA := models.DocumentMatch{ID: "doc-a", Content: "Refunds take 5 days", Metadata: map[string]string{"title": "Refund policy"}}
	noID := models.DocumentMatch{Content: "Shipping is free over $50"}

	added, err := dedup.AddDocumentsContext(ctx, conv, []models.DocumentMatch{docA, noID})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = dedup.AddDocumentsContext(ctx, conv, []models.DocumentMatch{noID, docA})
	require.NoError(t, err)
	assert.False(t, added)

	docs := store.get("c1", testOrg).OrchestrationStatus.ContextTracking.Documents
	assert.Equal(t, []string{"doc-a", ContentKey(noID.Content)}, docs)
	assert.Len(t, store.messagesOfType("c1", testOrg, db.MessageTypeSystem), 1)
}

func TestContentKeyIsStable(t *testing.T) {
	k := ContentKey("hello")
	assert.Equal(t, k, ContentKey("hello"))
	assert.NotEqual(t, k, ContentKey("hello!"))
	assert.Regexp(t, `^doc:[0-9a-f]{8}$`, k)
	// FNV-1a 32 of "hello"
	assert.Equal(t, "doc:4f9f2cab", k)
}

func TestResetContextStartsNewEpoch(t *testing.T) {
	dedup, store, conv := newDedupFixture(t)
	ctx := context.Background()

	_, err := dedup.AddAgentContext(ctx, conv, &db.Agent{ID: "ag-1", Name: "Sam"})
	require.NoError(t, err)
	_, err = dedup.AddToolsContext(ctx, conv, []string{"lookup_order"})
	require.NoError(t, err)

	require.NoError(t, dedup.ResetContext(ctx, conv))
	tracking := store.get("c1", testOrg).OrchestrationStatus.ContextTracking
	assert.Empty(t, tracking.Agents)
	assert.Empty(t, tracking.Tools)

	added, err := dedup.AddAgentContext(ctx, conv, &db.Agent{ID: "ag-1", Name: "Sam"})
	require.NoError(t, err)
	assert.True(t, added)
}
