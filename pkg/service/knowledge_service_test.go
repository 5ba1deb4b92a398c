package service

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"testing"

	"github.com/choraleia/helpdesk/pkg/config"
	"github.com/choraleia/helpdesk/pkg/event"
	"github.com/choraleia/helpdesk/pkg/models"
	chromem "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bagOfWords hashes words into a fixed vector so similar texts score higher.
func bagOfWords(calls *int) chromem.EmbeddingFunc {
	var mu sync.Mutex
	return func(_ context.Context, text string) ([]float32, error) {
		mu.Lock()
		*calls++
		mu.Unlock()
		vec := make([]float32, 64)
		vec[0] = 0.01
		for _, w := range strings.Fields(strings.ToLower(text)) {
			w = strings.Trim(w, ".,?!:;")
			if w == "" {
				continue
			}
			h := fnv.New32a()
			_, _ = h.Write([]byte(w))
			vec[1+int(h.Sum32()%63)]++
		}
		return vec, nil
	}
}

type collectingEmitter struct {
	mu     sync.Mutex
	events []event.Event
}

func (e *collectingEmitter) Emit(ev event.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *collectingEmitter) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.EventName())
	}
	return out
}

func newTestKnowledge(t *testing.T, calls *int) (*KnowledgeService, *collectingEmitter) {
	t.Helper()
	em := &collectingEmitter{}
	ks, err := NewKnowledgeService(openTestDB(t), config.VectorStoreConfig{}, bagOfWords(calls), em)
	require.NoError(t, err)
	return ks, em
}

func TestKnowledgeSearchRanksRelevantDocumentFirst(t *testing.T) {
	ctx := context.Background()
	calls := 0
	ks, em := newTestKnowledge(t, &calls)

	_, err := ks.IndexDocument(ctx, testOrg, &models.IndexDocumentRequest{
		ID: "refunds", Title: "Refund policy", Source: "https://example.com/refunds",
		Content: "Refunds are issued within 14 days of purchase to the original payment method.",
	})
	require.NoError(t, err)
	_, err = ks.IndexDocument(ctx, testOrg, &models.IndexDocumentRequest{
		ID: "shipping", Title: "Shipping times",
		Content: "Orders ship in two business days. International delivery takes a week.",
	})
	require.NoError(t, err)

	hits, err := ks.Search(ctx, testOrg, "how do refunds work for my purchase", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2, "limit is clamped to the collection size")
	assert.Equal(t, "refunds", hits[0].ID)
	assert.Equal(t, "Refund policy", hits[0].Title())
	assert.Equal(t, "https://example.com/refunds", hits[0].Source())
	assert.False(t, strings.HasPrefix(hits[0].Content, "Refund policy"), "title is stripped from content")
	assert.Greater(t, hits[0].Similarity, hits[1].Similarity)

	assert.Equal(t, []string{event.DocumentIndexed, event.DocumentIndexed}, em.names())
}

func TestKnowledgeSearchIsScopedToOrganization(t *testing.T) {
	ctx := context.Background()
	calls := 0
	ks, _ := newTestKnowledge(t, &calls)

	_, err := ks.IndexDocument(ctx, "org-2", &models.IndexDocumentRequest{Title: "Secret", Content: "internal pricing"})
	require.NoError(t, err)

	hits, err := ks.Search(ctx, testOrg, "pricing", 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestKnowledgeReindexUnchangedDocumentSkipsEmbedding(t *testing.T) {
	ctx := context.Background()
	calls := 0
	ks, _ := newTestKnowledge(t, &calls)
	req := &models.IndexDocumentRequest{ID: "faq", Title: "FAQ", Content: "Opening hours are 9 to 5."}

	first, err := ks.IndexDocument(ctx, testOrg, req)
	require.NoError(t, err)
	embedded := calls

	second, err := ks.IndexDocument(ctx, testOrg, req)
	require.NoError(t, err)
	assert.Equal(t, embedded, calls)
	assert.Equal(t, first.ContentHash, second.ContentHash)

	req.Content = "Opening hours are 8 to 6."
	third, err := ks.IndexDocument(ctx, testOrg, req)
	require.NoError(t, err)
	assert.Greater(t, calls, embedded)
	assert.NotEqual(t, first.ContentHash, third.ContentHash)

	docs, err := ks.ListDocuments(ctx, testOrg)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Opening hours are 8 to 6.", docs[0].Content)
}

func TestKnowledgeDeleteAndRebuild(t *testing.T) {
	ctx := context.Background()
	calls := 0
	ks, _ := newTestKnowledge(t, &calls)

	_, err := ks.IndexDocument(ctx, testOrg, &models.IndexDocumentRequest{ID: "a", Title: "A", Content: "alpha"})
	require.NoError(t, err)
	_, err = ks.IndexDocument(ctx, testOrg, &models.IndexDocumentRequest{ID: "b", Title: "B", Content: "beta"})
	require.NoError(t, err)

	require.NoError(t, ks.DeleteDocument(ctx, testOrg, "a"))
	assert.ErrorIs(t, ks.DeleteDocument(ctx, testOrg, "a"), ErrDocumentNotFound)

	hits, err := ks.Search(ctx, testOrg, "alpha", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)

	n, err := ks.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestKnowledgeDisabledWithoutEmbedder(t *testing.T) {
	ks, err := NewKnowledgeService(openTestDB(t), config.VectorStoreConfig{}, nil, &collectingEmitter{})
	require.NoError(t, err)
	assert.False(t, ks.Enabled())

	_, err = ks.Search(context.Background(), testOrg, "anything", 1)
	assert.ErrorIs(t, err, ErrVectorStoreDisabled)
	_, err = ks.IndexDocument(context.Background(), testOrg, &models.IndexDocumentRequest{Title: "x", Content: "y"})
	assert.ErrorIs(t, err, ErrVectorStoreDisabled)
}
