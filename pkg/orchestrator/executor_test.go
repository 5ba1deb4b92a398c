package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/models"
	"github.com/choraleia/helpdesk/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentQAWithOnlyPlaceholdersSkipsModel(t *testing.T) {
	search := &fakeSearch{hits: []models.DocumentMatch{
		{ID: "d1", Content: "Lorem ipsum dolor sit amet", Similarity: 0.9},
		{ID: "d2", Content: "Contact us at help@example.com", Similarity: 0.8},
		{ID: "d3", Content: "Real text", Similarity: 0.8, Metadata: map[string]string{"source": "https://test.com/faq"}},
	}}
	fc := newFakeCompletion()
	ex := NewExecutor(fc, search, DefaultConfig(), utils.GetLogger())

	res := ex.Execute(context.Background(), &Plan{Path: PathDocumentQA}, ExecutionInput{OrganizationID: testOrg, Message: "refunds?"})
	assert.Equal(t, DontKnowReply, res.Content)
	assert.False(t, res.Degraded)
	assert.Empty(t, fc.prompts)
}

func TestDocumentQACitesSurvivingDocuments(t *testing.T) {
	search := &fakeSearch{hits: []models.DocumentMatch{
		{ID: "d1", Content: "Refunds are issued within 5 business days.", Similarity: 0.9, Metadata: map[string]string{"title": "Refund policy"}},
		{ID: "d2", Content: "placeholder", Similarity: 0.8},
		{ID: "d3", Content: "Store credit never expires.", Similarity: 0.75, Metadata: map[string]string{"title": "Store credit"}},
	}}
	fc := newFakeCompletion().on(markDocQA, "Refunds take 5 business days [1].")
	ex := NewExecutor(fc, search, DefaultConfig(), utils.GetLogger())

	res := ex.Execute(context.Background(), &Plan{Path: PathDocumentQA}, ExecutionInput{OrganizationID: testOrg, Message: "how long do refunds take?"})
	require.False(t, res.Degraded)
	assert.Equal(t, "Refunds take 5 business days [1].", res.Content)
	require.Len(t, res.Documents, 2)
	assert.Equal(t, []string{"d1", "d3"}, citationIDs(res.Documents))

	prompt := fc.lastPrompt(markDocQA)
	assert.Contains(t, prompt, "[1] Refund policy")
	assert.Contains(t, prompt, "[2] Store credit")
}

func TestExecuteFailureReturnsFallback(t *testing.T) {
	fc := newFakeCompletion()
	fc.err = errModelDown
	ex := NewExecutor(fc, nil, DefaultConfig(), utils.GetLogger())

	res := ex.Execute(context.Background(), &Plan{Path: PathPlaybook}, ExecutionInput{Message: "hi"})
	assert.True(t, res.Degraded)
	assert.Equal(t, FallbackReply, res.Content)
	assert.True(t, IsTransient(res.Err))
	assert.ErrorIs(t, res.Err, errModelDown)
}

func TestBuildSystemPromptLayerOrder(t *testing.T) {
	plan := &Plan{
		Path: PathPlaybook,
		Playbook: &db.Playbook{
			ID: "refund", Title: "Refunds", Instructions: "Verify the order first.",
			RequiredFields: db.StringArray{"order_number"},
		},
		Agent:          &db.Agent{ID: "ag", Name: "Sam", Tone: "warm", Avoid: "jargon", Trigger: "billing"},
		SupportingDocs: []models.DocumentMatch{{ID: "d1", Content: "Refunds within 30 days.", Metadata: map[string]string{"title": "Policy"}}},
	}
	prompt := BuildSystemPrompt(plan, "I want a refund")

	order := []string{sectionPlaybook, sectionPersona, sectionFlow, sectionDocuments, sectionGuardrails}
	last := -1
	for _, s := range order {
		idx := strings.Index(prompt, s)
		require.GreaterOrEqual(t, idx, 0, "missing section %q", s)
		assert.Greater(t, idx, last, "section %q out of order", s)
		last = idx
	}
	assert.Contains(t, prompt, "Verify the order first.")
	assert.Contains(t, prompt, "Tone: warm")
	assert.Contains(t, prompt, "Avoid: jargon")
	assert.Contains(t, prompt, "order_number")
	assert.Contains(t, prompt, "I don't have that information")
}

func TestBuildSystemPromptSkipsMissingLayers(t *testing.T) {
	prompt := BuildSystemPrompt(&Plan{Path: PathPlaybook}, "thanks, that's all")
	assert.NotContains(t, prompt, sectionPlaybook)
	assert.NotContains(t, prompt, sectionPersona)
	assert.NotContains(t, prompt, sectionDocuments)
	assert.Contains(t, prompt, "wrapping up")
	assert.Contains(t, prompt, sectionGuardrails)
}
