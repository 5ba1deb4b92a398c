package orchestrator

import (
	"context"
	"testing"

	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPlaybooks() *memPlaybooks {
	return &memPlaybooks{items: []db.Playbook{
		{ID: "refund", OrganizationID: testOrg, Title: "Refunds", Trigger: "refund requests", Status: db.PlaybookStatusActive},
		{ID: "shipping", OrganizationID: testOrg, Title: "Shipping", Trigger: "delivery questions", Status: db.PlaybookStatusActive},
		{ID: "escalate", OrganizationID: testOrg, Title: "Human handover", Trigger: db.TriggerHumanEscalation, Status: db.PlaybookStatusActive},
		{ID: "old", OrganizationID: testOrg, Title: "Old promo", Trigger: "promo", Status: db.PlaybookStatusArchived},
	}}
}

func newMatcher(fc *fakeCompletion, pbs *memPlaybooks) *PlaybookMatcher {
	logger := utils.GetLogger()
	return NewPlaybookMatcher(NewIntentClassifier(fc, logger), pbs, fc, DefaultConfig(), logger)
}

func TestSelectPlaybookNoActivePlaybooks(t *testing.T) {
	fc := newFakeCompletion()
	m := newMatcher(fc, &memPlaybooks{})

	sel, err := m.SelectPlaybook(context.Background(), "hi", testOrg, "", "")
	require.NoError(t, err)
	assert.Nil(t, sel.Playbook)
	assert.False(t, sel.Switched)
	assert.Zero(t, fc.calls(markMatch))
}

func TestSelectPlaybookPicksBestAboveFloor(t *testing.T) {
	fc := newFakeCompletion().on(markMatch, `{"matches":[
		{"id":"shipping","confidence":0.75},
		{"id":"refund","confidence":0.9,"reasoning":"asks for money back"},
		{"id":"old","confidence":0.99}
	]}`)
	m := newMatcher(fc, testPlaybooks())

	sel, err := m.SelectPlaybook(context.Background(), "I want my money back", testOrg, "", "")
	require.NoError(t, err)
	require.NotNil(t, sel.Playbook)
	assert.Equal(t, "refund", sel.Playbook.ID)
	assert.True(t, sel.Switched)
	assert.InDelta(t, 0.9, sel.Confidence, 1e-9)
	assert.NotContains(t, fc.lastPrompt(markMatch), "Old promo")
}

func TestSelectPlaybookFloorIsExclusive(t *testing.T) {
	fc := newFakeCompletion().on(markMatch, `{"matches":[{"id":"refund","confidence":0.7}]}`)
	m := newMatcher(fc, testPlaybooks())

	sel, err := m.SelectPlaybook(context.Background(), "hello", testOrg, "", "")
	require.NoError(t, err)
	assert.Nil(t, sel.Playbook)
	assert.False(t, sel.Switched)
}

func TestSelectPlaybookStaysBelowSwitchThreshold(t *testing.T) {
	fc := newFakeCompletion().on(markMatch, `{"matches":[{"id":"shipping","confidence":0.8}]}`)
	m := newMatcher(fc, testPlaybooks())

	sel, err := m.SelectPlaybook(context.Background(), "also where is my parcel", testOrg, "", "refund")
	require.NoError(t, err)
	require.NotNil(t, sel.Playbook)
	assert.Equal(t, "refund", sel.Playbook.ID)
	assert.False(t, sel.Switched)
	assert.Contains(t, sel.Reasoning, "below switch threshold")
}

func TestSelectPlaybookSwitchesAtThreshold(t *testing.T) {
	fc := newFakeCompletion().on(markMatch, `{"matches":[{"id":"shipping","confidence":0.85}]}`)
	m := newMatcher(fc, testPlaybooks())

	sel, err := m.SelectPlaybook(context.Background(), "where is my parcel", testOrg, "", "refund")
	require.NoError(t, err)
	assert.Equal(t, "shipping", sel.SelectedID())
	assert.True(t, sel.Switched)
	require.NotNil(t, sel.Previous)
	assert.Equal(t, "refund", sel.Previous.ID)
}

func TestSelectPlaybookEscalationAlwaysSwitches(t *testing.T) {
	fc := newFakeCompletion().on(markMatch, `{"matches":[{"id":"escalate","confidence":0.72}]}`)
	m := newMatcher(fc, testPlaybooks())

	sel, err := m.SelectPlaybook(context.Background(), "get me a person", testOrg, "", "refund")
	require.NoError(t, err)
	assert.Equal(t, "escalate", sel.SelectedID())
	assert.True(t, sel.Switched)
}

func TestSelectPlaybookNoMatchKeepsCurrent(t *testing.T) {
	fc := newFakeCompletion().on(markMatch, `{"matches":[]}`)
	m := newMatcher(fc, testPlaybooks())

	sel, err := m.SelectPlaybook(context.Background(), "ok", testOrg, "", "refund")
	require.NoError(t, err)
	assert.Equal(t, "refund", sel.SelectedID())
	assert.False(t, sel.Switched)
}

func TestSelectPlaybookRulesOnBadJSON(t *testing.T) {
	fc := newFakeCompletion().
		on(markIntent, "not json").
		on(markMatch, "the refund one I think")
	m := newMatcher(fc, testPlaybooks())

	sel, err := m.SelectPlaybook(context.Background(), "let me speak to a human", testOrg, "", "")
	require.NoError(t, err)
	assert.Equal(t, "escalate", sel.SelectedID())
	assert.Equal(t, IntentSourceRules, sel.Intent.Source)

	sel, err = m.SelectPlaybook(context.Background(), "refund please", testOrg, "", "")
	require.NoError(t, err)
	assert.Nil(t, sel.Playbook)
}
