package orchestrator

import (
	"context"
	"testing"

	"github.com/choraleia/helpdesk/pkg/utils"
	"github.com/stretchr/testify/assert"
)

func TestPatternDetector(t *testing.T) {
	tests := []struct {
		message string
		want    Outcome
		ok      bool
	}{
		{"bye", OutcomeCloseSatisfied, true},
		{"Thanks, bye!", OutcomeCloseSatisfied, true},
		{"ok thank you, goodbye", OutcomeCloseSatisfied, true},
		{"great, that fixed it", OutcomeCloseSatisfied, true},
		{"My issue is resolved", OutcomeCloseSatisfied, true},
		{"I want to talk to a human", OutcomeEscalate, true},
		{"this is ridiculous, bye", OutcomeEscalate, true},
		{"forget it", OutcomeCloseUnsatisfied, true},
		{"where is my order?", "", false},
		{"that's all", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			det, ok := PatternDetector{}.Detect(context.Background(), DetectionInput{Message: tt.message})
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, det.Outcome)
				assert.Equal(t, TierPattern, det.Tier)
			}
		})
	}
}

func TestDetectorChainPatternShortCircuits(t *testing.T) {
	fc := newFakeCompletion().on(markDetect, "CONTINUE")
	logger := utils.GetLogger()
	chain := NewDetectorChain(logger, DefaultDetectors(fc, logger)...)

	det := chain.Detect(context.Background(), DetectionInput{Message: "bye"})
	assert.Equal(t, OutcomeCloseSatisfied, det.Outcome)
	assert.Zero(t, fc.calls(markDetect))
}

func TestDetectorChainUsesModelLabel(t *testing.T) {
	fc := newFakeCompletion().on(markDetect, "Label: escalate")
	logger := utils.GetLogger()
	chain := NewDetectorChain(logger, DefaultDetectors(fc, logger)...)

	det := chain.Detect(context.Background(), DetectionInput{Message: "can someone call me back?", Reply: "Sure."})
	assert.Equal(t, OutcomeEscalate, det.Outcome)
	assert.Equal(t, TierAI, det.Tier)
	assert.Equal(t, 1, fc.calls(markDetect))
}

func TestDetectorChainFallsThroughInconclusiveModel(t *testing.T) {
	tests := []struct {
		name    string
		fc      *fakeCompletion
		message string
		want    Outcome
		tier    string
	}{
		{"unparseable reply", newFakeCompletion().on(markDetect, "hmm, not sure"), "no, that's all", OutcomeCloseSatisfied, TierRules},
		{"call error", newFakeCompletion().fail(markDetect, errModelDown), "never mind", OutcomeCloseUnsatisfied, TierRules},
		{"nothing matches", newFakeCompletion().on(markDetect, "???"), "what about shipping to Canada", OutcomeContinue, TierDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := utils.GetLogger()
			chain := NewDetectorChain(logger, DefaultDetectors(tt.fc, logger)...)
			det := chain.Detect(context.Background(), DetectionInput{Message: tt.message})
			assert.Equal(t, tt.want, det.Outcome)
			assert.Equal(t, tt.tier, det.Tier)
			assert.Equal(t, 1, tt.fc.calls(markDetect))
		})
	}
}
