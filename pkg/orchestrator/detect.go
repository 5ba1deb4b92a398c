package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Outcome is what a detector concluded about the latest customer message.
type Outcome string

const (
	OutcomeCloseSatisfied   Outcome = "CLOSE_SATISFIED"
	OutcomeCloseUnsatisfied Outcome = "CLOSE_UNSATISFIED"
	OutcomeEscalate         Outcome = "ESCALATE"
	OutcomeContinue         Outcome = "CONTINUE"
)

// Detector tiers, recorded in resolution and message metadata.
const (
	TierPattern = "pattern"
	TierAI      = "ai"
	TierRules   = "rules"
	TierDefault = "default"
)

// Detection is a conclusive detector result.
type Detection struct {
	Outcome    Outcome
	Confidence float64
	Reason     string
	Tier       string
}

// DetectionInput is the turn being judged.
type DetectionInput struct {
	Message string
	History string
	Reply   string
}

// Detector returns ok=false when it cannot decide, letting the next one try.
type Detector interface {
	Name() string
	Detect(ctx context.Context, in DetectionInput) (Detection, bool)
}

// DetectorChain runs detectors in order and stops at the first conclusive one.
type DetectorChain struct {
	detectors []Detector
	logger    *slog.Logger
}

func NewDetectorChain(logger *slog.Logger, detectors ...Detector) *DetectorChain {
	return &DetectorChain{detectors: detectors, logger: logger}
}

// DefaultDetectors is the pattern → AI → weak rules chain.
func DefaultDetectors(completion Completion, logger *slog.Logger) []Detector {
	return []Detector{
		PatternDetector{},
		NewAIDetector(completion, logger),
		RuleFallbackDetector{},
	}
}

// Detect returns CONTINUE when no detector is conclusive.
func (c *DetectorChain) Detect(ctx context.Context, in DetectionInput) Detection {
	for _, d := range c.detectors {
		if det, ok := d.Detect(ctx, in); ok {
			c.logger.Debug("Detection concluded", "detector", d.Name(), "outcome", det.Outcome, "reason", det.Reason)
			return det
		}
	}
	return Detection{Outcome: OutcomeContinue, Tier: TierDefault}
}

var (
	strongEscalationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(speak|talk|chat)\s+(to|with)\s+(a|an|the|some|your)?\s*(human|person|real person|agent|representative|manager|supervisor|someone)\b`),
		regexp.MustCompile(`(?i)\b(human agent|real person|live agent|live person|customer service rep\w*)\b`),
		regexp.MustCompile(`(?i)\b(this is (ridiculous|unacceptable|useless)|so frustrat\w*|fed up|sick of this|worst (service|support))\b`),
	}
	strongUnsatisfiedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(forget it|i give up|not helpful at all|you('re| are) (useless|not helping))\b`),
	}
	strongSatisfiedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\W*((ok|okay)\W+)?((thanks|thank you|thx)\W+)?(bye|goodbye|good bye|bye bye|bye-bye|see (you|ya)|take care|cheers)\W*$`),
		regexp.MustCompile(`(?i)\b(goodbye|bye for now)\b`),
		regexp.MustCompile(`(?i)\b(problem|issue)\s+(is\s+)?(solved|resolved|fixed)\b`),
		regexp.MustCompile(`(?i)\b(that|this|it)\s+(solved|fixed|resolved)\s+(it|my (problem|issue))\b`),
		regexp.MustCompile(`(?i)\b(thanks|thank you)\b.*\b(that'?s all( i needed)?|all set|all good now|works now|that did it)\b`),
	}
	weakSatisfiedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(that'?s all|that'?s it|nothing else|no,? thanks|no,? thank you|all good)\b`),
	}
	weakUnsatisfiedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(never ?mind|doesn'?t matter)\b`),
	}
	gratitudePattern = regexp.MustCompile(`(?i)\b(thanks|thank you|thx|great|perfect|awesome|got it)\b`)
)

func matchAny(patterns []*regexp.Regexp, s string) string {
	for _, p := range patterns {
		if m := p.FindString(s); m != "" {
			return m
		}
	}
	return ""
}

// PatternDetector matches strong, unambiguous phrases.
type PatternDetector struct{}

func (PatternDetector) Name() string { return TierPattern }

func (PatternDetector) Detect(_ context.Context, in DetectionInput) (Detection, bool) {
	msg := strings.TrimSpace(in.Message)
	if m := matchAny(strongEscalationPatterns, msg); m != "" {
		return Detection{Outcome: OutcomeEscalate, Confidence: 0.95, Reason: fmt.Sprintf("escalation phrase %q", m), Tier: TierPattern}, true
	}
	if m := matchAny(strongUnsatisfiedPatterns, msg); m != "" {
		return Detection{Outcome: OutcomeCloseUnsatisfied, Confidence: 0.9, Reason: fmt.Sprintf("unsatisfied closing phrase %q", m), Tier: TierPattern}, true
	}
	if m := matchAny(strongSatisfiedPatterns, msg); m != "" {
		return Detection{Outcome: OutcomeCloseSatisfied, Confidence: 0.95, Reason: fmt.Sprintf("closing phrase %q", m), Tier: TierPattern}, true
	}
	return Detection{}, false
}

// RuleFallbackDetector matches weak closing phrases after the AI tier gave up.
type RuleFallbackDetector struct{}

func (RuleFallbackDetector) Name() string { return TierRules }

func (RuleFallbackDetector) Detect(_ context.Context, in DetectionInput) (Detection, bool) {
	if m := matchAny(weakUnsatisfiedPatterns, in.Message); m != "" {
		return Detection{Outcome: OutcomeCloseUnsatisfied, Confidence: 0.6, Reason: fmt.Sprintf("weak unsatisfied phrase %q", m), Tier: TierRules}, true
	}
	if m := matchAny(weakSatisfiedPatterns, in.Message); m != "" {
		return Detection{Outcome: OutcomeCloseSatisfied, Confidence: 0.6, Reason: fmt.Sprintf("weak closing phrase %q", m), Tier: TierRules}, true
	}
	return Detection{}, false
}

var outcomePattern = regexp.MustCompile(`\b(CLOSE_SATISFIED|CLOSE_UNSATISFIED|ESCALATE|CONTINUE)\b`)

// AIDetector asks the model to label the turn. Call errors and replies
// without a known label are inconclusive.
type AIDetector struct {
	completion Completion
	logger     *slog.Logger
}

func NewAIDetector(completion Completion, logger *slog.Logger) *AIDetector {
	return &AIDetector{completion: completion, logger: logger}
}

func (d *AIDetector) Name() string { return TierAI }

func (d *AIDetector) Detect(ctx context.Context, in DetectionInput) (Detection, bool) {
	resp, err := d.completion.Invoke(ctx, buildDetectionPrompt(in))
	if err != nil {
		d.logger.Warn("Closure detection call failed", "error", err)
		return Detection{}, false
	}
	label := outcomePattern.FindString(strings.ToUpper(resp.Content))
	if label == "" {
		d.logger.Warn("Unparseable closure detection reply", "response", truncate(resp.Content, 200))
		return Detection{}, false
	}
	return Detection{Outcome: Outcome(label), Confidence: 0.8, Reason: "model classification", Tier: TierAI}, true
}

func buildDetectionPrompt(in DetectionInput) string {
	var sb strings.Builder
	sb.WriteString("Decide how this support conversation should proceed after the customer's latest message.\n")
	sb.WriteString("CLOSE_SATISFIED: the customer's need is met and they are done.\n")
	sb.WriteString("CLOSE_UNSATISFIED: the customer is leaving without their need met.\n")
	sb.WriteString("ESCALATE: the customer needs a human agent.\n")
	sb.WriteString("CONTINUE: anything else.\n\n")
	if in.History != "" {
		sb.WriteString("Recent conversation:\n")
		sb.WriteString(in.History)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Customer: ")
	sb.WriteString(in.Message)
	if in.Reply != "" {
		sb.WriteString("\nAssistant: ")
		sb.WriteString(in.Reply)
	}
	sb.WriteString("\n\nAnswer with exactly one label: CLOSE_SATISFIED, CLOSE_UNSATISFIED, ESCALATE or CONTINUE.")
	return sb.String()
}

// closingSignal reports whether the message reads like the customer wrapping up.
func closingSignal(message string) bool {
	return matchAny(strongSatisfiedPatterns, message) != "" ||
		matchAny(weakSatisfiedPatterns, message) != "" ||
		gratitudePattern.MatchString(message)
}

// frustrationSignal reports whether the message reads like an upset customer.
func frustrationSignal(message string) bool {
	return matchAny(strongEscalationPatterns, message) != "" ||
		matchAny(strongUnsatisfiedPatterns, message) != ""
}
