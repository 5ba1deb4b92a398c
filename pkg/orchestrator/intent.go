package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/utils"
)

// Intent vocabulary.
const (
	IntentQuestion         = "question"
	IntentComplaint        = "complaint"
	IntentRequestHuman     = "request_human"
	IntentGreeting         = "greeting"
	IntentFarewell         = "farewell"
	IntentTechnicalSupport = "technical_support"
	IntentBilling          = "billing"
	IntentProductInquiry   = "product_inquiry"
	IntentGeneralHelp      = "general_help"
	IntentFeedback         = "feedback"
	IntentAccount          = "account"
)

// IntentVocabulary is the closed set of intents the classifier may return.
var IntentVocabulary = []string{
	IntentQuestion, IntentComplaint, IntentRequestHuman, IntentGreeting, IntentFarewell,
	IntentTechnicalSupport, IntentBilling, IntentProductInquiry, IntentGeneralHelp,
	IntentFeedback, IntentAccount,
}

const (
	IntentSourceAI    = "ai"
	IntentSourceRules = "rules"

	ruleConfidence         = 0.6
	ruleFallbackConfidence = 0.5
)

// intentRules are evaluated in order; every matching category is reported.
var intentRules = []struct {
	intent  string
	pattern *regexp.Regexp
}{
	{IntentRequestHuman, regexp.MustCompile(`(?i)\b(human|real person|live agent|representative|speak (to|with) (someone|somebody|an? agent)|talk (to|with) (someone|somebody|an? agent))\b`)},
	{IntentComplaint, regexp.MustCompile(`(?i)\b(complain\w*|unacceptable|terrible|awful|worst|disappointed|frustrat\w*|angry|not happy|ridiculous)\b`)},
	{IntentBilling, regexp.MustCompile(`(?i)\b(bill\w*|invoice\w*|charge[ds]?|refund\w*|payment\w*|pay|subscription\w*|price|pricing|cost)\b`)},
	{IntentAccount, regexp.MustCompile(`(?i)\b(account|password|log ?in|sign ?in|sign ?up|username|profile|2fa|two.factor)\b`)},
	{IntentTechnicalSupport, regexp.MustCompile(`(?i)\b(error|bug|crash\w*|broken|not working|doesn'?t work|won'?t (load|start|open)|fail\w*|issue|problem)\b`)},
	{IntentProductInquiry, regexp.MustCompile(`(?i)\b(product|feature\w*|plan|plans|support for|does it|can it|available|compatible)\b`)},
	{IntentFeedback, regexp.MustCompile(`(?i)\b(feedback|suggest\w*|recommend\w*|would be nice|love (it|the)|great job)\b`)},
	{IntentGreeting, regexp.MustCompile(`(?i)^\s*(hi|hello|hey|good (morning|afternoon|evening)|greetings)\b`)},
	{IntentFarewell, regexp.MustCompile(`(?i)\b(bye|goodbye|see you|take care|have a (good|nice) (day|one))\b`)},
	{IntentQuestion, regexp.MustCompile(`(?i)(\?\s*$|^\s*(how|what|why|when|where|who|which|can|could|is|are|do|does)\b)`)},
}

// IntentClassifier labels a customer message with intents from IntentVocabulary.
type IntentClassifier struct {
	completion Completion
	logger     *slog.Logger
}

func NewIntentClassifier(completion Completion, logger *slog.Logger) *IntentClassifier {
	return &IntentClassifier{completion: completion, logger: logger}
}

type intentReply struct {
	Intents    []string `json:"intents"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// Classify asks the model for intents and falls back to ClassifyByRules when
// the call fails or the reply is not usable JSON. It always returns a result.
func (c *IntentClassifier) Classify(ctx context.Context, message, history string) db.IntentAnalysis {
	prompt := buildIntentPrompt(message, history)
	resp, err := c.completion.Invoke(ctx, prompt)
	if err != nil {
		c.logger.Warn("Intent classification call failed, using rules", "error", err)
		return ClassifyByRules(message)
	}

	ia, err := parseIntentReply(resp.Content)
	if err != nil {
		c.logger.Warn("Failed to parse intent classification, using rules", "error", err)
		return ClassifyByRules(message)
	}
	return ia
}

func buildIntentPrompt(message, history string) string {
	var sb strings.Builder
	sb.WriteString("Classify the intent of the customer's latest message in a support conversation.\n")
	sb.WriteString("Choose one or more intents from this list only: ")
	sb.WriteString(strings.Join(IntentVocabulary, ", "))
	sb.WriteString(".\n\n")
	if history != "" {
		sb.WriteString("Recent conversation:\n")
		sb.WriteString(history)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Customer message:\n")
	sb.WriteString(message)
	sb.WriteString("\n\nRespond with JSON only: {\"intents\": [\"...\"], \"confidence\": 0.0-1.0, \"reasoning\": \"...\"}")
	return sb.String()
}

func parseIntentReply(content string) (db.IntentAnalysis, error) {
	raw := utils.ExtractJSON(content)
	if raw == "" {
		return db.IntentAnalysis{}, fmt.Errorf("no JSON object in reply")
	}
	var r intentReply
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return db.IntentAnalysis{}, fmt.Errorf("unmarshal intents: %w", err)
	}

	var intents []string
	seen := map[string]bool{}
	for _, in := range r.Intents {
		in = strings.ToLower(strings.TrimSpace(in))
		if !isKnownIntent(in) || seen[in] {
			continue
		}
		seen[in] = true
		intents = append(intents, in)
	}
	if len(intents) == 0 {
		return db.IntentAnalysis{}, fmt.Errorf("no known intents in reply")
	}
	return db.IntentAnalysis{
		Intents:    intents,
		Confidence: clamp01(r.Confidence),
		Source:     IntentSourceAI,
		Reasoning:  r.Reasoning,
	}, nil
}

// ClassifyByRules is the deterministic classifier. It performs no I/O.
func ClassifyByRules(message string) db.IntentAnalysis {
	var intents []string
	for _, r := range intentRules {
		if r.pattern.MatchString(message) {
			intents = append(intents, r.intent)
		}
	}
	if len(intents) == 0 {
		return db.IntentAnalysis{
			Intents:    []string{IntentGeneralHelp},
			Confidence: ruleFallbackConfidence,
			Source:     IntentSourceRules,
		}
	}
	return db.IntentAnalysis{
		Intents:    intents,
		Confidence: ruleConfidence,
		Source:     IntentSourceRules,
	}
}

func isKnownIntent(s string) bool {
	for _, v := range IntentVocabulary {
		if v == s {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func hasIntent(ia db.IntentAnalysis, intent string) bool {
	for _, in := range ia.Intents {
		if in == intent {
			return true
		}
	}
	return false
}
