// Package classify assigns an intent to inbound reply text. A fast ordered
// rule pass handles the obvious cases; ambiguous replies escalate to an LLM
// scorer, and any scorer failure falls back silently to the rule result.
package classify

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/sells-group/outreach-engine/internal/metrics"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/pkg/anthropic"
)

// Intent is a reply intent category.
type Intent string

const (
	IntentOutOfOffice    Intent = "out_of_office"
	IntentBounce         Intent = "bounce"
	IntentUnsubscribe    Intent = "unsubscribe"
	IntentNotInterested  Intent = "not_interested"
	IntentMeetingRequest Intent = "meeting_request"
	IntentInterested     Intent = "interested"
	IntentQuestion       Intent = "question"
	IntentNeutral        Intent = "neutral"
)

var knownIntents = map[Intent]bool{
	IntentOutOfOffice: true, IntentBounce: true, IntentUnsubscribe: true,
	IntentNotInterested: true, IntentMeetingRequest: true, IntentInterested: true,
	IntentQuestion: true, IntentNeutral: true,
}

// Result is a classified reply with the tier that produced it.
type Result struct {
	Intent     Intent
	Confidence float64
	Tier       string // "rules" or "llm"
}

// escalationThreshold: a neutral rule result below this confidence goes to
// the LLM tier.
const escalationThreshold = 0.7

type rule struct {
	intent     Intent
	confidence float64
	patterns   []string
}

// Ordered most-specific first; the first matching rule wins. Meeting
// requests are split into specific and weak pattern groups so a concrete
// scheduling phrase outranks loose interest language.
var rules = []rule{
	{IntentOutOfOffice, 0.9, []string{
		"out of office", "out of the office", "on vacation", "annual leave",
		"parental leave", "automatic reply", "auto-reply", "i am currently away",
		"back in the office on",
	}},
	{IntentBounce, 0.95, []string{
		"delivery failed", "undeliverable", "delivery status notification",
		"mailbox not found", "user unknown", "address not found",
		"recipient rejected", "message could not be delivered",
	}},
	{IntentUnsubscribe, 0.95, []string{
		"unsubscribe", "remove me from", "take me off", "opt out",
		"stop emailing", "stop contacting", "do not contact",
	}},
	{IntentNotInterested, 0.85, []string{
		"not interested", "no thanks", "no thank you", "we're all set",
		"we are all set", "not a fit", "not a good fit", "no need",
		"please don't follow up",
	}},
	{IntentMeetingRequest, 0.9, []string{
		"calendly", "book a time", "schedule a call", "schedule a meeting",
		"set up a meeting", "here's my calendar", "grab a time",
	}},
	{IntentMeetingRequest, 0.75, []string{
		"happy to meet", "jump on a call", "hop on a call", "free next week",
		"available on",
	}},
	{IntentInterested, 0.8, []string{
		"interested", "tell me more", "sounds interesting", "learn more",
		"send me more", "more details", "pricing", "sounds good",
	}},
	{IntentQuestion, 0.6, []string{
		"how much", "how does", "what does", "what is", "could you explain",
		"can you clarify", "?",
	}},
}

// eventFor maps an intent to the lifecycle event it raises.
var eventFor = map[Intent]model.LeadEvent{
	IntentInterested:     model.EventReplyInterested,
	IntentMeetingRequest: model.EventReplyInterested,
	IntentNotInterested:  model.EventReplyNotInterested,
	IntentUnsubscribe:    model.EventUnsubscribe,
	IntentBounce:         model.EventEmailBounced,
}

// EventFor returns the lifecycle event an intent raises. Intents without a
// specific mapping raise the generic reply event.
func EventFor(intent Intent) model.LeadEvent {
	if ev, ok := eventFor[intent]; ok {
		return ev
	}
	return model.EventReplyReceived
}

// Classifier runs the two-tier pass. A nil LLM client disables escalation.
type Classifier struct {
	llm    anthropic.Client
	model  string
	folder cases.Caser
	logger *zap.Logger
}

func New(llm anthropic.Client, llmModel string) *Classifier {
	return &Classifier{
		llm:    llm,
		model:  llmModel,
		folder: cases.Fold(),
		logger: zap.L().Named("classify"),
	}
}

// Classify returns the intent for a reply. It never returns an error: the
// worst case is the neutral rule result.
func (c *Classifier) Classify(ctx context.Context, subject, body string) Result {
	res := c.classifyRules(subject, body)
	if res.Intent == IntentNeutral && res.Confidence < escalationThreshold && c.llm != nil {
		if llmRes, err := c.classifyLLM(ctx, subject, body); err == nil {
			metrics.Classifications.WithLabelValues("llm", string(llmRes.Intent)).Inc()
			return llmRes
		} else {
			c.logger.Debug("llm escalation failed, keeping rule result", zap.Error(err))
			metrics.Classifications.WithLabelValues("fallback", string(res.Intent)).Inc()
			return res
		}
	}
	metrics.Classifications.WithLabelValues("rules", string(res.Intent)).Inc()
	return res
}

func (c *Classifier) classifyRules(subject, body string) Result {
	text := c.folder.String(subject + "\n" + body)
	for _, r := range rules {
		for _, p := range r.patterns {
			if strings.Contains(text, p) {
				return Result{Intent: r.intent, Confidence: r.confidence, Tier: "rules"}
			}
		}
	}
	return Result{Intent: IntentNeutral, Confidence: 0.5, Tier: "rules"}
}

const classifySystemPrompt = `You classify replies to cold outreach emails.
Respond with a single JSON object and nothing else:
{"intent": "<one of: out_of_office, bounce, unsubscribe, not_interested, meeting_request, interested, question, neutral>", "confidence": <0.0-1.0>}`

func (c *Classifier) classifyLLM(ctx context.Context, subject, body string) (Result, error) {
	resp, err := c.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: 128,
		System:    []anthropic.SystemBlock{{Text: classifySystemPrompt}},
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: "Subject: " + subject + "\n\n" + body,
		}},
	})
	if err != nil {
		return Result{}, err
	}
	resp.Usage.LogCost(c.model, "classify")

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	parsed, err := parseIntentJSON(text)
	if err != nil {
		return Result{}, err
	}
	parsed.Tier = "llm"
	return parsed, nil
}

// parseIntentJSON extracts the first JSON object from the model output and
// validates it. Confidence is clamped to [0,1].
func parseIntentJSON(text string) (Result, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Result{}, eris.New("classify: no JSON object in response")
	}

	var payload struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil {
		return Result{}, eris.Wrap(err, "classify: parse response")
	}

	intent := Intent(payload.Intent)
	if !knownIntents[intent] {
		return Result{}, eris.Errorf("classify: unknown intent %q", payload.Intent)
	}

	conf := payload.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return Result{Intent: intent, Confidence: conf}, nil
}
