package classify

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/pkg/anthropic"
)

type mockLLM struct {
	response string
	err      error
	calls    int
}

func (m *mockLLM) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: m.response}},
	}, nil
}

func TestClassifyRules(t *testing.T) {
	t.Parallel()
	c := New(nil, "")

	tests := []struct {
		name    string
		subject string
		body    string
		want    Intent
	}{
		{"out of office", "Automatic reply: catching up", "I am out of office until Monday.", IntentOutOfOffice},
		{"bounce report", "Delivery Status Notification", "The message could not be delivered.", IntentBounce},
		{"unsubscribe", "Re: Quick question", "Please remove me from your list.", IntentUnsubscribe},
		{"not interested", "Re: Quick question", "Thanks but we're all set for now.", IntentNotInterested},
		{"not interested beats interested", "Re:", "Not interested, sorry.", IntentNotInterested},
		{"meeting specific", "Re:", "Here's my Calendly, grab a time.", IntentMeetingRequest},
		{"meeting weak", "Re:", "Happy to meet later this month.", IntentMeetingRequest},
		{"interested", "Re:", "This sounds interesting, send me more details.", IntentInterested},
		{"question", "Re:", "How much does the pro plan cost per seat", IntentQuestion},
		{"neutral", "Re:", "Thanks for reaching out.", IntentNeutral},
		{"case folded", "RE:", "UNSUBSCRIBE", IntentUnsubscribe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := c.Classify(context.Background(), tt.subject, tt.body)
			assert.Equal(t, tt.want, res.Intent)
			assert.Equal(t, "rules", res.Tier)
		})
	}
}

func TestClassifyEscalatesNeutralOnly(t *testing.T) {
	t.Parallel()
	llm := &mockLLM{response: `{"intent":"interested","confidence":0.82}`}
	c := New(llm, "claude-haiku-4-5-20251001")

	// A confident rule match must not reach the LLM.
	res := c.Classify(context.Background(), "Re:", "Please unsubscribe me.")
	assert.Equal(t, IntentUnsubscribe, res.Intent)
	assert.Equal(t, 0, llm.calls)

	// A neutral result escalates.
	res = c.Classify(context.Background(), "Re:", "Let me loop in my colleague.")
	assert.Equal(t, IntentInterested, res.Intent)
	assert.Equal(t, "llm", res.Tier)
	assert.InDelta(t, 0.82, res.Confidence, 1e-9)
	assert.Equal(t, 1, llm.calls)
}

func TestClassifyLLMFailureFallsBack(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		llm  *mockLLM
	}{
		{"network error", &mockLLM{err: eris.New("connection reset by peer")}},
		{"garbage response", &mockLLM{response: "I think this person is interested."}},
		{"unknown intent", &mockLLM{response: `{"intent":"enthusiastic","confidence":0.9}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := New(tt.llm, "claude-haiku-4-5-20251001")
			res := c.Classify(context.Background(), "Re:", "Let me think about it.")
			assert.Equal(t, IntentNeutral, res.Intent, "failure keeps the rule result")
			assert.Equal(t, "rules", res.Tier)
		})
	}
}

func TestParseIntentJSONClampsConfidence(t *testing.T) {
	t.Parallel()

	res, err := parseIntentJSON(`Sure! {"intent":"interested","confidence":1.7}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Confidence)

	res, err = parseIntentJSON(`{"intent":"neutral","confidence":-0.2}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Confidence)
}

func TestEventFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		intent Intent
		want   model.LeadEvent
	}{
		{IntentInterested, model.EventReplyInterested},
		{IntentMeetingRequest, model.EventReplyInterested},
		{IntentNotInterested, model.EventReplyNotInterested},
		{IntentUnsubscribe, model.EventUnsubscribe},
		{IntentBounce, model.EventEmailBounced},
		{IntentOutOfOffice, model.EventReplyReceived},
		{IntentQuestion, model.EventReplyReceived},
		{IntentNeutral, model.EventReplyReceived},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EventFor(tt.intent), string(tt.intent))
	}
}
