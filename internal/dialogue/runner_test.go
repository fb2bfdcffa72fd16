package dialogue

import (
	"context"
	"testing"
	"time"

	"github.com/carebridge/go-oce/internal/domain/outreach"
)

// scriptedTransport replays canned patient replies in order
type scriptedTransport struct {
	kind    outreach.Channel
	sent    []string
	replies []string
	next    int
	sendErr error
}

func (s *scriptedTransport) Kind() outreach.Channel { return s.kind }

func (s *scriptedTransport) Send(_ context.Context, _, text string) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, text)
	return nil
}

func (s *scriptedTransport) AwaitReply(ctx context.Context, _ string) (string, error) {
	if s.next >= len(s.replies) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	reply := s.replies[s.next]
	s.next++
	return reply, nil
}

func hfScript() []Question {
	return []Question{
		{Code: "WEIGHT_CHANGE_LBS", Version: 1, Ordinal: 1, Text: "How many pounds has your weight changed since discharge?", ResponseType: outreach.ResponseNumeric},
		{Code: "SHORTNESS_OF_BREATH", Version: 1, Ordinal: 2, Text: "Are you more short of breath than usual?", ResponseType: outreach.ResponseYesNo},
	}
}

func TestRunnerHappyPath(t *testing.T) {
	transport := &scriptedTransport{kind: outreach.ChannelSMS, replies: []string{"5", "yep"}}
	runner := NewRunner(DefaultConfig(), nil, nil, nil)

	result, err := runner.Run(context.Background(), "att-1", hfScript(), transport, "+15550100")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !result.Connected {
		t.Error("expected connected=true")
	}
	if len(result.Responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(result.Responses))
	}

	// greeting + 2 questions + closing sent, 2 replies received.
	if result.MessageCount != 6 {
		t.Errorf("message count = %d, want 6", result.MessageCount)
	}

	weight := result.Responses[0]
	if weight.ValueNumber == nil || *weight.ValueNumber != 5 {
		t.Errorf("weight response = %+v", weight)
	}
	sob := result.Responses[1]
	if sob.ValueBool == nil || !*sob.ValueBool {
		t.Errorf(`"yep" should normalize to YES via the token tier: %+v`, sob)
	}
	if sob.RawReply != "yep" {
		t.Errorf("raw reply not preserved: %q", sob.RawReply)
	}
}

func TestRunnerEmptyScriptFailsImmediately(t *testing.T) {
	transport := &scriptedTransport{kind: outreach.ChannelSMS}
	runner := NewRunner(DefaultConfig(), nil, nil, nil)

	result, err := runner.Run(context.Background(), "att-1", nil, transport, "+15550100")
	if err == nil {
		t.Fatal("expected error for empty script")
	}
	if result.Connected || len(result.Responses) != 0 {
		t.Errorf("empty script must produce no contact: %+v", result)
	}
	if len(transport.sent) != 0 {
		t.Errorf("nothing should be sent for an empty script, sent %v", transport.sent)
	}
}

func TestRunnerNoReplyResolvesInsteadOfHanging(t *testing.T) {
	transport := &scriptedTransport{kind: outreach.ChannelSMS} // never replies
	cfg := DefaultConfig()
	cfg.ReplyTimeout = 20 * time.Millisecond
	runner := NewRunner(cfg, nil, nil, nil)

	done := make(chan struct{})
	var err error
	var result *Result
	go func() {
		result, err = runner.Run(context.Background(), "att-1", hfScript(), transport, "+15550100")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner hung waiting for a reply")
	}
	if err == nil {
		t.Fatal("expected error when the patient never replies")
	}
	if result.Connected {
		t.Error("no reply received, connected must be false")
	}
}

func TestRunnerSendFailurePropagates(t *testing.T) {
	transport := &scriptedTransport{kind: outreach.ChannelVoice, sendErr: context.DeadlineExceeded}
	runner := NewRunner(DefaultConfig(), nil, nil, nil)

	_, err := runner.Run(context.Background(), "att-1", hfScript(), transport, "+15550100")
	if err == nil {
		t.Fatal("expected transport failure to propagate")
	}
}

func TestRunnerQuestionFormattingIncludesChoices(t *testing.T) {
	transport := &scriptedTransport{kind: outreach.ChannelSMS, replies: []string{"2"}}
	runner := NewRunner(DefaultConfig(), nil, nil, nil)
	script := []Question{{
		Code:         "PAIN_LEVEL",
		Version:      1,
		Text:         "How is your pain today?",
		ResponseType: outreach.ResponseSingleChoice,
		Choices:      []string{"none", "mild", "severe"},
	}}

	result, err := runner.Run(context.Background(), "att-1", script, transport, "+15550100")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(transport.sent) < 2 {
		t.Fatalf("expected greeting plus question, sent %v", transport.sent)
	}
	questionText := transport.sent[1]
	if questionText == script[0].Text {
		t.Error("choices should be appended to forced-choice question text")
	}
	if got := result.Responses[0].ValueChoices; len(got) != 1 || got[0] != "mild" {
		t.Errorf(`"2" should select the mild choice, got %v`, got)
	}
}
