package triage

import (
	"testing"

	"github.com/carebridge/go-oce/internal/domain/outreach"
)

func numPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool      { return &v }

func weightGainRule() RedFlagRule {
	return RedFlagRule{
		Code:         "HF_WEIGHT_GAIN",
		Condition:    "HF",
		QuestionCode: "WEIGHT_CHANGE_LBS",
		Operator:     OpGTE,
		ValueNumber:  numPtr(3),
		Severity:     SeverityHigh,
		Active:       true,
	}
}

func numericResponse(question string, value float64) *outreach.Response {
	r := outreach.NewResponse("resp-1", "att-1", question, 1, outreach.ResponseNumeric)
	r.ValueNumber = numPtr(value)
	return r
}

func TestEvaluateNumericThreshold(t *testing.T) {
	e := NewEvaluator(nil)
	resp := numericResponse("WEIGHT_CHANGE_LBS", 5)

	triggered, max := e.Evaluate([]RedFlagRule{weightGainRule()}, []*outreach.Response{resp})

	if len(triggered) != 1 || triggered[0].Code != "HF_WEIGHT_GAIN" {
		t.Fatalf("expected HF_WEIGHT_GAIN to trigger, got %v", triggered)
	}
	if max != SeverityHigh {
		t.Errorf("expected HIGH severity, got %s", max)
	}
	if resp.RedFlagSeverity != string(SeverityHigh) || resp.RedFlagCode != "HF_WEIGHT_GAIN" {
		t.Errorf("expected response annotation, got %s/%s", resp.RedFlagSeverity, resp.RedFlagCode)
	}
}

func TestEvaluateBelowThreshold(t *testing.T) {
	e := NewEvaluator(nil)
	resp := numericResponse("WEIGHT_CHANGE_LBS", 1)

	triggered, max := e.Evaluate([]RedFlagRule{weightGainRule()}, []*outreach.Response{resp})

	if len(triggered) != 0 {
		t.Fatalf("expected no triggered rules, got %v", triggered)
	}
	if max != SeverityNone {
		t.Errorf("expected NONE severity, got %s", max)
	}
	if resp.RedFlagSeverity != outreach.RedFlagNone {
		t.Errorf("response should retain NONE, got %s", resp.RedFlagSeverity)
	}
}

func TestEvaluateYesNoEquality(t *testing.T) {
	e := NewEvaluator(nil)
	rule := RedFlagRule{
		Code:         "HF_SOB",
		Condition:    "HF",
		QuestionCode: "SHORTNESS_OF_BREATH",
		Operator:     OpEQ,
		ValueText:    "YES",
		Severity:     SeverityCritical,
		Active:       true,
	}
	resp := outreach.NewResponse("resp-2", "att-1", "SHORTNESS_OF_BREATH", 1, outreach.ResponseYesNo)
	resp.ValueBool = boolPtr(true)

	triggered, max := e.Evaluate([]RedFlagRule{rule}, []*outreach.Response{resp})
	if len(triggered) != 1 || max != SeverityCritical {
		t.Fatalf("expected critical trigger, got %v / %s", triggered, max)
	}
}

func TestEvaluateWrongValueTypeIsNoOp(t *testing.T) {
	e := NewEvaluator(nil)
	// Numeric rule, but the response only carries free text.
	resp := outreach.NewResponse("resp-3", "att-1", "WEIGHT_CHANGE_LBS", 1, outreach.ResponseText)
	resp.ValueText = "about the same"

	triggered, max := e.Evaluate([]RedFlagRule{weightGainRule()}, []*outreach.Response{resp})
	if len(triggered) != 0 || max != SeverityNone {
		t.Fatalf("wrong value type must never match, got %v / %s", triggered, max)
	}
}

func TestEvaluateEmptyCatalog(t *testing.T) {
	e := NewEvaluator(nil)
	resp := numericResponse("WEIGHT_CHANGE_LBS", 10)

	triggered, max := e.Evaluate(nil, []*outreach.Response{resp})
	if triggered != nil || max != SeverityNone {
		t.Fatalf("empty catalog must degrade to no red flags, got %v / %s", triggered, max)
	}
}

func TestEvaluateNoSeverityInflation(t *testing.T) {
	e := NewEvaluator(nil)
	low := weightGainRule()
	low.Code = "HF_WEIGHT_LOW"
	low.Severity = SeverityLow
	moderate := weightGainRule()
	moderate.Code = "HF_WEIGHT_MOD"
	moderate.Severity = SeverityModerate

	rules := []RedFlagRule{low, moderate}
	resp := numericResponse("WEIGHT_CHANGE_LBS", 4)

	_, max := e.Evaluate(rules, []*outreach.Response{resp})

	highest := SeverityNone
	for _, r := range rules {
		highest = Max(highest, r.Severity)
	}
	if max.Rank() > highest.Rank() {
		t.Errorf("result severity %s exceeds highest matching rule severity %s", max, highest)
	}
	if max != SeverityModerate {
		t.Errorf("expected MODERATE, got %s", max)
	}
}

func TestEvaluateInactiveRuleSkipped(t *testing.T) {
	e := NewEvaluator(nil)
	rule := weightGainRule()
	rule.Active = false

	triggered, max := e.Evaluate([]RedFlagRule{rule}, []*outreach.Response{numericResponse("WEIGHT_CHANGE_LBS", 9)})
	if len(triggered) != 0 || max != SeverityNone {
		t.Fatalf("inactive rule must not fire, got %v / %s", triggered, max)
	}
}

func TestSeverityMax(t *testing.T) {
	cases := []struct {
		a, b, want Severity
	}{
		{SeverityNone, SeverityLow, SeverityLow},
		{SeverityHigh, SeverityModerate, SeverityHigh},
		{SeverityCritical, SeverityHigh, SeverityCritical},
		{SeverityNone, SeverityNone, SeverityNone},
	}
	for _, c := range cases {
		if got := Max(c.a, c.b); got != c.want {
			t.Errorf("Max(%s, %s) = %s, want %s", c.a, c.b, got, c.want)
		}
	}
}
