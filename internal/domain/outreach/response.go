package outreach

import "time"

// ResponseType describes how a captured answer is typed
type ResponseType string

const (
	ResponseYesNo        ResponseType = "YES_NO"
	ResponseNumeric      ResponseType = "NUMERIC"
	ResponseSingleChoice ResponseType = "SINGLE_CHOICE"
	ResponseMultiChoice  ResponseType = "MULTI_CHOICE"
	ResponseText         ResponseType = "TEXT"
)

// RedFlagNone is the default red-flag annotation on a captured response
const RedFlagNone = "NONE"

// Response is one answered question within an attempt. The typed value is
// immutable once captured; only the red-flag annotation is overwritten when
// a triage rule matches.
type Response struct {
	ID              string
	AttemptID       string
	QuestionCode    string
	QuestionVersion int
	ResponseType    ResponseType
	ValueText       string
	ValueNumber     *float64
	ValueBool       *bool
	ValueChoices    []string
	RawReply        string
	RedFlagSeverity string
	RedFlagCode     string
	CapturedAt      time.Time
}

// NewResponse captures an answer with no red-flag annotation
func NewResponse(id, attemptID, questionCode string, questionVersion int, rt ResponseType) *Response {
	return &Response{
		ID:              id,
		AttemptID:       attemptID,
		QuestionCode:    questionCode,
		QuestionVersion: questionVersion,
		ResponseType:    rt,
		RedFlagSeverity: RedFlagNone,
		CapturedAt:      time.Now().UTC(),
	}
}

// Flag overwrites the red-flag annotation. Last write wins when multiple
// rules hit the same response; severity reduction upstream already took the
// maximum.
func (r *Response) Flag(severity, ruleCode string) {
	r.RedFlagSeverity = severity
	r.RedFlagCode = ruleCode
}
