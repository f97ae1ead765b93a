// Package guardrail checks assistant turns and visitor input before they move the dialogue.
package guardrail

import (
	"strings"

	"github.com/Sharpy077/m2mmoving-sub000/internal/dialogue"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

const (
	ViolationToolWithoutText    = "tool_without_text"
	ViolationEmptyResponse      = "empty_response"
	ViolationNoFollowupQuestion = "no_followup_question"
	ViolationMultipleQuestions  = "multiple_questions"

	RecommendAcknowledgment = "missing_acknowledgment"
)

// maxQuestions is the most question marks a single turn may carry.
const maxQuestions = 2

// ackThreshold is the input length above which the reply should acknowledge the visitor.
const ackThreshold = 10

type Violation struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

type Result struct {
	Passed          bool        `json:"passed"`
	Violations      []Violation `json:"violations,omitempty"`
	Recommendations []string    `json:"recommendations,omitempty"`
}

// Blocking reports whether any violation must stop the turn from being released.
func (r Result) Blocking() bool { return !r.Passed }

var ctaPhrases = []string{
	"let me know", "please", "tell me", "click", "select", "choose", "confirm",
	"share", "enter", "provide", "tap", "reply", "call us", "pick",
}

var ackPatterns = []string{
	"thanks", "thank you", "great", "got it", "perfect", "understood", "sounds good",
	"no problem", "i see", "awesome", "excellent", "noted", "lovely", "wonderful", "sure",
}

// ValidateResponse checks a candidate turn for the stage it was produced in.
// userInput is the visitor message the turn answers.
func ValidateResponse(turn dialogue.Turn, stage dialogue.Stage, userInput string) Result {
	text := strings.TrimSpace(turn.Text)
	lower := strings.ToLower(text)
	var res Result

	if turn.HasTools() && text == "" {
		res.Violations = append(res.Violations, Violation{
			Type:     ViolationToolWithoutText,
			Severity: SeverityError,
			Message:  "tool invoked without any accompanying text",
		})
	}
	if !turn.HasTools() && text == "" {
		res.Violations = append(res.Violations, Violation{
			Type:     ViolationEmptyResponse,
			Severity: SeverityCritical,
			Message:  "response has neither text nor tool calls",
		})
	}
	if text != "" && !stage.Terminal() && !strings.Contains(text, "?") && !containsAny(lower, ctaPhrases) {
		res.Violations = append(res.Violations, Violation{
			Type:     ViolationNoFollowupQuestion,
			Severity: SeverityWarning,
			Message:  "response does not ask a question or give a next step",
		})
	}
	if strings.Count(text, "?") > maxQuestions {
		res.Violations = append(res.Violations, Violation{
			Type:     ViolationMultipleQuestions,
			Severity: SeverityWarning,
			Message:  "response asks more than two questions",
		})
	}
	if len(strings.TrimSpace(userInput)) > ackThreshold && text != "" && !containsAny(lower, ackPatterns) {
		res.Recommendations = append(res.Recommendations, RecommendAcknowledgment)
	}

	res.Passed = true
	for _, v := range res.Violations {
		if v.Severity == SeverityError || v.Severity == SeverityCritical {
			res.Passed = false
		}
	}
	return res
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
