package guardrail

import (
	"time"

	"github.com/Sharpy077/m2mmoving-sub000/internal/dialogue"
)

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthAtRisk   HealthStatus = "at_risk"
	HealthCritical HealthStatus = "critical"
)

const (
	errorPenalty        = 15
	idlePenaltyPerMin   = 3
	maxIdlePenalty      = 30
	stuckStagePenalty   = 20
	stuckStageAfter     = 10 * time.Minute
	missingQuotePenalty = 25
)

type HealthIssue struct {
	Issue     string `json:"issue"`
	Action    string `json:"action"`
	Deduction int    `json:"deduction"`
}

type Health struct {
	Score  int           `json:"score"`
	Status HealthStatus  `json:"status"`
	Issues []HealthIssue `json:"issues,omitempty"`
}

// ConversationHealth scores a conversation from 0 to 100.
func ConversationHealth(c *dialogue.ConversationContext, now time.Time) Health {
	score := 100
	var issues []HealthIssue
	deduct := func(n int, issue, action string) {
		score -= n
		issues = append(issues, HealthIssue{Issue: issue, Action: action, Deduction: n})
	}

	if c.ErrorCount > 0 {
		deduct(errorPenalty*c.ErrorCount, "recent errors", "offer a simpler path or a callback")
	}
	if idleMin := int(now.Sub(c.LastMessageTime) / time.Minute); idleMin > 0 {
		deduct(min(idlePenaltyPerMin*idleMin, maxIdlePenalty), "visitor idle", "send a re-engagement nudge")
	}
	if !c.Stage.Terminal() && now.Sub(c.StageStartTime) > stuckStageAfter {
		deduct(stuckStagePenalty, "stuck in stage", "summarise progress and suggest the next step")
	}
	if c.Stage == dialogue.StageQuoteGenerated && c.QuoteAmount == nil {
		deduct(missingQuotePenalty, "quote stage without a quote", "recalculate the quote")
	}

	score = clamp(score)
	return Health{Score: score, Status: statusFor(score), Issues: issues}
}

func statusFor(score int) HealthStatus {
	switch {
	case score >= 70:
		return HealthHealthy
	case score >= 40:
		return HealthAtRisk
	default:
		return HealthCritical
	}
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
