// Package fallback picks the safe reply shown when a turn cannot be produced.
package fallback

import (
	"fmt"

	"github.com/Sharpy077/m2mmoving-sub000/internal/dialogue"
	"github.com/Sharpy077/m2mmoving-sub000/internal/resilience"
)

type Strategy string

const (
	StrategyOffline         Strategy = "offline"
	StrategyCached          Strategy = "cached"
	StrategySimplified      Strategy = "simplified"
	StrategyHumanEscalation Strategy = "human_escalation"
	StrategyGeneric         Strategy = "generic"
)

type ActionKind string

const (
	ActionRetry    ActionKind = "retry"
	ActionPhone    ActionKind = "phone"
	ActionCallback ActionKind = "callback"
	ActionEmail    ActionKind = "email"
)

type Action struct {
	Kind  ActionKind `json:"kind"`
	Label string     `json:"label"`
	Value string     `json:"value,omitempty"`
}

type Input struct {
	ErrorType  resilience.ErrorType
	RetryCount int
	Stage      dialogue.Stage
}

type Response struct {
	Strategy Strategy `json:"strategy"`
	Message  string   `json:"message"`
	Actions  []Action `json:"actions"`
	Escalate bool     `json:"escalate"`
}

// EscalateAfter is the retry count after which a human takes over.
const EscalateAfter = 3

type Provider struct {
	phone string
	email string
}

func NewProvider(phone, email string) *Provider {
	return &Provider{phone: phone, email: email}
}

// Select chooses the fallback for a failed turn. Every response offers at
// least one action so the visitor is never left at a dead end.
func (p *Provider) Select(in Input) Response {
	switch {
	case in.ErrorType == resilience.ErrorNetwork && in.RetryCount >= EscalateAfter:
		return Response{
			Strategy: StrategyOffline,
			Message:  "It looks like the connection dropped. Your progress is saved, so you can pick up right where you left off once you're back online.",
			Actions:  []Action{p.retry(), p.phoneAction()},
		}
	case in.ErrorType == resilience.ErrorAPI:
		return Response{
			Strategy: StrategyCached,
			Message:  cachedMessage(in.Stage),
			Actions:  []Action{p.retry(), p.callback(), p.phoneAction()},
		}
	case in.ErrorType == resilience.ErrorModel:
		return Response{
			Strategy: StrategySimplified,
			Message:  simplifiedMessage(in.Stage),
			Actions:  []Action{p.retry(), p.phoneAction()},
		}
	case in.RetryCount >= EscalateAfter:
		return Response{
			Strategy: StrategyHumanEscalation,
			Message:  fmt.Sprintf("I'm having trouble on my end, so I'm passing you to our team. You can also call us on %s or we can call you back.", p.phone),
			Actions:  []Action{p.phoneAction(), p.callback(), p.emailAction()},
			Escalate: true,
		}
	}
	return Response{
		Strategy: StrategyGeneric,
		Message:  "Sorry, something went wrong on my side. Would you like to try that again?",
		Actions:  []Action{p.retry(), p.callback(), p.emailAction()},
	}
}

func (p *Provider) retry() Action {
	return Action{Kind: ActionRetry, Label: "Try again"}
}

func (p *Provider) phoneAction() Action {
	return Action{Kind: ActionPhone, Label: "Call us", Value: p.phone}
}

func (p *Provider) callback() Action {
	return Action{Kind: ActionCallback, Label: "Request a callback"}
}

func (p *Provider) emailAction() Action {
	return Action{Kind: ActionEmail, Label: "Email us", Value: p.email}
}

func cachedMessage(stage dialogue.Stage) string {
	switch stage {
	case dialogue.StageQuoteGenerated, dialogue.StageDateSelect:
		return "Our systems are a little slow right now, but your quote is saved. Shall we try again in a moment?"
	case dialogue.StageContactCollect, dialogue.StagePayment:
		return "Our systems are a little slow right now. Your booking details are saved and nothing has been charged. Shall we try again?"
	case dialogue.StageQualifyingQuestions, dialogue.StageLocationOrigin, dialogue.StageLocationDestination:
		return "Our systems are a little slow right now, but I've kept your answers so far. Shall we try again?"
	}
	return "Our systems are a little slow right now, but everything you've told me is saved. Shall we try again?"
}

func simplifiedMessage(stage dialogue.Stage) string {
	if prompt := dialogue.Config(stage).ReengagePrompt; prompt != "" {
		return "Let's keep it simple. " + prompt
	}
	return "Let's keep it simple. How can I help with your move?"
}
