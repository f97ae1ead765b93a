package session

import (
	"fmt"

	"github.com/Sharpy077/m2mmoving-sub000/internal/dialogue"
	"github.com/Sharpy077/m2mmoving-sub000/internal/guardrail"
)

// GenerateRecoveryPrompt summarises a saved session for a returning visitor.
func GenerateRecoveryPrompt(saved *SavedSession) string {
	if saved == nil || saved.Context == nil {
		return "Welcome back! How can I help with your move today?"
	}
	c := saved.Context
	stage := c.Stage
	if stage == dialogue.StageErrorRecovery && c.PreviousStage.Valid() {
		stage = c.PreviousStage
	}

	greet := "Welcome back!"
	if c.ContactName != "" {
		greet = fmt.Sprintf("Welcome back, %s!", c.ContactName)
	}

	switch stage {
	case dialogue.StageBusinessConfirm:
		return fmt.Sprintf("%s We were confirming %s as your business. Is that still right?", greet, c.BusinessName)
	case dialogue.StageServiceSelect:
		return greet + " Last time we were choosing the type of move. What kind of move is it?"
	case dialogue.StageQualifyingQuestions, dialogue.StageLocationOrigin, dialogue.StageLocationDestination:
		if c.ServiceType != "" {
			return fmt.Sprintf("%s I still have the details of your %s move. Shall we carry on?", greet, c.ServiceType)
		}
	case dialogue.StageQuoteGenerated, dialogue.StageDateSelect:
		if c.QuoteAmount != nil {
			return fmt.Sprintf("%s Your quote of %s for the move from %s to %s is saved. Would you like to choose a moving date?",
				greet, guardrail.Money(*c.QuoteAmount), c.OriginSuburb, c.DestinationSuburb)
		}
	case dialogue.StageContactCollect:
		if c.QuoteAmount != nil {
			return fmt.Sprintf("%s Your %s move on %s is on hold. Shall we finish your contact details?",
				greet, guardrail.Money(*c.QuoteAmount), c.SelectedDate)
		}
	case dialogue.StagePayment:
		return fmt.Sprintf("%s Your booking for %s just needs the deposit. Would you like to finish the payment?", greet, c.SelectedDate)
	}
	return greet + " Shall we pick up your moving quote where we left off?"
}
