package engine

import (
	"strings"

	"github.com/Sharpy077/m2mmoving-sub000/internal/dialogue"
	"github.com/Sharpy077/m2mmoving-sub000/internal/tools"
)

// effect is what a tool result did to the dialogue.
type effect struct {
	moved    bool
	refused  *dialogue.TransitionResult
	escalate string
}

// applyTool folds a tool result into the machine. Failed tools change nothing.
// The output map may gain a nextQuestion entry for the follow-up text.
func applyTool(m *dialogue.Machine, res tools.Result) effect {
	out := res.Output
	if res.Err != nil || out == nil {
		return effect{}
	}

	var eff effect
	move := func(target dialogue.Stage, patch dialogue.Patch) {
		r := reach(m, target, patch)
		if !r.Allowed {
			eff.refused = &r
			return
		}
		if r.From != r.To {
			eff.moved = true
		}
	}

	switch res.Name {
	case tools.LookupBusiness:
		if found, _ := out["found"].(bool); found && str(out, "name") != "" {
			move(dialogue.StageBusinessConfirm, dialogue.Patch{
				BusinessName: optStr(out, "name"),
				BusinessABN:  optStr(out, "abn"),
			})
		} else {
			move(dialogue.StageBusinessLookup, dialogue.Patch{})
		}

	case tools.ConfirmBusiness:
		if ok, _ := out["confirmed"].(bool); ok {
			move(dialogue.StageServiceSelect, dialogue.Patch{
				BusinessName: optStr(out, "name"),
				BusinessABN:  optStr(out, "abn"),
			})
		} else if m.Stage() == dialogue.StageBusinessConfirm {
			// Wrong match: fall back to searching again.
			if r := m.Retreat(); r.From != r.To {
				eff.moved = true
			}
		} else {
			move(dialogue.StageBusinessLookup, dialogue.Patch{})
		}

	case tools.SelectService:
		service, ok := dialogue.NormalizeService(str(out, "serviceType"))
		if !ok {
			return eff
		}
		out["serviceType"] = service
		move(dialogue.StageQualifyingQuestions, dialogue.Patch{ServiceType: &service})
		if eff.refused == nil {
			if qs := m.UnansweredQuestions(); len(qs) > 0 {
				out["nextQuestion"] = qs[0].Text
			}
		}

	case tools.AnswerQualifyingQuestion:
		idx, ok := num(out, "index")
		answer := strings.TrimSpace(str(out, "answer"))
		if !ok || answer == "" {
			return eff
		}
		patch := dialogue.Patch{QualifyingAnswers: map[int]string{int(idx): answer}}
		if sqm, ok := num(out, "squareMeters"); ok && int(idx) == dialogue.SizeQuestion && sqm > 0 {
			patch.SquareMeters = &sqm
		}
		m.UpdateContext(patch)
		if qs := m.UnansweredQuestions(); len(qs) > 0 {
			out["nextQuestion"] = qs[0].Text
		} else if m.Stage() == dialogue.StageQualifyingQuestions {
			move(dialogue.StageLocationOrigin, dialogue.Patch{})
		}

	case tools.AddInventoryItem:
		qty, _ := num(out, "quantity")
		m.AddInventoryItem(dialogue.InventoryItem{
			Category: str(out, "category"),
			ItemType: str(out, "itemType"),
			Quantity: int(qty),
		})

	case tools.SetLocations:
		origin, dest := optStr(out, "origin"), optStr(out, "destination")
		if origin == nil {
			return eff
		}
		if dest == nil {
			move(dialogue.StageLocationOrigin, dialogue.Patch{OriginSuburb: origin})
			if eff.refused == nil {
				move(dialogue.StageLocationDestination, dialogue.Patch{})
			}
		} else {
			move(dialogue.StageLocationDestination, dialogue.Patch{OriginSuburb: origin, DestinationSuburb: dest})
		}

	case tools.CalculateQuote:
		amount, ok := num(out, "amount")
		if !ok {
			return eff
		}
		patch := dialogue.Patch{
			QuoteAmount:       &amount,
			OriginSuburb:      optStr(out, "origin"),
			DestinationSuburb: optStr(out, "destination"),
		}
		if dep, ok := num(out, "depositAmount"); ok {
			patch.DepositAmount = &dep
		}
		if sqm, ok := num(out, "squareMeters"); ok && sqm > 0 {
			patch.SquareMeters = &sqm
		}
		move(dialogue.StageQuoteGenerated, patch)

	case tools.CheckAvailability:
		move(dialogue.StageDateSelect, dialogue.Patch{})

	case tools.ConfirmBookingDate:
		if date := optStr(out, "date"); date != nil {
			move(dialogue.StageContactCollect, dialogue.Patch{SelectedDate: date})
		}

	case tools.CollectContactInfo:
		move(dialogue.StagePayment, dialogue.Patch{
			ContactName:  optStr(out, "name"),
			ContactEmail: optStr(out, "email"),
			ContactPhone: optStr(out, "phone"),
		})

	case tools.InitiatePayment:
		if dep, ok := num(out, "depositAmount"); ok {
			m.UpdateContext(dialogue.Patch{DepositAmount: &dep})
		}

	case tools.ConfirmPayment:
		if paid, _ := out["paid"].(bool); paid {
			move(dialogue.StageComplete, dialogue.Patch{DepositPaid: dialogue.Ptr(true)})
		}

	case tools.RequestCallback:
		m.UpdateContext(dialogue.Patch{ContactPhone: optStr(out, "phone")})
		move(dialogue.StageHumanEscalation, dialogue.Patch{})
		eff.escalate = reasonCallback
	}
	return eff
}

// reach moves the machine forward to target along the shortest legal path,
// merging patch at every step. It stops at the first refusal.
func reach(m *dialogue.Machine, target dialogue.Stage, patch dialogue.Patch) dialogue.TransitionResult {
	from := m.Stage()
	if from == target {
		m.UpdateContext(patch)
		return dialogue.TransitionResult{Allowed: true, From: from, To: target}
	}
	path := dialogue.Path(from, target)
	if len(path) == 0 {
		return m.TransitionTo(target, patch)
	}
	var res dialogue.TransitionResult
	for _, s := range path {
		res = m.TransitionTo(s, patch)
		if !res.Allowed {
			return res
		}
	}
	res.From = from
	return res
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func optStr(m map[string]any, key string) *string {
	s := strings.TrimSpace(str(m, key))
	if s == "" {
		return nil
	}
	return &s
}

func num(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
