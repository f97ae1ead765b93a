package guardrail

import (
	"fmt"
	"strings"
)

// GenerateToolFollowUp returns the text that follows a tool call so the
// visitor always has a next step.
func GenerateToolFollowUp(tool string, result map[string]any) string {
	if msg := str(result, "error"); msg != "" {
		return "I hit a snag with that step. Would you like me to try again, or have someone from our team call you?"
	}

	switch tool {
	case "lookupBusiness":
		if matches, ok := result["matches"].([]any); ok && len(matches) > 1 {
			return fmt.Sprintf("I found %d businesses that could be yours. Which one is it?", len(matches))
		}
		if b, _ := result["found"].(bool); !b {
			return "I couldn't find that business. Could you try your ABN, or tell me the exact registered name?"
		}
		name := str(result, "name")
		if abn := str(result, "abn"); abn != "" {
			return fmt.Sprintf("I found %s (ABN %s). Is that your business?", name, abn)
		}
		return fmt.Sprintf("I found %s. Is that your business?", name)

	case "confirmBusiness":
		if b, _ := result["confirmed"].(bool); !b {
			return "No worries. What's the business name or ABN I should search for instead?"
		}
		return "Great, thanks for confirming. What kind of move is this: office, warehouse, data centre, IT equipment or retail?"

	case "selectService":
		if q := str(result, "nextQuestion"); q != "" {
			return "Perfect. " + q
		}
		return "Perfect. Which suburb are you moving from?"

	case "answerQualifyingQuestion":
		if q := str(result, "nextQuestion"); q != "" {
			return "Got it. " + q
		}
		return "Thanks, that's everything I need about the space. Which suburb are you moving from?"

	case "addInventoryItem":
		return "Added to your inventory. Is there anything else that's moving?"

	case "setLocations":
		origin, dest := str(result, "origin"), str(result, "destination")
		if dest == "" {
			return "Thanks. Which suburb are you moving to?"
		}
		return fmt.Sprintf("Got it, %s to %s. Shall I work out your quote now?", origin, dest)

	case "calculateQuote":
		amount, ok := num(result, "amount")
		if !ok {
			return "I couldn't work out a quote from those details. Could you double-check the size and locations for me?"
		}
		return fmt.Sprintf("Your estimated quote is %s including GST. Would you like to choose a moving date?", Money(amount))

	case "checkAvailability":
		dates := strs(result, "dates")
		if len(dates) == 0 {
			return "There's no availability in that window. Would you like me to check the following week?"
		}
		return fmt.Sprintf("These dates are available: %s. Which one suits you best?", strings.Join(dates, ", "))

	case "confirmBookingDate":
		return fmt.Sprintf("%s is locked in. What's the best name, email and phone number for the booking?", fallbackStr(str(result, "date"), "Your date"))

	case "collectContactInfo":
		name := fallbackStr(str(result, "name"), "there")
		if dep, ok := num(result, "depositAmount"); ok {
			return fmt.Sprintf("Thanks %s! Shall we secure your booking with the %s deposit?", name, Money(dep))
		}
		return fmt.Sprintf("Thanks %s! Shall we secure your booking with a deposit?", name)

	case "initiatePayment":
		if url := str(result, "checkoutUrl"); url != "" {
			return fmt.Sprintf("Here's your secure checkout: %s. Let me know once the payment is done.", url)
		}
		return "I've opened a secure checkout for your deposit. Let me know once the payment is done."

	case "confirmPayment":
		if b, _ := result["paid"].(bool); b {
			return "Payment received, your move is booked! You'll get a confirmation email shortly."
		}
		return "The payment hasn't come through yet. Would you like to try again, or pay over the phone?"

	case "requestCallback":
		if phone := str(result, "phone"); phone != "" {
			return fmt.Sprintf("Done. Someone from our team will call you on %s shortly. Is there anything else I can help with in the meantime?", phone)
		}
		return "Done. Someone from our team will be in touch shortly. Is there anything else I can help with in the meantime?"
	}

	return "All done. What would you like to do next?"
}

// Money formats an amount in dollars with thousands separators.
func Money(amount float64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	whole := fmt.Sprintf("%.2f", amount)
	intPart, frac := whole[:len(whole)-3], whole[len(whole)-3:]
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := "$" + b.String() + frac
	if neg {
		out = "-" + out
	}
	return out
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
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

func strs(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func fallbackStr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
