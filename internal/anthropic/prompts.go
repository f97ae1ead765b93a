package anthropic

import (
	"fmt"
	"strings"

	"github.com/Sharpy077/m2mmoving-sub000/internal/dialogue"
)

const persona = `You are Maya, the quoting assistant for M2M Moving, a commercial removals company in Melbourne.

You guide business customers from first hello to a booked move with a paid deposit:
greet, find their business, choose the type of move, ask the qualifying questions,
take the origin and destination suburbs, quote, pick a date, collect contact details
and take the deposit.

## Rules
- Ask exactly one question per message and always end with a clear next step.
- Acknowledge what the customer just told you before asking the next thing.
- Whenever you call a tool, also write a short message for the customer.
- Use the tools to record every detail you learn; never invent quotes, dates or ABNs.
- Keep replies under 80 words, warm and plain. Australian English.
- If the customer asks for a person, call requestCallback.`

func buildSystemPrompt(c *dialogue.ConversationContext) string {
	var b strings.Builder
	b.WriteString(persona)
	if c == nil {
		return b.String()
	}

	b.WriteString("\n\n## Current stage\n")
	b.WriteString(string(c.Stage))
	if cfg := dialogue.Config(c.Stage); len(cfg.Next) > 0 {
		next := make([]string, len(cfg.Next))
		for i, s := range cfg.Next {
			next[i] = string(s)
		}
		fmt.Fprintf(&b, " (next: %s)", strings.Join(next, ", "))
	}

	if known := collected(c); len(known) > 0 {
		b.WriteString("\n\n## Known details\n")
		for _, line := range known {
			b.WriteString("- " + line + "\n")
		}
	}

	if qs := dialogue.UnansweredQuestions(c); len(qs) > 0 {
		b.WriteString("\n## Qualifying questions still to ask (use answerQualifyingQuestion with the index)\n")
		for _, q := range qs {
			fmt.Fprintf(&b, "%d. %s\n", q.Index, q.Text)
		}
	}
	return b.String()
}

func collected(c *dialogue.ConversationContext) []string {
	var out []string
	add := func(label, v string) {
		if v != "" {
			out = append(out, label+": "+v)
		}
	}
	add("Business", c.BusinessName)
	add("ABN", c.BusinessABN)
	add("Service", c.ServiceType)
	if c.SquareMeters != nil {
		add("Floor area", fmt.Sprintf("%.0f sqm", *c.SquareMeters))
	}
	add("From", c.OriginSuburb)
	add("To", c.DestinationSuburb)
	if c.QuoteAmount != nil {
		add("Quote", fmt.Sprintf("$%.2f", *c.QuoteAmount))
	}
	add("Date", c.SelectedDate)
	add("Contact", c.ContactName)
	add("Email", c.ContactEmail)
	add("Phone", c.ContactPhone)
	if len(c.InventoryItems) > 0 {
		items := make([]string, len(c.InventoryItems))
		for i, it := range c.InventoryItems {
			items[i] = fmt.Sprintf("%d x %s", it.Quantity, it.ItemType)
		}
		add("Inventory", strings.Join(items, ", "))
	}
	return out
}
