package tools

// Definition describes a tool to the completion provider.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

func object(required []string, props map[string]any) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

var definitions = []Definition{
	{
		Name:        LookupBusiness,
		Description: "Search the Australian Business Register by business name or ABN.",
		InputSchema: object([]string{"query"}, map[string]any{
			"query": prop("string", "Business name or 11 digit ABN"),
		}),
	},
	{
		Name:        ConfirmBusiness,
		Description: "Record whether the visitor confirmed the business found by lookupBusiness.",
		InputSchema: object([]string{"confirmed"}, map[string]any{
			"confirmed": prop("boolean", "True when the visitor confirmed the match"),
			"name":      prop("string", "Confirmed business name"),
			"abn":       prop("string", "Confirmed ABN"),
		}),
	},
	{
		Name:        SelectService,
		Description: "Record the type of move.",
		InputSchema: object([]string{"serviceType"}, map[string]any{
			"serviceType": map[string]any{
				"type": "string",
				"enum": []string{"office", "warehouse", "datacenter", "it-equipment", "retail"},
			},
		}),
	},
	{
		Name:        AnswerQualifyingQuestion,
		Description: "Record the visitor's answer to a qualifying question.",
		InputSchema: object([]string{"index", "answer"}, map[string]any{
			"index":        prop("integer", "Index of the question being answered"),
			"answer":       prop("string", "The visitor's answer"),
			"squareMeters": prop("number", "Floor area when the answer is the size question"),
		}),
	},
	{
		Name:        AddInventoryItem,
		Description: "Add items to the move inventory.",
		InputSchema: object([]string{"category", "itemType", "quantity"}, map[string]any{
			"category": prop("string", "Inventory category, e.g. furniture or it"),
			"itemType": prop("string", "Item type, e.g. desk or server_rack"),
			"quantity": prop("integer", "Number of items"),
		}),
	},
	{
		Name:        SetLocations,
		Description: "Record the origin and, when known, the destination suburb.",
		InputSchema: object([]string{"origin"}, map[string]any{
			"origin":      prop("string", "Suburb the business is moving from"),
			"destination": prop("string", "Suburb the business is moving to"),
		}),
	},
	{
		Name:        CalculateQuote,
		Description: "Calculate a quote for the collected move details.",
		InputSchema: object([]string{"serviceType", "origin", "destination"}, map[string]any{
			"serviceType":  prop("string", "Type of move"),
			"squareMeters": prop("number", "Floor area in square metres"),
			"origin":       prop("string", "Origin suburb"),
			"destination":  prop("string", "Destination suburb"),
		}),
	},
	{
		Name:        CheckAvailability,
		Description: "List available moving dates near a preferred date.",
		InputSchema: object(nil, map[string]any{
			"preferredDate": prop("string", "Preferred date, YYYY-MM-DD"),
		}),
	},
	{
		Name:        ConfirmBookingDate,
		Description: "Hold the chosen moving date.",
		InputSchema: object([]string{"date"}, map[string]any{
			"date": prop("string", "Chosen date, YYYY-MM-DD"),
		}),
	},
	{
		Name:        CollectContactInfo,
		Description: "Record the booking contact.",
		InputSchema: object([]string{"name", "email", "phone"}, map[string]any{
			"name":  prop("string", "Contact name"),
			"email": prop("string", "Contact email"),
			"phone": prop("string", "Contact phone number"),
		}),
	},
	{
		Name:        InitiatePayment,
		Description: "Create a checkout for the booking deposit.",
		InputSchema: object(nil, map[string]any{
			"depositAmount": prop("number", "Deposit to charge"),
		}),
	},
	{
		Name:        ConfirmPayment,
		Description: "Check whether the deposit payment has completed.",
		InputSchema: object(nil, map[string]any{
			"checkoutId": prop("string", "Checkout identifier"),
		}),
	},
	{
		Name:        RequestCallback,
		Description: "Ask a team member to call the visitor back.",
		InputSchema: object([]string{"phone"}, map[string]any{
			"phone":  prop("string", "Number to call"),
			"reason": prop("string", "What the visitor needs help with"),
		}),
	},
}

// Lookup returns the definition of a tool by name.
func Lookup(name string) (Definition, bool) {
	for _, d := range definitions {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

// Definitions returns every tool definition.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}
