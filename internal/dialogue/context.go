package dialogue

import (
	"maps"
	"slices"
	"time"
)

// Field names a value collected during the dialogue.
type Field string

const (
	FieldBusinessName      Field = "businessName"
	FieldBusinessABN       Field = "businessAbn"
	FieldServiceType       Field = "serviceType"
	FieldSquareMeters      Field = "squareMeters"
	FieldOriginSuburb      Field = "originSuburb"
	FieldDestinationSuburb Field = "destinationSuburb"
	FieldQuoteAmount       Field = "quoteAmount"
	FieldSelectedDate      Field = "selectedDate"
	FieldContactName       Field = "contactName"
	FieldContactEmail      Field = "contactEmail"
	FieldContactPhone      Field = "contactPhone"
	FieldDepositAmount     Field = "depositAmount"
	FieldDepositPaid       Field = "depositPaid"
)

// ConversationContext is the state of one dialogue thread.
type ConversationContext struct {
	ConversationID string `json:"conversationId"`
	VisitorID      string `json:"visitorId,omitempty"`
	Stage          Stage  `json:"stage"`
	PreviousStage  Stage  `json:"previousStage,omitempty"`

	BusinessName      string   `json:"businessName,omitempty"`
	BusinessABN       string   `json:"businessAbn,omitempty"`
	ServiceType       string   `json:"serviceType,omitempty"`
	SquareMeters      *float64 `json:"squareMeters,omitempty"`
	OriginSuburb      string   `json:"originSuburb,omitempty"`
	DestinationSuburb string   `json:"destinationSuburb,omitempty"`
	QuoteAmount       *float64 `json:"quoteAmount,omitempty"`
	SelectedDate      string   `json:"selectedDate,omitempty"`
	ContactName       string   `json:"contactName,omitempty"`
	ContactEmail      string   `json:"contactEmail,omitempty"`
	ContactPhone      string   `json:"contactPhone,omitempty"`
	DepositAmount     *float64 `json:"depositAmount,omitempty"`
	DepositPaid       bool     `json:"depositPaid,omitempty"`

	LastMessageTime time.Time `json:"lastMessageTime"`
	StageStartTime  time.Time `json:"stageStartTime"`
	ErrorCount      int       `json:"errorCount"`

	QualifyingAnswers map[int]string  `json:"qualifyingAnswers"`
	InventoryItems    []InventoryItem `json:"inventoryItems"`
	EstimatedSize     float64         `json:"estimatedSize,omitempty"`
}

// NewContext returns a fresh context at the greeting stage.
func NewContext(conversationID, visitorID string, now time.Time) *ConversationContext {
	return &ConversationContext{
		ConversationID:    conversationID,
		VisitorID:         visitorID,
		Stage:             StageGreeting,
		LastMessageTime:   now,
		StageStartTime:    now,
		QualifyingAnswers: map[int]string{},
	}
}

// Has reports whether f holds a value.
func (c *ConversationContext) Has(f Field) bool {
	switch f {
	case FieldBusinessName:
		return c.BusinessName != ""
	case FieldBusinessABN:
		return c.BusinessABN != ""
	case FieldServiceType:
		return c.ServiceType != ""
	case FieldSquareMeters:
		return c.SquareMeters != nil
	case FieldOriginSuburb:
		return c.OriginSuburb != ""
	case FieldDestinationSuburb:
		return c.DestinationSuburb != ""
	case FieldQuoteAmount:
		return c.QuoteAmount != nil
	case FieldSelectedDate:
		return c.SelectedDate != ""
	case FieldContactName:
		return c.ContactName != ""
	case FieldContactEmail:
		return c.ContactEmail != ""
	case FieldContactPhone:
		return c.ContactPhone != ""
	case FieldDepositAmount:
		return c.DepositAmount != nil
	case FieldDepositPaid:
		return c.DepositPaid
	}
	return false
}

// Missing returns the fields of want that are not populated, in order.
func (c *ConversationContext) Missing(want []Field) []Field {
	var missing []Field
	for _, f := range want {
		if !c.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// Clone returns a deep copy.
func (c *ConversationContext) Clone() *ConversationContext {
	out := *c
	out.SquareMeters = clonePtr(c.SquareMeters)
	out.QuoteAmount = clonePtr(c.QuoteAmount)
	out.DepositAmount = clonePtr(c.DepositAmount)
	out.QualifyingAnswers = maps.Clone(c.QualifyingAnswers)
	if out.QualifyingAnswers == nil {
		out.QualifyingAnswers = map[int]string{}
	}
	out.InventoryItems = slices.Clone(c.InventoryItems)
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Patch is a partial update of the collected fields. Nil members are left alone.
type Patch struct {
	BusinessName      *string        `json:"businessName,omitempty"`
	BusinessABN       *string        `json:"businessAbn,omitempty"`
	ServiceType       *string        `json:"serviceType,omitempty"`
	SquareMeters      *float64       `json:"squareMeters,omitempty"`
	OriginSuburb      *string        `json:"originSuburb,omitempty"`
	DestinationSuburb *string        `json:"destinationSuburb,omitempty"`
	QuoteAmount       *float64       `json:"quoteAmount,omitempty"`
	SelectedDate      *string        `json:"selectedDate,omitempty"`
	ContactName       *string        `json:"contactName,omitempty"`
	ContactEmail      *string        `json:"contactEmail,omitempty"`
	ContactPhone      *string        `json:"contactPhone,omitempty"`
	DepositAmount     *float64       `json:"depositAmount,omitempty"`
	DepositPaid       *bool          `json:"depositPaid,omitempty"`
	QualifyingAnswers map[int]string `json:"qualifyingAnswers,omitempty"`
}

// Empty reports whether applying p would change nothing.
func (p Patch) Empty() bool {
	return p.BusinessName == nil && p.BusinessABN == nil && p.ServiceType == nil &&
		p.SquareMeters == nil && p.OriginSuburb == nil && p.DestinationSuburb == nil &&
		p.QuoteAmount == nil && p.SelectedDate == nil && p.ContactName == nil &&
		p.ContactEmail == nil && p.ContactPhone == nil && p.DepositAmount == nil &&
		p.DepositPaid == nil && len(p.QualifyingAnswers) == 0
}

func (p Patch) apply(c *ConversationContext) {
	setStr(&c.BusinessName, p.BusinessName)
	setStr(&c.BusinessABN, p.BusinessABN)
	setStr(&c.ServiceType, p.ServiceType)
	setStr(&c.OriginSuburb, p.OriginSuburb)
	setStr(&c.DestinationSuburb, p.DestinationSuburb)
	setStr(&c.SelectedDate, p.SelectedDate)
	setStr(&c.ContactName, p.ContactName)
	setStr(&c.ContactEmail, p.ContactEmail)
	setStr(&c.ContactPhone, p.ContactPhone)
	if p.SquareMeters != nil {
		c.SquareMeters = clonePtr(p.SquareMeters)
	}
	if p.QuoteAmount != nil {
		c.QuoteAmount = clonePtr(p.QuoteAmount)
	}
	if p.DepositAmount != nil {
		c.DepositAmount = clonePtr(p.DepositAmount)
	}
	if p.DepositPaid != nil {
		c.DepositPaid = *p.DepositPaid
	}
	if len(p.QualifyingAnswers) > 0 {
		if c.QualifyingAnswers == nil {
			c.QualifyingAnswers = map[int]string{}
		}
		maps.Copy(c.QualifyingAnswers, p.QualifyingAnswers)
	}
}

func setStr(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// Ptr is a helper for building patches.
func Ptr[T any](v T) *T { return &v }
