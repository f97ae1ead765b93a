package dialogue

import "time"

// Stage is a named phase of the quoting dialogue.
type Stage string

const (
	StageGreeting            Stage = "greeting"
	StageBusinessLookup      Stage = "business_lookup"
	StageBusinessConfirm     Stage = "business_confirm"
	StageServiceSelect       Stage = "service_select"
	StageQualifyingQuestions Stage = "qualifying_questions"
	StageLocationOrigin      Stage = "location_origin"
	StageLocationDestination Stage = "location_destination"
	StageQuoteGenerated      Stage = "quote_generated"
	StageDateSelect          Stage = "date_select"
	StageContactCollect      Stage = "contact_collect"
	StagePayment             Stage = "payment"
	StageComplete            Stage = "complete"
	StageErrorRecovery       Stage = "error_recovery"
	StageHumanEscalation     Stage = "human_escalation"
)

// Stages lists every stage in dialogue order.
var Stages = []Stage{
	StageGreeting,
	StageBusinessLookup,
	StageBusinessConfirm,
	StageServiceSelect,
	StageQualifyingQuestions,
	StageLocationOrigin,
	StageLocationDestination,
	StageQuoteGenerated,
	StageDateSelect,
	StageContactCollect,
	StagePayment,
	StageComplete,
	StageErrorRecovery,
	StageHumanEscalation,
}

// StageConfig describes what a stage needs and where it may lead.
type StageConfig struct {
	Stage          Stage
	Required       []Field
	Next           []Stage
	Fallback       Stage
	MaxIdle        time.Duration // zero means the stage never goes idle
	ReengagePrompt string
	QuickReplies   []string
}

// workingStages are the stages a conversation can resume into after error recovery.
var workingStages = []Stage{
	StageGreeting, StageBusinessLookup, StageBusinessConfirm, StageServiceSelect,
	StageQualifyingQuestions, StageLocationOrigin, StageLocationDestination,
	StageQuoteGenerated, StageDateSelect, StageContactCollect, StagePayment,
}

var stageTable = map[Stage]StageConfig{
	StageGreeting: {
		Next:           []Stage{StageBusinessLookup, StageServiceSelect},
		Fallback:       StageGreeting,
		MaxIdle:        2 * time.Minute,
		ReengagePrompt: "Still there? I can get you a moving quote in a couple of minutes. What's the name of your business?",
		QuickReplies:   []string{"Get a quote", "Talk to someone"},
	},
	StageBusinessLookup: {
		Next:           []Stage{StageBusinessConfirm, StageServiceSelect},
		Fallback:       StageGreeting,
		MaxIdle:        2 * time.Minute,
		ReengagePrompt: "Could you share your business name or ABN so I can look you up?",
		QuickReplies:   []string{"Skip business lookup", "Talk to someone"},
	},
	StageBusinessConfirm: {
		Required:       []Field{FieldBusinessName},
		Next:           []Stage{StageServiceSelect, StageBusinessLookup},
		Fallback:       StageBusinessLookup,
		MaxIdle:        2 * time.Minute,
		ReengagePrompt: "Is the business I found the right one?",
		QuickReplies:   []string{"Yes, that's us", "No, search again"},
	},
	StageServiceSelect: {
		Next:           []Stage{StageQualifyingQuestions, StageLocationOrigin},
		Fallback:       StageGreeting,
		MaxIdle:        2 * time.Minute,
		ReengagePrompt: "What kind of move is this: office, warehouse, data centre, IT equipment or retail?",
		QuickReplies:   []string{"Office", "Warehouse", "Data centre", "IT equipment", "Retail"},
	},
	StageQualifyingQuestions: {
		Required:       []Field{FieldServiceType},
		Next:           []Stage{StageLocationOrigin},
		Fallback:       StageServiceSelect,
		MaxIdle:        3 * time.Minute,
		ReengagePrompt: "Just a few more details and I'll have your quote. Shall we keep going?",
		QuickReplies:   []string{"Keep going", "Talk to someone"},
	},
	StageLocationOrigin: {
		Required:       []Field{FieldServiceType},
		Next:           []Stage{StageLocationDestination, StageQuoteGenerated},
		Fallback:       StageQualifyingQuestions,
		MaxIdle:        3 * time.Minute,
		ReengagePrompt: "Which suburb are you moving from?",
		QuickReplies:   []string{"Enter suburb", "Talk to someone"},
	},
	StageLocationDestination: {
		Required:       []Field{FieldServiceType, FieldOriginSuburb},
		Next:           []Stage{StageQuoteGenerated},
		Fallback:       StageLocationOrigin,
		MaxIdle:        3 * time.Minute,
		ReengagePrompt: "And which suburb are you moving to?",
		QuickReplies:   []string{"Enter suburb", "Talk to someone"},
	},
	StageQuoteGenerated: {
		Required:       []Field{FieldServiceType, FieldOriginSuburb, FieldDestinationSuburb, FieldQuoteAmount},
		Next:           []Stage{StageDateSelect, StageLocationOrigin},
		Fallback:       StageLocationOrigin,
		MaxIdle:        5 * time.Minute,
		ReengagePrompt: "Your quote is ready whenever you are. Would you like to lock in a moving date?",
		QuickReplies:   []string{"Book a date", "Adjust details", "Talk to someone"},
	},
	StageDateSelect: {
		Required:       []Field{FieldQuoteAmount},
		Next:           []Stage{StageContactCollect, StageQuoteGenerated},
		Fallback:       StageQuoteGenerated,
		MaxIdle:        3 * time.Minute,
		ReengagePrompt: "Which of the available dates works best for your move?",
		QuickReplies:   []string{"Show dates again", "Talk to someone"},
	},
	StageContactCollect: {
		Required:       []Field{FieldQuoteAmount, FieldSelectedDate},
		Next:           []Stage{StagePayment},
		Fallback:       StageDateSelect,
		MaxIdle:        3 * time.Minute,
		ReengagePrompt: "What's the best name, email and phone number for your booking?",
		QuickReplies:   []string{"Enter details", "Request a callback"},
	},
	StagePayment: {
		Required:       []Field{FieldQuoteAmount, FieldSelectedDate, FieldContactName, FieldContactEmail, FieldContactPhone},
		Next:           []Stage{StageComplete},
		Fallback:       StageContactCollect,
		MaxIdle:        10 * time.Minute,
		ReengagePrompt: "Your booking is almost done. Would you like help finishing the deposit payment?",
		QuickReplies:   []string{"Finish payment", "Pay by phone", "Request a callback"},
	},
	StageComplete: {
		Required: []Field{FieldDepositPaid},
		Fallback: StageComplete,
	},
	StageErrorRecovery: {
		Next:           workingStages,
		Fallback:       StageGreeting,
		MaxIdle:        time.Minute,
		ReengagePrompt: "Sorry about the hiccup. Would you like to pick up where we left off?",
		QuickReplies:   []string{"Continue", "Start over", "Request a callback"},
	},
	StageHumanEscalation: {
		Fallback: StageHumanEscalation,
	},
}

func init() {
	for s, cfg := range stageTable {
		cfg.Stage = s
		stageTable[s] = cfg
	}
}

// Config returns the configuration of a stage. Unknown stages get an empty config.
func Config(s Stage) StageConfig {
	return stageTable[s]
}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	_, ok := stageTable[s]
	return ok
}

// Terminal reports whether the dialogue ends at s.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageHumanEscalation
}

// Escalation reports whether s is reachable from anywhere.
func (s Stage) Escalation() bool {
	return s == StageErrorRecovery || s == StageHumanEscalation
}

// Path returns the shortest run of forward stages leading from one stage to
// another, excluding from itself. It returns an empty path when from == to
// and nil when to cannot be reached without passing through an escalation stage.
func Path(from, to Stage) []Stage {
	if from == to {
		return []Stage{}
	}
	prev := map[Stage]Stage{from: ""}
	queue := []Stage{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range stageTable[cur].Next {
			if _, seen := prev[next]; seen || next.Escalation() {
				continue
			}
			prev[next] = cur
			if next == to {
				var path []Stage
				for s := to; s != from; s = prev[s] {
					path = append([]Stage{s}, path...)
				}
				return path
			}
			queue = append(queue, next)
		}
	}
	return nil
}
