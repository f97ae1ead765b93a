package dialogue

import (
	"slices"
	"strings"
)

// Service types offered by the quoting flow.
const (
	ServiceOffice      = "office"
	ServiceWarehouse   = "warehouse"
	ServiceDatacenter  = "datacenter"
	ServiceITEquipment = "it-equipment"
	ServiceRetail      = "retail"
)

// ServiceTypes lists the accepted service type identifiers.
var ServiceTypes = []string{ServiceOffice, ServiceWarehouse, ServiceDatacenter, ServiceITEquipment, ServiceRetail}

// Question is a qualifying question; Index is the key used in QualifyingAnswers.
type Question struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// SizeQuestion is the index of the floor-area question in every list.
const SizeQuestion = 0

var questionsByService = map[string][]string{
	ServiceOffice: {
		"Roughly how many square metres is your current office?",
		"How many workstations are moving?",
		"Are there any server racks or comms cabinets?",
		"Do you need packing or after-hours moving?",
	},
	ServiceWarehouse: {
		"Roughly how many square metres is the warehouse floor?",
		"How many pallet racks or shelving units need moving?",
		"Is there any heavy machinery or forklifts involved?",
		"Is loading dock access available at both sites?",
	},
	ServiceDatacenter: {
		"Roughly how many square metres is the data hall?",
		"How many racks need to be relocated?",
		"Do you need decommissioning and recommissioning support?",
		"What's your maximum acceptable downtime window?",
	},
	ServiceITEquipment: {
		"Roughly how many square metres of space does the equipment take up?",
		"How many computers, monitors and printers are there?",
		"Do you need secure data handling or asset tagging?",
	},
	ServiceRetail: {
		"Roughly how many square metres is the store?",
		"How many display units or shelving fixtures are moving?",
		"Does the move need to happen outside trading hours?",
	},
}

// NormalizeService maps loose user wording onto a service type identifier.
func NormalizeService(s string) (string, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, " ", "-")
	switch v {
	case "data-centre", "data-center", "datacentre":
		v = ServiceDatacenter
	case "it", "it-equipment-move", "equipment":
		v = ServiceITEquipment
	case "shop", "store":
		v = ServiceRetail
	}
	if slices.Contains(ServiceTypes, v) {
		return v, true
	}
	return "", false
}

// QuestionsFor returns the qualifying questions of a service type.
func QuestionsFor(serviceType string) []Question {
	texts := questionsByService[serviceType]
	out := make([]Question, len(texts))
	for i, t := range texts {
		out[i] = Question{Index: i, Text: t}
	}
	return out
}

// UnansweredQuestions returns the questions of the context's service type
// that have no answer yet.
func UnansweredQuestions(c *ConversationContext) []Question {
	var out []Question
	for _, q := range QuestionsFor(c.ServiceType) {
		if _, ok := c.QualifyingAnswers[q.Index]; !ok {
			out = append(out, q)
		}
	}
	return out
}
