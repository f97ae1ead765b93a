package guardrail

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Sharpy077/m2mmoving-sub000/internal/dialogue"
)

// MaxInputLength is the longest visitor message passed on, in characters.
const MaxInputLength = 2000

var (
	markupRe  = regexp.MustCompile(`<[^>]*>`)
	schemeRe  = regexp.MustCompile(`(?i)\b(?:javascript|vbscript|data)\s*:`)
	handlerRe = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)
	emailRe   = regexp.MustCompile(`[^\s@]+@[^\s@]+\.[^\s@]+`)
	digitsRe  = regexp.MustCompile(`\d`)
)

type InputResult struct {
	Sanitized string   `json:"sanitized"`
	Valid     bool     `json:"valid"`
	Warnings  []string `json:"warnings,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// ValidateUserInput strips unsafe fragments from visitor input and applies
// soft, stage-specific format checks. Only empty input is rejected.
func ValidateUserInput(input string, stage dialogue.Stage) InputResult {
	var res InputResult

	s := markupRe.ReplaceAllString(input, "")
	s = schemeRe.ReplaceAllString(s, "")
	s = handlerRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if s != strings.TrimSpace(input) {
		res.Warnings = append(res.Warnings, "unsafe content removed")
	}

	if utf8.RuneCountInString(s) > MaxInputLength {
		s = string([]rune(s)[:MaxInputLength])
		res.Warnings = append(res.Warnings, "message truncated")
	}

	if s == "" {
		res.Errors = append(res.Errors, "message is empty")
		return res
	}

	switch stage {
	case dialogue.StageBusinessLookup:
		if d := len(digitsRe.FindAllString(s, -1)); d > 0 && d != 11 && looksNumeric(s) {
			res.Warnings = append(res.Warnings, "an ABN has 11 digits")
		}
	case dialogue.StageContactCollect:
		if strings.Contains(s, "@") && !emailRe.MatchString(s) {
			res.Warnings = append(res.Warnings, "email address looks incomplete")
		}
		if d := len(digitsRe.FindAllString(s, -1)); d > 0 && (d < 8 || d > 12) {
			res.Warnings = append(res.Warnings, "phone number should have 8 to 12 digits")
		}
	}

	res.Sanitized = s
	res.Valid = true
	return res
}

// looksNumeric reports whether s is mostly digits and separators, as an ABN would be.
func looksNumeric(s string) bool {
	for _, r := range s {
		if !(r >= '0' && r <= '9') && r != ' ' && r != '-' {
			return false
		}
	}
	return true
}
