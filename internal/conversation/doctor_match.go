package conversation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/puri-adityakumar/mednotes-ai/internal/profiles"
)

var titleRe = regexp.MustCompile(`(?i)^dr\.?\s*`)

// DoctorNotFoundError reports a failed lookup together with the full roster
// so the conversation can offer valid names to retry with.
type DoctorNotFoundError struct {
	Input string
	Known []string
}

func (e *DoctorNotFoundError) Error() string {
	known := "none"
	if len(e.Known) > 0 {
		known = strings.Join(e.Known, ", ")
	}
	return fmt.Sprintf("doctor %q not found. Available doctors: %s", e.Input, known)
}

// MatchDoctor maps a free-form name fragment to exactly one registered
// provider. Strategies are tried in order for each doctor, and the first
// doctor in iteration order satisfying any strategy wins:
//
//  1. exact case-insensitive full-name match
//  2. substring containment in either direction
//  3. both first and last name individually contained in the input
//  4. single-token input equal to first or last name
//  5. every input token found somewhere in the full name
func MatchDoctor(input string, doctors []profiles.Doctor) (*profiles.Doctor, error) {
	clean := strings.ToLower(strings.TrimSpace(titleRe.ReplaceAllString(strings.TrimSpace(input), "")))
	tokens := strings.Fields(clean)

	for i := range doctors {
		d := &doctors[i]
		full := strings.ToLower(d.FullName())
		first := strings.ToLower(d.FirstName)
		last := strings.ToLower(d.LastName)

		if clean == "" || full == "" {
			continue
		}
		if full == clean {
			return d, nil
		}
		if strings.Contains(full, clean) || strings.Contains(clean, full) {
			return d, nil
		}
		if first != "" && last != "" && strings.Contains(clean, first) && strings.Contains(clean, last) {
			return d, nil
		}
		if len(tokens) == 1 && (tokens[0] == first || tokens[0] == last) {
			return d, nil
		}
		if len(tokens) > 0 && allTokensIn(tokens, full) {
			return d, nil
		}
	}

	known := make([]string, 0, len(doctors))
	for _, d := range doctors {
		known = append(known, d.DisplayName())
	}
	return nil, &DoctorNotFoundError{Input: input, Known: known}
}

func allTokensIn(tokens []string, full string) bool {
	for _, tok := range tokens {
		if !strings.Contains(full, tok) {
			return false
		}
	}
	return true
}
