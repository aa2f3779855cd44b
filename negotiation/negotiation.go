// Package negotiation selects the media type to serialize an error
// response into, based on the client's Accept header and the codecs
// the server offers.
package negotiation

import (
	"strconv"
	"strings"
)

// SelectQValue returns the best entry from offered given an Accept
// style header with optional quality values. Ties go to the earliest
// entry in offered, and an empty result means nothing matched.
func SelectQValue(header string, offered []string) string {
	best := ""
	bestQ := 0.0

	for _, clause := range strings.Split(header, ",") {
		name, q := parseClause(clause)
		if name == "" || !contains(offered, name) {
			continue
		}
		if q > bestQ || (q == bestQ && name == offered[0]) {
			bestQ = q
			best = name
		}
	}

	return best
}

// Select is SelectQValue with a fallback: when the header matches
// nothing (or is empty), the first offered entry wins. Use this when a
// response must be written no matter what the client asked for.
func Select(header string, offered []string) string {
	if len(offered) == 0 {
		return ""
	}
	if best := SelectQValue(header, offered); best != "" {
		return best
	}
	return offered[0]
}

// parseClause splits one "type;q=0.5" clause into its media type and
// weight. A missing or malformed weight counts as 1.
func parseClause(clause string) (string, float64) {
	parts := strings.Split(clause, ";")
	name := strings.Trim(parts[0], " \t")

	q := 1.0
	for _, param := range parts[1:] {
		param = strings.Trim(param, " \t")
		if strings.HasPrefix(param, "q=") {
			if parsed, err := strconv.ParseFloat(param[2:], 64); err == nil {
				q = parsed
			}
		}
	}
	return name, q
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
