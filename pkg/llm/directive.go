package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ActionHangup is the only call-control action the backend may request.
const ActionHangup = "hangup"

// Directive is a structured command embedded at the tail of a reply.
type Directive struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// Hangup reports whether the directive requests ending the call.
func (d *Directive) Hangup() bool {
	return d != nil && d.Action == ActionHangup
}

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// ExtractDirective splits a reply into its spoken text and an optional
// embedded directive.
//
// Two passes: a fenced json code block anywhere in the reply wins, else a
// bare JSON object at the very end of the reply is tried. Malformed JSON
// yields no directive and the full reply is spoken unchanged. The stripped
// spoken text is returned even when the directive is not a hangup, so the
// caller never reads JSON aloud.
func ExtractDirective(reply string) (spoken string, directive *Directive) {
	if m := fencedJSON.FindStringSubmatchIndex(reply); m != nil {
		var d Directive
		if json.Unmarshal([]byte(reply[m[2]:m[3]]), &d) == nil {
			spoken = strings.TrimSpace(reply[:m[0]] + reply[m[1]:])
			return spoken, &d
		}
		return strings.TrimSpace(reply), nil
	}

	if start, ok := trailingObjectStart(reply); ok {
		var d Directive
		if json.Unmarshal([]byte(strings.TrimSpace(reply[start:])), &d) == nil {
			return strings.TrimSpace(reply[:start]), &d
		}
	}

	return strings.TrimSpace(reply), nil
}

// trailingObjectStart finds the start of a balanced JSON object that ends
// the reply, scanning backwards from the closing brace.
func trailingObjectStart(reply string) (int, bool) {
	trimmed := strings.TrimRight(reply, " \t\r\n")
	if len(trimmed) == 0 || trimmed[len(trimmed)-1] != '}' {
		return 0, false
	}

	depth := 0
	inString := false
	for i := len(trimmed) - 1; i >= 0; i-- {
		c := trimmed[i]
		if inString {
			// A quote preceded by a backslash stays inside the string.
			if c == '"' && (i == 0 || trimmed[i-1] != '\\') {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '}':
			depth++
		case '{':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
