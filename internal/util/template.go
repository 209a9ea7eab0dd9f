package util

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{[A-Za-z_][A-Za-z0-9_:.]*\??\}`)

// RenderTemplate substitutes {key} placeholders with values from state.
// A trailing question mark ({key?}) renders an empty string when the key is
// missing; a missing required key is an error. Any other brace usage (JSON
// snippets, {{ }}) is left untouched.
func RenderTemplate(text string, state map[string]any) (string, error) {
	if !strings.Contains(text, "{") {
		return text, nil
	}

	var missing []string

	out := placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(m, "{"), "}")

		optional := strings.HasSuffix(name, "?")
		name = strings.TrimSuffix(name, "?")

		v, ok := state[name]
		if !ok || v == nil {
			if !optional {
				missing = append(missing, name)
			}

			return ""
		}

		return fmt.Sprint(v)
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing state for placeholders: %s", strings.Join(missing, ", "))
	}

	return out, nil
}
