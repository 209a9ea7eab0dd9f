package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/supportmesh/core"
)

// OutputFormatter shapes the model's answer into caller-facing content
// before it is emitted as the final message.
type OutputFormatter interface {
	Format(rc *core.RunContext, text string) (string, error)
}

// FormatterFunc adapts a function to OutputFormatter.
type FormatterFunc func(rc *core.RunContext, text string) (string, error)

// Format implements OutputFormatter.
func (f FormatterFunc) Format(rc *core.RunContext, text string) (string, error) { return f(rc, text) }

// DefaultFallback is the answer used when the model produced no text.
const DefaultFallback = "Sorry, I couldn't find an answer. Could you rephrase your question?"

// DefaultFormatter trims the answer, replaces an empty answer with a
// fallback and renders answers that are a bare JSON document (a tool payload
// echoed by the model) as a readable list. Keys listed in Hidden are dropped
// from such payloads.
type DefaultFormatter struct {
	Fallback string
	Hidden   []string
}

// Format implements OutputFormatter.
func (f DefaultFormatter) Format(_ *core.RunContext, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		if f.Fallback != "" {
			return f.Fallback, nil
		}

		return DefaultFallback, nil
	}

	if !strings.HasPrefix(text, "{") && !strings.HasPrefix(text, "[") {
		return text, nil
	}

	var payload any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return text, nil
	}

	hidden := make(map[string]bool, len(f.Hidden))
	for _, h := range f.Hidden {
		hidden[h] = true
	}

	var b strings.Builder
	writeReadable(&b, payload, hidden, 0)

	return strings.TrimRight(b.String(), "\n"), nil
}

func writeReadable(b *strings.Builder, v any, hidden map[string]bool, depth int) {
	indent := strings.Repeat("  ", depth)

	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			if !hidden[k] {
				keys = append(keys, k)
			}
		}

		sort.Strings(keys)

		for _, k := range keys {
			label := strings.ReplaceAll(k, "_", " ")

			switch child := t[k].(type) {
			case map[string]any, []any:
				fmt.Fprintf(b, "%s- %s:\n", indent, label)
				writeReadable(b, child, hidden, depth+1)
			default:
				fmt.Fprintf(b, "%s- %s: %v\n", indent, label, child)
			}
		}
	case []any:
		for _, item := range t {
			switch item.(type) {
			case map[string]any, []any:
				writeReadable(b, item, hidden, depth)
			default:
				fmt.Fprintf(b, "%s- %v\n", indent, item)
			}
		}
	default:
		fmt.Fprintf(b, "%s%v\n", indent, t)
	}
}
