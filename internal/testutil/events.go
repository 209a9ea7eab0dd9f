package testutil

import (
	"testing"
	"time"

	"github.com/hupe1980/supportmesh/core"
)

// DefaultTimeout bounds Drain.
const DefaultTimeout = 5 * time.Second

// Drain collects events until ch closes and fails the test if that takes
// longer than DefaultTimeout.
func Drain(t testing.TB, ch <-chan core.Event) []core.Event {
	t.Helper()

	var events []core.Event

	timeout := time.After(DefaultTimeout)

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}

			events = append(events, ev)
		case <-timeout:
			t.Fatalf("event stream not closed after %s (%d events)", DefaultTimeout, len(events))
			return events
		}
	}
}

// Kinds returns the kind of every event, in order.
func Kinds(events []core.Event) []core.EventKind {
	kinds := make([]core.EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}

	return kinds
}

// Last returns the last event. It fails the test when events is empty.
func Last(t testing.TB, events []core.Event) core.Event {
	t.Helper()

	if len(events) == 0 {
		t.Fatal("no events")
	}

	return events[len(events)-1]
}

// ToolResult returns the first function response for the named tool.
func ToolResult(t testing.TB, events []core.Event, name string) core.FunctionResponse {
	t.Helper()

	for _, ev := range events {
		for _, fr := range ev.FunctionResponses() {
			if fr.Name == name {
				return fr
			}
		}
	}

	t.Fatalf("no result for tool %s", name)

	return core.FunctionResponse{}
}
