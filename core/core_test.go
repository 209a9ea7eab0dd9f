package core

import (
	"context"
)

type testLogger struct{}

func (l testLogger) Debug(string, ...any) {}
func (l testLogger) Info(string, ...any)  {}
func (l testLogger) Warn(string, ...any)  {}
func (l testLogger) Error(string, ...any) {}

func testKey() SessionKey {
	return SessionKey{AppName: "app", UserID: "u1", SessionID: "s1"}
}

func newRunContextForTest() (*RunContext, chan Event) {
	emit := make(chan Event, 10)
	sess := NewSession(testKey())
	sess.State["greeting"] = "hello"
	rc := NewRunContext(
		context.Background(),
		testKey(),
		"turn-1",
		AgentInfo{Name: "agent1", Type: "specialist"},
		NewTextContent("user", "hi"),
		emit,
		sess,
		nil,
		testLogger{},
	)
	return rc, emit
}
