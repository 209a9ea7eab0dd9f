package core

import "github.com/hupe1980/supportmesh/logging"

// eventLog is embedded by the run and tool contexts so agents, flows and
// tools log through the turn-scoped logger.
type eventLog struct {
	logger logging.Logger
}

func newEventLog(l logging.Logger) *eventLog {
	if l == nil {
		l = logging.NoOpLogger{}
	}

	return &eventLog{logger: l}
}

// Logger returns the turn-scoped logger.
func (l *eventLog) Logger() logging.Logger { return l.logger }

func (l *eventLog) LogDebug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *eventLog) LogInfo(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *eventLog) LogWarn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *eventLog) LogError(msg string, args ...any) { l.logger.Error(msg, args...) }
