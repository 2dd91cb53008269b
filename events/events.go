// Package events records the audit trail of campaigns: minion lifecycle,
// step failures and reports.
package events

import (
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/loadflow/types"
)

type Logger interface {
	Debug(name string, value any, tags types.Data)
	Info(name string, value any, tags types.Data)
	Warn(name string, value any, tags types.Data)
	Error(name string, value any, tags types.Data)
}

var (
	_ Logger = &logrusLogger{}
	_ Logger = noopLogger{}
)

// NewLogrusLogger logs the events as structured logrus entries.
func NewLogrusLogger(entry *log.Entry) Logger {
	if entry == nil {
		entry = log.NewEntry(log.StandardLogger())
	}
	return &logrusLogger{entry: entry}
}

type logrusLogger struct {
	entry *log.Entry
}

func (l *logrusLogger) with(name string, tags types.Data) *log.Entry {
	return l.entry.WithFields(log.Fields(tags)).WithField("event", name)
}

func (l *logrusLogger) Debug(name string, value any, tags types.Data) {
	l.with(name, tags).Debug(value)
}

func (l *logrusLogger) Info(name string, value any, tags types.Data) {
	l.with(name, tags).Info(value)
}

func (l *logrusLogger) Warn(name string, value any, tags types.Data) {
	l.with(name, tags).Warn(value)
}

func (l *logrusLogger) Error(name string, value any, tags types.Data) {
	l.with(name, tags).Error(value)
}

func Noop() Logger {
	return noopLogger{}
}

type noopLogger struct{}

func (noopLogger) Debug(string, any, types.Data) {}
func (noopLogger) Info(string, any, types.Data)  {}
func (noopLogger) Warn(string, any, types.Data)  {}
func (noopLogger) Error(string, any, types.Data) {}
