package gocotb

import (
	"io"
	"os"
	"time"

	"github.com/joeycumines/logiface"
)

// LogifaceLogger adapts a *logiface.Logger to this package's Logger
// interface, so a host that already standardizes on logiface for its own
// structured logging can hand the same sink to a Scheduler. It is built on
// a minimal in-process Event/Writer pair rather than one of logiface's
// backend-specific implementations (zerolog, logrus, ...), since the
// Scheduler only ever needs to emit its own LogEntry vocabulary, not accept
// arbitrary third-party field types.
type LogifaceLogger struct {
	logger *logiface.Logger[*logifaceEvent]
}

// NewLogifaceLogger builds a LogifaceLogger that writes JSON lines to out at
// or above level, using logiface's Builder/Event machinery (level gating,
// Builder pooling) rather than this package's own WriterLogger.
func NewLogifaceLogger(level LogLevel, out io.Writer) *LogifaceLogger {
	return &LogifaceLogger{
		logger: logiface.New[*logifaceEvent](
			logiface.WithEventFactory[*logifaceEvent](logiface.NewEventFactoryFunc(newLogifaceEvent)),
			logiface.WithWriter[*logifaceEvent](logifaceWriterFunc(out)),
			logiface.WithLevel[*logifaceEvent](logLevelToLogiface(level)),
		),
	}
}

func (l *LogifaceLogger) IsEnabled(level LogLevel) bool {
	return l.logger.Level().Enabled() && logLevelToLogiface(level) <= l.logger.Level()
}

func (l *LogifaceLogger) Log(entry LogEntry) {
	b := l.logger.Build(logLevelToLogiface(entry.Level))
	if !b.Enabled() {
		b.Release()
		return
	}
	b = b.Str("category", entry.Category)
	if entry.TaskID != 0 {
		b = b.Int("task", int(entry.TaskID))
	}
	if entry.TriggerID != 0 {
		b = b.Int("trigger", int(entry.TriggerID))
	}
	if entry.Err != nil {
		b = b.Err(entry.Err)
	}
	for k, v := range entry.Fields {
		b = b.Any(k, v)
	}
	b.Log(entry.Message)
}

func logLevelToLogiface(l LogLevel) logiface.Level {
	switch l {
	case LevelTrace:
		return logiface.LevelTrace
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}

func logifaceLevelToLogLevel(l logiface.Level) LogLevel {
	switch {
	case l <= logiface.LevelError:
		return LevelError
	case l == logiface.LevelWarning || l == logiface.LevelNotice:
		return LevelWarn
	case l == logiface.LevelInformational:
		return LevelInfo
	case l == logiface.LevelDebug:
		return LevelDebug
	default:
		return LevelTrace
	}
}

// logifaceEvent is the Event implementation backing LogifaceLogger. It just
// accumulates fields into a LogEntry-shaped struct for logifaceWriterFunc to
// render, rather than building any intermediate representation of its own.
type logifaceEvent struct {
	logiface.UnimplementedEvent
	entry LogEntry
}

func newLogifaceEvent(level logiface.Level) *logifaceEvent {
	return &logifaceEvent{entry: LogEntry{Level: logifaceLevelToLogLevel(level)}}
}

func (e *logifaceEvent) Level() logiface.Level { return logLevelToLogiface(e.entry.Level) }

func (e *logifaceEvent) AddField(key string, val any) {
	switch key {
	case "category":
		if s, ok := val.(string); ok {
			e.entry.Category = s
			return
		}
	case "task":
		if n, ok := val.(int); ok {
			e.entry.TaskID = uint64(n)
			return
		}
	case "trigger":
		if n, ok := val.(int); ok {
			e.entry.TriggerID = uint64(n)
			return
		}
	}
	if e.entry.Fields == nil {
		e.entry.Fields = make(map[string]any, 1)
	}
	e.entry.Fields[key] = val
}

func (e *logifaceEvent) AddMessage(msg string) bool {
	e.entry.Message = msg
	return true
}

func (e *logifaceEvent) AddError(err error) bool {
	e.entry.Err = err
	return true
}

// logifaceWriterFunc renders a logifaceEvent out via this package's own
// writeJSONLine, so LogifaceLogger's on-the-wire format matches WriterLogger
// exactly; the only thing logiface contributes here is the Builder/level
// machinery in front of it.
func logifaceWriterFunc(out io.Writer) logiface.WriterFunc[*logifaceEvent] {
	return func(event *logifaceEvent) error {
		entry := event.entry
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now()
		}
		writeJSONLine(out, entry)
		return nil
	}
}

// NewLogifaceStderrLogger is a convenience constructor mirroring
// NewDefaultLogger/NewWriterLogger's zero-config usage.
func NewLogifaceStderrLogger(level LogLevel) *LogifaceLogger {
	return NewLogifaceLogger(level, os.Stderr)
}
