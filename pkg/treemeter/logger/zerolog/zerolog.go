package zerolog

import (
	"github.com/rs/zerolog"

	"github.com/mihaimyh/treemeter/pkg/treemeter"
)

// Logger implements treemeter.Logger using zerolog.
type Logger struct {
	logger *zerolog.Logger
}

// NewLogger creates a new zerolog logger adapter.
func NewLogger(logger *zerolog.Logger) *Logger {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Logger{logger: logger}
}

func (l *Logger) Debug(msg string, fields ...treemeter.Field) {
	l.log(l.logger.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...treemeter.Field) {
	l.log(l.logger.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...treemeter.Field) {
	l.log(l.logger.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...treemeter.Field) {
	l.log(l.logger.Error(), msg, fields)
}

func (l *Logger) log(event *zerolog.Event, msg string, fields []treemeter.Field) {
	if event == nil {
		return
	}
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			event = event.Str(f.Key, v)
		case int64:
			event = event.Int64(f.Key, v)
		case error:
			event = event.AnErr(f.Key, v)
		default:
			event = event.Interface(f.Key, v)
		}
	}
	event.Msg(msg)
}
