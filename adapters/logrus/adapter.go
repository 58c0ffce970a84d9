package logrus

import (
	"context"
	"fmt"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/sirupsen/logrus"
)

const moduleField = "module"

// Logger bridges a logrus entry to glog.Logger. Variadic args are read as
// key/value pairs; an odd trailing value is kept under "extra".
type Logger struct {
	entry *logrus.Entry
}

func New(logger *logrus.Logger) *Logger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Logger{entry: logrus.NewEntry(logger)}
}

func FromEntry(entry *logrus.Entry) *Logger {
	if entry == nil {
		return New(nil)
	}
	return &Logger{entry: entry}
}

func (l *Logger) Entry() *logrus.Entry {
	return l.entry
}

func (l *Logger) Trace(msg string, args ...any) { l.with(args).Trace(msg) }
func (l *Logger) Debug(msg string, args ...any) { l.with(args).Debug(msg) }
func (l *Logger) Info(msg string, args ...any)  { l.with(args).Info(msg) }
func (l *Logger) Warn(msg string, args ...any)  { l.with(args).Warn(msg) }
func (l *Logger) Error(msg string, args ...any) { l.with(args).Error(msg) }
func (l *Logger) Fatal(msg string, args ...any) { l.with(args).Fatal(msg) }

func (l *Logger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		return l
	}
	return &Logger{entry: l.entry.WithContext(ctx)}
}

func (l *Logger) WithFields(fields map[string]any) glog.Logger {
	if len(fields) == 0 {
		return l
	}
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *Logger) with(args []any) *logrus.Entry {
	if len(args) == 0 {
		return l.entry
	}
	return l.entry.WithFields(fieldsFromArgs(args))
}

func fieldsFromArgs(args []any) logrus.Fields {
	fields := make(logrus.Fields, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			fields["extra"] = args[i]
			break
		}
		key := strings.TrimSpace(fmt.Sprint(args[i]))
		if key == "" {
			key = fmt.Sprintf("arg_%d", i)
		}
		fields[key] = args[i+1]
	}
	return fields
}

// Provider hands out loggers tagged with a "module" field, one per name.
type Provider struct {
	logger *logrus.Logger
}

func NewProvider(logger *logrus.Logger) *Provider {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Provider{logger: logger}
}

func (p *Provider) GetLogger(name string) glog.Logger {
	entry := logrus.NewEntry(p.logger)
	if name = strings.TrimSpace(name); name != "" {
		entry = entry.WithField(moduleField, name)
	}
	return &Logger{entry: entry}
}

var (
	_ glog.Logger         = (*Logger)(nil)
	_ glog.FieldsLogger   = (*Logger)(nil)
	_ glog.LoggerProvider = (*Provider)(nil)
)
