// Package logging implements the Logger protocol of spec.md §6: a
// PrintableLog record pushed through pluggable writers with pretty/plain/
// json/json_pretty strategies, color gated on NO_COLOR and TTY detection,
// and level thresholding. It wraps logrus.Logger the way
// r3e-network's infrastructure/logging/logger.go wraps it, trading that
// package's domain-specific helpers (LogAPIRequest, LogUserAction, ...) for
// the runner's own PrintableLog shape.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// Level mirrors spec.md's trace<debug<info<warn<error<critical ordering.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func (l Level) toLogrus() logrus.Level {
	switch l {
	case LevelTrace:
		return logrus.TraceLevel
	case LevelDebug:
		return logrus.DebugLevel
	case LevelInfo:
		return logrus.InfoLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	case LevelCritical:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// Strategy selects how a PrintableLog is rendered.
type Strategy string

const (
	StrategyPretty     Strategy = "pretty"
	StrategyPlain      Strategy = "plain"
	StrategyJSON       Strategy = "json"
	StrategyJSONPretty Strategy = "json_pretty"
)

// PrintableLog is the wire shape every log line is normalized to before
// reaching a writer, per spec.md §6.
type PrintableLog struct {
	Level     Level
	Source    string
	Message   string
	Timestamp time.Time
	Error     error
	Data      map[string]any
	Context   map[string]any
}

// Writer receives every PrintableLog regardless of threshold; it decides
// for itself whether to print (see Logger.print).
type Writer func(PrintableLog)

// Logger is the runner's structured logger, backed by logrus the way
// r3e-network's Logger wraps *logrus.Logger.
type Logger struct {
	backend   *logrus.Logger
	source    string
	threshold Level
	strategy  Strategy
	color     bool
	listeners []Writer
	fields    map[string]any
}

// Option configures a Logger at construction, mirroring the teacher's
// functional-option style used for ScopeOption.
type Option func(*Logger)

func WithThreshold(l Level) Option   { return func(lg *Logger) { lg.threshold = l } }
func WithStrategy(s Strategy) Option { return func(lg *Logger) { lg.strategy = s } }
func WithSource(source string) Option { return func(lg *Logger) { lg.source = source } }
func WithOutput(w io.Writer) Option  { return func(lg *Logger) { lg.backend.SetOutput(w) } }

// New builds a Logger. Color is disabled when the strategy is plain, when
// NO_COLOR is set, or when stdout is not a TTY; matching spec.md §6.
func New(opts ...Option) *Logger {
	backend := logrus.New()
	backend.SetLevel(logrus.TraceLevel) // thresholding is done by Logger itself, not logrus
	lg := &Logger{
		backend:   backend,
		threshold: LevelInfo,
		strategy:  StrategyPretty,
		fields:    map[string]any{},
	}
	for _, opt := range opts {
		opt(lg)
	}
	lg.color = computeColor(lg.strategy)
	lg.applyFormatter()
	return lg
}

func (l *Logger) applyFormatter() {
	switch l.strategy {
	case StrategyJSON:
		l.backend.SetFormatter(&logrus.JSONFormatter{})
	case StrategyJSONPretty:
		l.backend.SetFormatter(&logrus.JSONFormatter{PrettyPrint: true})
	default:
		l.backend.SetFormatter(&logrus.TextFormatter{
			DisableColors:    !l.color,
			FullTimestamp:    true,
			DisableTimestamp: l.strategy == StrategyPlain,
		})
	}
}

func computeColor(strategy Strategy) bool {
	if strategy == StrategyPlain || strategy == StrategyJSON || strategy == StrategyJSONPretty {
		return false
	}
	if _, noColor := os.LookupEnv("NO_COLOR"); noColor {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// WithFields returns a derived Logger carrying additional structured
// context, mirroring r3e-network's Logger.WithFields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	clone := *l
	clone.fields = merged
	return &clone
}

// WithSource returns a derived Logger tagged with a component name.
func (l *Logger) WithSource(source string) *Logger {
	clone := *l
	clone.source = source
	return &clone
}

// OnLog registers a writer that observes every log regardless of threshold.
func (l *Logger) OnLog(w Writer) {
	l.listeners = append(l.listeners, w)
}

func (l *Logger) log(level Level, err error, msg string, data map[string]any) {
	merged := make(map[string]any, len(l.fields)+len(data))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range data {
		merged[k] = v
	}
	entry := PrintableLog{
		Level:     level,
		Source:    l.source,
		Message:   msg,
		Timestamp: time.Now(),
		Error:     err,
		Data:      merged,
	}
	for _, w := range l.listeners {
		w(entry)
	}
	if level < l.threshold {
		return
	}
	l.print(entry)
}

func (l *Logger) print(entry PrintableLog) {
	switch l.strategy {
	case StrategyJSON, StrategyJSONPretty:
		fields := logrus.Fields{"source": entry.Source, "data": entry.Data}
		if entry.Error != nil {
			fields["error"] = entry.Error.Error()
		}
		l.backend.WithFields(fields).WithTime(entry.Timestamp).Log(entry.Level.toLogrus(), entry.Message)
	default:
		fields := logrus.Fields{}
		if entry.Source != "" {
			fields["source"] = entry.Source
		}
		for k, v := range entry.Data {
			fields[k] = v
		}
		e := l.backend.WithFields(fields).WithTime(entry.Timestamp)
		if entry.Error != nil {
			e = e.WithError(entry.Error)
		}
		e.Log(entry.Level.toLogrus(), entry.Message)
	}
}

func (l *Logger) Trace(msg string, data map[string]any)    { l.log(LevelTrace, nil, msg, data) }
func (l *Logger) Debug(msg string, data map[string]any)    { l.log(LevelDebug, nil, msg, data) }
func (l *Logger) Info(msg string, data map[string]any)     { l.log(LevelInfo, nil, msg, data) }
func (l *Logger) Warn(msg string, data map[string]any)     { l.log(LevelWarn, nil, msg, data) }
func (l *Logger) Error(err error, msg string, data map[string]any) {
	l.log(LevelError, err, msg, data)
}
func (l *Logger) Critical(err error, msg string, data map[string]any) {
	l.log(LevelCritical, err, msg, data)
}

// ParseLevel maps a threshold name (as might arrive from config) to a Level.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace, true
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	case "critical", "fatal":
		return LevelCritical, true
	default:
		return 0, false
	}
}

// FormatDuration renders a duration the way r3e-network's logger.go does
// for human-facing fields, e.g. retry/backoff summaries in builtins.
func FormatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(time.Millisecond).String()
}
