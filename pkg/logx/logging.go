package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	timeFormat     = "2006-01-02T15:04:05.000Z07:00"
	defaultLogFile = "./greensched.log"
)

// Config selects the sinks a Service writes to. Console is implied when no
// other sink is enabled.
type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Alert   AlertConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// AlertConfig controls the webhook sink. Only records at or above MinLevel
// are posted, at most RatePerSec per second.
type AlertConfig struct {
	Enabled    bool
	URL        string
	MinLevel   string
	RatePerSec int
	Timeout    time.Duration
}

// Field adds one key to a record. Later keys win.
type Field func(e *zerolog.Event)

func String(k, v string) Field                 { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field                { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field            { return func(e *zerolog.Event) { e.Int64(k, v) } }
func Uint64(k string, v uint64) Field          { return func(e *zerolog.Event) { e.Uint64(k, v) } }
func Bool(k string, v bool) Field              { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Duration(k string, v time.Duration) Field { return func(e *zerolog.Event) { e.Dur(k, v) } }
func Time(k string, v time.Time) Field         { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field                { return func(e *zerolog.Event) { e.Interface(k, v) } }

// Err is a no-op for a nil error so call sites can pass results unchecked.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Stack attaches a recovered goroutine stack. Blank stacks are dropped.
func Stack(stack string) Field {
	return func(e *zerolog.Event) {
		if strings.TrimSpace(stack) != "" {
			e.Str("stack", stack)
		}
	}
}

// Logger writes through its Service, so it follows Service.Apply. A Logger
// with no Service uses a fixed zerolog logger. The zero value discards.
type Logger struct {
	svc    *Service
	fixed  *zerolog.Logger
	fields []Field
}

// Nop returns a logger that never writes anything.
func Nop() Logger {
	zl := zerolog.Nop()
	return Logger{fixed: &zl}
}

// NewWriter logs JSON lines to w.
func NewWriter(w io.Writer, level string) Logger {
	zl := newRoot(w, parseLevel(level, zerolog.InfoLevel))
	return Logger{fixed: &zl}
}

func (l Logger) IsZero() bool { return l.svc == nil && l.fixed == nil && len(l.fields) == 0 }

func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	l.fields = append(append([]Field(nil), l.fields...), fields...)
	return l
}

func (l Logger) Debug(msg string, fields ...Field) { l.log(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.log(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.log(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.log(zerolog.ErrorLevel, msg, fields) }

func (l Logger) zl() *zerolog.Logger {
	switch {
	case l.svc != nil:
		return l.svc.root.Load()
	case l.fixed != nil:
		return l.fixed
	}
	return nil
}

func (l Logger) log(level zerolog.Level, msg string, fields []Field) {
	zl := l.zl()
	if zl == nil {
		return
	}
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	// log -> Info/Warn/... -> call site
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	for _, f := range l.fields {
		f(e)
	}
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
	e.Msg(msg)
}

// Service owns the sinks behind every Logger it hands out.
type Service struct {
	mu    sync.Mutex
	root  atomic.Pointer[zerolog.Logger]
	file  *os.File
	alert *alertSink
}

// New applies cfg and returns the Service with a live root Logger.
func New(cfg Config) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat

	s := &Service{}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

// Apply rebuilds the sinks and level. Loggers already handed out pick up the
// change on their next record.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter())
	}
	if cfg.File.Enabled {
		if w := s.openFile(cfg.File.Path); w != nil {
			writers = append(writers, w)
		}
	}
	if cfg.Alert.Enabled && strings.TrimSpace(cfg.Alert.URL) != "" {
		if s.alert == nil {
			s.alert = newAlertSink()
		}
		s.alert.configure(cfg.Alert)
		writers = append(writers, s.alert)
	} else if s.alert != nil {
		s.alert.close()
		s.alert = nil
	}
	if len(writers) == 0 {
		writers = append(writers, consoleWriter())
	}

	zl := newRoot(zerolog.MultiLevelWriter(writers...), parseLevel(cfg.Level, zerolog.InfoLevel))
	s.root.Store(&zl)
}

func (s *Service) openFile(path string) io.Writer {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogFile
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logx: open log file %q: %v\n", path, err)
		return nil
	}
	s.file = f
	return zerolog.SyncWriter(f)
}

func (s *Service) Close() error {
	s.mu.Lock()
	f, a := s.file, s.alert
	s.file, s.alert = nil, nil
	s.mu.Unlock()

	if a != nil {
		a.close()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

func newRoot(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: timeFormat,
		FormatCaller: func(i interface{}) string {
			s, _ := i.(string)
			return s
		},
	}
}

// parseLevel accepts zerolog level names in any case, plus "warning".
func parseLevel(s string, def zerolog.Level) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	if s == "" {
		return def
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return def
	}
	return lvl
}

// ValidLevel reports whether s names a known level. Empty is valid.
func ValidLevel(s string) bool {
	if strings.TrimSpace(s) == "" {
		return true
	}
	return parseLevel(s, zerolog.NoLevel) != zerolog.NoLevel
}
