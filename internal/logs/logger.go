package logs

import (
	"io"
	"strings"
	"sync"
	"time"
)

type Level string

const (
	INFO  Level = "INFO"
	WARN  Level = "WARN"
	ERROR Level = "ERROR"
	DEBUG Level = "DEBUG"
)

// levelPriority defines the priority of each log level
// higher value = more severe
var levelPriority = map[Level]int{
	DEBUG: 1,
	INFO:  2,
	WARN:  3,
	ERROR: 4,
}

// AtLeast reports whether l is as severe as min.
func (l Level) AtLeast(min Level) bool {
	return levelPriority[l] >= levelPriority[min]
}

type Entry struct {
	TimeStamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
}

type Logger struct {
	mu      sync.Mutex
	entries []Entry
	maxSize int
	level   Level
}

// level: minimum log level to record (e.g., INFO, WARN, ERROR, DEBUG)
//
// maxSize: maximum number of log entries kept in memory
func NewLogger(maxSize int, level Level) *Logger {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Logger{
		entries: make([]Entry, 0, maxSize),
		maxSize: maxSize,
		level:   level,
	}
}

// Record applies level filtering and ring buffer behavior.
// It returns false when the entry was filtered out.
func (l *Logger) Record(level Level, msg string) (Entry, bool) {
	if levelPriority[level] < levelPriority[l.level] {
		return Entry{}, false
	}

	entry := Entry{
		TimeStamp: time.Now(),
		Level:     level,
		Message:   msg,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= l.maxSize {
		// drop oldest entry
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, entry)
	return entry, true
}

func (l *Logger) Debug(msg string) { l.Record(DEBUG, msg) }

func (l *Logger) Info(msg string) { l.Record(INFO, msg) }

func (l *Logger) Warn(msg string) { l.Record(WARN, msg) }

func (l *Logger) Error(msg string) { l.Record(ERROR, msg) }

func (l *Logger) GetLast(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.entries) {
		out := make([]Entry, len(l.entries))
		copy(out, l.entries)
		return out
	}

	start := len(l.entries) - n
	out := make([]Entry, n)
	copy(out, l.entries[start:])
	return out
}

// Since returns entries at or above min recorded after t.
func (l *Logger) Since(t time.Time, min Level) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Entry
	for _, e := range l.entries {
		if e.TimeStamp.After(t) && e.Level.AtLeast(min) {
			out = append(out, e)
		}
	}
	return out
}

// Sink receives every recorded entry, e.g. to push it to dashboard clients.
type Sink func(Entry)

// Writer tees standard log output into a Logger.
// Install it with log.SetOutput(logs.NewWriter(os.Stdout, logger)).
type Writer struct {
	out    io.Writer
	logger *Logger

	mu   sync.RWMutex
	sink Sink
}

func NewWriter(out io.Writer, logger *Logger) *Writer {
	return &Writer{out: out, logger: logger}
}

// SetSink replaces the entry sink; nil disables it.
func (w *Writer) SetSink(sink Sink) {
	w.mu.Lock()
	w.sink = sink
	w.mu.Unlock()
}

// Write implements io.Writer for log redirection
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.out.Write(p)

	msg := strings.TrimSpace(string(p))
	if msg == "" {
		return n, err
	}

	entry, ok := w.logger.Record(DetectLevel(msg), msg)
	if ok {
		w.mu.RLock()
		sink := w.sink
		w.mu.RUnlock()
		if sink != nil {
			sink(entry)
		}
	}
	return n, err
}

// DetectLevel infers a level from the emoji markers used in log lines.
func DetectLevel(msg string) Level {
	switch {
	case strings.Contains(msg, "❌"), strings.Contains(msg, "🚨"), strings.Contains(msg, "ERROR"):
		return ERROR
	case strings.Contains(msg, "⚠️"), strings.Contains(msg, "WARN"):
		return WARN
	case strings.Contains(msg, "🔍"), strings.Contains(msg, "DEBUG"):
		return DEBUG
	}
	return INFO
}
