package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// TranscriptEntry is one NDJSON line describing an agent invocation.
type TranscriptEntry struct {
	Timestamp string `json:"ts"`
	AppName   string `json:"app_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Agent     string `json:"agent"`
	Input     string `json:"input"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
}

// TranscriptLogger records agent invocations.
type TranscriptLogger interface {
	Log(entry TranscriptEntry)
	Close() error
}

// TranscriptConfig controls the NDJSON transcript logger.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

type noopTranscriptLogger struct{}

func (noopTranscriptLogger) Log(TranscriptEntry) {}
func (noopTranscriptLogger) Close() error        { return nil }

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// fileTranscriptLogger writes one file per user and session from a single
// background goroutine. Entries are dropped when the queue is full.
type fileTranscriptLogger struct {
	dir    string
	queue  chan TranscriptEntry
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// NewTranscriptLogger returns a logger writing to cfg.Dir, or a no-op logger
// when transcripts are disabled.
func NewTranscriptLogger(cfg TranscriptConfig, logger *slog.Logger) (TranscriptLogger, error) {
	if !cfg.Enabled || cfg.Dir == "" {
		return noopTranscriptLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}

	l := &fileTranscriptLogger{
		dir:    cfg.Dir,
		queue:  make(chan TranscriptEntry, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.loop()
	return l, nil
}

func (l *fileTranscriptLogger) Log(entry TranscriptEntry) {
	select {
	case l.queue <- entry:
	default:
		l.logger.Warn("transcript queue full, dropping entry", "agent", entry.Agent, "session_id", entry.SessionID)
	}
}

func (l *fileTranscriptLogger) Close() error {
	l.once.Do(func() {
		close(l.queue)
	})
	<-l.done
	return nil
}

func (l *fileTranscriptLogger) loop() {
	defer close(l.done)
	for entry := range l.queue {
		if err := l.write(entry); err != nil {
			l.logger.Warn("failed to write transcript entry", "error", err, "session_id", entry.SessionID)
		}
	}
}

func (l *fileTranscriptLogger) write(entry TranscriptEntry) error {
	dir := filepath.Join(l.dir, unsafePathChars.ReplaceAllString(entry.UserID, "_"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, unsafePathChars.ReplaceAllString(entry.SessionID, "_")+".ndjson")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	line, err := json.Marshal(entry)
	if err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
