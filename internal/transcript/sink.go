package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrClosed is returned by Append and AppendError once the sink is closed.
// Pipelines treat it as a signal that the session ended, not as a failure.
var ErrClosed = errors.New("transcript: sink is closed")

// timeLayout is the timestamp format used for transcript lines.
const timeLayout = "2006-01-02 15:04:05"

// archiveTimeout bounds each best-effort archive write.
const archiveTimeout = 5 * time.Second

// SinkOption is a functional option for configuring a Sink.
type SinkOption func(*Sink)

// WithArchive mirrors every appended entry into a. Archive failures are
// logged and never surface to the caller.
func WithArchive(a Archive) SinkOption {
	return func(s *Sink) {
		s.archive = a
	}
}

// Sink is the append-only transcript log for one recording session.
//
// Appends are serialized behind a mutex and each entry is written with a
// single Write call, so concurrent speaker pipelines never interleave
// partial lines. A closed Sink rejects further writes with [ErrClosed].
type Sink struct {
	sessionID string
	path      string
	archive   Archive

	mu     sync.Mutex
	file   *os.File
	closed bool
}

// NewSink creates the transcript file for sessionID under dir and writes the
// session-start banner. The file is named session_<sessionID>.txt.
func NewSink(dir, sessionID string, opts ...SinkOption) (*Sink, error) {
	path := filepath.Join(dir, "session_"+sessionID+".txt")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("transcript: create %s: %w", path, err)
	}

	s := &Sink{
		sessionID: sessionID,
		path:      path,
		file:      file,
	}
	for _, o := range opts {
		o(s)
	}

	banner := fmt.Sprintf("=== recording session started: %s ===\n\n",
		time.Now().Format(timeLayout))
	if _, err := file.WriteString(banner); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("transcript: write banner: %w", err)
	}
	return s, nil
}

// Path returns the location of the transcript file.
func (s *Sink) Path() string { return s.path }

// Append writes one finalized entry as "[timestamp] speakerName: text".
// Returns ErrClosed if the sink was closed.
func (s *Sink) Append(e Entry) error {
	line := fmt.Sprintf("[%s] %s: %s\n", e.Timestamp.Format(timeLayout), e.SpeakerName, e.Text)
	if err := s.write(line); err != nil {
		return err
	}
	if s.archive != nil {
		go s.mirror(e)
	}
	return nil
}

// AppendError writes a diagnostic failure record as "[timestamp] error: message".
// Returns ErrClosed if the sink was closed.
func (s *Sink) AppendError(at time.Time, msg string) error {
	line := fmt.Sprintf("[%s] error: %s\n", at.Format(timeLayout), msg)
	return s.write(line)
}

// Close flushes and closes the transcript file. Subsequent Append calls
// return ErrClosed. Close is idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("transcript: close %s: %w", s.path, err)
	}
	return nil
}

// write appends one complete line under the mutex.
func (s *Sink) write(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.file.WriteString(line); err != nil {
		return fmt.Errorf("transcript: append: %w", err)
	}
	return nil
}

// mirror performs the best-effort archive write for one entry.
func (s *Sink) mirror(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := s.archive.WriteEntry(ctx, s.sessionID, e); err != nil {
		slog.Warn("transcript: archive write failed",
			"session", s.sessionID,
			"speaker", e.SpeakerID,
			"error", err,
		)
	}
}
