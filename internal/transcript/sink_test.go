package transcript_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxlog/voxlog/internal/transcript"
)

// recordingArchive is a test double for transcript.Archive.
type recordingArchive struct {
	mu      sync.Mutex
	err     error
	entries []transcript.Entry
}

func (a *recordingArchive) WriteEntry(_ context.Context, _ string, e transcript.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, e)
	return nil
}

func (a *recordingArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func newSink(t *testing.T, opts ...transcript.SinkOption) *transcript.Sink {
	t.Helper()
	s, err := transcript.NewSink(t.TempDir(), "test-session", opts...)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func readSink(t *testing.T, s *transcript.Sink) string {
	t.Helper()
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	return string(data)
}

func TestNewSink_WritesBanner(t *testing.T) {
	t.Parallel()

	s := newSink(t)
	content := readSink(t, s)
	if !strings.HasPrefix(content, "=== recording session started: ") {
		t.Errorf("missing session-start banner, got %q", content)
	}
	if !strings.HasSuffix(s.Path(), "session_test-session.txt") {
		t.Errorf("unexpected path %q", s.Path())
	}
}

func TestSink_AppendFormat(t *testing.T) {
	t.Parallel()

	s := newSink(t)
	ts := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	err := s.Append(transcript.Entry{
		Timestamp:   ts,
		SpeakerID:   "user-1",
		SpeakerName: "alice",
		Text:        "hello there",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	content := readSink(t, s)
	want := "[2026-03-14 15:09:26] alice: hello there\n"
	if !strings.Contains(content, want) {
		t.Errorf("transcript missing %q, got:\n%s", want, content)
	}
}

func TestSink_AppendErrorFormat(t *testing.T) {
	t.Parallel()

	s := newSink(t)
	ts := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	if err := s.AppendError(ts, "stream read: connection reset"); err != nil {
		t.Fatalf("AppendError: %v", err)
	}

	content := readSink(t, s)
	want := "[2026-03-14 15:09:26] error: stream read: connection reset\n"
	if !strings.Contains(content, want) {
		t.Errorf("transcript missing %q, got:\n%s", want, content)
	}
}

func TestSink_ClosedRejectsWrites(t *testing.T) {
	t.Parallel()

	s := newSink(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Idempotent.
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	err := s.Append(transcript.Entry{Timestamp: time.Now(), SpeakerName: "bob", Text: "late"})
	if !errors.Is(err, transcript.ErrClosed) {
		t.Errorf("Append after Close: expected ErrClosed, got %v", err)
	}
	if err := s.AppendError(time.Now(), "late"); !errors.Is(err, transcript.ErrClosed) {
		t.Errorf("AppendError after Close: expected ErrClosed, got %v", err)
	}
}

// TestSink_ConcurrentAppends verifies that concurrent writers never interleave
// partial lines.
func TestSink_ConcurrentAppends(t *testing.T) {
	t.Parallel()

	s := newSink(t)
	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := range writers {
		wg.Go(func() {
			for i := range perWriter {
				_ = s.Append(transcript.Entry{
					Timestamp:   time.Now(),
					SpeakerName: fmt.Sprintf("speaker-%d", w),
					Text:        fmt.Sprintf("line %d", i),
				})
			}
		})
	}
	wg.Wait()

	lines := strings.Split(strings.TrimRight(readSink(t, s), "\n"), "\n")
	// Banner line + blank line + all entries.
	if got := len(lines) - 2; got != writers*perWriter {
		t.Fatalf("expected %d entry lines, got %d", writers*perWriter, got)
	}
	for _, line := range lines[2:] {
		if !strings.HasPrefix(line, "[") || !strings.Contains(line, "] speaker-") {
			t.Errorf("malformed line: %q", line)
		}
	}
}

func TestSink_MirrorsToArchive(t *testing.T) {
	t.Parallel()

	arch := &recordingArchive{}
	s := newSink(t, transcript.WithArchive(arch))

	if err := s.Append(transcript.Entry{Timestamp: time.Now(), SpeakerName: "alice", Text: "hi"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for arch.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("entry never mirrored to archive")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestSink_ArchiveFailureDoesNotFailAppend verifies the best-effort contract.
func TestSink_ArchiveFailureDoesNotFailAppend(t *testing.T) {
	t.Parallel()

	arch := &recordingArchive{err: errors.New("db down")}
	s := newSink(t, transcript.WithArchive(arch))

	if err := s.Append(transcript.Entry{Timestamp: time.Now(), SpeakerName: "alice", Text: "hi"}); err != nil {
		t.Errorf("Append should not surface archive errors, got %v", err)
	}
}
