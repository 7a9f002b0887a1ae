// Package transcript persists finalized speech-recognition results for a
// recording session.
//
// The primary type is [Sink]: one append-only text file per session, with an
// optional [Archive] mirroring every entry into durable storage for querying
// past sessions. Appends are serialized internally, so pipelines for
// concurrent speakers can write without coordinating.
package transcript

import (
	"context"
	"time"
)

// Entry is one finalized transcript line attributed to a speaker.
type Entry struct {
	// Timestamp is the wall-clock time the result was finalized.
	Timestamp time.Time

	// SpeakerID is the platform-specific identifier of the speaker.
	SpeakerID string

	// SpeakerName is the display name written to the transcript.
	SpeakerName string

	// Text is the transcribed speech content.
	Text string
}

// Archive mirrors transcript entries into durable storage. Implementations
// must be safe for concurrent use. Archive writes are best-effort: a failing
// archive never blocks or fails the session transcript itself.
type Archive interface {
	// WriteEntry appends entry to the archive under sessionID.
	WriteEntry(ctx context.Context, sessionID string, entry Entry) error
}
