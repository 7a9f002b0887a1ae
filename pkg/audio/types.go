package audio

import "time"

// Frame is a single compressed audio frame received from one speaker. Frames
// are opaque to this package; a [Decoder] turns them into PCM downstream.
type Frame struct {
	// Opus holds the raw Opus packet payload as received from the platform.
	Opus []byte

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// SpeakerEvent describes a participant starting to speak on a connected voice
// channel. Callbacks registered via [Receiver.OnSpeakingStart] receive values
// of this type.
type SpeakerEvent struct {
	// UserID is the platform-specific unique identifier for the speaker.
	UserID string

	// Username is the human-readable display name of the speaker.
	Username string
}
