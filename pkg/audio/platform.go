// Package audio defines the interfaces and types for voice-channel
// connectivity and per-speaker audio capture within voxlog.
//
// The two primary abstractions are:
//
//   - [Platform] — connects to a voice channel and returns a [Receiver].
//   - [Receiver] — represents an active presence on that channel, giving
//     callers speaking-start notifications and per-speaker utterance
//     subscriptions bounded by silence.
//
// Implementations of these interfaces are provided by platform-specific
// adapter packages (e.g., audio/discord). The interfaces are intentionally
// narrow to keep the session manager decoupled from provider details.
//
// This package lives under pkg/ because external code (third-party platform
// adapters) is expected to implement [Platform] and [Receiver].
package audio

import (
	"context"
	"time"
)

// Receiver represents an active presence on a voice channel.
//
// A Receiver is obtained by calling [Platform.Connect] and remains valid
// until [Receiver.Disconnect] is called. Frame channels handed out by
// Subscribe are closed automatically when the speaker falls silent or the
// receiver disconnects.
//
// Implementations must be safe for concurrent use.
type Receiver interface {
	// Subscribe claims the current utterance of the identified speaker and
	// returns a read-only channel delivering that speaker's [Frame] values as
	// they arrive. The channel is closed once the speaker produces no audio
	// for the silence duration, or when the receiver disconnects.
	//
	// An utterance can be claimed at most once; Subscribe returns an error if
	// the speaker has no open utterance or it is already claimed.
	Subscribe(speakerID string, silence time.Duration) (<-chan Frame, error)

	// OnSpeakingStart registers cb as the callback to invoke whenever a
	// participant begins a new utterance. Only one callback may be registered
	// at a time; subsequent calls replace the previous registration.
	// The callback is invoked on an internal goroutine — callers must not block.
	OnSpeakingStart(cb func(SpeakerEvent))

	// Disconnect cleanly leaves the voice channel and closes all open frame
	// channels. It is safe to call Disconnect more than once; subsequent
	// calls are no-ops and return nil.
	Disconnect() error
}

// Platform is the entry point for a voice-channel provider.
// Implementations wrap provider-specific SDKs (Discord, …) and expose a
// uniform [Receiver] abstraction.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the voice channel identified by channelID and returns an
	// active [Receiver]. The supplied ctx governs the lifetime of the
	// connection attempt only; once connected, the Receiver remains alive
	// until [Receiver.Disconnect] is called explicitly.
	//
	// Returns an error if the connection cannot be established (auth failure,
	// unknown channel, network error, etc.).
	Connect(ctx context.Context, channelID string) (Receiver, error)
}

// Decoder turns one compressed frame into raw PCM bytes. Implementations are
// stateful per stream (codec state carries across consecutive frames), so a
// fresh Decoder must be created for every subscription.
//
// The output format is fixed by the implementation; voxlog's decoders produce
// 16 kHz mono little-endian int16 PCM.
type Decoder interface {
	Decode(opus []byte) ([]byte, error)
}
