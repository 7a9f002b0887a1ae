// Package mock provides in-memory mock implementations of the
// [audio.Platform], [audio.Receiver], and [audio.Decoder] interfaces for use
// in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control return values.
//
// Typical usage:
//
//	frames := make(chan audio.Frame, 16)
//	recv := &mock.Receiver{
//	    SubscribeStreams: map[string]<-chan audio.Frame{"user-1": frames},
//	}
//	platform := &mock.Platform{ConnectResult: recv}
//	got, err := platform.Connect(ctx, "channel-42")
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voxlog/voxlog/pkg/audio"
)

// ─── Receiver ─────────────────────────────────────────────────────────────────

// SubscribeCall records the arguments of a single [Receiver.Subscribe] invocation.
type SubscribeCall struct {
	// SpeakerID is the speakerID argument passed to Subscribe.
	SpeakerID string
	// Silence is the silence duration passed to Subscribe.
	Silence time.Duration
}

// Receiver is a mock implementation of [audio.Receiver].
// Set the exported Result fields before use; inspect the Call* fields after.
type Receiver struct {
	mu sync.Mutex

	// SubscribeStreams maps speaker IDs to the frame channel Subscribe returns
	// for them. Speakers without an entry get SubscribeError (or a closed
	// channel if SubscribeError is nil).
	SubscribeStreams map[string]<-chan audio.Frame

	// SubscribeError is returned by Subscribe for speakers missing from
	// SubscribeStreams.
	SubscribeError error

	// DisconnectError is returned by [Receiver.Disconnect].
	DisconnectError error

	// SubscribeCalls records all Subscribe invocations.
	SubscribeCalls []SubscribeCall

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	// RecordedCallbacks holds the callbacks registered via OnSpeakingStart,
	// in order of registration.
	RecordedCallbacks []func(audio.SpeakerEvent)
}

// Subscribe implements [audio.Receiver]. Records the call and returns the
// stream registered for speakerID, or SubscribeError if none is registered.
func (r *Receiver) Subscribe(speakerID string, silence time.Duration) (<-chan audio.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SubscribeCalls = append(r.SubscribeCalls, SubscribeCall{SpeakerID: speakerID, Silence: silence})
	if ch, ok := r.SubscribeStreams[speakerID]; ok {
		return ch, nil
	}
	if r.SubscribeError != nil {
		return nil, r.SubscribeError
	}
	closed := make(chan audio.Frame)
	close(closed)
	return closed, nil
}

// SubscribeCallCount returns the number of Subscribe calls. Thread-safe.
func (r *Receiver) SubscribeCallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.SubscribeCalls)
}

// SubscribedSpeakers returns the speaker IDs passed to Subscribe, in call
// order. Thread-safe.
func (r *Receiver) SubscribedSpeakers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.SubscribeCalls))
	for i, c := range r.SubscribeCalls {
		ids[i] = c.SpeakerID
	}
	return ids
}

// OnSpeakingStart implements [audio.Receiver].
// The callback is appended to RecordedCallbacks. To simulate speakers in
// tests, call [Receiver.EmitSpeaking].
func (r *Receiver) OnSpeakingStart(cb func(audio.SpeakerEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RecordedCallbacks = append(r.RecordedCallbacks, cb)
}

// Disconnect implements [audio.Receiver]. Returns DisconnectError.
func (r *Receiver) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountDisconnect++
	return r.DisconnectError
}

// EmitSpeaking calls all registered speaking-start callbacks with the given
// event. Use this in tests to simulate a participant starting to speak.
func (r *Receiver) EmitSpeaking(ev audio.SpeakerEvent) {
	r.mu.Lock()
	cbs := make([]func(audio.SpeakerEvent), len(r.RecordedCallbacks))
	copy(cbs, r.RecordedCallbacks)
	r.mu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	// ChannelID is the channelID argument passed to Connect.
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is the [audio.Receiver] returned by Connect.
	ConnectResult audio.Receiver

	// ConnectError is the error returned by Connect.
	ConnectError error

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall
}

// Connect implements [audio.Platform]. Records the call and returns
// ConnectResult / ConnectError.
func (p *Platform) Connect(_ context.Context, channelID string) (audio.Receiver, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{ChannelID: channelID})
	return p.ConnectResult, p.ConnectError
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

// Decoder is a mock implementation of [audio.Decoder]. By default it returns
// the input unchanged, so tests can feed PCM bytes straight through.
type Decoder struct {
	mu sync.Mutex

	// DecodeFunc, if set, replaces the default pass-through behaviour.
	DecodeFunc func(opus []byte) ([]byte, error)

	// DecodeError is returned by Decode when DecodeFunc is nil.
	DecodeError error

	// DecodeCalls records the payload of every Decode invocation.
	DecodeCalls [][]byte
}

// Decode implements [audio.Decoder].
func (d *Decoder) Decode(opus []byte) ([]byte, error) {
	d.mu.Lock()
	d.DecodeCalls = append(d.DecodeCalls, opus)
	fn := d.DecodeFunc
	err := d.DecodeError
	d.mu.Unlock()
	if fn != nil {
		return fn(opus)
	}
	if err != nil {
		return nil, err
	}
	return opus, nil
}
