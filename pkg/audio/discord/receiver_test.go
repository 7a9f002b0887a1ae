package discord

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/voxlog/voxlog/pkg/audio"
)

// ─── test helpers ─────────────────────────────────────────────────────────────

// newTestReceiver creates a Receiver suitable for unit testing without a real
// Discord voice connection. It wires up a fake OpusRecv channel.
func newTestReceiver(t *testing.T) *Receiver {
	t.Helper()
	vc := &discordgo.VoiceConnection{
		OpusRecv: make(chan *discordgo.Packet, 16),
	}
	r := &Receiver{
		vc:           vc,
		session:      &discordgo.Session{},
		guildID:      "guild-test",
		utterances:   make(map[string]*utterance),
		ssrcUser:     make(map[uint32]string),
		pending:      make(map[uint32][]*discordgo.Packet),
		done:         make(chan struct{}),
		disconnectVC: func() error { return nil }, // no-op for tests
	}
	// Start the loop like the real constructor (but without registering the
	// speaking-update handler since the vc has no websocket).
	go r.recvLoop()
	t.Cleanup(func() { _ = r.Disconnect() })
	return r
}

// ─── Platform tests ──────────────────────────────────────────────────────────

// TestNewPlatform verifies that New creates a Platform with the expected fields.
func TestNewPlatform(t *testing.T) {
	t.Parallel()

	s := &discordgo.Session{}
	p := New(s, "guild-123")
	if p == nil {
		t.Fatal("New returned nil")
	}
	if p.session != s {
		t.Error("session not stored correctly")
	}
	if p.guildID != "guild-123" {
		t.Errorf("guildID = %q, want %q", p.guildID, "guild-123")
	}
}

// ─── Receiver tests ──────────────────────────────────────────────────────────

// TestReceiver_DisconnectIdempotent verifies that Disconnect can be called
// multiple times without panicking and returns nil on subsequent calls.
func TestReceiver_DisconnectIdempotent(t *testing.T) {
	t.Parallel()

	r := newTestReceiver(t)
	for i := range 3 {
		if err := r.Disconnect(); i > 0 && err != nil {
			t.Fatalf("Disconnect[%d]: unexpected error: %v", i, err)
		}
	}
}

// TestReceiver_SpeakingStartAndSubscribe verifies that the first packet of an
// utterance emits a speaking-start event and that Subscribe delivers the
// buffered frames.
func TestReceiver_SpeakingStartAndSubscribe(t *testing.T) {
	t.Parallel()

	r := newTestReceiver(t)

	events := make(chan audio.SpeakerEvent, 4)
	r.OnSpeakingStart(func(ev audio.SpeakerEvent) {
		events <- ev
	})

	// Speaking update maps SSRC 100 to a user before audio arrives.
	r.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "user-alice", SSRC: 100})

	opus := []byte{0xF8, 0xFF, 0xFE}
	r.vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Opus: opus, Timestamp: 960}

	select {
	case ev := <-events:
		if ev.UserID != "user-alice" {
			t.Errorf("event UserID = %q, want %q", ev.UserID, "user-alice")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for speaking-start event")
	}

	frames, err := r.Subscribe("user-alice", time.Second)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case frame := <-frames:
		if len(frame.Opus) != len(opus) {
			t.Errorf("frame payload length = %d, want %d", len(frame.Opus), len(opus))
		}
		if frame.Timestamp != 20*time.Millisecond {
			t.Errorf("frame timestamp = %v, want %v", frame.Timestamp, 20*time.Millisecond)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

// TestReceiver_SubscribeUnknownSpeaker verifies the error for a speaker with
// no open utterance.
func TestReceiver_SubscribeUnknownSpeaker(t *testing.T) {
	t.Parallel()

	r := newTestReceiver(t)
	if _, err := r.Subscribe("ghost", time.Second); !errors.Is(err, ErrNoUtterance) {
		t.Errorf("expected ErrNoUtterance, got %v", err)
	}
}

// TestReceiver_SubscribeClaimedTwice verifies that an utterance can only be
// claimed once.
func TestReceiver_SubscribeClaimedTwice(t *testing.T) {
	t.Parallel()

	r := newTestReceiver(t)
	r.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "user-bob", SSRC: 42})
	r.vc.OpusRecv <- &discordgo.Packet{SSRC: 42, Opus: []byte{0xF8}}
	waitForUtterance(t, r, "user-bob")

	if _, err := r.Subscribe("user-bob", time.Second); err != nil {
		t.Fatalf("first Subscribe: %v", err)
	}
	if _, err := r.Subscribe("user-bob", time.Second); !errors.Is(err, ErrNoUtterance) {
		t.Errorf("second Subscribe: expected ErrNoUtterance, got %v", err)
	}
}

// TestReceiver_EarlyPacketsHeldUntilMapping verifies that packets arriving
// before the speaking update are buffered and then delivered under the real
// user ID once the mapping lands, rather than split across two identities.
func TestReceiver_EarlyPacketsHeldUntilMapping(t *testing.T) {
	t.Parallel()

	r := newTestReceiver(t)
	events := make(chan audio.SpeakerEvent, 4)
	r.OnSpeakingStart(func(ev audio.SpeakerEvent) {
		events <- ev
	})

	for i := range 3 {
		r.vc.OpusRecv <- &discordgo.Packet{SSRC: 11, Opus: []byte{byte(i)}}
	}

	// No utterance opens while the SSRC is unmapped.
	time.Sleep(50 * time.Millisecond)
	r.mu.Lock()
	_, openRaw := r.utterances["11"]
	held := len(r.pending[11])
	r.mu.Unlock()
	if openRaw {
		t.Fatal("utterance opened under the raw SSRC before any mapping")
	}
	if held != 3 {
		t.Fatalf("pending packets = %d, want 3", held)
	}

	r.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "user-carol", SSRC: 11})

	select {
	case ev := <-events:
		if ev.UserID != "user-carol" {
			t.Errorf("event UserID = %q, want %q", ev.UserID, "user-carol")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for speaking-start event")
	}

	frames, err := r.Subscribe("user-carol", time.Second)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	for i := range 3 {
		select {
		case frame := <-frames:
			if len(frame.Opus) != 1 || frame.Opus[0] != byte(i) {
				t.Errorf("frame %d payload = %v", i, frame.Opus)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for buffered frame %d", i)
		}
	}
}

// TestReceiver_SSRCFallbackIdentity verifies that when the speaking update
// never arrives, buffered packets eventually flush under the SSRC itself so
// the audio is not dropped.
func TestReceiver_SSRCFallbackIdentity(t *testing.T) {
	t.Parallel()

	r := newTestReceiver(t)
	for range pendingPacketLimit + 1 {
		r.vc.OpusRecv <- &discordgo.Packet{SSRC: 7, Opus: []byte{0xF8}}
	}
	waitForUtterance(t, r, "7")

	if _, err := r.Subscribe("7", time.Second); err != nil {
		t.Errorf("Subscribe by SSRC fallback: %v", err)
	}
}

// TestReceiver_SilenceClosesStream verifies that the frame channel closes
// after the subscribed silence duration without packets.
func TestReceiver_SilenceClosesStream(t *testing.T) {
	t.Parallel()

	r := newTestReceiver(t)
	r.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "user-dan", SSRC: 9})
	r.vc.OpusRecv <- &discordgo.Packet{SSRC: 9, Opus: []byte{0xF8}}
	waitForUtterance(t, r, "user-dan")

	frames, err := r.Subscribe("user-dan", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Drain the buffered frame, then expect close.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return // closed as expected
			}
		case <-deadline:
			t.Fatal("frame channel not closed after silence timeout")
		}
	}
}

// TestReceiver_DisconnectClosesStreams verifies that Disconnect closes open
// frame channels.
func TestReceiver_DisconnectClosesStreams(t *testing.T) {
	t.Parallel()

	r := newTestReceiver(t)
	r.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "user-eve", SSRC: 5})
	r.vc.OpusRecv <- &discordgo.Packet{SSRC: 5, Opus: []byte{0xF8}}
	waitForUtterance(t, r, "user-eve")

	frames, err := r.Subscribe("user-eve", time.Minute)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := r.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("frame channel not closed after Disconnect")
		}
	}
}

// TestReceiver_ConcurrentDisconnect exercises Disconnect from multiple
// goroutines to verify thread safety (run with -race).
func TestReceiver_ConcurrentDisconnect(t *testing.T) {
	t.Parallel()

	r := newTestReceiver(t)
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			_ = r.Disconnect()
		})
	}
	wg.Wait()
}

// waitForUtterance polls until the recv loop has opened an utterance for the
// given speaker.
func waitForUtterance(t *testing.T, r *Receiver, speakerID string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		_, ok := r.utterances[speakerID]
		r.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("utterance for %q never opened", speakerID)
}
