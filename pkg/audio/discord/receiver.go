package discord

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/voxlog/voxlog/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Receiver = (*Receiver)(nil)

const (
	frameChannelBuffer = 64

	// rtpClockRate is the RTP timestamp clock for Discord voice.
	rtpClockRate = 48000

	// defaultSilence bounds an utterance before Subscribe picks its own value.
	defaultSilence = time.Second

	// pendingPacketLimit is how many packets are held for an SSRC with no
	// known user, about half a second of 20 ms frames. Past that the speaking
	// update is assumed lost and the audio is attributed by raw SSRC.
	pendingPacketLimit = 25
)

// ErrNoUtterance is returned by [Receiver.Subscribe] when the speaker has no
// open utterance, or the open utterance was already claimed.
var ErrNoUtterance = errors.New("discord: no open utterance for speaker")

// utterance tracks one contiguous run of speech from a single speaker.
// The frame channel is closed when the silence timer fires or the receiver
// disconnects.
type utterance struct {
	frames  chan audio.Frame
	timer   *time.Timer
	silence time.Duration
	claimed bool
}

// Receiver wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Receiver] interface. It demuxes incoming Opus packets by SSRC into
// per-speaker utterances, emits a speaking-start event when a new utterance
// opens, and closes the utterance's frame channel after a run of silence.
//
// Receiver is safe for concurrent use.
type Receiver struct {
	vc      *discordgo.VoiceConnection
	session *discordgo.Session
	guildID string

	mu         sync.Mutex
	utterances map[string]*utterance          // keyed by user ID
	ssrcUser   map[uint32]string              // SSRC -> user ID, fed by speaking updates
	pending    map[uint32][]*discordgo.Packet // packets awaiting an SSRC mapping

	speakCb func(audio.SpeakerEvent)
	speakMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once

	// disconnectVC is called during Disconnect to tear down the voice
	// connection. Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// newReceiver initialises a Receiver for an already-joined voice channel and
// starts the background receive loop.
func newReceiver(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID string) *Receiver {
	r := &Receiver{
		vc:           vc,
		session:      session,
		guildID:      guildID,
		utterances:   make(map[string]*utterance),
		ssrcUser:     make(map[uint32]string),
		pending:      make(map[uint32][]*discordgo.Packet),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}

	// Speaking updates carry the SSRC -> user mapping needed to attribute
	// incoming packets.
	vc.AddHandler(r.handleSpeakingUpdate)

	go r.recvLoop()

	return r
}

// Subscribe claims the speaker's current utterance. The returned channel is
// closed once the speaker stays silent for the given duration (or the
// receiver disconnects). Each utterance can be claimed at most once.
func (r *Receiver) Subscribe(speakerID string, silence time.Duration) (<-chan audio.Frame, error) {
	if silence <= 0 {
		silence = defaultSilence
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	utt, ok := r.utterances[speakerID]
	if !ok || utt.claimed {
		return nil, fmt.Errorf("%w: %s", ErrNoUtterance, speakerID)
	}
	utt.claimed = true
	utt.silence = silence
	utt.timer.Reset(silence)
	return utt.frames, nil
}

// OnSpeakingStart registers cb as the callback for speaking-start events.
// Only one callback may be registered; subsequent calls replace the previous one.
func (r *Receiver) OnSpeakingStart(cb func(audio.SpeakerEvent)) {
	r.speakMu.Lock()
	defer r.speakMu.Unlock()
	r.speakCb = cb
}

// Disconnect leaves the voice channel and closes all open frame channels.
// It is safe to call more than once; subsequent calls return nil.
func (r *Receiver) Disconnect() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)

		if r.disconnectVC != nil {
			err = r.disconnectVC()
		}

		r.mu.Lock()
		for id, utt := range r.utterances {
			utt.timer.Stop()
			close(utt.frames)
			delete(r.utterances, id)
		}
		clear(r.pending)
		r.mu.Unlock()
	})
	return err
}

// recvLoop reads Opus packets from the Discord voice connection, attributes
// them to speakers by SSRC, and delivers frames to the speaker's open
// utterance, opening a new one (and emitting a speaking-start event) when
// none exists.
func (r *Receiver) recvLoop() {
	for {
		select {
		case <-r.done:
			return
		case pkt, ok := <-r.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}
			r.deliver(pkt)
		}
	}
}

// deliver resolves the packet's speaker and routes it. Packets whose SSRC has
// no user mapping yet are held until [Receiver.handleSpeakingUpdate] provides
// one, so a single utterance is never split across two identities.
func (r *Receiver) deliver(pkt *discordgo.Packet) {
	r.mu.Lock()
	userID, known := r.ssrcUser[pkt.SSRC]
	if known {
		r.mu.Unlock()
		r.route(userID, pkt)
		return
	}

	buf := append(r.pending[pkt.SSRC], pkt)
	if len(buf) <= pendingPacketLimit {
		r.pending[pkt.SSRC] = buf
		r.mu.Unlock()
		return
	}

	// No speaking update came. Attribute by raw SSRC rather than drop audio.
	delete(r.pending, pkt.SSRC)
	userID = strconv.FormatUint(uint64(pkt.SSRC), 10)
	r.ssrcUser[pkt.SSRC] = userID
	r.mu.Unlock()
	for _, p := range buf {
		r.route(userID, p)
	}
}

// route delivers one packet into userID's utterance, opening a new one (and
// emitting a speaking-start event) when none is open.
func (r *Receiver) route(userID string, pkt *discordgo.Packet) {
	r.mu.Lock()

	utt, open := r.utterances[userID]
	if !open {
		utt = &utterance{
			frames:  make(chan audio.Frame, frameChannelBuffer),
			silence: defaultSilence,
		}
		utt.timer = time.AfterFunc(utt.silence, func() {
			r.closeUtterance(userID, utt)
		})
		r.utterances[userID] = utt
	} else {
		utt.timer.Reset(utt.silence)
	}

	frames := utt.frames
	r.mu.Unlock()

	if !open {
		r.emitSpeaking(audio.SpeakerEvent{
			UserID:   userID,
			Username: r.resolveUsername(userID),
		})
	}

	frame := audio.Frame{
		Opus:      pkt.Opus,
		Timestamp: time.Duration(pkt.Timestamp) * time.Second / rtpClockRate,
	}

	select {
	case frames <- frame:
	default:
		// Channel full — drop frame rather than block the receive loop.
	}
}

// closeUtterance ends an utterance after its silence timeout. The map entry
// may already be gone if Disconnect won the race.
func (r *Receiver) closeUtterance(userID string, utt *utterance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.utterances[userID]; !ok || current != utt {
		return
	}
	delete(r.utterances, userID)
	close(utt.frames)
}

// handleSpeakingUpdate records the SSRC -> user mapping from Discord speaking
// notifications and flushes any packets that were held waiting for it.
func (r *Receiver) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil {
		return
	}
	ssrc := uint32(vs.SSRC)

	r.mu.Lock()
	r.ssrcUser[ssrc] = vs.UserID
	buf := r.pending[ssrc]
	delete(r.pending, ssrc)
	r.mu.Unlock()

	for _, p := range buf {
		r.route(vs.UserID, p)
	}
}

// resolveUsername looks up the display name for a user via the session state
// cache, falling back to the raw user ID.
func (r *Receiver) resolveUsername(userID string) string {
	if r.session == nil || r.session.State == nil {
		return userID
	}
	member, err := r.session.State.Member(r.guildID, userID)
	if err != nil || member == nil || member.User == nil {
		return userID
	}
	if member.Nick != "" {
		return member.Nick
	}
	return member.User.Username
}

// emitSpeaking safely invokes the registered speaking-start callback.
func (r *Receiver) emitSpeaking(ev audio.SpeakerEvent) {
	r.speakMu.Lock()
	cb := r.speakCb
	r.speakMu.Unlock()
	if cb != nil {
		go cb(ev)
	}
}
