// Package app contains the recording session manager that ties the voice
// platform, Opus decoding, streaming speech recognition, and the transcript
// sink together.
//
// A [Manager] tracks one optional voice-channel connection per channel and at
// most one [RecordingSession] per connected channel. While a session is
// active, every speaking-start event from the platform spawns a
// [SpeakerPipeline] that claims that speaker's utterance, streams the decoded
// audio to the STT provider, and appends finalized results to the session's
// transcript sink.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxlog/voxlog/internal/config"
	"github.com/voxlog/voxlog/internal/observe"
	"github.com/voxlog/voxlog/internal/transcript"
	"github.com/voxlog/voxlog/pkg/audio"
	"github.com/voxlog/voxlog/pkg/provider/stt"
)

var (
	// ErrNotConnected is returned when an operation requires a voice-channel
	// connection that does not exist.
	ErrNotConnected = errors.New("app: not connected to voice channel")

	// ErrAlreadyConnected is returned by Join when the manager already holds
	// a connection to the channel.
	ErrAlreadyConnected = errors.New("app: already connected to voice channel")

	// ErrAlreadyActive is returned by StartSession when a recording session
	// is already running on the channel.
	ErrAlreadyActive = errors.New("app: recording session already active")
)

// Providers bundles the pluggable backends a [Manager] depends on.
type Providers struct {
	// Audio connects to voice channels.
	Audio audio.Platform

	// STT opens streaming transcription sessions.
	STT stt.Provider

	// NewDecoder creates a fresh decoder for each speaker subscription.
	// Decoders carry codec state across frames, so they are never shared
	// between pipelines.
	NewDecoder func() (audio.Decoder, error)

	// Archive, when non-nil, mirrors transcript entries into durable
	// storage.
	Archive transcript.Archive
}

// SessionInfo is a point-in-time snapshot of an active recording session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// ChannelID is the voice channel being recorded.
	ChannelID string

	// StartedAt is when the session was started.
	StartedAt time.Time

	// TranscriptPath is the location of the session transcript file.
	TranscriptPath string

	// ActiveSpeakers is the number of speaker pipelines currently running.
	ActiveSpeakers int
}

// RecordingSession is one active recording on a voice channel.
// The pipelines map is mutated only while holding the owning Manager's mutex.
type RecordingSession struct {
	ID        string
	ChannelID string
	StartedAt time.Time

	sink      *transcript.Sink
	ctx       context.Context
	cancel    context.CancelFunc
	pipelines map[string]*SpeakerPipeline
}

// Manager coordinates voice-channel connections and recording sessions.
// All exported methods are safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	receivers map[string]audio.Receiver
	sessions  map[string]*RecordingSession

	cfg       *config.Config
	providers Providers
	metrics   *observe.Metrics
}

// NewManager creates a Manager with the given configuration and backends.
// A nil metrics falls back to [observe.DefaultMetrics].
func NewManager(cfg *config.Config, providers Providers, metrics *observe.Metrics) *Manager {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Manager{
		receivers: make(map[string]audio.Receiver),
		sessions:  make(map[string]*RecordingSession),
		cfg:       cfg,
		providers: providers,
		metrics:   metrics,
	}
}

// Join connects to the voice channel and registers the speaking-start
// callback that drives speaker pipelines. Joining does not start recording;
// speaking events are ignored until [Manager.StartSession] is called.
//
// Returns [ErrAlreadyConnected] if the manager already holds a connection to
// the channel.
func (m *Manager) Join(ctx context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.receivers[channelID]; ok {
		return ErrAlreadyConnected
	}

	recv, err := m.providers.Audio.Connect(ctx, channelID)
	if err != nil {
		return fmt.Errorf("app: join voice channel %s: %w", channelID, err)
	}
	recv.OnSpeakingStart(func(ev audio.SpeakerEvent) {
		m.handleSpeakerStart(channelID, ev)
	})
	m.receivers[channelID] = recv

	slog.Info("joined voice channel", "channel_id", channelID)
	return nil
}

// Leave ends any active recording session on the channel and disconnects.
//
// Returns [ErrNotConnected] if the manager holds no connection to the channel.
func (m *Manager) Leave(channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	recv, ok := m.receivers[channelID]
	if !ok {
		return ErrNotConnected
	}
	if sess := m.sessions[channelID]; sess != nil {
		m.endSessionLocked(sess)
	}
	delete(m.receivers, channelID)

	if err := recv.Disconnect(); err != nil {
		return fmt.Errorf("app: leave voice channel %s: %w", channelID, err)
	}
	slog.Info("left voice channel", "channel_id", channelID)
	return nil
}

// StartSession begins recording on a connected channel. It creates the
// session transcript sink and arms the speaking-start handler; pipelines are
// spawned lazily as participants speak.
//
// Returns the new session ID, [ErrNotConnected] if the channel was never
// joined, or [ErrAlreadyActive] if a session is already running.
func (m *Manager) StartSession(channelID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.receivers[channelID]; !ok {
		return "", ErrNotConnected
	}
	if m.sessions[channelID] != nil {
		return "", ErrAlreadyActive
	}

	now := time.Now()
	sessionID := fmt.Sprintf("rec-%s-%s", channelID, now.UTC().Format("20060102T150405Z"))

	var opts []transcript.SinkOption
	if m.providers.Archive != nil {
		opts = append(opts, transcript.WithArchive(m.providers.Archive))
	}
	sink, err := transcript.NewSink(m.cfg.Recording.TranscriptsDir, sessionID, opts...)
	if err != nil {
		return "", fmt.Errorf("app: start session: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &RecordingSession{
		ID:        sessionID,
		ChannelID: channelID,
		StartedAt: now,
		sink:      sink,
		ctx:       sessCtx,
		cancel:    cancel,
		pipelines: make(map[string]*SpeakerPipeline),
	}
	m.sessions[channelID] = sess
	m.metrics.ActiveSessions.Add(sessCtx, 1)

	slog.Info("recording session started",
		"session_id", sessionID,
		"channel_id", channelID,
		"transcript", sink.Path(),
	)
	return sessionID, nil
}

// EndSession stops the recording session on the channel. Running pipelines
// are cancelled; their in-flight results may be dropped. The voice connection
// stays up so a new session can be started without rejoining.
//
// EndSession is idempotent: ending a channel with no active session is a
// no-op.
func (m *Manager) EndSession(channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess := m.sessions[channelID]; sess != nil {
		m.endSessionLocked(sess)
	}
	return nil
}

// endSessionLocked tears down sess. Caller must hold m.mu.
func (m *Manager) endSessionLocked(sess *RecordingSession) {
	delete(m.sessions, sess.ChannelID)
	sess.cancel()
	if err := sess.sink.Close(); err != nil {
		slog.Warn("session: transcript close error", "session_id", sess.ID, "error", err)
	}
	m.metrics.ActiveSessions.Add(context.Background(), -1)

	slog.Info("recording session ended",
		"session_id", sess.ID,
		"channel_id", sess.ChannelID,
		"duration", time.Since(sess.StartedAt).Round(time.Second),
	)
}

// IsConnected reports whether the manager holds a voice connection to the
// channel.
func (m *Manager) IsConnected(channelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.receivers[channelID]
	return ok
}

// ConnectedChannels returns the IDs of all voice channels the manager is
// currently connected to.
func (m *Manager) ConnectedChannels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.receivers))
	for id := range m.receivers {
		ids = append(ids, id)
	}
	return ids
}

// ActiveSession returns a snapshot of the recording session on the channel,
// if one is running.
func (m *Manager) ActiveSession(channelID string) (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.sessions[channelID]
	if sess == nil {
		return SessionInfo{}, false
	}
	return SessionInfo{
		SessionID:      sess.ID,
		ChannelID:      sess.ChannelID,
		StartedAt:      sess.StartedAt,
		TranscriptPath: sess.sink.Path(),
		ActiveSpeakers: len(sess.pipelines),
	}, true
}

// Close ends all sessions and disconnects from all voice channels. Used
// during shutdown.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for channelID, recv := range m.receivers {
		if sess := m.sessions[channelID]; sess != nil {
			m.endSessionLocked(sess)
		}
		if err := recv.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("app: disconnect %s: %w", channelID, err))
		}
		delete(m.receivers, channelID)
	}
	return errors.Join(errs...)
}

// handleSpeakerStart reacts to a participant beginning a new utterance.
// Without an active session the event is a no-op. A speaker with a pipeline
// already running keeps it; the event is dropped (the pipeline owns the
// claimed utterance until it ends).
func (m *Manager) handleSpeakerStart(channelID string, ev audio.SpeakerEvent) {
	m.mu.Lock()

	sess := m.sessions[channelID]
	if sess == nil {
		m.mu.Unlock()
		slog.Debug("speaker started with no active session",
			"channel_id", channelID, "user_id", ev.UserID)
		return
	}
	if sess.pipelines[ev.UserID] != nil {
		m.mu.Unlock()
		return
	}
	recv := m.receivers[channelID]

	decoder, err := m.providers.NewDecoder()
	if err != nil {
		m.mu.Unlock()
		slog.Error("session: create decoder", "user_id", ev.UserID, "error", err)
		m.metrics.RecordPipelineError(context.Background(), "decode")
		return
	}

	name := ev.Username
	if name == "" {
		name = ev.UserID
	}
	p := &SpeakerPipeline{
		sessionID:     sess.ID,
		speakerID:     ev.UserID,
		speakerName:   name,
		silence:       m.cfg.Recording.SilenceTimeout.Std(),
		language:      m.cfg.Recording.Language,
		recordingsDir: m.cfg.Recording.RecordingsDir,
		recv:          recv,
		decoder:       decoder,
		provider:      m.providers.STT,
		sink:          sess.sink,
		metrics:       m.metrics,
	}
	sess.pipelines[ev.UserID] = p
	m.metrics.ActivePipelines.Add(sess.ctx, 1)
	sessCtx := sess.ctx
	m.mu.Unlock()

	slog.Debug("speaker pipeline starting",
		"session_id", p.sessionID, "speaker", ev.UserID, "name", name)

	go func() {
		err := p.run(sessCtx)
		m.finishPipeline(channelID, ev.UserID, p, err)
	}()
}

// finishPipeline removes a terminated pipeline from its session and records
// the outcome.
func (m *Manager) finishPipeline(channelID, speakerID string, p *SpeakerPipeline, err error) {
	m.mu.Lock()
	if sess := m.sessions[channelID]; sess != nil && sess.pipelines[speakerID] == p {
		delete(sess.pipelines, speakerID)
	}
	m.mu.Unlock()
	m.metrics.ActivePipelines.Add(context.Background(), -1)

	if err != nil {
		slog.Error("speaker pipeline failed",
			"session_id", p.sessionID, "speaker", speakerID, "error", err)
		return
	}
	slog.Debug("speaker pipeline finished",
		"session_id", p.sessionID, "speaker", speakerID, "entries", p.Entries())
}

// sanitizeName reduces a display name to a safe capture file-name fragment:
// lowercased, spaces to hyphens, everything outside [a-z0-9_-] dropped.
// Display names are user-controlled and must never influence the path the
// capture file lands in.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "speaker"
	}
	return b.String()
}
