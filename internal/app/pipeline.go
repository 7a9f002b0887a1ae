package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxlog/voxlog/internal/observe"
	"github.com/voxlog/voxlog/internal/transcript"
	"github.com/voxlog/voxlog/pkg/audio"
	"github.com/voxlog/voxlog/pkg/provider/stt"
)

// PipelineState is the lifecycle state of a [SpeakerPipeline].
type PipelineState int32

const (
	// StateCapturing means the pipeline has claimed the utterance but has
	// not yet delivered audio to the provider.
	StateCapturing PipelineState = iota

	// StateStreaming means audio is flowing to the provider.
	StateStreaming

	// StateFinalizing means a final result is being written to the sink.
	StateFinalizing

	// StateDone means the pipeline ended cleanly.
	StateDone

	// StateFailed means the pipeline ended with an error.
	StateFailed
)

// String implements [fmt.Stringer].
func (s PipelineState) String() string {
	switch s {
	case StateCapturing:
		return "capturing"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("unknown(%d)", int32(s))
}

// SpeakerPipeline carries one speaker's utterance from the voice channel to
// the transcript sink: claim the utterance, decode each frame to PCM, stream
// the PCM to the STT provider, and append finalized results to the sink.
//
// A pipeline is single-use. It is created by the [Manager] on a
// speaking-start event and runs until the speaker falls silent, the session
// ends, or a stage fails.
type SpeakerPipeline struct {
	sessionID     string
	speakerID     string
	speakerName   string
	silence       time.Duration
	language      string
	recordingsDir string

	recv     audio.Receiver
	decoder  audio.Decoder
	provider stt.Provider
	sink     *transcript.Sink
	metrics  *observe.Metrics

	state     atomic.Int32
	entries   atomic.Int64
	startedAt time.Time
}

// State returns the pipeline's current lifecycle state.
func (p *SpeakerPipeline) State() PipelineState {
	return PipelineState(p.state.Load())
}

// Entries returns how many finalized transcript entries this pipeline has
// written so far.
func (p *SpeakerPipeline) Entries() int64 {
	return p.entries.Load()
}

// run executes the pipeline until the utterance ends or ctx is cancelled.
// The returned error is nil for a clean finish, including cancellation.
func (p *SpeakerPipeline) run(ctx context.Context) error {
	p.startedAt = time.Now()

	frames, err := p.recv.Subscribe(p.speakerID, p.silence)
	if err != nil {
		err = fmt.Errorf("subscribe speaker %s: %w", p.speakerID, err)
		p.fail(ctx, "subscribe", err)
		return fmt.Errorf("pipeline: %w", err)
	}

	capture := p.openCapture()

	sess, err := p.provider.StartStream(ctx, stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Language:   p.language,
	})
	if err != nil {
		go audio.Drain(frames)
		if capture != nil {
			_ = capture.Close()
		}
		err = fmt.Errorf("start transcription stream: %w", err)
		p.fail(ctx, "stream", err)
		return fmt.Errorf("pipeline: %w", err)
	}

	// Partials are for low-latency consumers we don't have; drop them so the
	// provider never blocks.
	go audio.Drain(sess.Partials())

	g, gctx := errgroup.WithContext(ctx)

	// Feed leg: frames in, PCM out to capture file and provider.
	g.Go(func() error {
		defer func() {
			if err := sess.Close(); err != nil {
				slog.Warn("pipeline: stream close error",
					"speaker", p.speakerID, "error", err)
			}
		}()
		for {
			select {
			case <-gctx.Done():
				return nil
			case frame, ok := <-frames:
				if !ok {
					return nil
				}
				pcm, err := p.decoder.Decode(frame.Opus)
				if err != nil {
					// A corrupt frame loses a few milliseconds of audio,
					// not the utterance.
					slog.Warn("pipeline: dropping undecodable frame",
						"speaker", p.speakerID, "error", err)
					p.metrics.RecordPipelineError(gctx, "decode")
					continue
				}
				if capture != nil {
					if _, werr := capture.Write(pcm); werr != nil {
						slog.Warn("pipeline: capture write failed, continuing without raw capture",
							"speaker", p.speakerID, "error", werr)
						_ = capture.Close()
						capture = nil
					} else {
						p.metrics.CaptureBytes.Add(gctx, int64(len(pcm)))
					}
				}
				if err := sess.SendAudio(pcm); err != nil {
					p.metrics.RecordPipelineError(gctx, "stream")
					return fmt.Errorf("send audio: %w", err)
				}
				p.state.CompareAndSwap(int32(StateCapturing), int32(StateStreaming))
			}
		}
	})

	// Consume leg: finalized results out to the transcript sink.
	g.Go(func() error {
		finals := sess.Finals()
		for {
			select {
			case <-gctx.Done():
				return nil
			case tr, ok := <-finals:
				if !ok {
					if serr := sess.Err(); serr != nil {
						p.metrics.RecordPipelineError(gctx, "stream")
						return fmt.Errorf("transcription stream: %w", serr)
					}
					return nil
				}
				if strings.TrimSpace(tr.Text) == "" {
					continue
				}
				p.state.Store(int32(StateFinalizing))
				err := p.sink.Append(transcript.Entry{
					Timestamp:   time.Now(),
					SpeakerID:   p.speakerID,
					SpeakerName: p.speakerName,
					Text:        tr.Text,
				})
				if errors.Is(err, transcript.ErrClosed) {
					// Session ended while a result was in flight.
					return nil
				}
				if err != nil {
					p.metrics.RecordPipelineError(gctx, "sink")
					return fmt.Errorf("append transcript: %w", err)
				}
				p.entries.Add(1)
				p.metrics.TranscriptEntries.Add(gctx, 1)
				if lat := time.Since(p.startedAt) - (tr.Timestamp + tr.Duration); lat > 0 {
					p.metrics.TranscriptionLatency.Record(gctx, lat.Seconds())
				}
				p.state.Store(int32(StateStreaming))
			}
		}
	})

	err = g.Wait()

	// The utterance and result channels may still be open if we bailed early.
	go audio.Drain(frames)
	go audio.Drain(sess.Finals())
	if capture != nil {
		if cerr := capture.Close(); cerr != nil {
			slog.Warn("pipeline: capture close error",
				"speaker", p.speakerID, "error", cerr)
		}
	}

	outcome := "done"
	if err != nil {
		outcome = "failed"
		p.state.Store(int32(StateFailed))
		if aerr := p.sink.AppendError(time.Now(), err.Error()); aerr != nil && !errors.Is(aerr, transcript.ErrClosed) {
			slog.Warn("pipeline: record failure in transcript",
				"speaker", p.speakerID, "error", aerr)
		}
	} else {
		p.state.Store(int32(StateDone))
	}
	p.metrics.RecordPipelineDone(context.Background(), time.Since(p.startedAt).Seconds(), outcome)

	if err != nil {
		return fmt.Errorf("pipeline: speaker %s: %w", p.speakerID, err)
	}
	return nil
}

// fail marks the pipeline failed, writes the diagnostic record to the
// transcript, and records the stage error. Failures before the stream legs
// start take the same sink path as failures surfaced through them.
func (p *SpeakerPipeline) fail(ctx context.Context, stage string, err error) {
	p.state.Store(int32(StateFailed))
	p.metrics.RecordPipelineError(ctx, stage)
	if aerr := p.sink.AppendError(time.Now(), err.Error()); aerr != nil && !errors.Is(aerr, transcript.ErrClosed) {
		slog.Warn("pipeline: record failure in transcript",
			"speaker", p.speakerID, "error", aerr)
	}
	p.metrics.RecordPipelineDone(context.Background(), time.Since(p.startedAt).Seconds(), "failed")
}

// openCapture creates the raw PCM capture file for this utterance. A capture
// failure is logged and transcription continues without it.
func (p *SpeakerPipeline) openCapture() *os.File {
	name := fmt.Sprintf("%s_%s_%d.pcm",
		p.sessionID, sanitizeName(p.speakerName), p.startedAt.UnixMilli())
	f, err := os.Create(filepath.Join(p.recordingsDir, name))
	if err != nil {
		slog.Warn("pipeline: open capture file failed, continuing without raw capture",
			"speaker", p.speakerID, "error", err)
		return nil
	}
	return f
}
