package audio_test

import (
	"testing"

	"github.com/voxlog/voxlog/pkg/audio"
)

func pcm16(samples ...int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

func samples16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return out
}

func TestStereoToMono_Averages(t *testing.T) {
	t.Parallel()

	// Two stereo frames: (100, 200) and (-50, 50).
	in := pcm16(100, 200, -50, 50)
	got := samples16(audio.StereoToMono(in))

	want := []int16{150, 0}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: want %d, got %d", i, want[i], got[i])
		}
	}
}

func TestStereoToMono_ClampsOverflow(t *testing.T) {
	t.Parallel()

	in := pcm16(32767, 32767)
	got := samples16(audio.StereoToMono(in))
	if len(got) != 1 || got[0] != 32767 {
		t.Errorf("expected clamped 32767, got %v", got)
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	t.Parallel()

	in := pcm16(1, 2, 3)
	got := audio.ResampleMono16(in, 16000, 16000)
	if &got[0] != &in[0] {
		t.Error("expected input returned unchanged when rates match")
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	t.Parallel()

	// 48 kHz -> 16 kHz should keep one third of the samples.
	in := pcm16(0, 10, 20, 30, 40, 50)
	got := samples16(audio.ResampleMono16(in, 48000, 16000))
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[0] != 0 {
		t.Errorf("sample 0: want 0, got %d", got[0])
	}
}

func TestResampleMono16_InvalidRates(t *testing.T) {
	t.Parallel()

	in := pcm16(1, 2)
	if got := audio.ResampleMono16(in, 0, 16000); len(got) != len(in) {
		t.Error("expected input returned for zero src rate")
	}
	if got := audio.ResampleMono16(in, 16000, -1); len(got) != len(in) {
		t.Error("expected input returned for negative dst rate")
	}
}
