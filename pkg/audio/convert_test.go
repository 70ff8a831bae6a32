package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/mnemo/pkg/audio"
)

func TestDownmixToMono(t *testing.T) {
	t.Parallel()

	stereo := []float32{0.2, 0.4, -0.2, -0.4}
	got := audio.DownmixToMono(stereo, 2)
	want := []float32{0.3, -0.3}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDownmixToMono_MonoPassthrough(t *testing.T) {
	t.Parallel()

	in := []float32{0.1, 0.2}
	got := audio.DownmixToMono(in, 1)
	if &got[0] != &in[0] {
		t.Error("expected mono input to be returned unchanged")
	}
}

func TestResample_SameRate(t *testing.T) {
	t.Parallel()

	in := []float32{0.1, 0.2, 0.3}
	got := audio.Resample(in, 16000, 16000)
	if len(got) != len(in) {
		t.Fatalf("got %d samples, want %d", len(got), len(in))
	}
}

func TestResample_Downsample(t *testing.T) {
	t.Parallel()

	in := make([]float32, 480)
	for i := range in {
		in[i] = 0.5
	}
	got := audio.Resample(in, 48000, 16000)
	if len(got) != 160 {
		t.Fatalf("got %d samples, want 160", len(got))
	}
	for i, s := range got {
		if math.Abs(float64(s-0.5)) > 1e-6 {
			t.Fatalf("sample %d: got %v, want 0.5", i, s)
		}
	}
}

func TestResample_Upsample(t *testing.T) {
	t.Parallel()

	got := audio.Resample([]float32{0, 1}, 1, 2)
	want := []float32{0, 0.5, 1, 1}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSplitFrames(t *testing.T) {
	t.Parallel()

	start := time.Unix(100, 0)
	samples := make([]float32, 2500)
	frames := audio.SplitFrames(samples, 1000, 1000, "replay", start)
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	if len(frames[2].Samples) != 500 {
		t.Errorf("last frame has %d samples, want 500", len(frames[2].Samples))
	}
	for i, f := range frames {
		if f.Sequence != uint64(i) {
			t.Errorf("frame %d: Sequence = %d", i, f.Sequence)
		}
		wantTS := start.Add(time.Duration(i) * time.Second)
		if !f.Timestamp.Equal(wantTS) {
			t.Errorf("frame %d: Timestamp = %v, want %v", i, f.Timestamp, wantTS)
		}
	}
}
