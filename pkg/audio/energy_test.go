package audio_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/mnemo/pkg/audio"
)

func TestEnergyDB(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples []float32
		want    float64
	}{
		{name: "empty", samples: nil, want: -120},
		{name: "all zero", samples: make([]float32, 480), want: -120},
		{name: "below floor", samples: []float32{1e-6, -1e-6}, want: -120},
		{name: "full scale positive", samples: []float32{1, 1, 1, 1}, want: 0},
		{name: "full scale alternating", samples: []float32{1, -1, 1, -1}, want: 0},
		{name: "half scale", samples: []float32{0.5, -0.5}, want: 10 * math.Log10(0.25)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.EnergyDB(tt.samples)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("EnergyDB() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAudioFrame_EnergyMatchesFreeFunction(t *testing.T) {
	t.Parallel()

	f := audio.AudioFrame{Samples: []float32{0.3, -0.2, 0.1}, SampleRate: 16000}
	if f.EnergyDB() != audio.EnergyDB(f.Samples) {
		t.Errorf("frame energy %v != free function %v", f.EnergyDB(), audio.EnergyDB(f.Samples))
	}
}

func TestAudioFrame_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		frame   audio.AudioFrame
		wantErr error
	}{
		{name: "valid", frame: audio.AudioFrame{Samples: []float32{0.5}, SampleRate: 16000}},
		{name: "overshoot within tolerance", frame: audio.AudioFrame{Samples: []float32{1.4}, SampleRate: 16000}},
		{name: "empty", frame: audio.AudioFrame{SampleRate: 16000}, wantErr: audio.ErrEmptyFrame},
		{name: "zero rate", frame: audio.AudioFrame{Samples: []float32{0}}, wantErr: audio.ErrInvalidSampleRate},
		{name: "out of range", frame: audio.AudioFrame{Samples: []float32{0, 2}, SampleRate: 16000}, wantErr: audio.ErrSampleOutOfRange},
		{name: "negative out of range", frame: audio.AudioFrame{Samples: []float32{-50}, SampleRate: 16000}, wantErr: audio.ErrSampleOutOfRange},
		{name: "nan", frame: audio.AudioFrame{Samples: []float32{float32(math.NaN())}, SampleRate: 16000}, wantErr: audio.ErrSampleOutOfRange},
		{name: "inf", frame: audio.AudioFrame{Samples: []float32{float32(math.Inf(1))}, SampleRate: 16000}, wantErr: audio.ErrSampleOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.frame.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSegment_Accessors(t *testing.T) {
	t.Parallel()

	start := time.Unix(10, 0)
	seg := audio.Segment{
		{Timestamp: start, Samples: make([]float32, 160), SampleRate: 16000},
		{Timestamp: start.Add(10 * time.Millisecond), Samples: fullScale(80), SampleRate: 16000},
	}

	if !seg.Start().Equal(start) {
		t.Errorf("Start() = %v, want %v", seg.Start(), start)
	}
	if got, want := seg.Duration(), 15*time.Millisecond; got != want {
		t.Errorf("Duration() = %v, want %v", got, want)
	}
	if got, want := seg.End(), start.Add(15*time.Millisecond); !got.Equal(want) {
		t.Errorf("End() = %v, want %v", got, want)
	}
	if got := len(seg.Samples()); got != 240 {
		t.Errorf("len(Samples()) = %d, want 240", got)
	}
	if got, want := seg.MeanEnergyDB(), (-120.0+0.0)/2; math.Abs(got-want) > 1e-9 {
		t.Errorf("MeanEnergyDB() = %v, want %v", got, want)
	}

	var empty audio.Segment
	if empty.MeanEnergyDB() != audio.SilenceFloorDB {
		t.Errorf("empty MeanEnergyDB() = %v", empty.MeanEnergyDB())
	}
	if empty.SampleRate() != 0 || !empty.Start().IsZero() {
		t.Error("empty segment accessors should return zero values")
	}
}

func fullScale(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
