package audio_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/mnemo/pkg/audio"
)

func TestEncodeSample(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32767},
		{1.4, 32767},
		{-1.4, -32767},
		{0.5, 16384},
	}
	for _, tt := range tests {
		if got := audio.EncodeSample(tt.in); got != tt.want {
			t.Errorf("EncodeSample(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestDecodeSample(t *testing.T) {
	t.Parallel()

	if got := audio.DecodeSample(-32768); got != -1 {
		t.Errorf("DecodeSample(-32768) = %v, want -1", got)
	}
	if got := audio.DecodeSample(0); got != 0 {
		t.Errorf("DecodeSample(0) = %v, want 0", got)
	}
	if got, want := audio.DecodeSample(32767), float32(32767.0/32768.0); got != want {
		t.Errorf("DecodeSample(32767) = %v, want %v", got, want)
	}
}

func TestPCM16_RoundTripFromInt16(t *testing.T) {
	t.Parallel()

	for v := math.MinInt16; v <= math.MaxInt16; v++ {
		x := audio.DecodeSample(int16(v))
		back := audio.EncodeSample(x)
		if d := int(back) - v; d < -1 || d > 1 {
			t.Fatalf("int16 %d -> %v -> %d: off by %d", v, x, back, d)
		}
		again := audio.DecodeSample(back)
		if diff := math.Abs(float64(again - x)); diff > 1.0/32768+1e-9 {
			t.Fatalf("float %v -> %d -> %v: diff %v exceeds 1/32768", x, back, again, diff)
		}
	}
}

func TestEncodeDecodePCM16(t *testing.T) {
	t.Parallel()

	in := []float32{0, 0.25, -0.25, 0.999, -1}
	pcm := audio.EncodePCM16(in)
	if len(pcm) != len(in)*2 {
		t.Fatalf("len(pcm) = %d, want %d", len(pcm), len(in)*2)
	}
	if got := int16(binary.LittleEndian.Uint16(pcm[2:4])); got != audio.EncodeSample(0.25) {
		t.Errorf("sample 1 encoded as %d, want little-endian %d", got, audio.EncodeSample(0.25))
	}

	out := audio.DecodePCM16(pcm)
	if len(out) != len(in) {
		t.Fatalf("decoded %d samples, want %d", len(out), len(in))
	}
	for i := range in {
		if diff := math.Abs(float64(out[i] - in[i])); diff > 1.5/32768 {
			t.Errorf("sample %d: got %v, want %v (diff %v)", i, out[i], in[i], diff)
		}
	}
}

func TestDecodePCM16_OddByteTruncated(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x00, 0x80, 0xff, 0x7f, 0x12}
	got := audio.DecodePCM16(pcm)
	if len(got) != 2 {
		t.Fatalf("decoded %d samples, want 2", len(got))
	}
	if got[0] != -1 {
		t.Errorf("sample 0 = %v, want -1", got[0])
	}
	if !bytes.Equal(pcm, []byte{0x00, 0x80, 0xff, 0x7f, 0x12}) {
		t.Error("input slice was modified")
	}
}

func TestInt16ToSamples(t *testing.T) {
	t.Parallel()

	got := audio.Int16ToSamples([]int16{16384, -16384})
	if got[0] != 0.5 || got[1] != -0.5 {
		t.Errorf("Int16ToSamples = %v, want [0.5 -0.5]", got)
	}
}
