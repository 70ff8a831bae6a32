package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	bitsPerSample = 16
	wavHeaderSize = 44
	wavFormatPCM  = 1
)

// ErrInvalidWAV is returned by [DecodeWAV] for input that is not 16-bit PCM
// RIFF/WAVE data.
var ErrInvalidWAV = errors.New("audio: invalid wav data")

// EncodeWAV wraps raw little-endian 16-bit PCM in a canonical 44-byte
// RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, wavHeaderSize+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// WAVInfo describes the stream stored in a WAV container.
type WAVInfo struct {
	SampleRate int
	Channels   int
}

// DecodeWAV parses a RIFF/WAVE byte stream and returns its 16-bit PCM payload.
// Chunks other than "fmt " and "data" are skipped. Only uncompressed 16-bit
// PCM is accepted.
func DecodeWAV(r io.Reader) (pcm []byte, info WAVInfo, err error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, info, fmt.Errorf("%w: read riff header: %v", ErrInvalidWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, info, fmt.Errorf("%w: missing RIFF/WAVE magic", ErrInvalidWAV)
	}

	var haveFmt bool
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, info, fmt.Errorf("%w: data chunk not found", ErrInvalidWAV)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, info, fmt.Errorf("%w: fmt chunk too small", ErrInvalidWAV)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, info, fmt.Errorf("%w: read fmt chunk: %v", ErrInvalidWAV, err)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			info.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits := binary.LittleEndian.Uint16(body[14:16])
			if format != wavFormatPCM || bits != bitsPerSample {
				return nil, info, fmt.Errorf("%w: unsupported format %d/%d-bit (want PCM 16-bit)", ErrInvalidWAV, format, bits)
			}
			if info.Channels <= 0 || info.SampleRate <= 0 {
				return nil, info, fmt.Errorf("%w: invalid channels/sample rate", ErrInvalidWAV)
			}
			haveFmt = true
			if size%2 == 1 {
				_, _ = io.CopyN(io.Discard, r, 1)
			}
		case "data":
			if !haveFmt {
				return nil, info, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			pcm, err := io.ReadAll(io.LimitReader(r, size))
			if err != nil {
				return nil, info, fmt.Errorf("%w: read data chunk: %v", ErrInvalidWAV, err)
			}
			return pcm, info, nil
		default:
			// RIFF chunks are word aligned.
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return nil, info, fmt.Errorf("%w: skip chunk %q: %v", ErrInvalidWAV, id, err)
			}
		}
	}
}

// WriteWAVFile encodes samples as mono 16-bit PCM and writes them to path.
// The file is written to a temporary sibling first and renamed into place, so
// a reader never observes a partially written artifact.
func WriteWAVFile(path string, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return ErrInvalidSampleRate
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("audio: create artifact dir: %w", err)
	}
	data := EncodeWAV(EncodePCM16(samples), sampleRate, 1)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("audio: write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("audio: rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadWAVFile loads a 16-bit PCM WAV file and returns mono samples at the
// file's native sample rate. Multi-channel files are down-mixed.
func ReadWAVFile(path string) ([]float32, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: read %s: %w", filepath.Base(path), err)
	}
	pcm, info, err := DecodeWAV(bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	return DownmixToMono(DecodePCM16(pcm), info.Channels), info.SampleRate, nil
}
