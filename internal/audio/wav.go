package audio

import (
	"bytes"
	"encoding/binary"

	"github.com/go-audio/wav"

	"github.com/playwatch/playwatch/internal/errors"
)

const (
	wavHeaderSize = 44
	// maxHeaderScan bounds how many leading bytes the trimmer will inspect
	// before giving up and treating the stream as bare PCM.
	maxHeaderScan = 4096
)

// EncodeWAVHeader returns a canonical 44-byte PCM WAV header for a payload
// of dataLen bytes. ffmpeg writes placeholder sizes when its output is a
// pipe, so windows are always re-wrapped with a correct header before they
// leave this package.
func EncodeWAVHeader(f Format, dataLen int) []byte {
	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1)
	binary.LittleEndian.PutUint16(h[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(f.BytesPerSecond()))
	binary.LittleEndian.PutUint16(h[32:34], uint16(f.BlockAlign()))
	binary.LittleEndian.PutUint16(h[34:36], 16)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}

// EncodeWAV wraps raw PCM in a complete WAV byte sequence.
func EncodeWAV(f Format, pcm []byte) []byte {
	out := make([]byte, 0, wavHeaderSize+len(pcm))
	out = append(out, EncodeWAVHeader(f, len(pcm))...)
	return append(out, pcm...)
}

// ValidateWAV checks that data carries a PCM WAV payload a provider can
// fingerprint: RIFF/WAVE magic, format tag 1, 16-bit depth, one or two
// channels and a supported sample rate.
func ValidateWAV(data []byte) error {
	if len(data) < wavHeaderSize {
		return errors.Newf("audio payload too short for a WAV header: %d bytes", len(data)).
			Component("audio").
			Category(errors.CategoryAudio).
			Build()
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryAudio).
			Context("operation", "decode_wav_header").
			Build()
	}

	switch {
	case dec.WavAudioFormat != 1:
		return errors.Newf("unsupported WAV format tag %d, want PCM", dec.WavAudioFormat).
			Component("audio").
			Category(errors.CategoryAudio).
			Build()
	case dec.BitDepth != 16:
		return errors.Newf("unsupported WAV bit depth %d, want 16", dec.BitDepth).
			Component("audio").
			Category(errors.CategoryAudio).
			Build()
	case dec.NumChans < 1 || dec.NumChans > 2:
		return errors.Newf("unsupported WAV channel count %d", dec.NumChans).
			Component("audio").
			Category(errors.CategoryAudio).
			Build()
	case !supportedSampleRates[int(dec.SampleRate)]:
		return errors.Newf("unsupported WAV sample rate %d", dec.SampleRate).
			Component("audio").
			Category(errors.CategoryAudio).
			Build()
	}
	return nil
}

// EnsureWAV validates data and synthesizes a header when the payload looks
// like bare frame-aligned PCM. It returns the bytes to submit upstream or
// an error when the payload cannot be made valid.
func EnsureWAV(data []byte, f Format) ([]byte, error) {
	if hasRIFFHeader(data) {
		if err := ValidateWAV(data); err != nil {
			return nil, err
		}
		return data, nil
	}

	if len(data) == 0 || len(data)%f.BlockAlign() != 0 {
		return nil, errors.Newf("audio payload is neither WAV nor frame-aligned PCM: %d bytes", len(data)).
			Component("audio").
			Category(errors.CategoryAudio).
			Build()
	}

	repaired := EncodeWAV(f, data)
	if err := ValidateWAV(repaired); err != nil {
		return nil, err
	}
	return repaired, nil
}

func hasRIFFHeader(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WAVE"
}

// headerTrimmer strips the streaming WAV header ffmpeg writes at process
// start so only PCM reaches the capture buffer. Not safe for concurrent
// use; each decoder process gets its own trimmer.
type headerTrimmer struct {
	pending []byte
	done    bool
}

// Trim consumes the next chunk from the decoder and returns the PCM bytes
// it contains. It returns nil while the header is still being assembled.
func (t *headerTrimmer) Trim(p []byte) []byte {
	if t.done {
		return p
	}

	t.pending = append(t.pending, p...)
	if offset, found := findDataPayload(t.pending); found {
		t.done = true
		out := t.pending[offset:]
		t.pending = nil
		return out
	}

	if len(t.pending) >= maxHeaderScan {
		t.done = true
		out := t.pending
		t.pending = nil
		return out
	}
	return nil
}

// findDataPayload scans a RIFF/WAVE prefix and returns the offset of the
// first audio byte. A prefix without RIFF magic is already bare PCM. Chunk
// sizes other than the data chunk's are trusted; the data chunk size is a
// pipe placeholder and ignored.
func findDataPayload(b []byte) (offset int, found bool) {
	if len(b) < 12 {
		return 0, false
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return 0, true
	}

	pos := 12
	for {
		if pos+8 > len(b) {
			return 0, false
		}
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		if id == "data" {
			return pos + 8, true
		}
		pos += 8 + size + size%2
		if pos > maxHeaderScan {
			return 0, false
		}
	}
}
