package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFormat() Format {
	return Format{SampleRate: 44100, Channels: 1}
}

func testPCM(f Format, d time.Duration) []byte {
	pcm := make([]byte, f.Bytes(d))
	for i := range pcm {
		pcm[i] = byte(i % 251)
	}
	return pcm
}

func TestFormatByteMath(t *testing.T) {
	t.Parallel()

	mono := Format{SampleRate: 44100, Channels: 1}
	assert.Equal(t, 88200, mono.BytesPerSecond())
	assert.Equal(t, 2, mono.BlockAlign())
	assert.Equal(t, 1058400, mono.Bytes(12*time.Second))

	stereo := Format{SampleRate: 48000, Channels: 2}
	assert.Equal(t, 192000, stereo.BytesPerSecond())
	assert.Equal(t, 4, stereo.BlockAlign())
	assert.Equal(t, 96000, stereo.Bytes(500*time.Millisecond))
	assert.Zero(t, stereo.Bytes(500*time.Millisecond)%stereo.BlockAlign())
}

func TestEncodeWAVRoundtrip(t *testing.T) {
	t.Parallel()

	f := testFormat()
	pcm := testPCM(f, 100*time.Millisecond)
	data := EncodeWAV(f, pcm)
	require.Len(t, data, wavHeaderSize+len(pcm))

	dec := wav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	require.NoError(t, dec.Err())
	assert.EqualValues(t, 1, dec.WavAudioFormat)
	assert.EqualValues(t, 1, dec.NumChans)
	assert.EqualValues(t, 44100, dec.SampleRate)
	assert.EqualValues(t, 16, dec.BitDepth)

	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, &gaudio.Format{NumChannels: 1, SampleRate: 44100}, buf.Format)
	require.Len(t, buf.Data, len(pcm)/2)

	first := int(int16(binary.LittleEndian.Uint16(pcm[0:2])))
	assert.Equal(t, first, buf.Data[0])
	last := int(int16(binary.LittleEndian.Uint16(pcm[len(pcm)-2:])))
	assert.Equal(t, last, buf.Data[len(buf.Data)-1])
}

func TestValidateWAV(t *testing.T) {
	t.Parallel()

	f := testFormat()
	valid := EncodeWAV(f, testPCM(f, 50*time.Millisecond))
	require.NoError(t, ValidateWAV(valid))

	t.Run("too short", func(t *testing.T) {
		t.Parallel()
		assert.Error(t, ValidateWAV([]byte("RIFF")))
	})

	t.Run("bad magic", func(t *testing.T) {
		t.Parallel()
		corrupt := bytes.Clone(valid)
		copy(corrupt[0:4], "JUNK")
		assert.Error(t, ValidateWAV(corrupt))
	})

	t.Run("non-pcm format tag", func(t *testing.T) {
		t.Parallel()
		corrupt := bytes.Clone(valid)
		binary.LittleEndian.PutUint16(corrupt[20:22], 3)
		assert.Error(t, ValidateWAV(corrupt))
	})

	t.Run("wrong bit depth", func(t *testing.T) {
		t.Parallel()
		corrupt := bytes.Clone(valid)
		binary.LittleEndian.PutUint16(corrupt[34:36], 8)
		assert.Error(t, ValidateWAV(corrupt))
	})

	t.Run("unsupported sample rate", func(t *testing.T) {
		t.Parallel()
		corrupt := bytes.Clone(valid)
		binary.LittleEndian.PutUint32(corrupt[24:28], 11025)
		assert.Error(t, ValidateWAV(corrupt))
	})

	t.Run("too many channels", func(t *testing.T) {
		t.Parallel()
		corrupt := bytes.Clone(valid)
		binary.LittleEndian.PutUint16(corrupt[22:24], 6)
		assert.Error(t, ValidateWAV(corrupt))
	})
}

func TestEnsureWAV(t *testing.T) {
	t.Parallel()

	f := testFormat()

	t.Run("valid input passes through", func(t *testing.T) {
		t.Parallel()
		valid := EncodeWAV(f, testPCM(f, 50*time.Millisecond))
		out, err := EnsureWAV(valid, f)
		require.NoError(t, err)
		assert.Equal(t, valid, out)
	})

	t.Run("bare pcm gets a header", func(t *testing.T) {
		t.Parallel()
		pcm := testPCM(f, 50*time.Millisecond)
		out, err := EnsureWAV(pcm, f)
		require.NoError(t, err)
		require.NoError(t, ValidateWAV(out))
		assert.Equal(t, pcm, out[wavHeaderSize:])
	})

	t.Run("odd length pcm rejected", func(t *testing.T) {
		t.Parallel()
		pcm := testPCM(f, 50*time.Millisecond)
		_, err := EnsureWAV(pcm[:len(pcm)-1], f)
		assert.Error(t, err)
	})

	t.Run("empty payload rejected", func(t *testing.T) {
		t.Parallel()
		_, err := EnsureWAV(nil, f)
		assert.Error(t, err)
	})

	t.Run("riff payload failing validation rejected", func(t *testing.T) {
		t.Parallel()
		bad := EncodeWAV(f, testPCM(f, 50*time.Millisecond))
		binary.LittleEndian.PutUint16(bad[34:36], 8)
		_, err := EnsureWAV(bad, f)
		assert.Error(t, err)
	})
}

func TestHeaderTrimmer(t *testing.T) {
	t.Parallel()

	f := testFormat()
	pcm := testPCM(f, 20*time.Millisecond)

	t.Run("whole header in first chunk", func(t *testing.T) {
		t.Parallel()
		trimmer := &headerTrimmer{}
		out := trimmer.Trim(EncodeWAV(f, pcm))
		assert.Equal(t, pcm, out)
		more := []byte{1, 2, 3, 4}
		assert.Equal(t, more, trimmer.Trim(more))
	})

	t.Run("header split across chunks", func(t *testing.T) {
		t.Parallel()
		trimmer := &headerTrimmer{}
		data := EncodeWAV(f, pcm)
		assert.Nil(t, trimmer.Trim(data[:10]))
		assert.Nil(t, trimmer.Trim(data[10:30]))
		out := trimmer.Trim(data[30:])
		assert.Equal(t, pcm, out)
	})

	t.Run("bare pcm passes through", func(t *testing.T) {
		t.Parallel()
		trimmer := &headerTrimmer{}
		out := trimmer.Trim(pcm)
		assert.Equal(t, pcm, out)
	})

	t.Run("extra chunk before data", func(t *testing.T) {
		t.Parallel()
		header := EncodeWAVHeader(f, len(pcm))
		withList := make([]byte, 0, len(header)+12+len(pcm))
		withList = append(withList, header[:36]...)
		withList = append(withList, []byte("LIST")...)
		withList = binary.LittleEndian.AppendUint32(withList, 4)
		withList = append(withList, []byte("INFO")...)
		withList = append(withList, header[36:]...)
		withList = append(withList, pcm...)

		trimmer := &headerTrimmer{}
		assert.Equal(t, pcm, trimmer.Trim(withList))
	})

	t.Run("unrecognizable stream flushed at cap", func(t *testing.T) {
		t.Parallel()
		trimmer := &headerTrimmer{}
		junk := append([]byte("RIFFxxxxWAVE"), make([]byte, maxHeaderScan)...)
		out := trimmer.Trim(junk)
		assert.Equal(t, junk, out)
	})
}
