// Package audio captures PCM from RTSP sources via ffmpeg, buffers it in a
// rolling ring, and cuts fixed-length recognition windows on a hop schedule
// aligned to the Unix epoch.
package audio

import "time"

const bytesPerSample = 2 // 16-bit signed little-endian PCM

// supportedSampleRates lists the PCM sample rates the pipeline accepts.
var supportedSampleRates = map[int]bool{
	8000:  true,
	16000: true,
	22050: true,
	32000: true,
	44100: true,
	48000: true,
}

// Format describes the PCM layout delivered by ffmpeg.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM byte rate for the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * bytesPerSample
}

// BlockAlign returns the size of one sample frame in bytes.
func (f Format) BlockAlign() int {
	return f.Channels * bytesPerSample
}

// Bytes returns the PCM byte count covering d, aligned down to a whole frame.
func (f Format) Bytes(d time.Duration) int {
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%f.BlockAlign()
}
