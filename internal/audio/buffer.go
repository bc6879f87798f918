package audio

import (
	"io"
	"sync"

	"github.com/smallnest/ringbuffer"

	"github.com/playwatch/playwatch/internal/errors"
)

// ErrInsufficientAudio is returned by ReadWindow when the buffer does not
// yet hold a full window of PCM.
var ErrInsufficientAudio = errors.NewStd("insufficient audio buffered for a full window")

// CaptureBuffer is a rolling PCM buffer shared between one decoder process
// and one window scheduler. Writes discard the oldest audio when the ring
// is full so the buffer always holds the most recent samples.
type CaptureBuffer struct {
	mu      sync.Mutex
	rb      *ringbuffer.RingBuffer
	scratch []byte
}

// NewCaptureBuffer creates a capture buffer holding capacity bytes of PCM.
// Callers size it to cover at least one window plus one hop.
func NewCaptureBuffer(capacity int) *CaptureBuffer {
	return &CaptureBuffer{
		rb:      ringbuffer.New(capacity),
		scratch: make([]byte, 32*1024),
	}
}

// Write appends PCM to the ring, discarding the oldest bytes when the ring
// is full. It returns the number of bytes discarded.
func (b *CaptureBuffer) Write(p []byte) (dropped int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(p) > b.rb.Capacity() {
		dropped += len(p) - b.rb.Capacity()
		p = p[len(p)-b.rb.Capacity():]
	}

	if free := b.rb.Free(); free < len(p) {
		need := len(p) - free
		for need > 0 {
			n := min(need, len(b.scratch))
			rn, rerr := b.rb.Read(b.scratch[:n])
			if rerr != nil {
				break
			}
			need -= rn
			dropped += rn
		}
	}

	if _, werr := b.rb.Write(p); werr != nil {
		return dropped, errors.New(werr).
			Component("audio").
			Category(errors.CategoryBuffer).
			Context("operation", "ring_write").
			Build()
	}
	return dropped, nil
}

// ReadWindow fills dst with the most recent len(dst) bytes of PCM and
// consumes everything up to that point. It returns ErrInsufficientAudio
// when the ring holds less than a full window.
func (b *CaptureBuffer) ReadWindow(dst []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	avail := b.rb.Length()
	if avail < len(dst) {
		return ErrInsufficientAudio
	}

	for skip := avail - len(dst); skip > 0; {
		n := min(skip, len(b.scratch))
		rn, err := b.rb.Read(b.scratch[:n])
		if err != nil {
			return errors.New(err).
				Component("audio").
				Category(errors.CategoryBuffer).
				Context("operation", "ring_skip").
				Build()
		}
		skip -= rn
	}

	if _, err := io.ReadFull(b.rb, dst); err != nil {
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryBuffer).
			Context("operation", "ring_read").
			Build()
	}
	return nil
}

// Len returns the number of buffered PCM bytes.
func (b *CaptureBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rb.Length()
}

// Capacity returns the ring capacity in bytes.
func (b *CaptureBuffer) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rb.Capacity()
}

// Reset empties the buffer. Called when the decoder process dies so stale
// audio from before a gap is never stitched into a window.
func (b *CaptureBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rb.Reset()
}
