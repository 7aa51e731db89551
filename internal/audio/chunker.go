package audio

import (
	"encoding/binary"
	"math"

	"github.com/airenas/go-app/pkg/goapp"
)

// Chunker converts normalized float samples to PCM16LE and slices them
// into fixed duration chunks for the speech service.
type Chunker struct {
	buf       []byte
	chunkSize int
}

// NewChunker creates a chunker for mono 16-bit audio.
func NewChunker(sampleRate, chunkDurationMs int) *Chunker {
	chunkSize := sampleRate * chunkDurationMs / 1000 * 2
	goapp.Log.Debug().Int("sampleRate", sampleRate).Int("chunkMs", chunkDurationMs).
		Int("chunkSize", chunkSize).Msg("chunker")
	return &Chunker{chunkSize: chunkSize}
}

// Add appends samples to the backlog and returns all complete chunks.
// A chunk is returned only when its full byte length is available,
// the partial remainder stays for the next call.
func (c *Chunker) Add(samples []float32) [][]byte {
	for _, s := range samples {
		v := int16(clamp(s) * math.MaxInt16)
		c.buf = binary.LittleEndian.AppendUint16(c.buf, uint16(v))
	}

	var chunks [][]byte
	for len(c.buf) >= c.chunkSize {
		chunk := make([]byte, c.chunkSize)
		copy(chunk, c.buf[:c.chunkSize])
		c.buf = c.buf[c.chunkSize:]
		chunks = append(chunks, chunk)
	}
	return chunks
}

// Flush returns the partial remainder, nil if the backlog is empty.
func (c *Chunker) Flush() []byte {
	if len(c.buf) == 0 {
		return nil
	}
	res := c.buf
	c.buf = nil
	return res
}

func clamp(v float32) float32 {
	if v > 1.0 {
		return 1.0
	}
	if v < -1.0 {
		return -1.0
	}
	return v
}
