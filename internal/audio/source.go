package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/airenas/go-app/pkg/goapp"
)

// PCMReader adapts a raw PCM16LE mono byte stream, for example
// `arecord -f S16_LE -r 16000 -c 1 -t raw` piped to stdin, into the
// normalized float sample callback the session consumes.
type PCMReader struct {
	r io.Reader
}

func NewPCMReader(r io.Reader) (*PCMReader, error) {
	if r == nil {
		return nil, fmt.Errorf("no reader")
	}
	return &PCMReader{r: r}, nil
}

// Run reads the stream until EOF or ctx cancel and emits float frames.
// An odd trailing byte is dropped with a warning.
func (p *PCMReader) Run(ctx context.Context, emit func(samples []float32) error) error {
	buf := make([]byte, 4096)
	var leftover byte
	var hasLeftover bool
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := p.r.Read(buf)
		if n > 0 {
			data := buf[:n]
			if hasLeftover {
				data = append([]byte{leftover}, data...)
				hasLeftover = false
			}
			if len(data)%2 != 0 {
				leftover = data[len(data)-1]
				hasLeftover = true
				data = data[:len(data)-1]
			}
			samples := make([]float32, len(data)/2)
			for i := range samples {
				v := int16(binary.LittleEndian.Uint16(data[2*i:]))
				samples[i] = float32(v) / 32768.0
			}
			if err := emit(samples); err != nil {
				return fmt.Errorf("emit samples: %w", err)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if hasLeftover {
					goapp.Log.Warn().Msg("dropping odd trailing byte")
				}
				return nil
			}
			return fmt.Errorf("read audio: %w", err)
		}
	}
}
