package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/vykintas/voice-keyboard/internal/api"
)

// MemorySessionManager keeps session turns and audio in process memory.
type MemorySessionManager struct {
	turns      map[string][]*api.TranscriptionResult
	audio      map[string][]byte
	sampleRate int

	lock sync.RWMutex
}

func NewMemorySessionManager(sampleRate int) *MemorySessionManager {
	return &MemorySessionManager{
		turns:      make(map[string][]*api.TranscriptionResult),
		audio:      make(map[string][]byte),
		sampleRate: sampleRate,
	}
}

func (m *MemorySessionManager) SaveTurn(ctx context.Context, id string, turn *api.TranscriptionResult) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	cp := *turn
	m.turns[id] = append(m.turns[id], &cp)
	return nil
}

func (m *MemorySessionManager) GetTurns(ctx context.Context, id string) ([]*api.TranscriptionResult, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	res := make([]*api.TranscriptionResult, len(m.turns[id]))
	copy(res, m.turns[id])
	return res, nil
}

// SaveAudio converts the raw PCM chunks to WAV and keeps the bytes.
func (m *MemorySessionManager) SaveAudio(ctx context.Context, id string, chunks [][]byte) error {
	goapp.Log.Debug().Str("id", id).Int("chunks", len(chunks)).Msg("save audio")
	wavData, err := toWav(chunks, m.sampleRate)
	if err != nil {
		return fmt.Errorf("to wav: %w", err)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.audio[id] = wavData
	return nil
}

func (m *MemorySessionManager) GetAudio(ctx context.Context, id string) ([]byte, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	data, ok := m.audio[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// wavBuffer backs the WAV encoder, which seeks back into the header
// to patch chunk sizes after the samples are written.
type wavBuffer struct {
	data []byte
	off  int
}

func (b *wavBuffer) Write(p []byte) (int, error) {
	if b.off > len(b.data) {
		b.data = append(b.data, make([]byte, b.off-len(b.data))...)
	}
	n := copy(b.data[b.off:], p)
	b.off += n
	if n < len(p) {
		b.data = append(b.data, p[n:]...)
		b.off = len(b.data)
	}
	return len(p), nil
}

func (b *wavBuffer) Seek(offset int64, whence int) (int64, error) {
	var off int64
	switch whence {
	case io.SeekStart:
		off = offset
	case io.SeekCurrent:
		off = int64(b.off) + offset
	case io.SeekEnd:
		off = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("wrong whence %d", whence)
	}
	if off < 0 {
		return 0, fmt.Errorf("negative position %d", off)
	}
	b.off = int(off)
	return off, nil
}

func toWav(chunks [][]byte, sampleRate int) ([]byte, error) {
	var pcmData bytes.Buffer
	for _, chunk := range chunks {
		pcmData.Write(chunk)
	}

	raw := pcmData.Bytes()
	samples := make([]int, len(raw)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(raw[2*i]) | int16(raw[2*i+1])<<8)
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  sampleRate,
		},
		Data:           samples,
		SourceBitDepth: 16,
	}

	wavBuf := &wavBuffer{}
	enc := wav.NewEncoder(wavBuf, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav: %w", err)
	}

	return wavBuf.data, nil
}
