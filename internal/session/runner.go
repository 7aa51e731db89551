package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/oklog/ulid/v2"

	"github.com/vykintas/voice-keyboard/internal/api"
	"github.com/vykintas/voice-keyboard/internal/audio"
	"github.com/vykintas/voice-keyboard/internal/keyboard"
	"github.com/vykintas/voice-keyboard/internal/utils"
)

// Transcriber runs one speech to text session.
type Transcriber interface {
	ConnectAndTranscribe(ctx context.Context, onResult func(api.TranscriptionResult)) (chan<- []byte, <-chan error, error)
}

type TurnSaver interface {
	SaveTurn(ctx context.Context, id string, turn *api.TranscriptionResult) error
}

type AudioSaver interface {
	SaveAudio(ctx context.Context, id string, chunks [][]byte) error
}

// ResultSink gets every decoded result, e.g. the live web feed.
type ResultSink interface {
	Publish(id string, res api.TranscriptionResult)
}

// Runner drives one dictation session: microphone samples in, key
// operations out, transcripts and audio kept for later retrieval.
type Runner struct {
	id         string
	client     Transcriber
	sync       *keyboard.Synchronizer
	chunker    *audio.Chunker
	turns      TurnSaver
	audioSaver AudioSaver
	feed       ResultSink

	ctx     context.Context
	cancel  context.CancelFunc
	audioCh chan<- []byte
	doneCh  <-chan error

	closeOnce sync.Once

	keptLock sync.Mutex
	kept     [][]byte

	errLock  sync.Mutex
	firstErr error
}

type Params struct {
	Client       Transcriber
	Synchronizer *keyboard.Synchronizer
	Chunker      *audio.Chunker
	Turns        TurnSaver
	Audio        AudioSaver
	Feed         ResultSink
}

func NewRunner(p Params) (*Runner, error) {
	if p.Client == nil {
		return nil, fmt.Errorf("no client")
	}
	if p.Synchronizer == nil {
		return nil, fmt.Errorf("no synchronizer")
	}
	if p.Chunker == nil {
		return nil, fmt.Errorf("no chunker")
	}
	return &Runner{
		id:         ulid.Make().String(),
		client:     p.Client,
		sync:       p.Synchronizer,
		chunker:    p.Chunker,
		turns:      p.Turns,
		audioSaver: p.Audio,
		feed:       p.Feed,
	}, nil
}

func (r *Runner) ID() string {
	return r.id
}

// Start connects the session. Results flow into the synchronizer from the
// client's delivery goroutine only.
func (r *Runner) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	audioCh, doneCh, err := r.client.ConnectAndTranscribe(r.ctx, r.onResult)
	if err != nil {
		r.cancel()
		return fmt.Errorf("connect: %w", err)
	}
	r.audioCh = audioCh
	r.doneCh = doneCh
	goapp.Log.Info().Str("id", r.id).Msg("session started")
	return nil
}

// OnSamples is the audio capture callback. A full outbound queue blocks
// the caller, slowing capture down is preferred over dropping audio.
func (r *Runner) OnSamples(samples []float32) error {
	for _, chunk := range r.chunker.Add(samples) {
		r.keptLock.Lock()
		r.kept = append(r.kept, chunk)
		r.keptLock.Unlock()
		select {
		case r.audioCh <- chunk:
		case <-r.ctx.Done():
			return r.ctx.Err()
		}
	}
	return nil
}

// CloseAudio signals the end of audio and starts the session wind down.
// Call it from the capture goroutine, after the last OnSamples.
func (r *Runner) CloseAudio() {
	r.closeOnce.Do(func() {
		close(r.audioCh)
		goapp.Log.Debug().Str("id", r.id).Msg("audio closed")
	})
}

// Wait blocks until both session halves have finished, then saves the
// recorded audio. A synchronizer failure takes precedence over the
// session transport result.
func (r *Runner) Wait(ctx context.Context) error {
	var res error
	select {
	case err := <-r.doneCh:
		res = err
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := r.saveAudio(ctx); err != nil {
		goapp.Log.Error().Err(err).Msg("can't save audio")
	}
	r.errLock.Lock()
	defer r.errLock.Unlock()
	if r.firstErr != nil {
		return r.firstErr
	}
	return res
}

func (r *Runner) saveAudio(ctx context.Context) error {
	if r.audioSaver == nil {
		return nil
	}
	r.keptLock.Lock()
	chunks := r.kept
	r.keptLock.Unlock()
	if len(chunks) == 0 {
		return nil
	}
	return r.audioSaver.SaveAudio(ctx, r.id, chunks)
}

func (r *Runner) onResult(res api.TranscriptionResult) {
	defer utils.MeasureTime("result", time.Now())
	goapp.Log.Debug().Str("event", res.Event).Int("turn", res.TurnIndex).
		Str("transcript", res.Transcript).Msg("got result")

	if r.turns != nil {
		if err := r.turns.SaveTurn(r.ctx, r.id, &res); err != nil {
			goapp.Log.Error().Err(err).Msg("can't save turn")
		}
	}
	if r.feed != nil {
		r.feed.Publish(r.id, res)
	}

	if err := r.sync.Update(res.Transcript); err != nil {
		r.fail(fmt.Errorf("update keyboard: %w", err))
		return
	}
	if res.IsFinal() {
		if err := r.sync.Finalize(); err != nil {
			r.fail(fmt.Errorf("finalize keyboard: %w", err))
		}
	}
}

// fail records the first runner level error and tears the session down.
// The on screen text is left as is, the synchronizer can't vouch for it anymore.
func (r *Runner) fail(err error) {
	r.errLock.Lock()
	if r.firstErr == nil {
		r.firstErr = err
	}
	r.errLock.Unlock()
	goapp.Log.Error().Err(err).Msg("session failed")
	r.cancel()
}
