package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vykintas/voice-keyboard/internal/api"
)

// audioQueueSize bounds outstanding chunks, a full queue blocks the
// audio producer as backpressure
const audioQueueSize = 32

type Config struct {
	URL          string
	Model        string
	SampleRate   int
	Encoding     string
	APIKey       string
	EOTThreshold float64 // optional end of turn tunables
	EOTTimeoutMS int
}

// Client runs one speech to text session over a websocket.
// A failed session is not retried, the caller starts a new one.
type Client struct {
	url    string
	header http.Header
}

// NewClient validates the config and prepares the connection target.
// A secret that can't form a valid header value fails here, before any dial.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("no URL")
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("wrong sample rate %d", cfg.SampleRate)
	}
	model := cfg.Model
	if model == "" {
		model = "flux-general-en"
	}
	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "linear16"
	}
	q := url.Values{}
	q.Set("model", model)
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("encoding", encoding)
	if cfg.EOTThreshold > 0 {
		q.Set("eot_threshold", strconv.FormatFloat(cfg.EOTThreshold, 'f', -1, 64))
	}
	if cfg.EOTTimeoutMS > 0 {
		q.Set("eot_timeout_ms", strconv.Itoa(cfg.EOTTimeoutMS))
	}

	res := &Client{url: fmt.Sprintf("%s?%s", cfg.URL, q.Encode()), header: http.Header{}}
	if cfg.APIKey != "" {
		v := "Token " + cfg.APIKey
		if !validHeaderValue(v) {
			return nil, fmt.Errorf("can't build authorization header from API key")
		}
		res.header.Set("Authorization", v)
	}
	goapp.Log.Info().Str("url", cfg.URL).Str("model", model).Int("sampleRate", cfg.SampleRate).
		Bool("auth", cfg.APIKey != "").Msg("stt client")
	return res, nil
}

// ConnectAndTranscribe dials the service and starts the session pumps.
// Audio chunks pushed into the returned channel go out as binary frames,
// closing it sends the end of audio control frame and winds the session down.
// The error channel resolves once both pumps have finished, with the first
// failure if any.
func (c *Client) ConnectAndTranscribe(ctx context.Context, onResult func(api.TranscriptionResult)) (chan<- []byte, <-chan error, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return nil, nil, handshakeErr(err, resp)
	}
	goapp.Log.Debug().Msg("connected to speech service")

	audioCh := make(chan []byte, audioQueueSize)
	doneCh := make(chan error, 1)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sendLoop(gCtx, conn, audioCh)
	})
	g.Go(func() error {
		return receiveLoop(conn, onResult)
	})
	go func() {
		// unblock the reader when the other side failed
		<-gCtx.Done()
		_ = conn.Close()
	}()
	go func() {
		doneCh <- g.Wait()
		close(doneCh)
	}()
	return audioCh, doneCh, nil
}

// sendLoop forwards chunks as binary frames. On queue close it sends the
// CloseStream control frame and stops without closing the connection,
// the server closes after flushing final results.
func sendLoop(ctx context.Context, conn *websocket.Conn, audioCh <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-audioCh:
			if !ok {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(api.CloseStreamMsg)); err != nil {
					return fmt.Errorf("send close stream: %w", err)
				}
				goapp.Log.Debug().Msg("close stream sent")
				return nil
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return fmt.Errorf("send audio: %w", err)
			}
		}
	}
}

// receiveLoop parses inbound text frames and delivers turn results.
// Every failure is fatal to the session, a close frame from the server
// ends the loop normally.
func receiveLoop(conn *websocket.Conn, onResult func(api.TranscriptionResult)) error {
	for {
		mType, msg, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				goapp.Log.Debug().Int("code", ce.Code).Msg("connection closed by server")
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		if mType == websocket.BinaryMessage {
			return fmt.Errorf("unexpected binary frame")
		}
		if mType != websocket.TextMessage {
			continue
		}
		sm, err := api.ParseServerMessage(msg)
		if err != nil {
			return fmt.Errorf("parse '%s': %w", string(msg), err)
		}
		switch sm.Type {
		case api.MsgConnected:
			goapp.Log.Info().Str("requestID", sm.Connected.RequestID).Msg("session started")
		case api.MsgConfiguration:
			goapp.Log.Debug().Msg("got configuration")
		case api.MsgTurnInfo:
			onResult(*sm.Turn)
		case api.MsgError:
			return fmt.Errorf("server error %s: %s", sm.Error.Code, sm.Error.Description)
		}
	}
}

// handshakeErr adds HTTP diagnostics when the websocket handshake was rejected.
func handshakeErr(err error, resp *http.Response) error {
	if resp == nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1000))
	return fmt.Errorf("dial (status %d, headers %v, body '%s'): %w", resp.StatusCode, resp.Header, string(body), err)
}

func validHeaderValue(s string) bool {
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b < ' ' || b == 0x7f {
			return false
		}
	}
	return true
}
