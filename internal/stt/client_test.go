package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vykintas/voice-keyboard/internal/api"
)

var testUpgrader = websocket.Upgrader{}

func startTestServer(t *testing.T, handle func(conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Config{URL: url, SampleRate: 16000})
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	return c
}

func waitDone(t *testing.T, doneCh <-chan error) error {
	t.Helper()
	select {
	case err := <-doneCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for session end")
	}
	return nil
}

func TestClient_Session(t *testing.T) {
	var serverGot struct {
		lock   sync.Mutex
		audio  [][]byte
		closed bool
	}
	_, url := startTestServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Connected","request_id":"r-9"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"TurnInfo","event":"Update","turn_index":0,"transcript":"he"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"TurnInfo","event":"EndOfTurn","turn_index":0,"transcript":"hello"}`))
		for {
			mType, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			serverGot.lock.Lock()
			if mType == websocket.BinaryMessage {
				serverGot.audio = append(serverGot.audio, msg)
			}
			if mType == websocket.TextMessage && string(msg) == api.CloseStreamMsg {
				serverGot.closed = true
			}
			closed := serverGot.closed
			serverGot.lock.Unlock()
			if closed {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	})

	var results []api.TranscriptionResult
	var resLock sync.Mutex
	audioCh, doneCh, err := newTestClient(t, url).ConnectAndTranscribe(context.Background(),
		func(res api.TranscriptionResult) {
			resLock.Lock()
			defer resLock.Unlock()
			results = append(results, res)
		})
	if err != nil {
		t.Fatalf("ConnectAndTranscribe() failed: %v", err)
	}
	audioCh <- make([]byte, 2560)
	audioCh <- make([]byte, 2560)
	close(audioCh)

	if err := waitDone(t, doneCh); err != nil {
		t.Fatalf("session failed: %v", err)
	}
	resLock.Lock()
	defer resLock.Unlock()
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Transcript != "he" || results[0].IsFinal() {
		t.Errorf("unexpected first result %+v", results[0])
	}
	if results[1].Transcript != "hello" || !results[1].IsFinal() {
		t.Errorf("unexpected second result %+v", results[1])
	}
	serverGot.lock.Lock()
	defer serverGot.lock.Unlock()
	if len(serverGot.audio) != 2 {
		t.Errorf("server audio frames = %d, want 2", len(serverGot.audio))
	}
	if !serverGot.closed {
		t.Error("server did not get the close stream frame")
	}
}

func TestClient_Session_ServerClose(t *testing.T) {
	tests := []struct {
		name  string
		close []byte
	}{
		{name: "normal closure", close: websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")},
		{name: "going away", close: websocket.FormatCloseMessage(websocket.CloseGoingAway, "")},
		{name: "no status", close: []byte{}},
		{name: "internal error code", close: websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "done")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, url := startTestServer(t, func(conn *websocket.Conn) {
				for {
					mType, msg, err := conn.ReadMessage()
					if err != nil {
						return
					}
					if mType == websocket.TextMessage && string(msg) == api.CloseStreamMsg {
						_ = conn.WriteMessage(websocket.CloseMessage, tt.close)
						return
					}
				}
			})
			audioCh, doneCh, err := newTestClient(t, url).ConnectAndTranscribe(context.Background(),
				func(api.TranscriptionResult) {})
			if err != nil {
				t.Fatalf("ConnectAndTranscribe() failed: %v", err)
			}
			audioCh <- make([]byte, 2560)
			close(audioCh)
			if err := waitDone(t, doneCh); err != nil {
				t.Errorf("session failed: %v", err)
			}
		})
	}
}

func TestClient_Session_Fails(t *testing.T) {
	tests := []struct {
		name    string
		handle  func(conn *websocket.Conn)
		wantErr string
	}{
		{name: "server error message",
			handle: func(conn *websocket.Conn) {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Error","code":"AUTH","description":"bad key"}`))
				_, _, _ = conn.ReadMessage()
			},
			wantErr: "server error AUTH",
		},
		{name: "malformed json",
			handle: func(conn *websocket.Conn) {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"TurnInfo"`))
				_, _, _ = conn.ReadMessage()
			},
			wantErr: "parse",
		},
		{name: "unknown message type",
			handle: func(conn *websocket.Conn) {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Surprise"}`))
				_, _, _ = conn.ReadMessage()
			},
			wantErr: "unknown message type",
		},
		{name: "binary frame from server",
			handle: func(conn *websocket.Conn) {
				_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})
				_, _, _ = conn.ReadMessage()
			},
			wantErr: "unexpected binary frame",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, url := startTestServer(t, tt.handle)
			var results int
			var resLock sync.Mutex
			audioCh, doneCh, err := newTestClient(t, url).ConnectAndTranscribe(context.Background(),
				func(res api.TranscriptionResult) {
					resLock.Lock()
					defer resLock.Unlock()
					results++
				})
			if err != nil {
				t.Fatalf("ConnectAndTranscribe() failed: %v", err)
			}
			gotErr := waitDone(t, doneCh)
			if gotErr == nil {
				t.Fatal("session succeeded unexpectedly")
			}
			if !strings.Contains(gotErr.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing '%s'", gotErr, tt.wantErr)
			}
			resLock.Lock()
			if results != 0 {
				t.Errorf("results = %d, want 0", results)
			}
			resLock.Unlock()
			close(audioCh)
		})
	}
}

func TestClient_HandshakeDiagnostics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", "abc")
		http.Error(w, "no key", http.StatusUnauthorized)
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, _, err := newTestClient(t, url).ConnectAndTranscribe(context.Background(), func(api.TranscriptionResult) {})
	if err == nil {
		t.Fatal("ConnectAndTranscribe() succeeded unexpectedly")
	}
	for _, want := range []string{"401", "no key", "X-Request-Id"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("err = %v, want containing '%s'", err, want)
		}
	}
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		wantURL []string
	}{
		{name: "defaults",
			cfg:     Config{URL: "ws://localhost:1234/v2/listen", SampleRate: 16000},
			wantURL: []string{"model=flux-general-en", "sample_rate=16000", "encoding=linear16"},
		},
		{name: "with tunables",
			cfg: Config{URL: "ws://localhost:1234/v2/listen", SampleRate: 8000,
				Model: "flux-general-lt", EOTThreshold: 0.7, EOTTimeoutMS: 3000},
			wantURL: []string{"model=flux-general-lt", "eot_threshold=0.7", "eot_timeout_ms=3000"},
		},
		{name: "no url", cfg: Config{SampleRate: 16000}, wantErr: true},
		{name: "bad sample rate", cfg: Config{URL: "ws://l", SampleRate: 0}, wantErr: true},
		{name: "key with control chars",
			cfg:     Config{URL: "ws://l", SampleRate: 16000, APIKey: "sk\n1234"},
			wantErr: true,
		},
		{name: "good key",
			cfg: Config{URL: "ws://l", SampleRate: 16000, APIKey: "sk-1234"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, gotErr := NewClient(tt.cfg)
			if gotErr != nil {
				if !tt.wantErr {
					t.Errorf("NewClient() failed: %v", gotErr)
				}
				return
			}
			if tt.wantErr {
				t.Fatal("NewClient() succeeded unexpectedly")
			}
			for _, w := range tt.wantURL {
				if !strings.Contains(got.url, w) {
					t.Errorf("url = %s, want containing '%s'", got.url, w)
				}
			}
		})
	}
}

func TestClient_AuthHeader(t *testing.T) {
	gotCh := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCh <- r.Header.Get("Authorization")
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	c, err := NewClient(Config{URL: url, SampleRate: 16000, APIKey: "sk-1234"})
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	audioCh, doneCh, err := c.ConnectAndTranscribe(context.Background(), func(api.TranscriptionResult) {})
	if err != nil {
		t.Fatalf("ConnectAndTranscribe() failed: %v", err)
	}
	if got, want := <-gotCh, "Token sk-1234"; got != want {
		t.Errorf("Authorization = %s, want %s", got, want)
	}
	close(audioCh)
	_ = waitDone(t, doneCh)
}

func TestPickEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	local := "ws" + strings.TrimPrefix(srv.URL, "http")
	cloud := "wss://api.example.com/v2/listen"

	if got := PickEndpoint(context.Background(), local, cloud, time.Second); got != local {
		t.Errorf("PickEndpoint() = %s, want local %s", got, local)
	}
	if got := PickEndpoint(context.Background(), "ws://127.0.0.1:1/v2/listen", cloud, 200*time.Millisecond); got != cloud {
		t.Errorf("PickEndpoint() = %s, want cloud %s", got, cloud)
	}
	if got := PickEndpoint(context.Background(), "", cloud, time.Second); got != cloud {
		t.Errorf("PickEndpoint() = %s, want cloud %s", got, cloud)
	}
}
