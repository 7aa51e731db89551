package service

import (
	"sync"

	"github.com/airenas/go-app/pkg/goapp"

	"github.com/vykintas/voice-keyboard/internal/api"
)

// FeedItem is one result as seen by live feed subscribers.
type FeedItem struct {
	SessionID string                  `json:"session_id"`
	Result    api.TranscriptionResult `json:"result"`
}

// Feed fans results out to websocket subscribers. A slow subscriber
// loses items instead of blocking the session.
type Feed struct {
	lock sync.Mutex
	subs map[chan FeedItem]struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[chan FeedItem]struct{})}
}

// Publish implements the session's result sink.
func (f *Feed) Publish(id string, res api.TranscriptionResult) {
	f.lock.Lock()
	defer f.lock.Unlock()
	for ch := range f.subs {
		select {
		case ch <- FeedItem{SessionID: id, Result: res}:
		default:
			goapp.Log.Warn().Msg("slow feed subscriber, dropping item")
		}
	}
}

// Subscribe returns an item channel and a cancel func.
func (f *Feed) Subscribe() (<-chan FeedItem, func()) {
	ch := make(chan FeedItem, 32)
	f.lock.Lock()
	f.subs[ch] = struct{}{}
	f.lock.Unlock()
	return ch, func() {
		f.lock.Lock()
		defer f.lock.Unlock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
	}
}
