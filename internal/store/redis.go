package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/redis/go-redis/v9"

	"github.com/vykintas/voice-keyboard/internal/api"
	"github.com/vykintas/voice-keyboard/internal/secure"
)

// RedisSessionManager stores session turns and audio in Redis,
// all values sealed with the configured passphrase.
type RedisSessionManager struct {
	client     *redis.Client
	ttl        time.Duration
	crypter    *secure.Crypter
	sampleRate int
}

func NewRedisSessionManager(connStr, encryptionKey string, sampleRate int) (*RedisSessionManager, error) {
	opt, err := redis.ParseURL(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	goapp.Log.Info().Str("redis", opt.Addr).Int("db", opt.DB).Send()
	rdb := redis.NewClient(opt)

	crypter, err := secure.NewCrypter(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("create crypter: %w", err)
	}

	return &RedisSessionManager{
		client:     rdb,
		ttl:        time.Hour * 6,
		crypter:    crypter,
		sampleRate: sampleRate,
	}, nil
}

func (r *RedisSessionManager) keyTurns(id string) string {
	return fmt.Sprintf("turns:%s", id)
}

func (r *RedisSessionManager) keyAudio(id string) string {
	return fmt.Sprintf("audio:%s", id)
}

func (r *RedisSessionManager) SaveTurn(ctx context.Context, id string, turn *api.TranscriptionResult) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return err
	}
	sealed, err := r.crypter.Seal(data)
	if err != nil {
		return fmt.Errorf("seal: %w", err)
	}
	key := r.keyTurns(id)
	if err := r.client.RPush(ctx, key, sealed).Err(); err != nil {
		return fmt.Errorf("push turn: %w", err)
	}
	return r.client.Expire(ctx, key, r.ttl).Err()
}

func (r *RedisSessionManager) GetTurns(ctx context.Context, id string) ([]*api.TranscriptionResult, error) {
	items, err := r.client.LRange(ctx, r.keyTurns(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get turns: %w", err)
	}
	res := make([]*api.TranscriptionResult, 0, len(items))
	for _, item := range items {
		data, err := r.crypter.Open([]byte(item))
		if err != nil {
			return nil, fmt.Errorf("open: %w", err)
		}
		var turn api.TranscriptionResult
		if err := json.Unmarshal(data, &turn); err != nil {
			return nil, err
		}
		res = append(res, &turn)
	}
	return res, nil
}

// SaveAudio stores sealed WAV bytes.
func (r *RedisSessionManager) SaveAudio(ctx context.Context, id string, chunks [][]byte) error {
	goapp.Log.Trace().Str("id", id).Msg("save audio")

	data, err := toWav(chunks, r.sampleRate)
	if err != nil {
		return fmt.Errorf("convert to wav: %w", err)
	}
	sealed, err := r.crypter.Seal(data)
	if err != nil {
		return fmt.Errorf("seal: %w", err)
	}
	return r.client.Set(ctx, r.keyAudio(id), sealed, r.ttl).Err()
}

func (r *RedisSessionManager) GetAudio(ctx context.Context, id string) ([]byte, error) {
	goapp.Log.Trace().Str("id", id).Msg("get audio")
	b, err := r.client.Get(ctx, r.keyAudio(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("not found")
		}
		return nil, err
	}
	data, err := r.crypter.Open(b)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return data, nil
}

func (r *RedisSessionManager) Close() error {
	return r.client.Close()
}
