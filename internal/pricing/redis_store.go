package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/wager-integrity-core/pkg/contracts/events"
)

const (
	statusKey = "pricing:status"

	// ChannelOddsUpdated recebe {event_id, provider} a cada odd aplicada no cache
	ChannelOddsUpdated = "odds_updates_broadcast"
)

var ErrNoQuote = errors.New("no current odds for selection")

func heartbeatKey(provider string) string { return "pricing:last_update:" + provider }

func oddsKey(provider, eventID, market string) string {
	return "odds:" + provider + ":" + eventID + ":" + market
}

// RedisStore guarda heartbeats por provedor, odds correntes por seleção e o status publicado
type RedisStore struct {
	Client  *redis.Client
	OddsTTL time.Duration
}

func NewRedisStore(c *redis.Client, oddsTTL time.Duration) *RedisStore {
	return &RedisStore{Client: c, OddsTTL: oddsTTL}
}

// Touch registra que o provedor entregou dados em at
func (r *RedisStore) Touch(ctx context.Context, provider string, at time.Time) error {
	return r.Client.Set(ctx, heartbeatKey(provider), at.UTC().Format(time.RFC3339Nano), 0).Err()
}

func (r *RedisStore) LastUpdate(ctx context.Context, provider string) (time.Time, bool, error) {
	v, err := r.Client.Get(ctx, heartbeatKey(provider)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse heartbeat for %s: %w", provider, err)
	}
	return t, true, nil
}

// SetOdds grava as odds de cada seleção do mercado num hash com TTL
func (r *RedisStore) SetOdds(ctx context.Context, provider string, u events.OddsUpdate) error {
	key := oddsKey(provider, u.EventID, u.Market)
	fields := make(map[string]any, 3)
	for sel, odd := range u.Selections() {
		if odd > 0 {
			fields[sel] = strconv.FormatFloat(odd, 'f', -1, 64)
		}
	}
	if len(fields) == 0 {
		return nil
	}
	pipe := r.Client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if r.OddsTTL > 0 {
		pipe.Expire(ctx, key, r.OddsTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Odds(ctx context.Context, provider, eventID, market, selection string) (float64, error) {
	v, err := r.Client.HGet(ctx, oddsKey(provider, eventID, market), selection).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNoQuote
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(v, 64)
}

func (r *RedisStore) PublishStatus(ctx context.Context, s Snapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, statusKey, b, 0).Err()
}

// LoadStatus devolve o último snapshot publicado; nil se nenhum monitor publicou ainda
func (r *RedisStore) LoadStatus(ctx context.Context) (*Snapshot, error) {
	b, err := r.Client.Get(ctx, statusKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode pricing status: %w", err)
	}
	return &s, nil
}

// NotifyOddsUpdated avisa outros processos (hub realtime) que o evento teve odds novas
func (r *RedisStore) NotifyOddsUpdated(ctx context.Context, provider string, eventID string) error {
	b, _ := json.Marshal(OddsUpdatedNotice{EventID: eventID, Provider: provider})
	return r.Client.Publish(ctx, ChannelOddsUpdated, b).Err()
}

type OddsUpdatedNotice struct {
	EventID  string `json:"event_id"`
	Provider string `json:"provider"`
}
