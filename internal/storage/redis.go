package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tabletap/internal/domain"
	"tabletap/internal/service"
)

const artifactKeyPrefix = "artifact:"

// RedisArtifactStore keeps artifacts as plain string values. TTL zero means
// they never expire.
type RedisArtifactStore struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisArtifactStore(client *redis.Client, ttl time.Duration) *RedisArtifactStore {
	return &RedisArtifactStore{Client: client, TTL: ttl}
}

var _ service.ArtifactStore = (*RedisArtifactStore)(nil)

func (s *RedisArtifactStore) Exists(ctx context.Context, key string) (bool, error) {
	res, err := s.Client.Exists(ctx, artifactKeyPrefix+key).Result()
	if err != nil {
		return false, err
	}
	return res > 0, nil
}

func (s *RedisArtifactStore) Write(ctx context.Context, key string, data []byte, contentType string) error {
	return s.Client.Set(ctx, artifactKeyPrefix+key, data, s.TTL).Err()
}

func (s *RedisArtifactStore) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := s.Client.Get(ctx, artifactKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("artifact %q: %w", key, service.ErrNotFound)
	}
	return data, err
}

// RedisOrderBoard is the read model fed by order events: a sorted set of
// pending order ids per restaurant, scored by placement time, plus a per-day
// set of the order ids placed that day.
type RedisOrderBoard struct {
	Client *redis.Client
	// DailyTTL bounds how long per-day sets are kept.
	DailyTTL time.Duration
}

func NewRedisOrderBoard(client *redis.Client) *RedisOrderBoard {
	return &RedisOrderBoard{Client: client, DailyTTL: 7 * 24 * time.Hour}
}

var _ service.OrderBoard = (*RedisOrderBoard)(nil)

func PendingKey(restaurantID int) string {
	return "board:pending:" + strconv.Itoa(restaurantID)
}

func PlacedKey(day time.Time, restaurantID int) string {
	return fmt.Sprintf("board:placed:%s:%d", day.UTC().Format("2006-01-02"), restaurantID)
}

// ApplyOrderEvent folds one event into the board. Events may be replayed in
// any order: an order id is counted and queued once per day, so a placed event
// redelivered after its finished event changes nothing.
func (b *RedisOrderBoard) ApplyOrderEvent(ctx context.Context, ev domain.OrderEvent) error {
	member := strconv.Itoa(ev.OrderID)
	switch ev.Type {
	case domain.EventOrderPlaced:
		placedKey := PlacedKey(ev.Timestamp, ev.RestaurantID)
		pipe := b.Client.TxPipeline()
		added := pipe.SAdd(ctx, placedKey, member)
		pipe.Expire(ctx, placedKey, b.DailyTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		if added.Val() == 0 {
			return nil
		}
		err := b.Client.ZAdd(ctx, PendingKey(ev.RestaurantID), redis.Z{
			Score:  float64(ev.Timestamp.Unix()),
			Member: member,
		}).Err()
		if err != nil {
			// let a redelivery try again
			b.Client.SRem(ctx, placedKey, member)
		}
		return err
	case domain.EventOrderFinished:
		return b.Client.ZRem(ctx, PendingKey(ev.RestaurantID), member).Err()
	default:
		return fmt.Errorf("unknown order event type %q", ev.Type)
	}
}

func (b *RedisOrderBoard) PendingOrderIDs(ctx context.Context, restaurantID int) ([]int, error) {
	members, err := b.Client.ZRange(ctx, PendingKey(restaurantID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(members))
	for _, m := range members {
		id, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (b *RedisOrderBoard) PlacedOn(ctx context.Context, restaurantID int, day time.Time) (int64, error) {
	return b.Client.SCard(ctx, PlacedKey(day, restaurantID)).Result()
}
