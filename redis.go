package main

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// unlockScript deletes a lock key only while the caller's token still holds
// it, making release safe after a TTL expiry handed the lock to someone else.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisStore is the production Store backend
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the given Redis address
func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

// Close releases the client connection pool
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func stateKey(matchID string) string    { return "match:" + matchID + ":state" }
func settingsKey(matchID string) string { return "match:" + matchID + ":settings" }
func paddlesKey(matchID string) string  { return "match:" + matchID + ":paddles" }
func bookingKey(matchID, playerID string) string {
	return "match:" + matchID + ":booking:" + playerID
}

func (r *RedisStore) LoadState(ctx context.Context, matchID string) (*MatchState, error) {
	raw, err := r.client.Get(ctx, stateKey(matchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	var st MatchState
	if err := msgpack.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *RedisStore) SaveState(ctx context.Context, matchID string, st *MatchState) error {
	raw, err := msgpack.Marshal(st)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, stateKey(matchID), raw, 0).Err()
}

func (r *RedisStore) LoadSettings(ctx context.Context, matchID string) (*GameSettings, error) {
	raw, err := r.client.Get(ctx, settingsKey(matchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	var s GameSettings
	if err := msgpack.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RedisStore) SaveSettings(ctx context.Context, matchID string, s *GameSettings) error {
	raw, err := msgpack.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, settingsKey(matchID), raw, 0).Err()
}

func (r *RedisStore) AddToSet(ctx context.Context, set, member string) error {
	return r.client.SAdd(ctx, set, member).Err()
}

func (r *RedisStore) RemoveFromSet(ctx context.Context, set, member string) error {
	return r.client.SRem(ctx, set, member).Err()
}

func (r *RedisStore) SetMembers(ctx context.Context, set string) ([]string, error) {
	return r.client.SMembers(ctx, set).Result()
}

func (r *RedisStore) InSet(ctx context.Context, set, member string) (bool, error) {
	return r.client.SIsMember(ctx, set, member).Result()
}

func (r *RedisStore) SetPaddleTarget(ctx context.Context, matchID string, side int, pos float64) error {
	return r.client.HSet(ctx, paddlesKey(matchID), strconv.Itoa(side), pos).Err()
}

func (r *RedisStore) PaddleTargets(ctx context.Context, matchID string) (map[int]float64, error) {
	raw, err := r.client.HGetAll(ctx, paddlesKey(matchID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[int]float64, len(raw))
	for field, value := range raw {
		side, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		pos, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		out[side] = pos
	}
	return out, nil
}

func (r *RedisStore) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := GenerateID(8)
	ok, err := r.client.SetNX(ctx, "lock:"+key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (r *RedisStore) Unlock(ctx context.Context, key, token string) error {
	return unlockScript.Run(ctx, r.client, []string{"lock:" + key}, token).Err()
}

func (r *RedisStore) PutBooking(ctx context.Context, matchID, playerID string, ttl time.Duration) error {
	return r.client.Set(ctx, bookingKey(matchID, playerID), "1", ttl).Err()
}

func (r *RedisStore) TakeBooking(ctx context.Context, matchID, playerID string) (bool, error) {
	_, err := r.client.GetDel(ctx, bookingKey(matchID, playerID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *RedisStore) ExpireMatch(ctx context.Context, matchID string, ttl time.Duration) error {
	pipe := r.client.Pipeline()
	pipe.Expire(ctx, stateKey(matchID), ttl)
	pipe.Expire(ctx, settingsKey(matchID), ttl)
	pipe.Expire(ctx, paddlesKey(matchID), ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) DeleteMatch(ctx context.Context, matchID string) error {
	return r.client.Del(ctx, stateKey(matchID), settingsKey(matchID), paddlesKey(matchID)).Err()
}
