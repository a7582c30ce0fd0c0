package room

import (
    "context"
    "encoding/json"
    "errors"
    "strings"
    "time"

    "github.com/redis/go-redis/v9"
)

const (
    ttlRoom = 7 * 24 * time.Hour
    // bounded retries when WATCH detects a concurrent writer
    maxTxRetries = 5
)

// RedisStore keeps rooms as JSON under room:<code> with a room:hash:<short> index.
type RedisStore struct{ rdb *redis.Client }

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

func (s *RedisStore) keyRoom(code string) string { return "room:" + strings.TrimSpace(code) }
func (s *RedisStore) keyHash(hash string) string { return "room:hash:" + strings.TrimSpace(hash) }

func (s *RedisStore) Get(ctx context.Context, code string) (*Room, error) {
    raw, err := s.rdb.Get(ctx, s.keyRoom(code)).Bytes()
    if err == redis.Nil { return nil, nil }
    if err != nil { return nil, err }
    var r Room
    if err := json.Unmarshal(raw, &r); err != nil { return nil, err }
    return &r, nil
}

func (s *RedisStore) GetByShortHash(ctx context.Context, hash string) (*Room, error) {
    code, err := s.rdb.Get(ctx, s.keyHash(hash)).Result()
    if err == redis.Nil { return nil, nil }
    if err != nil { return nil, err }
    return s.Get(ctx, code)
}

func (s *RedisStore) Insert(ctx context.Context, r *Room) error {
    if r == nil { return ErrInvalidArgs }
    raw, err := json.Marshal(r)
    if err != nil { return err }
    ok, err := s.rdb.SetNX(ctx, s.keyRoom(r.RoomCode), raw, ttlRoom).Result()
    if err != nil { return err }
    if !ok { return ErrExists }
    ok, err = s.rdb.SetNX(ctx, s.keyHash(r.ShortHash), r.RoomCode, ttlRoom).Result()
    if err != nil || !ok {
        // release the code so a retry with a fresh hash can claim it
        _ = s.rdb.Del(ctx, s.keyRoom(r.RoomCode)).Err()
        if err != nil { return err }
        return ErrHashTaken
    }
    return nil
}

func (s *RedisStore) Update(ctx context.Context, code string, fn func(*Room) error) (*Room, error) {
    key := s.keyRoom(code)
    var out *Room
    txf := func(tx *redis.Tx) error {
        raw, err := tx.Get(ctx, key).Bytes()
        if err == redis.Nil { return ErrNotFound }
        if err != nil { return err }
        var cur Room
        if err := json.Unmarshal(raw, &cur); err != nil { return err }
        if err := fn(&cur); err != nil { return err }
        next, err := json.Marshal(&cur)
        if err != nil { return err }
        _, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
            pipe.Set(ctx, key, next, ttlRoom)
            pipe.Expire(ctx, s.keyHash(cur.ShortHash), ttlRoom)
            return nil
        })
        if err != nil { return err }
        out = &cur
        return nil
    }
    for i := 0; i < maxTxRetries; i++ {
        err := s.rdb.Watch(ctx, txf, key)
        if errors.Is(err, redis.TxFailedErr) { continue }
        if err != nil { return nil, err }
        return out, nil
    }
    return nil, redis.TxFailedErr
}
