package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSessionRepo はセッションをRedisに保存します
// 参照のたびにTTLを延長するスライディング方式です
type RedisSessionRepo struct {
	rdb    *redis.Client
	ttlSec int
}

func NewRedisSessionRepo(rdb *redis.Client, ttlSec int) *RedisSessionRepo {
	return &RedisSessionRepo{rdb: rdb, ttlSec: ttlSec}
}

func sessionKey(token string) string {
	return fmt.Sprintf("sessions:%s", token)
}

func sec(v int) time.Duration {
	return time.Duration(v) * time.Second
}

func (sr *RedisSessionRepo) GetSession(ctx context.Context, token string) (string, bool, error) {
	if token == "" {
		return "", false, nil
	}
	userId, err := sr.rdb.GetEx(ctx, sessionKey(token), sec(sr.ttlSec)).Result()
	if errors.Is(err, redis.Nil) { // セッションなし
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if userId == "" {
		return "", false, nil
	}
	return userId, true, nil
}

func (sr *RedisSessionRepo) CreateSession(ctx context.Context, token, userId string) error {
	ok, err := sr.rdb.SetArgs(ctx, sessionKey(token), userId, redis.SetArgs{Mode: "NX", TTL: sec(sr.ttlSec)}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if ok != "OK" {
		return errors.New("session already exists")
	}
	return nil
}

func (sr *RedisSessionRepo) DeleteSession(ctx context.Context, token string) error {
	return sr.rdb.Del(ctx, sessionKey(token)).Err()
}
