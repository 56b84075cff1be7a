package cache

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss 表示缓存不存在
var ErrCacheMiss = errors.New("cache miss")

// ListPush 一次原子批量中的单个列表写入
type ListPush struct {
	Key   string
	Value string
}

// ListStore 抽象的列表存储（用于在单元测试中替换 Redis）
type ListStore interface {
	// PushTrimRegister 在一个原子批量里对每个条目执行 push 到表头、裁剪到 maxLen，
	// 并把 member 登记到 registry 集合
	PushTrimRegister(ctx context.Context, registry string, pushes []ListPush, members []string, maxLen int) error
	RangeMany(ctx context.Context, keys []string, start, stop int64) (map[string][]string, error)
	Index(ctx context.Context, key string, index int64) (string, error)
	Members(ctx context.Context, registry string) ([]string, error)
}

// RedisListStore 基于 go-redis 的列表实现
type RedisListStore struct {
	client *redis.Client
}

func NewRedisListStore(client *redis.Client) *RedisListStore {
	return &RedisListStore{client: client}
}

// PushTrimRegister 使用 MULTI/EXEC，读者不会看到已 push 但未裁剪的列表
func (r *RedisListStore) PushTrimRegister(ctx context.Context, registry string, pushes []ListPush, members []string, maxLen int) error {
	if len(pushes) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range pushes {
			pipe.LPush(ctx, p.Key, p.Value)
			pipe.LTrim(ctx, p.Key, 0, int64(maxLen-1))
		}
		if len(members) > 0 {
			args := make([]interface{}, len(members))
			for i, m := range members {
				args[i] = m
			}
			pipe.SAdd(ctx, registry, args...)
		}
		return nil
	})
	return err
}

func (r *RedisListStore) RangeMany(ctx context.Context, keys []string, start, stop int64) (map[string][]string, error) {
	if len(keys) == 0 {
		return map[string][]string{}, nil
	}
	cmds := make([]*redis.StringSliceCmd, len(keys))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.LRange(ctx, key, start, stop)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := make(map[string][]string, len(keys))
	for i, key := range keys {
		result[key] = cmds[i].Val()
	}
	return result, nil
}

func (r *RedisListStore) Index(ctx context.Context, key string, index int64) (string, error) {
	val, err := r.client.LIndex(ctx, key, index).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisListStore) Members(ctx context.Context, registry string) ([]string, error) {
	return r.client.SMembers(ctx, registry).Result()
}
