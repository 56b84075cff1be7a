package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrStateNotFound 表示状态不存在
var ErrStateNotFound = errors.New("state not found")

// Checkpoint 持久化的处理水位
type Checkpoint struct {
	Watermark time.Time `json:"watermark"`
	CycleID   string    `json:"cycle_id,omitempty"`
	SavedAt   time.Time `json:"saved_at"`
}

// Heartbeat 最近一次成功周期，供外部健康检查读取
type Heartbeat struct {
	LastSuccess time.Time `json:"last_success"`
	CycleID     string    `json:"cycle_id,omitempty"`
	Readings    int       `json:"readings"`
}

// StateStore Redis 状态存储（水位检查点、心跳）
type StateStore struct {
	redisClient *redis.Client
	keyPrefix   string
	logger      *zap.Logger
}

// NewStateStore 创建状态存储
func NewStateStore(redisClient *redis.Client, keyPrefix string, logger *zap.Logger) *StateStore {
	return &StateStore{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		logger:      logger,
	}
}

// WatermarkKey 构建水位键
func (s *StateStore) WatermarkKey(integrationID string) string {
	return fmt.Sprintf("%s%s:watermark", s.keyPrefix, integrationID)
}

// HeartbeatKey 构建心跳键
func (s *StateStore) HeartbeatKey(integrationID string) string {
	return fmt.Sprintf("%s%s:heartbeat", s.keyPrefix, integrationID)
}

// SetState 设置状态（ttl 为 0 表示不过期）
func (s *StateStore) SetState(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := s.redisClient.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set state: %w", err)
	}
	return nil
}

// GetState 获取状态
func (s *StateStore) GetState(ctx context.Context, key string, dest interface{}) error {
	val, err := s.redisClient.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return fmt.Errorf("%w: %s", ErrStateNotFound, key)
		}
		return fmt.Errorf("failed to get state: %w", err)
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return nil
}

// DeleteState 删除状态，返回是否确实删除了
func (s *StateStore) DeleteState(ctx context.Context, key string) (bool, error) {
	n, err := s.redisClient.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete state: %w", err)
	}
	return n > 0, nil
}

// SaveWatermark 保存水位检查点
func (s *StateStore) SaveWatermark(ctx context.Context, integrationID string, watermark time.Time, cycleID string) error {
	return s.SetState(ctx, s.WatermarkKey(integrationID), Checkpoint{
		Watermark: watermark.UTC(),
		CycleID:   cycleID,
		SavedAt:   time.Now().UTC(),
	}, 0)
}

// LoadWatermark 读取水位检查点；不存在时返回 ErrStateNotFound
func (s *StateStore) LoadWatermark(ctx context.Context, integrationID string) (time.Time, error) {
	var cp Checkpoint
	if err := s.GetState(ctx, s.WatermarkKey(integrationID), &cp); err != nil {
		return time.Time{}, err
	}
	return cp.Watermark, nil
}

// ResetWatermark 删除水位检查点
func (s *StateStore) ResetWatermark(ctx context.Context, integrationID string) (bool, error) {
	return s.DeleteState(ctx, s.WatermarkKey(integrationID))
}

// SaveHeartbeat 写入心跳；ttl 过后键消失即视为服务停摆
func (s *StateStore) SaveHeartbeat(ctx context.Context, integrationID string, hb Heartbeat, ttl time.Duration) error {
	return s.SetState(ctx, s.HeartbeatKey(integrationID), hb, ttl)
}

// LoadHeartbeat 读取心跳
func (s *StateStore) LoadHeartbeat(ctx context.Context, integrationID string) (*Heartbeat, error) {
	var hb Heartbeat
	if err := s.GetState(ctx, s.HeartbeatKey(integrationID), &hb); err != nil {
		return nil, err
	}
	return &hb, nil
}
