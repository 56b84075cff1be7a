package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"wisefido-camera/internal/history"
	"wisefido-camera/internal/models"

	"go.uber.org/zap"
)

// registrySuffix 已登记传感器集合的键后缀
const registrySuffix = "sensors"

// LatestCache 每个传感器最近 N 条读数的缓存，并决定哪些读数转发到历史
type LatestCache struct {
	store     ListStore
	recorder  history.Recorder
	keyPrefix string
	listSize  int
	logger    *zap.Logger

	writes        atomic.Int64
	historyErrors atomic.Int64
}

// NewLatestCache 创建最新状态缓存；recorder 可为 nil
func NewLatestCache(store ListStore, recorder history.Recorder, keyPrefix string, listSize int, logger *zap.Logger) *LatestCache {
	if listSize < 1 {
		listSize = 1
	}
	return &LatestCache{
		store:     store,
		recorder:  recorder,
		keyPrefix: keyPrefix,
		listSize:  listSize,
		logger:    logger,
	}
}

// ListKey 传感器读数列表的键
func (c *LatestCache) ListKey(sensorKey string) string {
	return c.keyPrefix + sensorKey
}

// RegistryKey 已登记传感器集合的键
func (c *LatestCache) RegistryKey() string {
	return c.keyPrefix + registrySuffix
}

// RecordLatest 无条件写入读数并转发到历史
//
// 写缓存失败时返回错误且不转发历史，由调用方下个周期重试。
// 转发历史失败只记日志。
func (c *LatestCache) RecordLatest(ctx context.Context, readings []models.SensorReading) error {
	if len(readings) == 0 {
		return nil
	}

	pushes := make([]ListPush, 0, len(readings))
	members := make([]string, 0, len(readings))
	for _, reading := range readings {
		if reading.SensorKey == "" {
			return errors.New("reading without sensor key")
		}
		data, err := json.Marshal(reading)
		if err != nil {
			return fmt.Errorf("failed to marshal reading %s: %w", reading.SensorKey, err)
		}
		pushes = append(pushes, ListPush{Key: c.ListKey(reading.SensorKey), Value: string(data)})
		members = append(members, reading.SensorKey)
	}

	if err := c.store.PushTrimRegister(ctx, c.RegistryKey(), pushes, members, c.listSize); err != nil {
		return fmt.Errorf("failed to record latest readings: %w", err)
	}
	c.writes.Add(int64(len(pushes)))

	c.logger.Debug("Recorded latest readings", zap.Int("count", len(readings)))

	if c.recorder != nil {
		if err := c.recorder.Record(ctx, readings); err != nil {
			c.historyErrors.Add(failureCount(err))
			c.logger.Warn("Failed to forward readings to history",
				zap.Int("count", len(readings)),
				zap.Error(err),
			)
		}
	}
	return nil
}

// FilterChanged 返回与缓存中最新值不同的读数（按 sensor key 排序），不写入
//
// 调用方把结果与其他读数合并成一次 RecordLatest，整批要么都写入要么都不写入。
func (c *LatestCache) FilterChanged(ctx context.Context, readingsBySensor map[string]models.SensorReading) ([]models.SensorReading, error) {
	if len(readingsBySensor) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(readingsBySensor))
	for key := range readingsBySensor {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	changed := make([]models.SensorReading, 0, len(keys))
	for _, sensorKey := range keys {
		reading := readingsBySensor[sensorKey]
		reading.SensorKey = sensorKey

		prev, err := c.Latest(ctx, sensorKey)
		if err != nil && !errors.Is(err, ErrCacheMiss) {
			return nil, fmt.Errorf("failed to read latest for %s: %w", sensorKey, err)
		}
		if prev != nil && prev.Value == reading.Value {
			continue
		}
		changed = append(changed, reading)
	}
	return changed, nil
}

// Latest 单个传感器最新的一条读数
func (c *LatestCache) Latest(ctx context.Context, sensorKey string) (*models.SensorReading, error) {
	raw, err := c.store.Index(ctx, c.ListKey(sensorKey), 0)
	if err != nil {
		return nil, err
	}
	var reading models.SensorReading
	if err := json.Unmarshal([]byte(raw), &reading); err != nil {
		// 无法解析的旧值视为不存在，下一次写入会覆盖它
		c.logger.Warn("Discarding undecodable cached reading",
			zap.String("sensor_key", sensorKey),
			zap.Error(err),
		)
		return nil, ErrCacheMiss
	}
	return &reading, nil
}

// GetAllLatest 所有已登记传感器的最近读数列表（新的在前）
func (c *LatestCache) GetAllLatest(ctx context.Context) (map[string][]models.SensorReading, error) {
	sensorKeys, err := c.store.Members(ctx, c.RegistryKey())
	if err != nil {
		return nil, fmt.Errorf("failed to list registered sensors: %w", err)
	}
	return c.GetLatestForSensors(ctx, sensorKeys)
}

// GetLatestForSensors 指定传感器的最近读数列表（新的在前）；没有缓存的传感器不出现在结果里
func (c *LatestCache) GetLatestForSensors(ctx context.Context, sensorKeys []string) (map[string][]models.SensorReading, error) {
	result := make(map[string][]models.SensorReading, len(sensorKeys))
	if len(sensorKeys) == 0 {
		return result, nil
	}

	listKeys := make([]string, len(sensorKeys))
	for i, sensorKey := range sensorKeys {
		listKeys[i] = c.ListKey(sensorKey)
	}

	raw, err := c.store.RangeMany(ctx, listKeys, 0, int64(c.listSize-1))
	if err != nil {
		return nil, fmt.Errorf("failed to read latest readings: %w", err)
	}

	for listKey, values := range raw {
		sensorKey := strings.TrimPrefix(listKey, c.keyPrefix)
		readings := make([]models.SensorReading, 0, len(values))
		for _, value := range values {
			var reading models.SensorReading
			if err := json.Unmarshal([]byte(value), &reading); err != nil {
				c.logger.Warn("Skipping undecodable cached reading",
					zap.String("sensor_key", sensorKey),
					zap.Error(err),
				)
				continue
			}
			readings = append(readings, reading)
		}
		if len(readings) > 0 {
			result[sensorKey] = readings
		}
	}
	return result, nil
}

// Writes 累计写入的读数条数
func (c *LatestCache) Writes() int64 {
	return c.writes.Load()
}

// HistoryErrors 累计转发历史失败次数（每个失败的接收方计一次）
func (c *LatestCache) HistoryErrors() int64 {
	return c.historyErrors.Load()
}

// failureCount errors.Join 合并的错误按个数计
func failureCount(err error) int64 {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return int64(len(joined.Unwrap()))
	}
	return 1
}
