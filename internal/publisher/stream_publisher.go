package publisher

import (
	"context"
	"fmt"

	"wisefido-camera/internal/models"
	rediscommon "wisefido-camera/owl-common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamPublisher 把读数追加到 Redis Stream，供下游服务（告警、卡片聚合）消费
type StreamPublisher struct {
	redisClient *redis.Client
	stream      string
	maxLen      int64
	logger      *zap.Logger
}

// NewStreamPublisher 创建 Stream 读数发布器
func NewStreamPublisher(redisClient *redis.Client, stream string, maxLen int64, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{
		redisClient: redisClient,
		stream:      stream,
		maxLen:      maxLen,
		logger:      logger,
	}
}

// Record 每条读数一个 Stream 消息（实现 history.Recorder）
func (p *StreamPublisher) Record(ctx context.Context, readings []models.SensorReading) error {
	for _, reading := range readings {
		id, err := rediscommon.PublishJSONToStream(ctx, p.redisClient, p.stream, reading, p.maxLen)
		if err != nil {
			return fmt.Errorf("failed to publish %s to stream %s: %w", reading.SensorKey, p.stream, err)
		}
		p.logger.Debug("Published reading to stream",
			zap.String("stream", p.stream),
			zap.String("message_id", id),
			zap.String("sensor_key", reading.SensorKey),
		)
	}
	return nil
}
