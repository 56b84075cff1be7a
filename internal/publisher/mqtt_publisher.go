package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"wisefido-camera/internal/models"

	"go.uber.org/zap"
)

// Publisher MQTT 发布接口（owl-common/mqtt.Client 实现）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTPublisher 把读数发布到每个传感器的 retained 主题：<prefix>/<sensor key>/state
type MQTTPublisher struct {
	client      Publisher
	topicPrefix string
	qos         byte
	logger      *zap.Logger
}

// NewMQTTPublisher 创建 MQTT 读数发布器
func NewMQTTPublisher(client Publisher, topicPrefix string, qos byte, logger *zap.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client:      client,
		topicPrefix: strings.TrimSuffix(topicPrefix, "/"),
		qos:         qos,
		logger:      logger,
	}
}

// Topic 传感器的状态主题
func (p *MQTTPublisher) Topic(sensorKey string) string {
	return fmt.Sprintf("%s/%s/state", p.topicPrefix, sensorKey)
}

// Record 逐条发布（实现 history.Recorder）
// 一条失败不影响其余读数，返回第一个错误
func (p *MQTTPublisher) Record(ctx context.Context, readings []models.SensorReading) error {
	var firstErr error
	published := 0
	for _, reading := range readings {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := json.Marshal(reading)
		if err != nil {
			return fmt.Errorf("failed to marshal reading %s: %w", reading.SensorKey, err)
		}
		if err := p.client.Publish(p.Topic(reading.SensorKey), p.qos, true, payload); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		published++
	}

	p.logger.Debug("Published readings to MQTT",
		zap.Int("published", published),
		zap.Int("total", len(readings)),
	)
	return firstErr
}
