package history

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"wisefido-camera/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Recorder 历史记录接收方（数据库、MQTT、Stream 等）
type Recorder interface {
	Record(ctx context.Context, readings []models.SensorReading) error
}

// NamedRecorder 带名字的接收方，便于日志定位
type NamedRecorder struct {
	Name     string
	Recorder Recorder
}

// MultiRecorder 把同一批读数并发转发给所有接收方
//
// 每个接收方都会被调用一次，失败的接收方不重试（历史最多写一次）。
type MultiRecorder struct {
	sinks  []NamedRecorder
	logger *zap.Logger
}

// NewMultiRecorder 创建扇出接收方
func NewMultiRecorder(logger *zap.Logger, sinks ...NamedRecorder) *MultiRecorder {
	return &MultiRecorder{sinks: sinks, logger: logger}
}

// Record 转发一批读数；所有接收方都执行完后，返回失败接收方错误的 errors.Join
func (m *MultiRecorder) Record(ctx context.Context, readings []models.SensorReading) error {
	if len(readings) == 0 || len(m.sinks) == 0 {
		return nil
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, sink := range m.sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Recorder.Record(ctx, readings); err != nil {
				m.logger.Warn("History sink failed",
					zap.String("sink", sink.Name),
					zap.Int("readings", len(readings)),
					zap.Error(err),
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", sink.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// RecorderFunc 函数适配器
type RecorderFunc func(ctx context.Context, readings []models.SensorReading) error

func (f RecorderFunc) Record(ctx context.Context, readings []models.SensorReading) error {
	return f(ctx, readings)
}
