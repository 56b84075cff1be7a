package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wisefido-camera/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type collectingRecorder struct {
	mu       sync.Mutex
	readings []models.SensorReading
}

func (c *collectingRecorder) Record(_ context.Context, readings []models.SensorReading) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readings = append(c.readings, readings...)
	return nil
}

func TestMultiRecorder_FansOut(t *testing.T) {
	a, b := &collectingRecorder{}, &collectingRecorder{}
	m := NewMultiRecorder(zap.NewNop(),
		NamedRecorder{Name: "a", Recorder: a},
		NamedRecorder{Name: "b", Recorder: b},
	)
	readings := []models.SensorReading{{SensorKey: "zm.1.motion", Value: "active", Timestamp: time.Now()}}

	require.NoError(t, m.Record(context.Background(), readings))

	assert.Len(t, a.readings, 1)
	assert.Len(t, b.readings, 1)
}

func TestMultiRecorder_SinkFailureReachesOtherSinks(t *testing.T) {
	ok := &collectingRecorder{}
	m := NewMultiRecorder(zap.NewNop(),
		NamedRecorder{Name: "broken", Recorder: RecorderFunc(func(context.Context, []models.SensorReading) error {
			return errors.New("connection refused")
		})},
		NamedRecorder{Name: "ok", Recorder: ok},
	)

	err := m.Record(context.Background(), []models.SensorReading{{SensorKey: "zm.1.motion", Value: "idle"}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: connection refused")
	assert.Len(t, ok.readings, 1, "healthy sink still receives the batch")
}

func TestMultiRecorder_EmptyBatch(t *testing.T) {
	called := false
	m := NewMultiRecorder(zap.NewNop(), NamedRecorder{Name: "x", Recorder: RecorderFunc(func(context.Context, []models.SensorReading) error {
		called = true
		return nil
	})})

	require.NoError(t, m.Record(context.Background(), nil))
	assert.False(t, called)
}
