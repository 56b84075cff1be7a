package emitter

import (
	"strconv"
	"time"

	"wisefido-camera/internal/models"

	"go.uber.org/zap"
)

// DedupMarker 去重集合（由 correlator.DedupCache 实现）
type DedupMarker interface {
	IsStartSeen(eventID string) bool
	MarkStartSeen(eventID string)
	MarkProcessed(eventID string)
}

// Batch 一个周期的发射结果
type Batch struct {
	// Events 由具体事件产生的读数（start / end），无条件写入缓存
	Events []models.SensorReading
	// Synthetic 无事件传感器的 idle 读数，按 sensor key 索引，经变化过滤后写入
	Synthetic map[string]models.SensorReading
	// Suppressed 已发过 start 而被抑制的读数数量
	Suppressed int
}

// Emitter 把聚合状态转换为传感器读数
type Emitter struct {
	integrationID string
	dedup         DedupMarker
	logger        *zap.Logger
}

// NewEmitter 创建读数发射器
func NewEmitter(integrationID string, dedup DedupMarker, logger *zap.Logger) *Emitter {
	return &Emitter{
		integrationID: integrationID,
		dedup:         dedup,
		logger:        logger,
	}
}

// EmitAll 转换一个周期的全部聚合状态
// 只读去重集合，标记动作在缓存写入成功后由 MarkConsumed 完成
func (e *Emitter) EmitAll(states []*models.AggregatedSourceState) *Batch {
	batch := &Batch{Synthetic: make(map[string]models.SensorReading)}
	for _, state := range states {
		reading, ok := e.Emit(state)
		if !ok {
			batch.Suppressed++
			continue
		}
		if state.IsSynthetic() {
			batch.Synthetic[reading.SensorKey] = reading
			continue
		}
		batch.Events = append(batch.Events, reading)
	}
	return batch
}

// Emit 把一个聚合状态转换为一个读数
// 代表事件的 start 已经发过时返回 false
func (e *Emitter) Emit(state *models.AggregatedSourceState) (models.SensorReading, bool) {
	reading := models.SensorReading{
		SensorKey: models.SensorKey(e.integrationID, state.SourceID),
		Value:     string(state.State),
		Timestamp: state.Timestamp,
	}

	if state.IsSynthetic() {
		reading.Details = map[string]string{}
		return reading, true
	}

	canonical := state.Canonical
	switch state.State {
	case models.StateActive:
		if e.dedup.IsStartSeen(canonical.EventID) {
			e.logger.Debug("Start already emitted, suppressing",
				zap.String("sensor_key", reading.SensorKey),
				zap.String("event_id", canonical.EventID),
			)
			return models.SensorReading{}, false
		}
		reading.Details = activeDetails(canonical)
		reading.CorrelationRole = models.CorrelationStart
	default:
		reading.Details = idleDetails(canonical)
		reading.CorrelationRole = models.CorrelationEnd
	}

	reading.CorrelationID = canonical.EventID
	_, reading.HasEvidence = reading.Details[models.DetailEventID]
	return reading, true
}

// MarkConsumed 缓存写入成功后标记本周期参与聚合的事件
// 全部事件进入 start seen；已关闭事件另外进入 processed
func (e *Emitter) MarkConsumed(states []*models.AggregatedSourceState) {
	for _, state := range states {
		for i := range state.Contributing {
			ev := &state.Contributing[i]
			e.dedup.MarkStartSeen(ev.EventID)
			if !ev.IsOpen() {
				e.dedup.MarkProcessed(ev.EventID)
			}
		}
	}
}

// activeDetails 进行中事件只有开始时的信息
func activeDetails(ev *models.RawIntervalEvent) map[string]string {
	details := map[string]string{
		models.DetailEventID:   ev.EventID,
		models.DetailStartTime: formatTime(ev.StartTime),
	}
	if ev.Notes != "" {
		details[models.DetailNotes] = ev.Notes
	}
	return details
}

func idleDetails(ev *models.RawIntervalEvent) map[string]string {
	details := activeDetails(ev)
	if ev.EndTime != nil {
		details[models.DetailEndTime] = formatTime(*ev.EndTime)
	}
	details[models.DetailDuration] = strconv.FormatFloat(ev.Duration, 'f', -1, 64)
	details[models.DetailTotalScore] = strconv.Itoa(ev.TotalScore)
	details[models.DetailAvgScore] = strconv.Itoa(ev.AvgScore)
	details[models.DetailMaxScore] = strconv.Itoa(ev.MaxScore)
	details[models.DetailFrames] = strconv.Itoa(ev.Frames)
	details[models.DetailAlarmFrames] = strconv.Itoa(ev.AlarmFrames)
	return details
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
