package aggregator

import (
	"sort"
	"time"

	"wisefido-camera/internal/correlator"
	"wisefido-camera/internal/models"

	"go.uber.org/zap"
)

// StateAggregator 单传感器状态聚合器：一个传感器一个周期只产出一个状态
type StateAggregator struct {
	logger *zap.Logger
}

// NewStateAggregator 创建状态聚合器
func NewStateAggregator(logger *zap.Logger) *StateAggregator {
	return &StateAggregator{logger: logger}
}

// AggregateAll 对本周期有事件的传感器做聚合，并为没有事件的已知传感器补一个 idle 状态
// 结果按 source id 排序
func (a *StateAggregator) AggregateAll(result *correlator.Result, known []models.SourceDescriptor, now time.Time) []*models.AggregatedSourceState {
	states := make([]*models.AggregatedSourceState, 0, len(result.SourcesWithEvents)+len(known))
	covered := make(map[string]struct{}, len(result.SourcesWithEvents))

	for _, sourceID := range result.SourcesWithEvents {
		state := Aggregate(sourceID, result.OpenBySource[sourceID], result.ClosedBySource[sourceID])
		if state == nil {
			continue
		}
		covered[sourceID] = struct{}{}
		states = append(states, state)
	}

	absent := 0
	for _, src := range known {
		if !src.Enabled {
			continue
		}
		if _, ok := covered[src.SourceID]; ok {
			continue
		}
		covered[src.SourceID] = struct{}{}
		states = append(states, Absent(src.SourceID, now))
		absent++
	}

	sort.Slice(states, func(i, j int) bool { return states[i].SourceID < states[j].SourceID })

	a.logger.Debug("Aggregated source states",
		zap.Int("with_events", len(states)-absent),
		zap.Int("without_events", absent),
	)
	return states
}

// Aggregate 计算一个传感器的逻辑状态
//   - 有进行中的事件：active，时间取最早开始的进行中事件（最早者优先）
//   - 只有已关闭事件：idle，时间取最晚结束的事件（最晚者优先）
//
// 两个分区都为空时返回 nil。
func Aggregate(sourceID string, open, closed []models.RawIntervalEvent) *models.AggregatedSourceState {
	if len(open) == 0 && len(closed) == 0 {
		return nil
	}

	open = append([]models.RawIntervalEvent(nil), open...)
	closed = append([]models.RawIntervalEvent(nil), closed...)
	sort.SliceStable(open, func(i, j int) bool {
		if !open[i].StartTime.Equal(open[j].StartTime) {
			return open[i].StartTime.Before(open[j].StartTime)
		}
		return open[i].EventID < open[j].EventID
	})
	sort.SliceStable(closed, func(i, j int) bool {
		if !closed[i].EndTime.Equal(*closed[j].EndTime) {
			return closed[i].EndTime.After(*closed[j].EndTime)
		}
		return closed[i].EventID < closed[j].EventID
	})

	state := &models.AggregatedSourceState{
		SourceID:     sourceID,
		Contributing: append(append([]models.RawIntervalEvent(nil), open...), closed...),
	}

	if len(open) > 0 {
		canonical := open[0]
		state.State = models.StateActive
		state.Timestamp = canonical.StartTime
		state.Canonical = &canonical
		return state
	}

	canonical := closed[0]
	state.State = models.StateIdle
	state.Timestamp = *canonical.EndTime
	state.Canonical = &canonical
	return state
}

// Absent 已知传感器本周期没有任何事件时的显式 idle 状态
// 没有新数据不代表安全，必须给下游一个连续的 idle 信号
func Absent(sourceID string, now time.Time) *models.AggregatedSourceState {
	return &models.AggregatedSourceState{
		SourceID:  sourceID,
		State:     models.StateIdle,
		Timestamp: now,
	}
}
