package correlator

import (
	"sort"
	"sync"
	"time"

	"wisefido-camera/internal/models"

	"go.uber.org/zap"
)

// Result 一次关联的结果，在缓存写入成功前不会改变 Correlator 的状态
type Result struct {
	OpenBySource      map[string][]models.RawIntervalEvent
	ClosedBySource    map[string][]models.RawIntervalEvent
	SourcesWithEvents []string // 排序后的 source id

	// NextWatermark 本周期成功后应采用的水位（已保证单调）
	NextWatermark time.Time

	Duplicates int // 因"已完全处理"跳过的事件数
	Malformed  int // 因字段缺失或时间颠倒跳过的事件数

	// Truncated 本次拉取只读到窗口的一部分，NextWatermark 已被限制在已读的最后开始时间
	Truncated bool
}

// Correlator 事件关联器：去重、按开启/关闭分区、推进水位
//
// 去重集合与水位只属于一个 Correlator 实例，不在实例之间共享。
type Correlator struct {
	mu        sync.Mutex
	watermark time.Time
	dedup     *DedupCache
	logger    *zap.Logger
}

// NewCorrelator 创建关联器，watermark 为首次查询的起点
func NewCorrelator(watermark time.Time, dedup *DedupCache, logger *zap.Logger) *Correlator {
	return &Correlator{
		watermark: watermark,
		dedup:     dedup,
		logger:    logger,
	}
}

// Watermark 下一次拉取必须从该时间开始
func (c *Correlator) Watermark() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watermark
}

// Dedup 返回关联器持有的去重缓存
func (c *Correlator) Dedup() *DedupCache {
	return c.dedup
}

// Correlate 跳过已完全处理的事件，将剩余事件按是否结束分区并按 source 分组
func (c *Correlator) Correlate(events []models.RawIntervalEvent) *Result {
	return c.CorrelateBatch(models.EventBatch{Events: events})
}

// CorrelateBatch 同 Correlate；batch 被截断时水位不超过已读事件中最晚的开始时间，
// 下一周期仍会查询到未读分页中的事件
func (c *Correlator) CorrelateBatch(batch models.EventBatch) *Result {
	events := batch.Events
	result := &Result{
		OpenBySource:   make(map[string][]models.RawIntervalEvent),
		ClosedBySource: make(map[string][]models.RawIntervalEvent),
		Truncated:      batch.Truncated,
	}
	var lastStart time.Time

	// 同一周期内同一事件出现多次时保留最后一个快照
	latest := make(map[string]int, len(events))
	var unique []models.RawIntervalEvent
	for _, e := range events {
		if err := e.Validate(); err != nil {
			result.Malformed++
			c.logger.Warn("Skipping malformed event", zap.Error(err))
			continue
		}
		if e.StartTime.After(lastStart) {
			lastStart = e.StartTime
		}
		if c.dedup.IsProcessed(e.EventID) {
			result.Duplicates++
			continue
		}
		if idx, ok := latest[e.EventID]; ok {
			unique[idx] = e
			continue
		}
		latest[e.EventID] = len(unique)
		unique = append(unique, e)
	}

	var open, closed []models.RawIntervalEvent
	sources := make(map[string]struct{})
	for _, e := range unique {
		sources[e.SourceID] = struct{}{}
		if e.IsOpen() {
			open = append(open, e)
			result.OpenBySource[e.SourceID] = append(result.OpenBySource[e.SourceID], e)
		} else {
			closed = append(closed, e)
			result.ClosedBySource[e.SourceID] = append(result.ClosedBySource[e.SourceID], e)
		}
	}

	for id := range sources {
		result.SourcesWithEvents = append(result.SourcesWithEvents, id)
	}
	sort.Strings(result.SourcesWithEvents)

	current := c.Watermark()
	next := NextWatermark(current, open, closed)
	if batch.Truncated && !lastStart.IsZero() && next.After(lastStart) {
		c.logger.Warn("Partial fetch, capping watermark at last fetched start",
			zap.Time("candidate", next),
			zap.Time("cap", lastStart),
		)
		next = lastStart
	}
	if next.Before(current) {
		c.logger.Debug("Clamping watermark candidate to current watermark",
			zap.Time("candidate", next),
			zap.Time("watermark", current),
		)
		next = current
	}
	result.NextWatermark = next

	return result
}

// Commit 采用 Result 中的水位；只能在本周期读数写入成功后调用
func (c *Correlator) Commit(result *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if result.NextWatermark.After(c.watermark) {
		c.watermark = result.NextWatermark
	}
}

// Reset 清空去重集合并重置水位（水位检查点被外部删除时由 poller 调用）
func (c *Correlator) Reset(watermark time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watermark = watermark
	c.dedup.Purge()
}

// NextWatermark 水位推进策略
//   - 有进行中的事件：最早的进行中事件的开始时间（它仍可能变化，必须继续从这里查询）
//   - 只有已关闭事件：最晚的结束时间
//   - 没有事件：保持不变
func NextWatermark(current time.Time, open, closed []models.RawIntervalEvent) time.Time {
	if len(open) > 0 {
		earliest := open[0].StartTime
		for _, e := range open[1:] {
			if e.StartTime.Before(earliest) {
				earliest = e.StartTime
			}
		}
		return earliest
	}
	if len(closed) > 0 {
		latest := *closed[0].EndTime
		for _, e := range closed[1:] {
			if e.EndTime.After(latest) {
				latest = *e.EndTime
			}
		}
		return latest
	}
	return current
}
