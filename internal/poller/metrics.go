package poller

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Metrics 轮询监控指标
type Metrics struct {
	mu sync.RWMutex

	// 周期统计
	CyclesRun       int64 // 开始的周期数
	CyclesSucceeded int64 // 成功的周期数
	CyclesFailed    int64 // 失败的周期数
	TicksSkipped    int64 // 上一个周期未结束而跳过的 tick

	// 事件统计
	EventsFetched    int64 // 拉取到的事件数
	EventsMalformed  int64 // 字段不合法而跳过的事件
	EventsDuplicate  int64 // 已完全处理而跳过的事件
	FetchesTruncated int64 // 分页未读完的拉取次数

	// 读数统计
	ReadingsEmitted    int64 // 发射的读数
	ReadingsRecorded   int64 // 写入缓存的读数
	ReadingsSuppressed int64 // start 已发过或值未变化而未写入的读数

	// 错误分类统计
	ErrorsFetch      int64 // 拉取失败
	ErrorsStore      int64 // 缓存写入失败
	ErrorsCheckpoint int64 // 水位/心跳保存失败
	HistoryErrors    int64 // 历史接收方失败（来自缓存层）

	// 性能指标
	TotalCycleTime time.Duration
	LastSuccess    time.Time

	StartTime time.Time
}

// NewMetrics 创建指标
func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		CyclesRun:          m.CyclesRun,
		CyclesSucceeded:    m.CyclesSucceeded,
		CyclesFailed:       m.CyclesFailed,
		TicksSkipped:       m.TicksSkipped,
		EventsFetched:      m.EventsFetched,
		EventsMalformed:    m.EventsMalformed,
		EventsDuplicate:    m.EventsDuplicate,
		FetchesTruncated:   m.FetchesTruncated,
		ReadingsEmitted:    m.ReadingsEmitted,
		ReadingsRecorded:   m.ReadingsRecorded,
		ReadingsSuppressed: m.ReadingsSuppressed,
		ErrorsFetch:        m.ErrorsFetch,
		ErrorsStore:        m.ErrorsStore,
		ErrorsCheckpoint:   m.ErrorsCheckpoint,
		HistoryErrors:      m.HistoryErrors,
		TotalCycleTime:     m.TotalCycleTime,
		LastSuccess:        m.LastSuccess,
		StartTime:          m.StartTime,
	}
}

func (m *Metrics) incCycle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CyclesRun++
}

func (m *Metrics) incSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TicksSkipped++
}

// 错误类型
const (
	errorFetch      = "fetch"
	errorStore      = "store"
	errorCheckpoint = "checkpoint"
)

// incFailed 记录一个错误；checkpoint 错误不算周期失败
func (m *Metrics) incFailed(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch errorType {
	case errorFetch:
		m.ErrorsFetch++
		m.CyclesFailed++
	case errorStore:
		m.ErrorsStore++
		m.CyclesFailed++
	case errorCheckpoint:
		m.ErrorsCheckpoint++
	default:
		m.CyclesFailed++
	}
}

func (m *Metrics) addEvents(fetched, malformed, duplicate int, truncated bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EventsFetched += int64(fetched)
	m.EventsMalformed += int64(malformed)
	m.EventsDuplicate += int64(duplicate)
	if truncated {
		m.FetchesTruncated++
	}
}

func (m *Metrics) setHistoryErrors(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HistoryErrors = n
}

func (m *Metrics) addReadings(emitted, recorded, suppressed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadingsEmitted += int64(emitted)
	m.ReadingsRecorded += int64(recorded)
	m.ReadingsSuppressed += int64(suppressed)
}

func (m *Metrics) incSucceeded(duration time.Duration, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CyclesSucceeded++
	m.TotalCycleTime += duration
	m.LastSuccess = at
}

// Report 输出一次指标日志
func (m *Metrics) Report(logger *zap.Logger) {
	snapshot := m.GetSnapshot()

	var avgCycleTime time.Duration
	if snapshot.CyclesSucceeded > 0 {
		avgCycleTime = snapshot.TotalCycleTime / time.Duration(snapshot.CyclesSucceeded)
	}

	successRate := float64(0)
	if snapshot.CyclesRun > 0 {
		successRate = float64(snapshot.CyclesSucceeded) / float64(snapshot.CyclesRun) * 100
	}

	logger.Info("Metrics report",
		zap.Int64("cycles_run", snapshot.CyclesRun),
		zap.Int64("cycles_succeeded", snapshot.CyclesSucceeded),
		zap.Int64("cycles_failed", snapshot.CyclesFailed),
		zap.Int64("ticks_skipped", snapshot.TicksSkipped),
		zap.Float64("success_rate", successRate),
		zap.Int64("events_fetched", snapshot.EventsFetched),
		zap.Int64("events_malformed", snapshot.EventsMalformed),
		zap.Int64("events_duplicate", snapshot.EventsDuplicate),
		zap.Int64("fetches_truncated", snapshot.FetchesTruncated),
		zap.Int64("readings_emitted", snapshot.ReadingsEmitted),
		zap.Int64("readings_recorded", snapshot.ReadingsRecorded),
		zap.Int64("readings_suppressed", snapshot.ReadingsSuppressed),
		zap.Int64("errors_fetch", snapshot.ErrorsFetch),
		zap.Int64("errors_store", snapshot.ErrorsStore),
		zap.Int64("errors_checkpoint", snapshot.ErrorsCheckpoint),
		zap.Int64("errors_history", snapshot.HistoryErrors),
		zap.Duration("avg_cycle_time", avgCycleTime),
		zap.Time("last_success", snapshot.LastSuccess),
		zap.Duration("uptime", time.Since(snapshot.StartTime)),
	)
}
