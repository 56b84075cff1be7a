package poller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"wisefido-camera/internal/aggregator"
	"wisefido-camera/internal/correlator"
	"wisefido-camera/internal/emitter"
	"wisefido-camera/internal/models"
	"wisefido-camera/internal/state"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrCycleInProgress 上一个周期尚未结束
var ErrCycleInProgress = errors.New("poll cycle already in progress")

// EventSource 区间事件源（client.HTTPEventSource 实现）
type EventSource interface {
	FetchEvents(ctx context.Context, windowStart time.Time, loc *time.Location) (models.EventBatch, error)
	FetchKnownSources(ctx context.Context) ([]models.SourceDescriptor, error)
}

// LatestRecorder 最新状态缓存（cache.LatestCache 实现）
type LatestRecorder interface {
	RecordLatest(ctx context.Context, readings []models.SensorReading) error
	FilterChanged(ctx context.Context, readingsBySensor map[string]models.SensorReading) ([]models.SensorReading, error)
}

// historyErrorCounter 缓存层可选暴露的历史失败计数
type historyErrorCounter interface {
	HistoryErrors() int64
}

// Checkpointer 水位与心跳的持久化（state.StateStore 实现）
type Checkpointer interface {
	LoadWatermark(ctx context.Context, integrationID string) (time.Time, error)
	SaveWatermark(ctx context.Context, integrationID string, watermark time.Time, cycleID string) error
	SaveHeartbeat(ctx context.Context, integrationID string, hb state.Heartbeat, ttl time.Duration) error
}

// Options 轮询参数
type Options struct {
	IntegrationID string
	Interval      time.Duration
	FetchTimeout  time.Duration // 必须小于 Interval
	Location      *time.Location

	// InitialLookback 水位检查点被删除（reset-watermark）后从 now - InitialLookback 重新开始
	InitialLookback time.Duration
}

// Poller 周期驱动：拉取 → 关联 → 聚合 → 发射 → 缓存
type Poller struct {
	opts        Options
	source      EventSource
	correlator  *correlator.Correlator
	aggregator  *aggregator.StateAggregator
	emitter     *emitter.Emitter
	cache       LatestRecorder
	checkpoints Checkpointer
	metrics     *Metrics
	logger      *zap.Logger

	running      atomic.Bool
	wg           sync.WaitGroup
	checkpointed atomic.Bool // 本进程已保存过水位检查点

	sourcesMu sync.RWMutex
	sources   []models.SourceDescriptor
	seen      map[string]struct{} // 出现过事件的 source

	lastSuccess atomic.Int64 // unix nano
	now         func() time.Time
}

// NewPoller 创建轮询器；checkpoints 可为 nil
func NewPoller(
	opts Options,
	source EventSource,
	corr *correlator.Correlator,
	cache LatestRecorder,
	checkpoints Checkpointer,
	logger *zap.Logger,
) *Poller {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Poller{
		opts:        opts,
		source:      source,
		correlator:  corr,
		aggregator:  aggregator.NewStateAggregator(logger),
		emitter:     emitter.NewEmitter(opts.IntegrationID, corr.Dedup(), logger),
		cache:       cache,
		checkpoints: checkpoints,
		metrics:     NewMetrics(),
		logger:      logger,
		seen:        make(map[string]struct{}),
		now:         time.Now,
	}
}

// Metrics 返回轮询指标
func (p *Poller) Metrics() *Metrics {
	return p.metrics
}

// ReportMetrics 汇总缓存层的历史失败计数后输出指标日志
func (p *Poller) ReportMetrics() {
	if counter, ok := p.cache.(historyErrorCounter); ok {
		p.metrics.setHistoryErrors(counter.HistoryErrors())
	}
	p.metrics.Report(p.logger)
}

// LastSuccess 最近一次成功周期的时间；从未成功时为零值
func (p *Poller) LastSuccess() time.Time {
	n := p.lastSuccess.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Run 按固定间隔运行周期，直到 ctx 取消
//
// 周期之间不重叠：tick 到来时上一周期仍在运行则跳过并告警。
// ctx 取消后不再开始新周期，等待正在运行的周期完成后返回。
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.logger.Info("Starting poller",
		zap.String("integration_id", p.opts.IntegrationID),
		zap.Duration("interval", p.opts.Interval),
		zap.Duration("fetch_timeout", p.opts.FetchTimeout),
		zap.Time("watermark", p.correlator.Watermark()),
	)

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			p.logger.Info("Poller stopped")
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		p.metrics.incSkipped()
		p.logger.Warn("Previous poll cycle still running, skipping tick",
			zap.String("integration_id", p.opts.IntegrationID),
		)
		return
	}

	// 周期一旦开始就完整执行，不随 ctx 取消中断
	cycleCtx := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.running.Store(false)
		if err := p.runCycle(cycleCtx); err != nil {
			p.logger.Warn("Poll cycle failed, retrying next tick", zap.Error(err))
		}
	}()
}

// RunCycle 同步运行一个周期；已有周期在运行时返回 ErrCycleInProgress
func (p *Poller) RunCycle(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrCycleInProgress
	}
	defer p.running.Store(false)
	return p.runCycle(ctx)
}

func (p *Poller) runCycle(ctx context.Context) error {
	cycleID := uuid.New().String()
	startTime := p.now()
	p.metrics.incCycle()

	logger := p.logger.With(zap.String("cycle_id", cycleID))
	p.applyExternalReset(ctx, logger, startTime)
	watermark := p.correlator.Watermark()

	fetchCtx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
	fetched, err := p.source.FetchEvents(fetchCtx, watermark, p.opts.Location)
	cancel()
	if err != nil {
		p.metrics.incFailed(errorFetch)
		return fmt.Errorf("failed to fetch events since %s: %w", watermark.Format(time.RFC3339), err)
	}

	result := p.correlator.CorrelateBatch(fetched)
	p.metrics.addEvents(len(fetched.Events), result.Malformed, result.Duplicates, fetched.Truncated)

	states := p.aggregator.AggregateAll(result, p.knownSources(), startTime)
	batch := p.emitter.EmitAll(states)

	// 合成 idle 按值过滤后与事件读数合并成一次写入，整批成功后才转发历史
	changedIdle, err := p.cache.FilterChanged(ctx, batch.Synthetic)
	if err != nil {
		p.metrics.incFailed(errorStore)
		logger.Error("Failed to read latest readings", zap.Error(err))
		return fmt.Errorf("failed to read latest readings: %w", err)
	}
	changed := len(changedIdle)
	readings := make([]models.SensorReading, 0, len(batch.Events)+changed)
	readings = append(readings, batch.Events...)
	readings = append(readings, changedIdle...)
	if err := p.cache.RecordLatest(ctx, readings); err != nil {
		p.metrics.incFailed(errorStore)
		logger.Error("Failed to record readings", zap.Error(err))
		return fmt.Errorf("failed to record readings: %w", err)
	}

	// 缓存写入成功后才提交去重标记与水位
	p.emitter.MarkConsumed(states)
	p.correlator.Commit(result)
	p.markSeen(result.SourcesWithEvents)

	emitted := len(batch.Events) + len(batch.Synthetic)
	recorded := len(batch.Events) + changed
	p.metrics.addReadings(emitted, recorded, batch.Suppressed+len(batch.Synthetic)-changed)

	finished := p.now()
	p.lastSuccess.Store(finished.UnixNano())
	p.metrics.incSucceeded(finished.Sub(startTime), finished)
	p.saveCheckpoint(ctx, logger, cycleID, finished, recorded)

	logger.Info("Poll cycle completed",
		zap.Int("events", len(fetched.Events)),
		zap.Bool("truncated", fetched.Truncated),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("malformed", result.Malformed),
		zap.Int("sources_with_events", len(result.SourcesWithEvents)),
		zap.Int("event_readings", len(batch.Events)),
		zap.Int("idle_readings_changed", changed),
		zap.Int("suppressed", batch.Suppressed),
		zap.Time("watermark", p.correlator.Watermark()),
		zap.Duration("duration", finished.Sub(startTime)),
	)
	return nil
}

// saveCheckpoint 持久化水位和心跳；失败只影响重启后的起点，不算周期失败
func (p *Poller) saveCheckpoint(ctx context.Context, logger *zap.Logger, cycleID string, at time.Time, readings int) {
	if p.checkpoints == nil {
		return
	}
	if err := p.checkpoints.SaveWatermark(ctx, p.opts.IntegrationID, p.correlator.Watermark(), cycleID); err != nil {
		p.metrics.incFailed(errorCheckpoint)
		logger.Warn("Failed to save watermark checkpoint", zap.Error(err))
	} else {
		p.checkpointed.Store(true)
	}
	hb := state.Heartbeat{LastSuccess: at.UTC(), CycleID: cycleID, Readings: readings}
	if err := p.checkpoints.SaveHeartbeat(ctx, p.opts.IntegrationID, hb, 3*p.opts.Interval); err != nil {
		p.metrics.incFailed(errorCheckpoint)
		logger.Warn("Failed to save heartbeat", zap.Error(err))
	}
}

// applyExternalReset 本进程保存过的水位检查点不见了，说明执行过 reset-watermark：
// 清空去重集合并从 now - InitialLookback 重新开始
func (p *Poller) applyExternalReset(ctx context.Context, logger *zap.Logger, now time.Time) {
	if p.checkpoints == nil || !p.checkpointed.Load() {
		return
	}
	_, err := p.checkpoints.LoadWatermark(ctx, p.opts.IntegrationID)
	switch {
	case err == nil:
		return
	case errors.Is(err, state.ErrStateNotFound):
		watermark := now.Add(-p.opts.InitialLookback)
		logger.Warn("Watermark checkpoint was reset, restarting from lookback window",
			zap.Time("previous_watermark", p.correlator.Watermark()),
			zap.Time("watermark", watermark),
		)
		p.correlator.Reset(watermark)
		p.checkpointed.Store(false)
	default:
		logger.Warn("Failed to check watermark checkpoint", zap.Error(err))
	}
}

// RefreshSources 重新拉取监控源列表
func (p *Poller) RefreshSources(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
	defer cancel()

	sources, err := p.source.FetchKnownSources(fetchCtx)
	if err != nil {
		return fmt.Errorf("failed to refresh known sources: %w", err)
	}

	p.sourcesMu.Lock()
	p.sources = sources
	p.sourcesMu.Unlock()

	enabled := 0
	for _, s := range sources {
		if s.Enabled {
			enabled++
		}
	}
	p.logger.Info("Refreshed known sources",
		zap.Int("total", len(sources)),
		zap.Int("enabled", enabled),
	)
	return nil
}

// knownSources 监控源列表 + 出现过事件但不在列表里的 source
func (p *Poller) knownSources() []models.SourceDescriptor {
	p.sourcesMu.RLock()
	defer p.sourcesMu.RUnlock()

	listed := make(map[string]struct{}, len(p.sources))
	out := make([]models.SourceDescriptor, 0, len(p.sources)+len(p.seen))
	for _, s := range p.sources {
		listed[s.SourceID] = struct{}{}
		out = append(out, s)
	}

	extra := make([]string, 0)
	for id := range p.seen {
		if _, ok := listed[id]; !ok {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		out = append(out, models.SourceDescriptor{SourceID: id, Enabled: true})
	}
	return out
}

func (p *Poller) markSeen(sourceIDs []string) {
	p.sourcesMu.Lock()
	defer p.sourcesMu.Unlock()
	for _, id := range sourceIDs {
		p.seen[id] = struct{}{}
	}
}
