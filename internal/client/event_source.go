package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"wisefido-camera/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrNotConfigured 监控源 API 地址未配置
var ErrNotConfigured = errors.New("event source api url is not configured")

// errRateLimited 等待限流令牌时 ctx 已经（或将要）到期
var errRateLimited = errors.New("rate limiter wait aborted")

// zmTimeLayout ZoneMinder 返回及接受的本地时间格式
const zmTimeLayout = "2006-01-02 15:04:05"

// maxPages 单次拉取的最大分页数，防止异常分页信息导致死循环
const maxPages = 50

// Options HTTP 事件源选项
type Options struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration // 单个 HTTP 请求超时
	RateLimit float64       // 每秒请求数
	PageLimit int
}

// HTTPEventSource ZoneMinder 风格的区间事件源客户端
type HTTPEventSource struct {
	httpClient *resty.Client
	limiter    *rate.Limiter
	opts       Options
	logger     *zap.Logger
}

// NewHTTPEventSource 创建事件源客户端
func NewHTTPEventSource(opts Options, logger *zap.Logger) *HTTPEventSource {
	if opts.PageLimit <= 0 {
		opts.PageLimit = 100
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Accept", "application/json")

	return &HTTPEventSource{
		httpClient: client,
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		opts:       opts,
		logger:     logger,
	}
}

// FetchEvents 按开始时间升序拉取开始时间不早于 windowStart 的事件（含进行中的事件）
//
// 单个事件解析失败只跳过该事件。分页超过 maxPages，或读过至少一页后 ctx 到期时，
// 返回已读部分并标记 Truncated，由调用方限制水位推进。
func (c *HTTPEventSource) FetchEvents(ctx context.Context, windowStart time.Time, loc *time.Location) (models.EventBatch, error) {
	var batch models.EventBatch
	if c.opts.BaseURL == "" {
		return batch, ErrNotConfigured
	}
	if loc == nil {
		loc = time.UTC
	}

	for page := 1; ; page++ {
		var body zmEventsResponse
		err := c.get(ctx, "/api/events.json", map[string]string{
			"start_from": windowStart.In(loc).Format(zmTimeLayout),
			"tz":         loc.String(),
			"sort":       "StartDateTime",
			"direction":  "asc",
			"page":       strconv.Itoa(page),
			"limit":      strconv.Itoa(c.opts.PageLimit),
		}, &body)
		if err != nil {
			if page > 1 && (ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errRateLimited)) {
				c.logger.Warn("Fetch deadline reached, returning partial window",
					zap.Int("pages_read", page-1),
					zap.Int("event_count", len(batch.Events)),
					zap.Error(err),
				)
				batch.Truncated = true
				return batch, nil
			}
			return batch, err
		}

		for _, item := range body.Events {
			event, err := convertEvent(item.Event, loc)
			if err != nil {
				c.logger.Warn("Skipping malformed event",
					zap.String("event_id", item.Event.ID.String()),
					zap.Error(err),
				)
				continue
			}
			batch.Events = append(batch.Events, event)
		}

		if body.Pagination.PageCount <= page {
			break
		}
		if page >= maxPages {
			c.logger.Warn("Page limit reached, returning partial window",
				zap.Int("pages_read", page),
				zap.Int("page_count", body.Pagination.PageCount),
				zap.Int("event_count", len(batch.Events)),
			)
			batch.Truncated = true
			break
		}
	}

	c.logger.Debug("Fetched interval events",
		zap.Time("window_start", windowStart),
		zap.Int("event_count", len(batch.Events)),
		zap.Bool("truncated", batch.Truncated),
	)
	return batch, nil
}

// FetchKnownSources 拉取监控源上配置的全部摄像头
func (c *HTTPEventSource) FetchKnownSources(ctx context.Context) ([]models.SourceDescriptor, error) {
	if c.opts.BaseURL == "" {
		return nil, ErrNotConfigured
	}

	var body zmMonitorsResponse
	if err := c.get(ctx, "/api/monitors.json", nil, &body); err != nil {
		return nil, err
	}

	sources := make([]models.SourceDescriptor, 0, len(body.Monitors))
	for _, item := range body.Monitors {
		m := item.Monitor
		if m.ID == "" {
			c.logger.Warn("Skipping monitor without id", zap.String("name", m.Name.String()))
			continue
		}
		sources = append(sources, models.SourceDescriptor{
			SourceID: m.ID.String(),
			Name:     m.Name.String(),
			Function: m.Function.String(),
			Enabled:  m.Enabled.Int() == 1 && m.Function != "None",
		})
	}
	return sources, nil
}

func (c *HTTPEventSource) get(ctx context.Context, path string, query map[string]string, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", errRateLimited, err)
	}

	req := c.httpClient.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParams(query)
	}
	if c.opts.Token != "" {
		req.SetQueryParam("token", c.opts.Token)
	}

	resp, err := req.Get(path)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode())
	}

	// 不依赖 Content-Type：代理或登录页返回的 200 HTML 必须当作失败
	if err := json.Unmarshal(resp.Body(), result); err != nil {
		return fmt.Errorf("%s returned undecodable body (content-type %q): %w",
			path, resp.Header().Get("Content-Type"), err)
	}
	return nil
}

// convertEvent ZoneMinder 事件 -> RawIntervalEvent
func convertEvent(e zmEvent, loc *time.Location) (models.RawIntervalEvent, error) {
	if e.StartDateTime == "" {
		return models.RawIntervalEvent{}, errors.New("missing StartDateTime")
	}
	start, err := time.ParseInLocation(zmTimeLayout, e.StartDateTime.String(), loc)
	if err != nil {
		return models.RawIntervalEvent{}, fmt.Errorf("invalid StartDateTime: %w", err)
	}

	event := models.RawIntervalEvent{
		EventID:     e.ID.String(),
		SourceID:    e.MonitorID.String(),
		StartTime:   start,
		Duration:    e.Length.Float(),
		TotalScore:  e.TotScore.Int(),
		AvgScore:    e.AvgScore.Int(),
		MaxScore:    e.MaxScore.Int(),
		Frames:      e.Frames.Int(),
		AlarmFrames: e.AlarmFrames.Int(),
		Notes:       e.Notes.String(),
	}
	if e.EndDateTime != "" {
		end, err := time.ParseInLocation(zmTimeLayout, e.EndDateTime.String(), loc)
		if err != nil {
			return models.RawIntervalEvent{}, fmt.Errorf("invalid EndDateTime: %w", err)
		}
		event.EndTime = &end
	}

	if err := event.Validate(); err != nil {
		return models.RawIntervalEvent{}, err
	}
	return event, nil
}
