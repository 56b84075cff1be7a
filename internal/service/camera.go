package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wisefido-camera/internal/cache"
	"wisefido-camera/internal/client"
	"wisefido-camera/internal/config"
	"wisefido-camera/internal/correlator"
	"wisefido-camera/internal/history"
	"wisefido-camera/internal/poller"
	"wisefido-camera/internal/publisher"
	"wisefido-camera/internal/repository"
	"wisefido-camera/internal/state"
	"wisefido-camera/owl-common/database"
	mqttcommon "wisefido-camera/owl-common/mqtt"
	rediscommon "wisefido-camera/owl-common/redis"

	"github.com/go-co-op/gocron/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// metricsReportInterval 指标日志输出间隔
const metricsReportInterval = 60 * time.Second

// CameraService 摄像头事件轮询服务
type CameraService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client
	historyRepo *repository.SensorHistoryRepository
	poller      *poller.Poller
	scheduler   gocron.Scheduler
}

// NewCameraService 创建摄像头事件轮询服务
func NewCameraService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*CameraService, error) {
	s := &CameraService{config: cfg, logger: logger}

	// 初始化Redis（缓存与状态都依赖它）
	s.redisClient = rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(ctx, s.redisClient); err != nil {
		s.closeConnections()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	sinks, err := s.buildSinks(ctx)
	if err != nil {
		s.closeConnections()
		return nil, err
	}
	var recorder history.Recorder
	if len(sinks) > 0 {
		recorder = history.NewMultiRecorder(logger, sinks...)
	}

	latest := cache.NewLatestCache(
		cache.NewRedisListStore(s.redisClient),
		recorder,
		cfg.Latest.KeyPrefix,
		cfg.Latest.ListSize,
		logger,
	)
	states := state.NewStateStore(s.redisClient, cfg.State.KeyPrefix, logger)

	source := client.NewHTTPEventSource(client.Options{
		BaseURL:   cfg.Camera.APIURL,
		Token:     cfg.Camera.APIToken,
		Timeout:   cfg.Camera.FetchTimeout,
		RateLimit: cfg.Camera.RateLimit,
		PageLimit: cfg.Camera.PageLimit,
	}, logger)

	watermark := SeedWatermark(ctx, states, cfg.Camera.IntegrationID, cfg.Camera.InitialLookback, time.Now(), logger)
	corr := correlator.NewCorrelator(
		watermark,
		correlator.NewDedupCache(cfg.Dedup.MaxEntries, cfg.Dedup.TTL),
		logger,
	)

	s.poller = poller.NewPoller(poller.Options{
		IntegrationID: cfg.Camera.IntegrationID,
		Interval:      cfg.Camera.PollInterval,
		FetchTimeout:  cfg.Camera.FetchTimeout,
		Location:      cfg.Location(),

		InitialLookback: cfg.Camera.InitialLookback,
	}, source, corr, latest, states, logger)

	s.scheduler, err = gocron.NewScheduler()
	if err != nil {
		s.closeConnections()
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return s, nil
}

// buildSinks 按配置创建历史接收方
func (s *CameraService) buildSinks(ctx context.Context) ([]history.NamedRecorder, error) {
	cfg := s.config
	var sinks []history.NamedRecorder

	if cfg.History.Enabled {
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.historyRepo = repository.NewSensorHistoryRepository(db, repository.DefaultHistoryTable, s.logger)
		sinks = append(sinks, history.NamedRecorder{Name: "postgres", Recorder: s.historyRepo})
	}

	if cfg.Notify.MQTTEnabled {
		mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mqtt: %w", err)
		}
		s.mqttClient = mqttClient
		sinks = append(sinks, history.NamedRecorder{
			Name:     "mqtt",
			Recorder: publisher.NewMQTTPublisher(mqttClient, cfg.Notify.MQTTTopicPrefix, cfg.MQTT.QoS, s.logger),
		})
	}

	if cfg.Notify.StreamEnabled {
		sinks = append(sinks, history.NamedRecorder{
			Name:     "stream",
			Recorder: publisher.NewStreamPublisher(s.redisClient, cfg.Notify.StreamName, cfg.Notify.StreamMaxLen, s.logger),
		})
	}

	return sinks, nil
}

// SeedWatermark 从检查点恢复水位；没有检查点或读取失败时从 now - lookback 开始
func SeedWatermark(ctx context.Context, states *state.StateStore, integrationID string, lookback time.Duration, now time.Time, logger *zap.Logger) time.Time {
	fallback := now.Add(-lookback)

	watermark, err := states.LoadWatermark(ctx, integrationID)
	switch {
	case err == nil:
		logger.Info("Restored watermark from checkpoint", zap.Time("watermark", watermark))
		return watermark
	case errors.Is(err, state.ErrStateNotFound):
		logger.Info("No watermark checkpoint, starting from lookback window",
			zap.Time("watermark", fallback),
			zap.Duration("lookback", lookback),
		)
	default:
		logger.Warn("Failed to load watermark checkpoint, starting from lookback window",
			zap.Time("watermark", fallback),
			zap.Error(err),
		)
	}
	return fallback
}

// Start 启动服务，阻塞直到 ctx 取消且当前周期完成
func (s *CameraService) Start(ctx context.Context) error {
	s.logger.Info("Starting camera service components",
		zap.String("integration_id", s.config.Camera.IntegrationID),
		zap.String("api_url", s.config.Camera.APIURL),
		zap.Bool("history_enabled", s.config.History.Enabled),
		zap.Bool("mqtt_enabled", s.config.Notify.MQTTEnabled),
		zap.Bool("stream_enabled", s.config.Notify.StreamEnabled),
	)

	if s.historyRepo != nil {
		if err := s.historyRepo.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	// 监控源列表拿不到时仍然轮询，只是暂时不能为静默的传感器补 idle
	if err := s.poller.RefreshSources(ctx); err != nil {
		s.logger.Warn("Initial source refresh failed", zap.Error(err))
	}

	if err := s.scheduleJobs(ctx); err != nil {
		return err
	}
	s.scheduler.Start()

	return s.poller.Run(ctx)
}

func (s *CameraService) scheduleJobs(ctx context.Context) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.config.Camera.SourcesRefreshInterval),
		gocron.NewTask(func() {
			if err := s.poller.RefreshSources(ctx); err != nil {
				s.logger.Warn("Failed to refresh known sources", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule source refresh: %w", err)
	}

	_, err = s.scheduler.NewJob(
		gocron.DurationJob(metricsReportInterval),
		gocron.NewTask(func() {
			s.poller.ReportMetrics()
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule metrics report: %w", err)
	}
	return nil
}

// Stop 停止服务
func (s *CameraService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping camera service")

	if s.scheduler != nil {
		if err := s.scheduler.Shutdown(); err != nil {
			s.logger.Error("Error shutting down scheduler", zap.Error(err))
		}
	}
	s.poller.ReportMetrics()
	s.closeConnections()

	s.logger.Info("Camera service stopped")
	return nil
}

func (s *CameraService) closeConnections() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redisClient != nil {
		if err := rediscommon.Close(s.redisClient); err != nil {
			s.logger.Error("Error closing Redis client", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}
}
