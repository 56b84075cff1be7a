package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wisefido-camera/internal/cache"
	"wisefido-camera/internal/config"
	"wisefido-camera/internal/export"
	"wisefido-camera/internal/models"
	"wisefido-camera/internal/service"
	"wisefido-camera/internal/state"
	logpkg "wisefido-camera/owl-common/logger"
	rediscommon "wisefido-camera/owl-common/redis"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const serviceName = "wisefido-camera"

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Camera event poller that maintains per-sensor motion state",
		SilenceUsage:  true,
		RunE:          runServe,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the polling service (default)",
			RunE:  runServe,
		},
		newLatestCmd(),
		&cobra.Command{
			Use:   "reset-watermark",
			Short: "Delete the persisted watermark checkpoint",
			Args:  cobra.NoArgs,
			RunE:  runResetWatermark,
		},
	)
	return root
}

// setup 加载配置并初始化 Logger
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting wisefido-camera service",
		zap.String("version", version),
		zap.String("integration_id", cfg.Camera.IntegrationID),
		zap.Duration("poll_interval", cfg.Camera.PollInterval),
		zap.Int("latest_list_size", cfg.Latest.ListSize),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cameraService, err := service.NewCameraService(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to create camera service", zap.Error(err))
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return cameraService.Start(gctx)
	})

	err = g.Wait()
	if err != nil {
		logger.Error("Camera service exited with error", zap.Error(err))
	} else {
		logger.Info("Received signal, shutting down")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if stopErr := cameraService.Stop(stopCtx); stopErr != nil {
		logger.Error("Error during shutdown", zap.Error(stopErr))
	}
	return err
}

func newLatestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "latest [sensor-key...]",
		Short: "Print cached latest readings as JSON",
		RunE:  runLatest,
	}
	cmd.Flags().String("xlsx", "", "write the readings to this Excel file instead of stdout")
	return cmd
}

func runLatest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	defer rediscommon.Close(redisClient)

	ctx := cmd.Context()
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	latest := cache.NewLatestCache(cache.NewRedisListStore(redisClient), nil, cfg.Latest.KeyPrefix, cfg.Latest.ListSize, logger)
	var readings map[string][]models.SensorReading
	if len(args) == 0 {
		readings, err = latest.GetAllLatest(ctx)
	} else {
		readings, err = latest.GetLatestForSensors(ctx, args)
	}
	if err != nil {
		return err
	}

	if path, _ := cmd.Flags().GetString("xlsx"); path != "" {
		data, err := export.GenerateLatestReadingsExcel(readings)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d sensors to %s\n", len(readings), path)
		return nil
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(readings)
}

func runResetWatermark(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	defer rediscommon.Close(redisClient)

	states := state.NewStateStore(redisClient, cfg.State.KeyPrefix, logger)
	deleted, err := states.ResetWatermark(cmd.Context(), cfg.Camera.IntegrationID)
	if err != nil {
		return err
	}

	logger.Info("Watermark checkpoint reset",
		zap.String("integration_id", cfg.Camera.IntegrationID),
		zap.Bool("existed", deleted),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "watermark for %s reset (existed=%t)\n", cfg.Camera.IntegrationID, deleted)
	return nil
}
