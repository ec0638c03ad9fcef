package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tubeforge/app/config"
	"tubeforge/app/database"
	"tubeforge/app/logger"
	"tubeforge/app/service"
	"tubeforge/app/stage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var workerOnce bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "启动阶段执行 worker",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		log := logger.New(cfg.Log)
		defer log.Close()

		if err := database.Init(cfg, log); err != nil {
			log.Fatalf("数据库初始化失败: %v", err)
		}
		defer database.Close()

		registry, closeStages, err := buildRegistry(cfg.Stages, log)
		if err != nil {
			log.Fatalf("注册阶段执行器失败: %v", err)
		}
		defer closeStages()

		db := database.GetDB()
		deps := buildWorker(cfg, db, registry, log)
		w := deps.worker
		defer deps.alerts.Stop()
		defer deps.alerts.Flush()

		if workerOnce {
			n, err := w.RunOnce(context.Background())
			if err != nil {
				log.Errorf("单次执行失败: %v", err)
			}
			log.Info("单次执行完成", zap.Int("dispatched", n))
			return
		}

		// 并发上限与频道配置支持热加载
		config.Watch(func(next *config.Config) {
			deps.admission.UpdateCeilings(next.Worker.Concurrency.Ceilings())
			if err := database.SyncChannels(db, next.Channels, log); err != nil {
				log.Warn("同步频道配置失败", zap.Error(err))
				return
			}
			deps.channels.Invalidate()
		}, func(err error) {
			log.Warn("配置热加载失败，保留当前配置", zap.Error(err))
		})

		w.Start()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("收到关闭信号，停止认领新任务...")

		w.Stop()
		log.Info("worker已退出")
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "只执行一轮认领并等待完成")
	rootCmd.AddCommand(workerCmd)
}

// buildRegistry 为配置了地址的阶段注册 HTTP 执行器
func buildRegistry(cfg config.StagesConfig, log *logger.Logger) (*stage.Registry, func(), error) {
	registry := stage.NewRegistry()
	handlers, err := stage.RegisterHTTP(registry, cfg.Endpoints, cfg.Timeout)
	if err != nil {
		return nil, nil, err
	}
	for name, endpoint := range cfg.Endpoints {
		log.Info("注册阶段执行器", zap.String("stage", name), zap.String("endpoint", endpoint))
	}
	if missing := registry.Missing(); len(missing) > 0 {
		log.Warn("部分阶段没有执行器，认领后将直接进入错误状态", zap.Strings("stages", missing))
	}
	return registry, func() {
		for _, h := range handlers {
			_ = h.Close()
		}
	}, nil
}

type workerDeps struct {
	worker    *service.Worker
	alerts    *service.AlertService
	admission *service.AdmissionController
	channels  *service.ChannelDirectory
}

// buildWorker 组装配额、告警、准入和执行器
func buildWorker(cfg *config.Config, db *gorm.DB, registry *stage.Registry, log *logger.Logger) workerDeps {
	notifier := service.MultiNotifier{service.NewLogNotifier(log.Named("alert"))}
	if cfg.Alert.DiscordWebhook != "" {
		notifier = append(notifier, service.NewDiscordNotifier(cfg.Alert.DiscordWebhook, cfg.Alert.Timeout))
	}
	alerts := service.NewAlertService(cfg.Quota, cfg.Alert, notifier, log.Named("alert"))

	channels := service.NewChannelDirectory(db, time.Minute)
	quota := service.NewQuotaLedger(db, cfg.Quota, channels, alerts, log.Named("quota"))
	claims := service.NewClaimSelector(db, cfg.Worker.LeaseDuration, log.Named("claim"))
	admission := service.NewAdmissionController(cfg.Worker.Concurrency.Ceilings(), quota, log.Named("admission"))
	executor := service.NewStageExecutor(db, registry, claims, quota, admission,
		cfg.Worker.MaxRetries, cfg.Worker.HeartbeatInterval, log)

	return workerDeps{
		worker:    service.NewWorker(cfg.Worker, claims, admission, executor, log),
		alerts:    alerts,
		admission: admission,
		channels:  channels,
	}
}
