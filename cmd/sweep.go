package cmd

import (
	"context"
	"time"

	"tubeforge/app/config"
	"tubeforge/app/database"
	"tubeforge/app/logger"
	"tubeforge/app/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "立即回收一次租约过期的任务",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		log := logger.New(cfg.Log)
		defer log.Close()

		if err := database.Init(cfg, log); err != nil {
			log.Fatalf("数据库初始化失败: %v", err)
		}
		defer database.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		sweeper := service.NewLeaseSweeper(database.GetDB(), cfg.Worker.SweepSpec, log.Named("sweeper"))
		n, err := sweeper.SweepExpired(ctx)
		if err != nil {
			log.Fatalf("回收失败: %v", err)
		}
		log.Info("回收完成", zap.Int("reclaimed", n))
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
