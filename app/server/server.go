package server

import (
	"context"
	"net/http"
	"time"

	"tubeforge/app/auth"
	"tubeforge/app/config"
	"tubeforge/app/handler"
	"tubeforge/app/logger"
	"tubeforge/app/middleware"
	"tubeforge/app/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Server 运维 HTTP 服务，同时负责回收过期认领
type Server struct {
	Config  *config.Config
	Logger  *logger.Logger
	gin     *gin.Engine
	http    *http.Server
	sweeper *service.LeaseSweeper

	jwtService *auth.JWTService
	channels   *service.ChannelDirectory
	tasks      *service.TaskService
	reviews    *service.ReviewService
	quota      *service.QuotaLedger
}

// New 创建一个新的 Server 实例
func New(cfg *config.Config, db *gorm.DB, log *logger.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	channels := service.NewChannelDirectory(db, time.Minute)
	s := &Server{
		gin: router,
		http: &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		},
		Config:     cfg,
		Logger:     log,
		sweeper:    service.NewLeaseSweeper(db, cfg.Worker.SweepSpec, log.Named("sweeper")),
		jwtService: auth.NewJWTService(cfg.JWT),
		channels:   channels,
		tasks:      service.NewTaskService(db, channels, log.Named("task")),
		reviews:    service.NewReviewService(db, log.Named("review")),
		quota:      service.NewQuotaLedger(db, cfg.Quota, channels, nil, log.Named("quota")),
	}

	s.setupRoutes(db)
	return s
}

// Handler 路由，测试使用
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Start 启动服务器
func (s *Server) Start() error {
	s.Logger.Infof("在端口 %s 启动服务器", s.http.Addr)

	if err := s.sweeper.Start(); err != nil {
		return err
	}
	return s.http.ListenAndServe()
}

// Shutdown 停止接收请求并停止回收器
func (s *Server) Shutdown(ctx context.Context) error {
	s.sweeper.Stop()
	return s.http.Shutdown(ctx)
}

// setupRoutes 设置API路由
func (s *Server) setupRoutes(db *gorm.DB) {
	authHandler := handler.NewAuthHandler(db, s.jwtService)
	taskHandler := handler.NewTaskHandler(s.tasks, s.reviews)
	quotaHandler := handler.NewQuotaHandler(s.quota, s.channels)

	s.gin.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.gin.Group("/api")

	// 认证相关路由（不需要JWT验证）
	authGroup := api.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.RefreshToken)
	}

	protected := api.Group("/")
	protected.Use(middleware.JWTAuth(s.jwtService))
	{
		protected.GET("/me", authHandler.Me)

		tasks := protected.Group("/tasks")
		{
			tasks.POST("", taskHandler.CreateTask)
			tasks.GET("", taskHandler.ListTasks)
			tasks.GET("/status-counts", taskHandler.StatusCounts)
			tasks.GET("/:id", taskHandler.GetTask)
			tasks.POST("/:id/submit", taskHandler.SubmitTask)
			tasks.POST("/:id/approve", taskHandler.ApproveTask)
			tasks.POST("/:id/remediate", taskHandler.RemediateTask)
		}

		protected.GET("/channels", quotaHandler.ListChannels)

		quota := protected.Group("/quota")
		{
			quota.GET("", quotaHandler.TodayUsage)
			quota.GET("/:channel_id", quotaHandler.ChannelUsage)
		}
	}
}
