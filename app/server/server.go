package server

import (
	"context"
	"net/http"
	"time"

	"media-scribe/app/broadcast"
	"media-scribe/app/config"
	"media-scribe/app/database"
	"media-scribe/app/filewatcher"
	"media-scribe/app/handler"
	"media-scribe/app/logger"
	"media-scribe/app/middleware"
	"media-scribe/app/service"

	"github.com/gin-gonic/gin"
)

// Server 表示 HTTP 服务器及其拥有的后台组件。
// 队列、工作器等都在这里构造一次，再以显式引用传给各处理器。
type Server struct {
	Config *config.Config
	Logger *logger.Logger
	gin    *gin.Engine
	http   *http.Server

	store        *service.TaskStore
	queue        *service.TaskQueue
	worker       *service.QueueWorker
	hub          *broadcast.Hub
	cleanup      *service.CleanupService
	inboxWatcher *filewatcher.InboxWatcher
}

// New 创建一个新的 Server 实例
func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	router := gin.Default()

	store := service.NewTaskStore(database.GetDB(), log)
	queue := service.NewTaskQueue(store, log)
	hub := broadcast.NewHub(log)
	processor := service.NewMediaTaskProcessor(cfg, log)
	worker := service.NewQueueWorker(queue, store, processor, hub, log,
		time.Duration(cfg.Queue.PollInterval)*time.Second)
	cleanup := service.NewCleanupService(store, cfg.Queue, log)

	inboxWatcher, err := filewatcher.NewInboxWatcher(cfg.Inbox, queue, log)
	if err != nil {
		return nil, err
	}

	s := &Server{
		gin: router,
		http: &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		},
		Config:       cfg,
		Logger:       log,
		store:        store,
		queue:        queue,
		worker:       worker,
		hub:          hub,
		cleanup:      cleanup,
		inboxWatcher: inboxWatcher,
	}

	// 设置路由
	s.setupRoutes()

	return s, nil
}

// Start 启动服务器和所有后台组件
func (s *Server) Start() error {
	// 恢复上次运行中断的任务，再从存储重建队列
	if _, err := s.store.RecoverInterrupted(); err != nil {
		return err
	}
	if err := s.queue.Load(); err != nil {
		return err
	}

	s.hub.Start()
	s.worker.Start()

	if err := s.cleanup.Start(); err != nil {
		return err
	}
	if err := s.inboxWatcher.Start(); err != nil {
		return err
	}

	s.Logger.Infof("在端口 %s 启动服务器", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown 停止后台组件并关闭服务器。
// 工作器以非优雅方式停止：向处理中的任务发出协作取消信号，
// 避免停机被一个长任务无限拖住。
func (s *Server) Shutdown(ctx context.Context) error {
	_ = s.inboxWatcher.Stop()
	s.cleanup.Stop()
	s.worker.Stop(false)
	s.hub.Stop()

	// 关闭数据库连接
	if err := database.Close(); err != nil {
		s.Logger.Errorf("关闭数据库连接失败: %v", err)
	}
	return s.http.Shutdown(ctx)
}

// setupRoutes 设置API路由
func (s *Server) setupRoutes() {
	// 创建处理器实例
	authHandler := handler.NewAuthHandler(s.Config)
	taskHandler := handler.NewTaskQueueHandler(s.queue, s.store, s.worker, s.cleanup)
	uploadHandler := handler.NewUploadHandler(s.Config, s.queue)

	// API路由组
	api := s.gin.Group("/api")

	// 认证相关路由（不需要JWT验证）
	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/register", authHandler.Register)
		auth.POST("/refresh", authHandler.RefreshToken)
	}

	// 实时推送通道，浏览器端 WebSocket 无法携带认证头
	api.GET("/ws", s.hub.ServeWS)

	// 需要JWT验证的路由
	protected := api.Group("/")
	protected.Use(middleware.JWTAuth(s.Config))
	{
		// 用户相关
		protected.GET("/me", authHandler.Me)

		// 任务队列相关路由
		queue := protected.Group("/queue")
		{
			queue.POST("/add", taskHandler.AddTask)
			queue.POST("/cancel", taskHandler.CancelTask)
			queue.POST("/cancel-current", taskHandler.CancelCurrent)
			queue.POST("/cleanup", taskHandler.TriggerCleanup)
			queue.GET("/status", taskHandler.GetQueueStatus)
			queue.GET("/list", taskHandler.GetTaskList)
			queue.GET("/task/:id", taskHandler.GetTask)
			queue.GET("/position/:id", taskHandler.GetQueuePosition)
		}

		// 文件上传相关路由
		upload := protected.Group("/upload")
		{
			upload.POST("/media", uploadHandler.UploadMedia)
			upload.POST("/subtitle", uploadHandler.UploadSubtitle)
		}
	}
}
