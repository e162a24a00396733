package service

import (
	"media-scribe/app/config"
	"media-scribe/app/logger"

	"github.com/robfig/cron/v3"
)

// CleanupService 定期清理超过保留期的终态任务。
// 清理是外部维护动作，不属于队列核心，排队中和处理中的任务永远不会被清理。
type CleanupService struct {
	store  *TaskStore
	config config.QueueConfig
	log    *logger.Logger
	cron   *cron.Cron
}

// NewCleanupService 创建清理服务
func NewCleanupService(store *TaskStore, cfg config.QueueConfig, log *logger.Logger) *CleanupService {
	return &CleanupService{
		store:  store,
		config: cfg,
		log:    log,
		cron:   cron.New(cron.WithSeconds()),
	}
}

// Start 注册定时任务并启动调度器，启动时先执行一次清理
func (s *CleanupService) Start() error {
	if _, err := s.cron.AddFunc(s.config.CleanupCron, s.Run); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Infof("任务清理服务已启动，调度表达式: %s", s.config.CleanupCron)

	go s.Run()
	return nil
}

// Stop 停止调度器并等待正在执行的清理结束
func (s *CleanupService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("任务清理服务已停止")
}

// Run 执行一次清理，可由定时器或管理接口触发
func (s *CleanupService) Run() {
	deleted, err := s.store.CleanupOldTasks(s.config.RetainCompleted, s.config.RetainFailed)
	if err != nil {
		s.log.Errorf("清理旧任务失败: %v", err)
		return
	}
	if deleted > 0 {
		s.log.Infof("清理了 %d 个过期的终态任务", deleted)
	}
}
