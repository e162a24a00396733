package service

import (
	"errors"
	"time"

	"media-scribe/app/logger"
	"media-scribe/app/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InterruptedErrorMsg 上次运行中断的任务在恢复时记录的错误信息
const InterruptedErrorMsg = "任务因服务重启而中断"

// TaskStore 任务的持久化存储，以任务ID为键。
// 数据库是任务状态的唯一可信来源，内存中的队列索引只是可重建的派生物。
type TaskStore struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewTaskStore 创建任务存储
func NewTaskStore(db *gorm.DB, log *logger.Logger) *TaskStore {
	return &TaskStore{
		db:  db,
		log: log,
	}
}

// Put 插入或整体覆盖一条任务记录，按ID幂等。
// 写入在单条事务内完成，进程崩溃不会留下半写的记录。
func (s *TaskStore) Put(task *model.MediaTask) error {
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(task).Error; err != nil {
		s.log.Errorf("保存任务失败: TaskID=%s, 错误: %v", task.ID, err)
		return err
	}
	return nil
}

// Get 按ID获取任务
func (s *TaskStore) Get(id string) (*model.MediaTask, error) {
	var task model.MediaTask
	if err := s.db.First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

// TaskFilter 任务列表的过滤条件
type TaskFilter struct {
	Status   model.TaskStatus // 为空则不过滤
	TaskType model.TaskType   // 为空则不过滤
	UserIP   string           // 为空则不过滤
	Limit    int              // <=0 表示默认 50
}

// List 获取任务列表，最新创建的在前
func (s *TaskStore) List(filter TaskFilter) ([]model.MediaTask, error) {
	query := s.db.Model(&model.MediaTask{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.TaskType != "" {
		query = query.Where("task_type = ?", filter.TaskType)
	}
	if filter.UserIP != "" {
		query = query.Where("user_ip = ?", filter.UserIP)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var tasks []model.MediaTask
	if err := query.Order("created_at DESC").Limit(limit).Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// CountByStatus 按状态统计任务数量
func (s *TaskStore) CountByStatus() (map[model.TaskStatus]int64, error) {
	counts := make(map[model.TaskStatus]int64)
	for _, status := range []model.TaskStatus{
		model.TaskStatusQueued,
		model.TaskStatusProcessing,
		model.TaskStatusCompleted,
		model.TaskStatusFailed,
		model.TaskStatusCancelled,
	} {
		var count int64
		if err := s.db.Model(&model.MediaTask{}).Where("status = ?", status).Count(&count).Error; err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, nil
}

// GetProcessing 返回当前处理中的任务，没有则返回 nil
func (s *TaskStore) GetProcessing() (*model.MediaTask, error) {
	var task model.MediaTask
	err := s.db.First(&task, "status = ?", model.TaskStatusProcessing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// LoadQueued 按 (priority, created_at) 升序载入所有排队中的任务，
// 用于启动时重建内存队列。单条记录损坏（JSON 无法解码）时跳过该条并记录日志，
// 不让整个启动过程失败。
func (s *TaskStore) LoadQueued() ([]model.MediaTask, error) {
	rows, err := s.db.Model(&model.MediaTask{}).
		Where("status = ?", model.TaskStatusQueued).
		Order("priority ASC, created_at ASC").
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []model.MediaTask
	for rows.Next() {
		var task model.MediaTask
		if err := s.db.ScanRows(rows, &task); err != nil {
			s.log.Errorf("任务记录损坏，已跳过: %v", err)
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// RecoverInterrupted 启动时恢复上次运行遗留的处理中任务。
// 处理器没有断点续跑的约定，所以这些任务一律标记为失败而不是重新执行。
func (s *TaskStore) RecoverInterrupted() (int64, error) {
	now := time.Now()
	result := s.db.Model(&model.MediaTask{}).
		Where("status = ?", model.TaskStatusProcessing).
		Updates(map[string]any{
			"status":      model.TaskStatusFailed,
			"error_msg":   InterruptedErrorMsg,
			"finished_at": now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		s.log.Warnf("恢复了 %d 个因重启中断的任务，已标记为失败", result.RowsAffected)
	}
	return result.RowsAffected, nil
}

// CleanupOldTasks 删除早于保留期的终态任务，返回删除数量
func (s *TaskStore) CleanupOldTasks(retainCompleted, retainFailed int) (int64, error) {
	var total int64

	// 清理已完成的任务
	completedCutoff := time.Now().AddDate(0, 0, -retainCompleted)
	result := s.db.Where("status = ? AND finished_at < ?",
		model.TaskStatusCompleted, completedCutoff).Delete(&model.MediaTask{})
	if result.Error != nil {
		return total, result.Error
	}
	total += result.RowsAffected

	// 清理失败和已取消的任务
	failedCutoff := time.Now().AddDate(0, 0, -retainFailed)
	result = s.db.Where("status IN (?) AND finished_at < ?",
		[]model.TaskStatus{model.TaskStatusFailed, model.TaskStatusCancelled},
		failedCutoff).Delete(&model.MediaTask{})
	if result.Error != nil {
		return total, result.Error
	}
	total += result.RowsAffected

	return total, nil
}
