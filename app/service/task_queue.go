package service

import (
	"sync"
	"time"

	"media-scribe/app/logger"
	"media-scribe/app/model"

	"github.com/google/uuid"
)

// queueEntry 内存排序索引中的一项
type queueEntry struct {
	id        string
	priority  int
	createdAt time.Time
}

// before 判断 e 是否应排在 other 之前：优先级数值小的在前，相同时先创建的在前
func (e queueEntry) before(other queueEntry) bool {
	if e.priority != other.priority {
		return e.priority < other.priority
	}
	return e.createdAt.Before(other.createdAt)
}

// TaskQueue 任务队列，负责准入控制和取消。
// 排序索引保存在内存中，按 (priority, created_at) 升序；
// 持久化状态始终以 TaskStore 为准，索引可随时从存储重建。
type TaskQueue struct {
	store *TaskStore
	log   *logger.Logger

	mu    sync.Mutex
	order []queueEntry
}

// NewTaskQueue 创建任务队列
func NewTaskQueue(store *TaskStore, log *logger.Logger) *TaskQueue {
	return &TaskQueue{
		store: store,
		log:   log,
	}
}

// Load 从存储重建内存索引，启动时调用一次
func (q *TaskQueue) Load() error {
	tasks, err := q.store.LoadQueued()
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.order = q.order[:0]
	for _, task := range tasks {
		q.order = append(q.order, queueEntry{
			id:        task.ID,
			priority:  task.Priority,
			createdAt: task.CreatedAt,
		})
	}

	q.log.Infof("任务队列已重建，共载入 %d 个排队中的任务", len(q.order))
	return nil
}

// Add 新增任务：校验类型、持久化为排队状态、插入排序索引。
// 返回任务和它在队列中的位置（1 起算，含当前处理中的任务）。
func (q *TaskQueue) Add(taskType string, payload model.JSONMap, priority int, userIP string) (*model.MediaTask, int, error) {
	if !model.ValidTaskType(taskType) {
		return nil, 0, model.ErrInvalidTaskType
	}

	if payload == nil {
		payload = model.JSONMap{}
	}
	if userIP == "" {
		userIP = "unknown"
	}

	task := &model.MediaTask{
		ID:        uuid.NewString(),
		TaskType:  model.TaskType(taskType),
		Payload:   payload,
		Priority:  model.ClampPriority(priority),
		Status:    model.TaskStatusQueued,
		CreatedAt: time.Now(),
		UserIP:    userIP,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	// 先持久化再进索引，保证索引里不会出现存储中不存在的任务
	if err := q.store.Put(task); err != nil {
		return nil, 0, err
	}

	entry := queueEntry{id: task.ID, priority: task.Priority, createdAt: task.CreatedAt}
	index := len(q.order)
	for i, existing := range q.order {
		if entry.before(existing) {
			index = i
			break
		}
	}
	q.order = append(q.order, queueEntry{})
	copy(q.order[index+1:], q.order[index:])
	q.order[index] = entry

	position := index + 1
	if current, err := q.store.GetProcessing(); err == nil && current != nil {
		position++
	}

	q.log.Infof("任务已加入队列: TaskID=%s, 类型=%s, 优先级=%d, 位置=%d",
		task.ID, task.TaskType, task.Priority, position)
	return task, position, nil
}

// Next 取出下一个应处理的任务并标记为处理中，队列为空时返回 nil。
// 同一个任务不会被返回两次。
func (q *TaskQueue) Next() (*model.MediaTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.order) > 0 {
		head := q.order[0]
		q.order = q.order[1:]

		task, err := q.store.Get(head.id)
		if err != nil {
			// 索引里的无效条目，丢弃后继续
			q.log.Warnf("队列索引中的任务无法载入，已丢弃: TaskID=%s, 错误: %v", head.id, err)
			continue
		}
		if task.Status != model.TaskStatusQueued {
			continue
		}

		now := time.Now()
		task.Status = model.TaskStatusProcessing
		task.StartedAt = &now
		if err := q.store.Put(task); err != nil {
			return nil, err
		}
		return task, nil
	}

	return nil, nil
}

// Cancel 取消排队中的任务。只有状态为 queued 的任务可以取消；
// 处理中或已终结的任务返回 false。
func (q *TaskQueue) Cancel(id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, err := q.store.Get(id)
	if err != nil {
		return false, err
	}
	if task.Status != model.TaskStatusQueued {
		return false, nil
	}

	now := time.Now()
	task.Status = model.TaskStatusCancelled
	task.FinishedAt = &now
	if err := q.store.Put(task); err != nil {
		return false, err
	}

	for i, entry := range q.order {
		if entry.id == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}

	q.log.Infof("任务已取消: TaskID=%s", id)
	return true, nil
}

// Position 返回任务在队列中的位置（1 起算），不在队列中返回 -1
func (q *TaskQueue) Position(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, entry := range q.order {
		if entry.id == id {
			return i + 1
		}
	}
	return -1
}

// Len 当前排队中的任务数量
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// QueueSnapshot 队列状态概览
type QueueSnapshot struct {
	TotalTasks  int64            `json:"total_tasks"`
	Queued      int64            `json:"queued"`
	Processing  int64            `json:"processing"`
	Completed   int64            `json:"completed"`
	Failed      int64            `json:"failed"`
	Cancelled   int64            `json:"cancelled"`
	QueueLength int              `json:"queue_length"`
	CurrentTask *model.MediaTask `json:"current_task"`
}

// StatusSnapshot 返回按状态统计的任务数量和当前处理中的任务
func (q *TaskQueue) StatusSnapshot() (*QueueSnapshot, error) {
	counts, err := q.store.CountByStatus()
	if err != nil {
		return nil, err
	}

	current, err := q.store.GetProcessing()
	if err != nil {
		return nil, err
	}

	snapshot := &QueueSnapshot{
		Queued:      counts[model.TaskStatusQueued],
		Processing:  counts[model.TaskStatusProcessing],
		Completed:   counts[model.TaskStatusCompleted],
		Failed:      counts[model.TaskStatusFailed],
		Cancelled:   counts[model.TaskStatusCancelled],
		QueueLength: q.Len(),
		CurrentTask: current,
	}
	for _, count := range counts {
		snapshot.TotalTasks += count
	}
	return snapshot, nil
}
