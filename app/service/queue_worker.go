package service

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"media-scribe/app/logger"
	"media-scribe/app/model"
)

// ErrProcessingCancelled 处理器观察到协作取消信号后返回的错误
var ErrProcessingCancelled = errors.New("任务处理已被取消")

// Broadcaster 实时推送接口，由外部实现（如 WebSocket 中心）。
// Worker 在任务状态迁移和产生日志时调用。
type Broadcaster interface {
	NotifyTransition(taskID string, oldStatus, newStatus model.TaskStatus)
	NotifyLog(taskID string, line string)
}

// NopBroadcaster 空实现，用于测试或禁用推送
type NopBroadcaster struct{}

func (NopBroadcaster) NotifyTransition(taskID string, oldStatus, newStatus model.TaskStatus) {}
func (NopBroadcaster) NotifyLog(taskID string, line string)                                  {}

// TaskProcessor 执行实际转录/摘要工作的接口。
// logSink 用于追加并广播处理日志；progress 更新进度百分比；
// cancelled 供处理器在安全点轮询协作取消信号，观察到 true 时
// 应尽快返回 ErrProcessingCancelled。
type TaskProcessor interface {
	Process(task *model.MediaTask, logSink func(string), progress func(int), cancelled func() bool) (model.JSONMap, error)
}

// QueueWorker 单一后台循环，串行消费任务队列。
// 同一时刻最多只有一个任务处于处理中；单个任务的失败会被记录并隔离，
// 不会终止循环本身。
type QueueWorker struct {
	queue       *TaskQueue
	store       *TaskStore
	processor   TaskProcessor
	broadcaster Broadcaster
	log         *logger.Logger

	pollInterval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	running bool

	currentID     atomic.Value // string，空串表示空闲
	cancelCurrent atomic.Bool  // 当前任务的协作取消标志
}

// NewQueueWorker 创建队列工作器
func NewQueueWorker(queue *TaskQueue, store *TaskStore, processor TaskProcessor, broadcaster Broadcaster, log *logger.Logger, pollInterval time.Duration) *QueueWorker {
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	w := &QueueWorker{
		queue:        queue,
		store:        store,
		processor:    processor,
		broadcaster:  broadcaster,
		log:          log,
		pollInterval: pollInterval,
		stopCh:       make(chan struct{}),
	}
	w.currentID.Store("")
	return w
}

// Start 启动工作循环，每个进程生命周期只应调用一次
func (w *QueueWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}
	w.running = true

	w.wg.Add(1)
	go w.loop()

	w.log.Info("队列工作器已启动")
}

// Stop 请求终止。graceful 为 true 时让正在处理的任务自然结束；
// 否则向处理器发出协作取消信号。两种情况下都不再取出新任务。
func (w *QueueWorker) Stop(graceful bool) {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	if !graceful {
		w.cancelCurrent.Store(true)
	}

	w.wg.Wait()
	w.log.Info("队列工作器已停止")
}

// RequestCancelCurrent 向当前处理中的任务发出协作取消信号。
// 没有任务在处理时不做任何事，返回 false。
func (w *QueueWorker) RequestCancelCurrent() bool {
	if w.CurrentTaskID() == "" {
		return false
	}
	w.cancelCurrent.Store(true)
	w.log.Infof("已向当前任务发出取消信号: TaskID=%s", w.CurrentTaskID())
	return true
}

// CurrentTaskID 当前处理中的任务ID，空闲时返回空串
func (w *QueueWorker) CurrentTaskID() string {
	id, _ := w.currentID.Load().(string)
	return id
}

// loop 工作循环：取任务、执行、记录结果，循环直到收到停止信号。
// 队列为空时按轮询间隔等待。
func (w *QueueWorker) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		task, err := w.queue.Next()
		if err != nil {
			w.log.Errorf("从队列取任务失败: %v", err)
			select {
			case <-w.stopCh:
				return
			case <-ticker.C:
			}
			continue
		}

		if task == nil {
			select {
			case <-w.stopCh:
				return
			case <-ticker.C:
			}
			continue
		}

		w.runTask(task)
	}
}

// runTask 执行单个任务的完整生命周期
func (w *QueueWorker) runTask(task *model.MediaTask) {
	w.cancelCurrent.Store(false)
	w.currentID.Store(task.ID)
	defer w.currentID.Store("")

	w.log.Infof("开始处理任务: TaskID=%s, 类型=%s", task.ID, task.TaskType)
	w.broadcaster.NotifyTransition(task.ID, model.TaskStatusQueued, model.TaskStatusProcessing)

	logSink := func(line string) {
		task.AppendLog(line)
		if err := w.store.Put(task); err != nil {
			w.log.Errorf("保存任务日志失败: TaskID=%s, 错误: %v", task.ID, err)
		}
		w.broadcaster.NotifyLog(task.ID, line)
	}
	progress := func(p int) {
		task.SetProgress(p)
		if err := w.store.Put(task); err != nil {
			w.log.Errorf("保存任务进度失败: TaskID=%s, 错误: %v", task.ID, err)
		}
	}
	cancelled := func() bool {
		return w.cancelCurrent.Load()
	}

	startTime := time.Now()
	result, err := w.safeProcess(task, logSink, progress, cancelled)
	elapsed := time.Since(startTime)

	now := time.Now()
	task.FinishedAt = &now

	var newStatus model.TaskStatus
	switch {
	case err == nil:
		newStatus = model.TaskStatusCompleted
		task.Status = newStatus
		task.Result = result
		task.SetProgress(100)
		w.log.Infof("任务完成: TaskID=%s, 耗时: %v", task.ID, elapsed)
	case errors.Is(err, ErrProcessingCancelled):
		newStatus = model.TaskStatusCancelled
		task.Status = newStatus
		w.log.Infof("任务已取消: TaskID=%s, 耗时: %v", task.ID, elapsed)
	default:
		newStatus = model.TaskStatusFailed
		task.Status = newStatus
		task.ErrorMsg = err.Error()
		w.log.Errorf("任务失败: TaskID=%s, 耗时: %v, 错误: %v", task.ID, elapsed, err)
	}

	if err := w.store.Put(task); err != nil {
		w.log.Errorf("保存任务结果失败: TaskID=%s, 错误: %v", task.ID, err)
	}
	w.broadcaster.NotifyTransition(task.ID, model.TaskStatusProcessing, newStatus)
}

// safeProcess 调用处理器并把未捕获的 panic 转换为普通错误，
// 保证任何处理器异常都不会击穿工作循环。
func (w *QueueWorker) safeProcess(task *model.MediaTask, logSink func(string), progress func(int), cancelled func() bool) (result model.JSONMap, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("处理器发生未捕获的异常: %v", r)
		}
	}()
	return w.processor.Process(task, logSink, progress, cancelled)
}
