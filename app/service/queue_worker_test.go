package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"media-scribe/app/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProcessor 测试用处理器，行为由 fn 决定
type fakeProcessor struct {
	mu    sync.Mutex
	calls []string
	fn    func(task *model.MediaTask, logSink func(string), progress func(int), cancelled func() bool) (model.JSONMap, error)
}

func (p *fakeProcessor) Process(task *model.MediaTask, logSink func(string), progress func(int), cancelled func() bool) (model.JSONMap, error) {
	p.mu.Lock()
	p.calls = append(p.calls, task.ID)
	p.mu.Unlock()

	if p.fn != nil {
		return p.fn(task, logSink, progress, cancelled)
	}
	return model.JSONMap{"ok": true}, nil
}

func (p *fakeProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakeProcessor) called(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, call := range p.calls {
		if call == id {
			return true
		}
	}
	return false
}

// recordingBroadcaster 记录 worker 发出的状态迁移通知
type recordingBroadcaster struct {
	mu          sync.Mutex
	transitions []string
	logs        []string
}

func (b *recordingBroadcaster) NotifyTransition(taskID string, oldStatus, newStatus model.TaskStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitions = append(b.transitions, string(oldStatus)+"->"+string(newStatus))
}

func (b *recordingBroadcaster) NotifyLog(taskID string, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs = append(b.logs, line)
}

func (b *recordingBroadcaster) snapshot() ([]string, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.transitions...), append([]string(nil), b.logs...)
}

func newTestWorker(t *testing.T, processor TaskProcessor, broadcaster Broadcaster) (*QueueWorker, *TaskQueue, *TaskStore) {
	t.Helper()
	queue, store := newTestQueue(t)
	worker := NewQueueWorker(queue, store, processor, broadcaster, newTestLogger(), 10*time.Millisecond)
	return worker, queue, store
}

// waitForStatus 轮询等待任务达到期望状态
func waitForStatus(t *testing.T, store *TaskStore, id string, want model.TaskStatus) *model.MediaTask {
	t.Helper()

	var task *model.MediaTask
	require.Eventually(t, func() bool {
		loaded, err := store.Get(id)
		if err != nil {
			return false
		}
		task = loaded
		return task.Status == want
	}, 3*time.Second, 10*time.Millisecond, "任务 %s 未达到状态 %s", id, want)
	return task
}

func TestQueueWorker_CompletesTask(t *testing.T) {
	processor := &fakeProcessor{
		fn: func(task *model.MediaTask, logSink func(string), progress func(int), cancelled func() bool) (model.JSONMap, error) {
			logSink("开始转录")
			progress(50)
			return model.JSONMap{"subtitle_file": "out.srt"}, nil
		},
	}
	broadcaster := &recordingBroadcaster{}
	worker, queue, store := newTestWorker(t, processor, broadcaster)

	task, _, err := queue.Add(string(model.TaskTypeYouTube), model.JSONMap{"url": "x"}, 5, "")
	require.NoError(t, err)

	worker.Start()
	defer worker.Stop(true)

	done := waitForStatus(t, store, task.ID, model.TaskStatusCompleted)
	assert.Equal(t, "out.srt", done.Result["subtitle_file"])
	assert.Equal(t, 100, done.Progress)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.FinishedAt)
	require.NotEmpty(t, done.ProgressLog)
	assert.Equal(t, "开始转录", done.ProgressLog[0].Message)

	transitions, logs := broadcaster.snapshot()
	assert.Contains(t, transitions, "queued->processing")
	assert.Contains(t, transitions, "processing->completed")
	assert.Contains(t, logs, "开始转录")
}

func TestQueueWorker_FailureIsIsolated(t *testing.T) {
	processor := &fakeProcessor{
		fn: func(task *model.MediaTask, logSink func(string), progress func(int), cancelled func() bool) (model.JSONMap, error) {
			if task.Payload["fail"] == true {
				return nil, errors.New("磁盘空间不足")
			}
			return model.JSONMap{"ok": true}, nil
		},
	}
	worker, queue, store := newTestWorker(t, processor, nil)

	bad, _, err := queue.Add(string(model.TaskTypeYouTube), model.JSONMap{"fail": true}, 1, "")
	require.NoError(t, err)
	good, _, err := queue.Add(string(model.TaskTypeYouTube), nil, 5, "")
	require.NoError(t, err)

	worker.Start()
	defer worker.Stop(true)

	failed := waitForStatus(t, store, bad.ID, model.TaskStatusFailed)
	assert.Equal(t, "磁盘空间不足", failed.ErrorMsg)
	assert.NotNil(t, failed.FinishedAt)

	// 失败被隔离，后续任务照常处理
	waitForStatus(t, store, good.ID, model.TaskStatusCompleted)
}

func TestQueueWorker_PanicRecovered(t *testing.T) {
	processor := &fakeProcessor{
		fn: func(task *model.MediaTask, logSink func(string), progress func(int), cancelled func() bool) (model.JSONMap, error) {
			if task.Payload["boom"] == true {
				panic("意外崩溃")
			}
			return model.JSONMap{}, nil
		},
	}
	worker, queue, store := newTestWorker(t, processor, nil)

	bad, _, err := queue.Add(string(model.TaskTypeYouTube), model.JSONMap{"boom": true}, 1, "")
	require.NoError(t, err)
	good, _, err := queue.Add(string(model.TaskTypeYouTube), nil, 5, "")
	require.NoError(t, err)

	worker.Start()
	defer worker.Stop(true)

	failed := waitForStatus(t, store, bad.ID, model.TaskStatusFailed)
	assert.Contains(t, failed.ErrorMsg, "意外崩溃")

	waitForStatus(t, store, good.ID, model.TaskStatusCompleted)
}

func TestQueueWorker_CancelledBeforeStartNeverRuns(t *testing.T) {
	blockRelease := make(chan struct{})
	processor := &fakeProcessor{
		fn: func(task *model.MediaTask, logSink func(string), progress func(int), cancelled func() bool) (model.JSONMap, error) {
			if task.Payload["block"] == true {
				<-blockRelease
			}
			return model.JSONMap{}, nil
		},
	}
	worker, queue, store := newTestWorker(t, processor, nil)

	blocker, _, err := queue.Add(string(model.TaskTypeYouTube), model.JSONMap{"block": true}, 1, "")
	require.NoError(t, err)
	victim, _, err := queue.Add(string(model.TaskTypeYouTube), nil, 5, "")
	require.NoError(t, err)

	worker.Start()
	defer worker.Stop(true)

	// 等第一个任务占住 worker，再取消排队中的第二个任务
	require.Eventually(t, func() bool {
		return worker.CurrentTaskID() == blocker.ID
	}, 3*time.Second, 10*time.Millisecond)

	ok, err := queue.Cancel(victim.ID)
	require.NoError(t, err)
	require.True(t, ok)

	close(blockRelease)
	waitForStatus(t, store, blocker.ID, model.TaskStatusCompleted)

	// 被取消的任务保持取消状态，处理器从未被调用
	cancelled, err := store.Get(victim.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, cancelled.Status)
	assert.False(t, processor.called(victim.ID))
}

func TestQueueWorker_RequestCancelCurrent(t *testing.T) {
	processor := &fakeProcessor{
		fn: func(task *model.MediaTask, logSink func(string), progress func(int), cancelled func() bool) (model.JSONMap, error) {
			for !cancelled() {
				time.Sleep(5 * time.Millisecond)
			}
			return nil, ErrProcessingCancelled
		},
	}
	worker, queue, store := newTestWorker(t, processor, nil)

	// 空闲时发信号应当无效
	assert.False(t, worker.RequestCancelCurrent())

	task, _, err := queue.Add(string(model.TaskTypeYouTube), nil, 5, "")
	require.NoError(t, err)

	worker.Start()
	defer worker.Stop(true)

	require.Eventually(t, func() bool {
		return worker.CurrentTaskID() == task.ID
	}, 3*time.Second, 10*time.Millisecond)
	assert.True(t, worker.RequestCancelCurrent())

	done := waitForStatus(t, store, task.ID, model.TaskStatusCancelled)
	assert.NotNil(t, done.FinishedAt)
	assert.Empty(t, done.Result)
	assert.Empty(t, done.ErrorMsg)
}

func TestQueueWorker_SingleTaskInFlight(t *testing.T) {
	var inFlight, maxInFlight int
	var mu sync.Mutex

	processor := &fakeProcessor{
		fn: func(task *model.MediaTask, logSink func(string), progress func(int), cancelled func() bool) (model.JSONMap, error) {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			return model.JSONMap{}, nil
		},
	}
	worker, queue, store := newTestWorker(t, processor, nil)

	var last *model.MediaTask
	for i := 0; i < 4; i++ {
		task, _, err := queue.Add(string(model.TaskTypeYouTube), nil, 5, "")
		require.NoError(t, err)
		last = task
	}

	worker.Start()
	defer worker.Stop(true)

	waitForStatus(t, store, last.ID, model.TaskStatusCompleted)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxInFlight)
	assert.Equal(t, 4, processor.callCount())
}

func TestQueueWorker_StopDrainsCurrentTask(t *testing.T) {
	started := make(chan struct{})
	processor := &fakeProcessor{
		fn: func(task *model.MediaTask, logSink func(string), progress func(int), cancelled func() bool) (model.JSONMap, error) {
			close(started)
			time.Sleep(50 * time.Millisecond)
			return model.JSONMap{"ok": true}, nil
		},
	}
	worker, queue, store := newTestWorker(t, processor, nil)

	task, _, err := queue.Add(string(model.TaskTypeYouTube), nil, 5, "")
	require.NoError(t, err)

	worker.Start()
	<-started

	// 优雅停止等待当前任务结束
	worker.Stop(true)

	loaded, err := store.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, loaded.Status)
	assert.Equal(t, "", worker.CurrentTaskID())
}
