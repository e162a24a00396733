package service

import (
	"testing"
	"time"

	"media-scribe/app/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueue_AddInvalidType(t *testing.T) {
	queue, _ := newTestQueue(t)

	_, _, err := queue.Add("bittorrent", nil, 5, "")
	assert.ErrorIs(t, err, model.ErrInvalidTaskType)
	assert.Equal(t, 0, queue.Len())
}

func TestTaskQueue_PriorityOrdering(t *testing.T) {
	queue, _ := newTestQueue(t)

	// B 优先级 5 先入队，A 优先级 1 后入队，C 优先级 5 最后入队
	taskB, _, err := queue.Add(string(model.TaskTypeYouTube), model.JSONMap{"url": "b"}, 5, "")
	require.NoError(t, err)
	taskA, _, err := queue.Add(string(model.TaskTypeYouTube), model.JSONMap{"url": "a"}, 1, "")
	require.NoError(t, err)
	taskC, _, err := queue.Add(string(model.TaskTypeYouTube), model.JSONMap{"url": "c"}, 5, "")
	require.NoError(t, err)

	// 取出顺序应为 A（优先级最高），然后 B、C 按创建先后
	for _, want := range []string{taskA.ID, taskB.ID, taskC.ID} {
		next, err := queue.Next()
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, want, next.ID)
		assert.Equal(t, model.TaskStatusProcessing, next.Status)
		assert.NotNil(t, next.StartedAt)
	}

	next, err := queue.Next()
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestTaskQueue_PriorityClamped(t *testing.T) {
	queue, _ := newTestQueue(t)

	task, _, err := queue.Add(string(model.TaskTypeYouTube), nil, 99, "")
	require.NoError(t, err)
	assert.Equal(t, 10, task.Priority)

	task, _, err = queue.Add(string(model.TaskTypeYouTube), nil, -3, "")
	require.NoError(t, err)
	assert.Equal(t, 1, task.Priority)
}

func TestTaskQueue_Position(t *testing.T) {
	queue, _ := newTestQueue(t)

	first, pos1, err := queue.Add(string(model.TaskTypeYouTube), nil, 5, "")
	require.NoError(t, err)
	assert.Equal(t, 1, pos1)

	second, pos2, err := queue.Add(string(model.TaskTypeYouTube), nil, 5, "")
	require.NoError(t, err)
	assert.Equal(t, 2, pos2)

	// 高优先级任务插到队首
	urgent, posU, err := queue.Add(string(model.TaskTypeYouTube), nil, 1, "")
	require.NoError(t, err)
	assert.Equal(t, 1, posU)

	assert.Equal(t, 1, queue.Position(urgent.ID))
	assert.Equal(t, 2, queue.Position(first.ID))
	assert.Equal(t, 3, queue.Position(second.ID))
	assert.Equal(t, -1, queue.Position("missing"))
}

func TestTaskQueue_CancelOnlyQueued(t *testing.T) {
	queue, store := newTestQueue(t)

	task, _, err := queue.Add(string(model.TaskTypeUploadMedia), nil, 5, "")
	require.NoError(t, err)

	ok, err := queue.Cancel(task.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	loaded, err := store.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, loaded.Status)
	assert.NotNil(t, loaded.FinishedAt)
	assert.Equal(t, -1, queue.Position(task.ID))

	// 已取消的任务不会被取出
	next, err := queue.Next()
	require.NoError(t, err)
	assert.Nil(t, next)

	// 取消是终态，重复取消返回 false
	ok, err = queue.Cancel(task.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTaskQueue_CancelProcessingRejected(t *testing.T) {
	queue, _ := newTestQueue(t)

	task, _, err := queue.Add(string(model.TaskTypeYouTube), nil, 5, "")
	require.NoError(t, err)

	next, err := queue.Next()
	require.NoError(t, err)
	require.Equal(t, task.ID, next.ID)

	ok, err := queue.Cancel(task.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTaskQueue_CancelNotFound(t *testing.T) {
	queue, _ := newTestQueue(t)

	_, err := queue.Cancel("missing")
	assert.ErrorIs(t, err, model.ErrTaskNotFound)
}

func TestTaskQueue_LoadRebuildsOrder(t *testing.T) {
	queue, store := newTestQueue(t)

	low, _, err := queue.Add(string(model.TaskTypeYouTube), nil, 9, "")
	require.NoError(t, err)
	high, _, err := queue.Add(string(model.TaskTypeYouTube), nil, 2, "")
	require.NoError(t, err)

	// 模拟重启：用同一个存储建新队列
	rebuilt := NewTaskQueue(store, newTestLogger())
	require.NoError(t, rebuilt.Load())
	assert.Equal(t, 2, rebuilt.Len())

	next, err := rebuilt.Next()
	require.NoError(t, err)
	assert.Equal(t, high.ID, next.ID)
	next, err = rebuilt.Next()
	require.NoError(t, err)
	assert.Equal(t, low.ID, next.ID)
}

func TestTaskQueue_StatusSnapshot(t *testing.T) {
	queue, store := newTestQueue(t)

	_, _, err := queue.Add(string(model.TaskTypeYouTube), nil, 5, "")
	require.NoError(t, err)
	_, _, err = queue.Add(string(model.TaskTypeYouTube), nil, 5, "")
	require.NoError(t, err)

	current, err := queue.Next()
	require.NoError(t, err)
	require.NotNil(t, current)

	done := time.Now()
	require.NoError(t, store.Put(&model.MediaTask{
		ID: "old", TaskType: model.TaskTypeYouTube, Status: model.TaskStatusCompleted,
		Priority: 5, CreatedAt: done, FinishedAt: &done,
	}))

	snapshot, err := queue.StatusSnapshot()
	require.NoError(t, err)
	assert.EqualValues(t, 4, snapshot.TotalTasks)
	assert.EqualValues(t, 1, snapshot.Queued)
	assert.EqualValues(t, 1, snapshot.Processing)
	assert.EqualValues(t, 1, snapshot.Completed)
	assert.Equal(t, 1, snapshot.QueueLength)
	require.NotNil(t, snapshot.CurrentTask)
	assert.Equal(t, current.ID, snapshot.CurrentTask.ID)
}
