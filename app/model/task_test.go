package model

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidTaskType(t *testing.T) {
	assert.True(t, ValidTaskType("youtube"))
	assert.True(t, ValidTaskType("upload_media"))
	assert.True(t, ValidTaskType("upload_subtitle"))
	assert.False(t, ValidTaskType("bittorrent"))
	assert.False(t, ValidTaskType(""))
}

func TestClampPriority(t *testing.T) {
	assert.Equal(t, 1, ClampPriority(-5))
	assert.Equal(t, 1, ClampPriority(0))
	assert.Equal(t, 5, ClampPriority(5))
	assert.Equal(t, 10, ClampPriority(10))
	assert.Equal(t, 10, ClampPriority(99))
}

func TestMediaTask_IsTerminal(t *testing.T) {
	terminal := []TaskStatus{TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled}
	for _, status := range terminal {
		task := &MediaTask{Status: status}
		assert.True(t, task.IsTerminal(), "状态 %s 应为终态", status)
	}

	active := []TaskStatus{TaskStatusQueued, TaskStatusProcessing}
	for _, status := range active {
		task := &MediaTask{Status: status}
		assert.False(t, task.IsTerminal(), "状态 %s 不应为终态", status)
	}
}

func TestMediaTask_AppendLogBounded(t *testing.T) {
	task := &MediaTask{}
	for i := 0; i < MaxProgressLogEntries+20; i++ {
		task.AppendLog(fmt.Sprintf("第 %d 条", i))
	}

	require.Len(t, task.ProgressLog, MaxProgressLogEntries)
	// 最旧的 20 条被丢弃
	assert.Equal(t, "第 20 条", task.ProgressLog[0].Message)
	assert.Equal(t, fmt.Sprintf("第 %d 条", MaxProgressLogEntries+19),
		task.ProgressLog[len(task.ProgressLog)-1].Message)
}

func TestMediaTask_SetProgressClamped(t *testing.T) {
	task := &MediaTask{}

	task.SetProgress(-10)
	assert.Equal(t, 0, task.Progress)
	task.SetProgress(42)
	assert.Equal(t, 42, task.Progress)
	task.SetProgress(150)
	assert.Equal(t, 100, task.Progress)
}

func TestJSONMap_ScanRejectsCorruptData(t *testing.T) {
	var m JSONMap
	assert.Error(t, m.Scan("{broken"))

	require.NoError(t, m.Scan(`{"url":"x"}`))
	assert.Equal(t, "x", m["url"])

	require.NoError(t, m.Scan(nil))
	assert.NotNil(t, m)
	assert.Empty(t, m)
}

func TestTaskLog_ValueNilIsEmptyArray(t *testing.T) {
	var l TaskLog
	value, err := l.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", value)
}
