package service

import (
	"path/filepath"
	"testing"

	"media-scribe/app/config"
	"media-scribe/app/logger"
	"media-scribe/app/model"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// newTestLogger 测试用日志器，只输出错误
func newTestLogger() *logger.Logger {
	return logger.New(config.LogConfig{
		Level:  "error",
		Format: "text",
		Output: "stdout",
	})
}

// newTestStore 在临时目录中创建 sqlite 存储
func newTestStore(t *testing.T) *TaskStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.MediaTask{}))

	return NewTaskStore(db, newTestLogger())
}

// newTestQueue 创建空的测试队列
func newTestQueue(t *testing.T) (*TaskQueue, *TaskStore) {
	t.Helper()
	store := newTestStore(t)
	return NewTaskQueue(store, newTestLogger()), store
}
