package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"media-scribe/app/config"
	"media-scribe/app/logger"
	"media-scribe/app/model"
	"media-scribe/app/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type handlerEnv struct {
	router *gin.Engine
	queue  *service.TaskQueue
	store  *service.TaskStore
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.MediaTask{}))

	log := logger.New(config.LogConfig{Level: "error", Format: "text", Output: "stdout"})
	store := service.NewTaskStore(db, log)
	queue := service.NewTaskQueue(store, log)
	worker := service.NewQueueWorker(queue, store, nil, nil, log, time.Second)
	cleanup := service.NewCleanupService(store, config.QueueConfig{
		CleanupCron:     "0 30 3 * * *",
		RetainCompleted: 7,
		RetainFailed:    30,
	}, log)

	h := NewTaskQueueHandler(queue, store, worker, cleanup)

	router := gin.New()
	api := router.Group("/api/queue")
	{
		api.POST("/add", h.AddTask)
		api.POST("/cancel", h.CancelTask)
		api.GET("/status", h.GetQueueStatus)
		api.GET("/list", h.GetTaskList)
		api.GET("/task/:id", h.GetTask)
		api.GET("/position/:id", h.GetQueuePosition)
	}

	return &handlerEnv{router: router, queue: queue, store: store}
}

func (e *handlerEnv) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	e.router.ServeHTTP(recorder, req)
	return recorder
}

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder) ApiResponse {
	t.Helper()
	var resp ApiResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	return resp
}

func TestAddTask(t *testing.T) {
	env := newHandlerEnv(t)

	recorder := env.request(t, http.MethodPost, "/api/queue/add", gin.H{
		"task_type": "youtube",
		"payload":   gin.H{"url": "https://youtu.be/abc12345678"},
		"priority":  3,
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	resp := decodeResponse(t, recorder)
	assert.Equal(t, 0, resp.Code)

	data := resp.Data.(map[string]any)
	taskID := data["task_id"].(string)
	assert.NotEmpty(t, taskID)
	assert.EqualValues(t, 1, data["queue_position"])

	task, err := env.store.Get(taskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusQueued, task.Status)
	assert.Equal(t, 3, task.Priority)
}

func TestAddTask_InvalidType(t *testing.T) {
	env := newHandlerEnv(t)

	recorder := env.request(t, http.MethodPost, "/api/queue/add", gin.H{
		"task_type": "bittorrent",
	})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestAddTask_MissingType(t *testing.T) {
	env := newHandlerEnv(t)

	recorder := env.request(t, http.MethodPost, "/api/queue/add", gin.H{
		"payload": gin.H{"url": "x"},
	})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestCancelTask(t *testing.T) {
	env := newHandlerEnv(t)

	task, _, err := env.queue.Add("youtube", nil, 5, "")
	require.NoError(t, err)

	recorder := env.request(t, http.MethodPost, "/api/queue/cancel", gin.H{"task_id": task.ID})
	require.Equal(t, http.StatusOK, recorder.Code)
	resp := decodeResponse(t, recorder)
	assert.Equal(t, true, resp.Data.(map[string]any)["success"])

	loaded, err := env.store.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, loaded.Status)

	// 终态任务再次取消返回 success=false
	recorder = env.request(t, http.MethodPost, "/api/queue/cancel", gin.H{"task_id": task.ID})
	require.Equal(t, http.StatusOK, recorder.Code)
	resp = decodeResponse(t, recorder)
	assert.Equal(t, false, resp.Data.(map[string]any)["success"])
}

func TestCancelTask_NotFound(t *testing.T) {
	env := newHandlerEnv(t)

	recorder := env.request(t, http.MethodPost, "/api/queue/cancel", gin.H{"task_id": "missing"})
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestGetQueueStatus(t *testing.T) {
	env := newHandlerEnv(t)

	_, _, err := env.queue.Add("youtube", nil, 5, "")
	require.NoError(t, err)
	_, _, err = env.queue.Add("upload_media", nil, 5, "")
	require.NoError(t, err)

	recorder := env.request(t, http.MethodGet, "/api/queue/status", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	resp := decodeResponse(t, recorder)
	data := resp.Data.(map[string]any)
	assert.EqualValues(t, 2, data["queued"])
	assert.EqualValues(t, 2, data["queue_length"])
	assert.EqualValues(t, 0, data["processing"])
}

func TestGetTaskAndPosition(t *testing.T) {
	env := newHandlerEnv(t)

	task, _, err := env.queue.Add("youtube", model.JSONMap{"url": "x"}, 5, "")
	require.NoError(t, err)

	recorder := env.request(t, http.MethodGet, "/api/queue/task/"+task.ID, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	resp := decodeResponse(t, recorder)
	assert.Equal(t, task.ID, resp.Data.(map[string]any)["task_id"])

	recorder = env.request(t, http.MethodGet, "/api/queue/task/missing", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	recorder = env.request(t, http.MethodGet, "/api/queue/position/"+task.ID, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	resp = decodeResponse(t, recorder)
	assert.EqualValues(t, 1, resp.Data.(map[string]any)["position"])
}

func TestGetTaskList_Filter(t *testing.T) {
	env := newHandlerEnv(t)

	_, _, err := env.queue.Add("youtube", nil, 5, "")
	require.NoError(t, err)
	_, _, err = env.queue.Add("upload_media", nil, 5, "")
	require.NoError(t, err)

	recorder := env.request(t, http.MethodGet, "/api/queue/list?task_type=youtube", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	resp := decodeResponse(t, recorder)
	assert.Len(t, resp.Data.([]any), 1)
}
