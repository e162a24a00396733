package handler

import (
	"errors"
	"net/http"
	"strconv"

	"media-scribe/app/model"
	"media-scribe/app/service"

	"github.com/gin-gonic/gin"
)

// TaskQueueHandler 任务队列处理器
type TaskQueueHandler struct {
	queue   *service.TaskQueue
	store   *service.TaskStore
	worker  *service.QueueWorker
	cleanup *service.CleanupService
}

// NewTaskQueueHandler 创建任务队列处理器
func NewTaskQueueHandler(queue *service.TaskQueue, store *service.TaskStore, worker *service.QueueWorker, cleanup *service.CleanupService) *TaskQueueHandler {
	return &TaskQueueHandler{
		queue:   queue,
		store:   store,
		worker:  worker,
		cleanup: cleanup,
	}
}

// 创建成功响应
func (h *TaskQueueHandler) success(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, ApiResponse{
		Code:    0,
		Message: message,
		Data:    data,
	})
}

// 创建错误响应
func (h *TaskQueueHandler) error(c *gin.Context, statusCode int, errorCode int, message string) {
	c.JSON(statusCode, ApiResponse{
		Code:    errorCode,
		Message: message,
		Data:    nil,
	})
}

// AddTaskRequest 新增任务请求结构
type AddTaskRequest struct {
	TaskType string        `json:"task_type" binding:"required"`
	Payload  model.JSONMap `json:"payload"`
	Priority int           `json:"priority"`
}

// AddTaskResponse 新增任务响应结构
type AddTaskResponse struct {
	TaskID        string `json:"task_id"`
	QueuePosition int    `json:"queue_position"`
}

// AddTask 新增任务到队列
func (h *TaskQueueHandler) AddTask(c *gin.Context) {
	var req AddTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.error(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	if req.Priority == 0 {
		req.Priority = 5
	}

	task, position, err := h.queue.Add(req.TaskType, req.Payload, req.Priority, c.ClientIP())
	if err != nil {
		if errors.Is(err, model.ErrInvalidTaskType) {
			h.error(c, http.StatusBadRequest, 400, "无效的任务类型: "+req.TaskType)
			return
		}
		h.error(c, http.StatusInternalServerError, 500, "添加任务失败")
		return
	}

	h.success(c, AddTaskResponse{
		TaskID:        task.ID,
		QueuePosition: position,
	}, "任务已加入队列")
}

// CancelTaskRequest 取消任务请求结构
type CancelTaskRequest struct {
	TaskID string `json:"task_id" binding:"required"`
}

// CancelTask 取消排队中的任务。处理中或已终结的任务无法通过此接口取消。
func (h *TaskQueueHandler) CancelTask(c *gin.Context) {
	var req CancelTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.error(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	ok, err := h.queue.Cancel(req.TaskID)
	if err != nil {
		if errors.Is(err, model.ErrTaskNotFound) {
			h.error(c, http.StatusNotFound, 404, "任务不存在")
			return
		}
		h.error(c, http.StatusInternalServerError, 500, "取消任务失败")
		return
	}

	if !ok {
		h.success(c, gin.H{"success": false}, "任务不在排队状态，无法取消")
		return
	}
	h.success(c, gin.H{"success": true}, "任务已取消")
}

// CancelCurrent 向当前处理中的任务发出协作取消信号
func (h *TaskQueueHandler) CancelCurrent(c *gin.Context) {
	if h.worker.RequestCancelCurrent() {
		h.success(c, gin.H{"success": true}, "已发出取消信号")
		return
	}
	h.success(c, gin.H{"success": false}, "当前没有处理中的任务")
}

// GetQueueStatus 获取队列状态概览
func (h *TaskQueueHandler) GetQueueStatus(c *gin.Context) {
	snapshot, err := h.queue.StatusSnapshot()
	if err != nil {
		h.error(c, http.StatusInternalServerError, 500, "获取队列状态失败")
		return
	}
	h.success(c, snapshot, "获取队列状态成功")
}

// GetTaskList 获取任务列表，支持状态过滤和数量限制
func (h *TaskQueueHandler) GetTaskList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	filter := service.TaskFilter{
		Status:   model.TaskStatus(c.Query("status")),
		TaskType: model.TaskType(c.Query("task_type")),
		Limit:    limit,
	}

	tasks, err := h.store.List(filter)
	if err != nil {
		h.error(c, http.StatusInternalServerError, 500, "获取任务列表失败")
		return
	}
	h.success(c, tasks, "获取任务列表成功")
}

// GetTask 获取单个任务详情
func (h *TaskQueueHandler) GetTask(c *gin.Context) {
	task, err := h.store.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, model.ErrTaskNotFound) {
			h.error(c, http.StatusNotFound, 404, "任务不存在")
			return
		}
		h.error(c, http.StatusInternalServerError, 500, "获取任务失败")
		return
	}
	h.success(c, task, "获取任务成功")
}

// GetQueuePosition 获取任务在队列中的位置（1 起算，不在队列中返回 -1）
func (h *TaskQueueHandler) GetQueuePosition(c *gin.Context) {
	position := h.queue.Position(c.Param("id"))
	h.success(c, gin.H{"position": position}, "获取队列位置成功")
}

// TriggerCleanup 手动触发一次过期任务清理
func (h *TaskQueueHandler) TriggerCleanup(c *gin.Context) {
	h.cleanup.Run()
	h.success(c, nil, "清理已执行")
}
