package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"media-scribe/app/config"
	"media-scribe/app/model"
	"media-scribe/app/service"
	"media-scribe/app/utils/namehelper"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 上传接口接受的字幕扩展名
var subtitleExtensions = map[string]struct{}{
	".srt": {}, ".vtt": {}, ".ass": {},
}

// UploadHandler 文件上传处理器：保存上传文件并入队对应的处理任务
type UploadHandler struct {
	config *config.Config
	queue  *service.TaskQueue
}

// NewUploadHandler 创建上传处理器
func NewUploadHandler(cfg *config.Config, queue *service.TaskQueue) *UploadHandler {
	return &UploadHandler{
		config: cfg,
		queue:  queue,
	}
}

// 创建成功响应
func (h *UploadHandler) success(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, ApiResponse{
		Code:    0,
		Message: message,
		Data:    data,
	})
}

// 创建错误响应
func (h *UploadHandler) error(c *gin.Context, statusCode int, errorCode int, message string) {
	c.JSON(statusCode, ApiResponse{
		Code:    errorCode,
		Message: message,
		Data:    nil,
	})
}

// saveUpload 把上传的文件保存到 uploads 目录，文件名前加随机前缀避免冲突
func (h *UploadHandler) saveUpload(c *gin.Context) (string, string, error) {
	file, err := c.FormFile("file")
	if err != nil {
		return "", "", err
	}

	uploadDir := filepath.Join(h.config.Server.DataDir, "uploads")
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return "", "", err
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	base := strings.TrimSuffix(filepath.Base(file.Filename), filepath.Ext(file.Filename))
	safeName := namehelper.SanitizeFilename(base, namehelper.DefaultMaxFilenameLength)
	destPath := filepath.Join(uploadDir, uuid.NewString()[:8]+"_"+safeName+ext)

	if err := c.SaveUploadedFile(file, destPath); err != nil {
		return "", "", err
	}
	return destPath, safeName, nil
}

// parsePriority 从表单中读取优先级，缺省为 5
func parsePriority(c *gin.Context) int {
	priority, err := strconv.Atoi(c.DefaultPostForm("priority", "5"))
	if err != nil {
		return 5
	}
	return priority
}

// UploadMedia 上传音视频文件并入队转录任务
func (h *UploadHandler) UploadMedia(c *gin.Context) {
	destPath, safeName, err := h.saveUpload(c)
	if err != nil {
		h.error(c, http.StatusBadRequest, 400, "保存上传文件失败: "+err.Error())
		return
	}

	title := c.DefaultPostForm("title", safeName)
	payload := model.JSONMap{
		"audio_file": destPath,
		"title":      title,
	}

	task, position, err := h.queue.Add(string(model.TaskTypeUploadMedia), payload, parsePriority(c), c.ClientIP())
	if err != nil {
		h.error(c, http.StatusInternalServerError, 500, "添加任务失败")
		return
	}

	h.success(c, AddTaskResponse{
		TaskID:        task.ID,
		QueuePosition: position,
	}, "媒体文件已上传并加入队列")
}

// UploadSubtitle 上传字幕文件并入队摘要任务
func (h *UploadHandler) UploadSubtitle(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		h.error(c, http.StatusBadRequest, 400, "请求中缺少文件")
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if _, ok := subtitleExtensions[ext]; !ok {
		h.error(c, http.StatusBadRequest, 400, "不支持的字幕格式: "+ext)
		return
	}

	destPath, safeName, err := h.saveUpload(c)
	if err != nil {
		h.error(c, http.StatusBadRequest, 400, "保存上传文件失败: "+err.Error())
		return
	}

	title := c.DefaultPostForm("title", safeName)
	payload := model.JSONMap{
		"subtitle_file": destPath,
		"title":         title,
	}

	task, position, err := h.queue.Add(string(model.TaskTypeUploadSubtitle), payload, parsePriority(c), c.ClientIP())
	if err != nil {
		h.error(c, http.StatusInternalServerError, 500, "添加任务失败")
		return
	}

	h.success(c, AddTaskResponse{
		TaskID:        task.ID,
		QueuePosition: position,
	}, "字幕文件已上传并加入队列")
}
