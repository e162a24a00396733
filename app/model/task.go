package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"     // 排队中
	TaskStatusProcessing TaskStatus = "processing" // 处理中
	TaskStatusCompleted  TaskStatus = "completed"  // 已完成
	TaskStatusFailed     TaskStatus = "failed"     // 失败
	TaskStatusCancelled  TaskStatus = "cancelled"  // 已取消
)

// TaskType 任务类型
type TaskType string

const (
	TaskTypeYouTube        TaskType = "youtube"         // YouTube 链接
	TaskTypeUploadMedia    TaskType = "upload_media"    // 上传的音视频文件
	TaskTypeUploadSubtitle TaskType = "upload_subtitle" // 上传的字幕文件
)

// ValidTaskType 检查任务类型是否被识别
func ValidTaskType(t string) bool {
	switch TaskType(t) {
	case TaskTypeYouTube, TaskTypeUploadMedia, TaskTypeUploadSubtitle:
		return true
	}
	return false
}

// JSONMap 以 JSON 文本形式存储在数据库中的通用键值映射
type JSONMap map[string]any

// Value 实现 driver.Valuer 接口
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner 接口
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("无法将 %T 扫描为 JSONMap", value)
	}

	if len(data) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// TaskLogEntry 处理过程中的一条日志
type TaskLogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// MaxProgressLogEntries 单个任务保留的日志上限，超出后丢弃最旧的条目
const MaxProgressLogEntries = 500

// TaskLog 任务日志序列，以 JSON 文本形式存储
type TaskLog []TaskLogEntry

// Value 实现 driver.Valuer 接口
func (l TaskLog) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner 接口
func (l *TaskLog) Scan(value any) error {
	if value == nil {
		*l = TaskLog{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("无法将 %T 扫描为 TaskLog", value)
	}

	if len(data) == 0 {
		*l = TaskLog{}
		return nil
	}
	return json.Unmarshal(data, l)
}

// MediaTask 媒体处理任务模型
type MediaTask struct {
	ID          string     `json:"task_id" gorm:"primaryKey;size:36"`
	TaskType    TaskType   `json:"task_type" gorm:"size:32;not null;index"`
	Payload     JSONMap    `json:"payload" gorm:"type:text"`                        // 类型相关参数，队列本身不解释其内容
	Priority    int        `json:"priority" gorm:"not null;index;comment:数值越小越先执行"` // 1-10
	Status      TaskStatus `json:"status" gorm:"size:20;default:'queued';index"`
	CreatedAt   time.Time  `json:"created_at" gorm:"index"`
	StartedAt   *time.Time `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	Result      JSONMap    `json:"result" gorm:"type:text"`
	ErrorMsg    string     `json:"error_message" gorm:"type:text"`
	Progress    int        `json:"progress" gorm:"default:0"` // 0-100
	ProgressLog TaskLog    `json:"progress_log" gorm:"type:text"`
	UserIP      string     `json:"user_ip" gorm:"size:64"`
}

// TableName 指定表名
func (MediaTask) TableName() string {
	return "media_tasks"
}

// IsTerminal 判断任务是否已处于终态
func (t *MediaTask) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// AppendLog 追加一条处理日志，超出上限时丢弃最旧的条目
func (t *MediaTask) AppendLog(message string) {
	t.ProgressLog = append(t.ProgressLog, TaskLogEntry{
		Time:    time.Now(),
		Message: message,
	})
	if len(t.ProgressLog) > MaxProgressLogEntries {
		t.ProgressLog = t.ProgressLog[len(t.ProgressLog)-MaxProgressLogEntries:]
	}
}

// SetProgress 更新进度百分比，限制在 0-100 之间
func (t *MediaTask) SetProgress(progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	t.Progress = progress
}

// ClampPriority 将优先级限制在 1-10 之间，数值越小越先执行
func ClampPriority(priority int) int {
	if priority < 1 {
		return 1
	}
	if priority > 10 {
		return 10
	}
	return priority
}

// ErrInvalidTaskType 任务类型不被识别
var ErrInvalidTaskType = errors.New("无效的任务类型")

// ErrTaskNotFound 任务不存在
var ErrTaskNotFound = errors.New("任务不存在")
