package filewatcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"media-scribe/app/config"
	"media-scribe/app/logger"
	"media-scribe/app/model"
	"media-scribe/app/service"

	"github.com/fsnotify/fsnotify"
)

// 收件目录中会被自动入队的媒体文件扩展名
var mediaExtensions = map[string]struct{}{
	".mp3": {}, ".m4a": {}, ".wav": {}, ".flac": {}, ".ogg": {}, ".aac": {},
	".mp4": {}, ".mkv": {}, ".webm": {}, ".mov": {}, ".avi": {},
}

// 自动入队任务使用的默认优先级
const inboxTaskPriority = 5

// InboxWatcher 监控收件目录，新出现的媒体文件自动作为 upload_media 任务入队。
// 文件大小稳定后才入队，避免拿到还在拷贝中的半个文件。
type InboxWatcher struct {
	config   config.InboxConfig
	queue    *service.TaskQueue
	logger   *logger.Logger
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	wg       sync.WaitGroup
	watching bool
	mu       sync.Mutex
}

// NewInboxWatcher 创建收件目录监控器。未启用时返回 nil。
func NewInboxWatcher(cfg config.InboxConfig, queue *service.TaskQueue, log *logger.Logger) (*InboxWatcher, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	return &InboxWatcher{
		config:  cfg,
		queue:   queue,
		logger:  log,
		watcher: watcher,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start 启动监控
func (w *InboxWatcher) Start() error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watching {
		return fmt.Errorf("收件目录监控器已经在运行")
	}

	if err := os.MkdirAll(w.config.Dir, 0755); err != nil {
		return fmt.Errorf("创建收件目录失败: %w", err)
	}
	if err := w.watcher.Add(w.config.Dir); err != nil {
		return fmt.Errorf("添加监控目录失败: %w", err)
	}

	w.watching = true
	w.wg.Add(1)
	go w.watchLoop()

	w.logger.Infof("收件目录监控已启动: %s", w.config.Dir)
	return nil
}

// Stop 停止监控
func (w *InboxWatcher) Stop() error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.watching {
		return nil
	}

	close(w.stopCh)
	_ = w.watcher.Close()
	w.wg.Wait()
	w.watching = false

	w.logger.Info("收件目录监控已停止")
	return nil
}

// watchLoop 监控事件循环
func (w *InboxWatcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename) {
				w.handleNewFile(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("收件目录监控错误: %v", err)

		case <-w.stopCh:
			return
		}
	}
}

// handleNewFile 处理新出现的文件：等待写入稳定后入队
func (w *InboxWatcher) handleNewFile(path string) {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := mediaExtensions[ext]; !ok {
		return
	}

	go func() {
		if !w.waitForStable(path) {
			return
		}

		payload := model.JSONMap{
			"audio_file": path,
			"title":      strings.TrimSuffix(filepath.Base(path), ext),
			"source":     "inbox",
		}
		task, position, err := w.queue.Add(string(model.TaskTypeUploadMedia), payload, inboxTaskPriority, "inbox")
		if err != nil {
			w.logger.Errorf("收件文件入队失败: %s, 错误: %v", path, err)
			return
		}
		w.logger.Infof("收件文件已入队: %s, TaskID=%s, 位置=%d", filepath.Base(path), task.ID, position)
	}()
}

// waitForStable 等待文件大小在连续两次检查之间不再变化
func (w *InboxWatcher) waitForStable(path string) bool {
	var lastSize int64 = -1
	for i := 0; i < 60; i++ {
		select {
		case <-w.stopCh:
			return false
		case <-time.After(time.Second):
		}

		info, err := os.Stat(path)
		if err != nil {
			// 文件被移走或删除
			return false
		}
		if info.Size() == lastSize && info.Size() > 0 {
			return true
		}
		lastSize = info.Size()
	}

	w.logger.Warnf("收件文件长时间未写入完成，放弃入队: %s", path)
	return false
}
