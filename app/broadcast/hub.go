package broadcast

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"media-scribe/app/logger"
	"media-scribe/app/model"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// 事件类型
const (
	EventTaskUpdate = "task_update" // 任务状态迁移
	EventTaskLog    = "task_log"    // 任务处理日志
)

// Event 推送给客户端的事件
type Event struct {
	Event     string           `json:"event"`
	TaskID    string           `json:"task_id"`
	OldStatus model.TaskStatus `json:"old_status,omitempty"`
	NewStatus model.TaskStatus `json:"new_status,omitempty"`
	Log       string           `json:"log,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 服务部署在内网或反向代理之后，不校验来源
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub WebSocket 推送中心，把任务状态和日志实时广播给所有连接的客户端。
// 实现 service.Broadcaster 接口。
type Hub struct {
	log *logger.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}

	broadcast chan []byte
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewHub 创建推送中心
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:       log,
		clients:   make(map[*client]struct{}),
		broadcast: make(chan []byte, 256),
		stopCh:    make(chan struct{}),
	}
}

// Start 启动广播循环
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.run()
}

// Stop 关闭所有连接并停止广播循环
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
	})
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
	}
	h.clients = make(map[*client]struct{})
}

// NotifyTransition 广播任务状态迁移事件
func (h *Hub) NotifyTransition(taskID string, oldStatus, newStatus model.TaskStatus) {
	h.emit(Event{
		Event:     EventTaskUpdate,
		TaskID:    taskID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Timestamp: time.Now(),
	})
}

// NotifyLog 广播任务日志事件
func (h *Hub) NotifyLog(taskID string, line string) {
	h.emit(Event{
		Event:     EventTaskLog,
		TaskID:    taskID,
		Log:       line,
		Timestamp: time.Now(),
	})
}

// emit 序列化事件并放入广播通道，通道满时丢弃而不阻塞工作循环
func (h *Hub) emit(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Errorf("序列化推送事件失败: %v", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("推送通道已满，事件被丢弃")
	}
}

// run 广播循环，把事件发给所有客户端
func (h *Hub) run() {
	defer h.wg.Done()

	for {
		select {
		case <-h.stopCh:
			return
		case data := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					// 客户端写缓冲已满，视为失联
					go h.removeClient(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ServeWS 处理 WebSocket 升级请求
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Errorf("WebSocket 升级失败: %v", err)
		return
	}

	cl := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}

	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()

	go cl.writePump()
	go cl.readPump(func() { h.removeClient(cl) })
}

// ClientCount 当前连接的客户端数量
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// removeClient 移除并关闭客户端连接
func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	h.mu.Unlock()

	if ok {
		c.close()
	}
}
