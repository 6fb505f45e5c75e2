package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wfunc/ps2000-control/internal/config"
	"github.com/wfunc/ps2000-control/internal/errors"
	"github.com/wfunc/ps2000-control/internal/hardware"
	"github.com/wfunc/ps2000-control/internal/logger"
	"go.uber.org/zap"
)

// Message 推送消息 {"signal", "success", "msg"}
type Message struct {
	Signal    hardware.Signal `json:"signal"`
	Success   bool            `json:"success"`
	Msg       interface{}     `json:"msg"`
	Timestamp int64           `json:"timestamp"`
}

// 客户端可发送的信号
const (
	SignalPing hardware.Signal = "ping"
	SignalPong hardware.Signal = "pong"
)

// Hub 推送连接管理中心，实现 hardware.Listener
type Hub struct {
	clients   map[string]*Client
	clientsMu sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	upgrader websocket.Upgrader
	cfg      config.WebSocketConfig
	logger   *zap.Logger
}

// NewHub 创建Hub
func NewHub(cfg config.WebSocketConfig) *Hub {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongTimeout {
		cfg.PingInterval = cfg.PongTimeout * 9 / 10
	}

	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		cfg:    cfg,
		logger: logger.WithModule("websocket"),
	}
}

// Run 运行Hub，ctx 取消后关闭所有客户端
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return

		case client := <-h.register:
			h.clientsMu.Lock()
			h.clients[client.ID] = client
			h.clientsMu.Unlock()
			h.logger.Info("WebSocket客户端连接", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case data := <-h.broadcast:
			h.clientsMu.RLock()
			for _, client := range h.clients {
				select {
				case client.send <- data:
				default:
					h.logger.Warn("客户端发送缓冲区满", zap.String("client_id", client.ID))
				}
			}
			h.clientsMu.RUnlock()
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.send)
		h.logger.Info("WebSocket客户端断开", zap.String("client_id", client.ID))
	}
}

func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	for id, client := range h.clients {
		delete(h.clients, id)
		close(client.send)
	}
}

// Notify 实现 hardware.Listener：把状态广播给所有客户端
//
// 不阻塞调用方；广播队列满时丢弃消息。
func (h *Hub) Notify(signal hardware.Signal, success bool, msg interface{}) {
	if err := h.Broadcast(&Message{Signal: signal, Success: success, Msg: msg}); err != nil {
		h.logger.Warn("广播消息失败", zap.String("signal", string(signal)), zap.Error(err))
	}
}

// Broadcast 广播消息
func (h *Hub) Broadcast(msg *Message) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrMessageFormat, string(msg.Signal))
	}
	logger.LogWebSocketMessage("send", string(msg.Signal), msg.Msg)

	select {
	case h.broadcast <- data:
		return nil
	default:
		return errors.New(errors.ErrWebSocketSend, "广播队列已满")
	}
}

// ServeHTTP 升级为WebSocket连接并启动读写协程
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket升级失败", zap.Error(err))
		return
	}

	client := newClient(h, conn)
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount 在线客户端数量
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}
