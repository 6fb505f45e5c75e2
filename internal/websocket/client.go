package websocket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/ps2000-control/internal/errors"
	"github.com/wfunc/ps2000-control/internal/logger"
	"go.uber.org/zap"
)

// 最大消息大小
const maxMessageSize = 4 * 1024

// Client WebSocket客户端
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:   uuid.New().String(),
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 64),
	}
}

// readPump 读取客户端消息，连接断开后注销
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	pongWait := c.hub.cfg.PongTimeout
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket读取错误", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		c.handleMessage(data)
	}
}

// writePump 发送队列中的消息并定期 ping
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := c.hub.cfg.WriteTimeout
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// 每条推送单独成帧，前端按 JSON 解析
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 客户端只需要应用层 ping，其余消息忽略
func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.hub.logger.Warn("解析WebSocket消息失败",
			zap.String("client_id", c.ID),
			zap.Error(errors.Wrap(err, errors.ErrMessageFormat)))
		return
	}
	logger.LogWebSocketMessage("receive", string(msg.Signal), msg.Msg)

	switch msg.Signal {
	case SignalPing:
		reply, _ := json.Marshal(&Message{Signal: SignalPong, Success: true, Timestamp: time.Now().Unix()})
		if err := c.hub.sendTo(c, reply); err != nil {
			c.hub.logger.Debug("pong发送失败", zap.String("client_id", c.ID), zap.Error(err))
		}
	default:
		c.hub.logger.Debug("忽略客户端消息",
			zap.String("client_id", c.ID),
			zap.String("signal", string(msg.Signal)))
	}
}

// sendTo 向仍在线的单个客户端发送
func (h *Hub) sendTo(c *Client, data []byte) error {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	if _, ok := h.clients[c.ID]; !ok {
		return errors.New(errors.ErrWebSocketClosed, c.ID)
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errors.New(errors.ErrWebSocketSend, "发送缓冲区已满")
	}
}
