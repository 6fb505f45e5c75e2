package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/ps2000-control/internal/config"
	"github.com/wfunc/ps2000-control/internal/hardware"
)

func startHub(t *testing.T) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	hub := NewHub(config.WebSocketConfig{
		PingInterval: time.Second,
		PongTimeout:  2 * time.Second,
		WriteTimeout: time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return hub, server, cancel
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubBroadcastsNotifications(t *testing.T) {
	hub, server, _ := startHub(t)
	c1 := dial(t, server)
	c2 := dial(t, server)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	var l hardware.Listener = hub
	l.Notify(hardware.SignalNewState, true, &hardware.DeviceState{SetVoltage: 12, Output: true})

	for _, conn := range []*websocket.Conn{c1, c2} {
		msg := readMessage(t, conn)
		assert.Equal(t, "newState", msg["signal"])
		assert.Equal(t, true, msg["success"])
		state := msg["msg"].(map[string]interface{})
		assert.Equal(t, 12.0, state["setVoltage"])
		assert.Equal(t, true, state["output"])
	}
}

func TestHubFailureNotification(t *testing.T) {
	hub, server, _ := startHub(t)
	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Notify(hardware.SignalNewState, false, map[string]interface{}{})

	msg := readMessage(t, conn)
	assert.Equal(t, false, msg["success"])
	assert.Empty(t, msg["msg"])
}

func TestClientPing(t *testing.T) {
	hub, server, _ := startHub(t)
	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"signal":"ping"}`)))
	msg := readMessage(t, conn)
	assert.Equal(t, "pong", msg["signal"])

	// 非法消息被忽略，连接保持
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"signal":"ping"}`)))
	assert.Equal(t, "pong", readMessage(t, conn)["signal"])
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub, server, _ := startHub(t)
	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub, server, cancel := startHub(t)
	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
