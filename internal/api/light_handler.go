package api

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/ps2000-control/internal/hardware"
)

// LightHandler 指示灯接口
//
// Light 本身不加锁，gin 并发执行处理函数，由这里串行化。
type LightHandler struct {
	mu       sync.Mutex
	light    *hardware.Light
	notifier hardware.Listener
}

// NewLightHandler 创建指示灯接口
func NewLightHandler(light *hardware.Light, notifier hardware.Listener) *LightHandler {
	return &LightHandler{light: light, notifier: notifier}
}

// Connect 打开指示灯串口，推送 led_connect
func (h *LightHandler) Connect(c *gin.Context) {
	h.mu.Lock()
	msg, err := h.light.Connect()
	h.mu.Unlock()

	if err != nil {
		msg = err.Error()
	}
	h.notifier.Notify(hardware.SignalLedConnect, err == nil, msg)
	respond(c, err == nil, msg)
}

// Disconnect 关闭指示灯串口，推送 led_disconnect
func (h *LightHandler) Disconnect(c *gin.Context) {
	h.mu.Lock()
	err := h.light.Disconnect()
	h.mu.Unlock()

	msg := "Disconnected from device"
	if err != nil {
		msg = err.Error()
	}
	h.notifier.Notify(hardware.SignalLedDisconnect, err == nil, msg)
	respond(c, err == nil, msg)
}

// TogglePower 开/关
func (h *LightHandler) TogglePower(c *gin.Context) {
	h.apply(c, (*hardware.Light).TogglePower)
}

// TogglePulse 常亮/闪烁
func (h *LightHandler) TogglePulse(c *gin.Context) {
	h.apply(c, (*hardware.Light).TogglePulse)
}

// SetShape 设置脉冲形状 ?on=&off=（毫秒）
func (h *LightHandler) SetShape(c *gin.Context) {
	on, err := queryInt(c, "on")
	if err != nil {
		badRequest(c, err)
		return
	}
	off, err := queryInt(c, "off")
	if err != nil {
		badRequest(c, err)
		return
	}

	h.mu.Lock()
	err = h.light.SetPulseShape(on, off)
	h.mu.Unlock()
	if err != nil {
		badRequest(c, err)
		return
	}
	h.Get(c)
}

// Get 当前状态，推送 ledNewState
func (h *LightHandler) Get(c *gin.Context) {
	h.mu.Lock()
	state := h.light.State()
	h.mu.Unlock()

	h.notifier.Notify(hardware.SignalLedNewState, true, state)
	respond(c, true, state)
}

// apply 执行切换；本地状态总会翻转，写入失败时 success=false
func (h *LightHandler) apply(c *gin.Context, op func(*hardware.Light) error) {
	h.mu.Lock()
	err := op(h.light)
	state := h.light.State()
	h.mu.Unlock()

	h.notifier.Notify(hardware.SignalLedNewState, err == nil, state)
	if err != nil {
		respond(c, false, err.Error())
		return
	}
	respond(c, true, state)
}
