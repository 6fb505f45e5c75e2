package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/ps2000-control/internal/hardware"
	"github.com/wfunc/ps2000-control/internal/logger"
	"go.uber.org/zap"
)

// PowerHandler 电源接口
type PowerHandler struct {
	dispatcher   *hardware.Dispatcher
	notifier     hardware.Listener
	refreshDelay time.Duration
	log          *zap.Logger
}

// NewPowerHandler 创建电源接口
func NewPowerHandler(d *hardware.Dispatcher, notifier hardware.Listener, refreshDelay time.Duration) *PowerHandler {
	return &PowerHandler{
		dispatcher:   d,
		notifier:     notifier,
		refreshDelay: refreshDelay,
		log:          logger.WithModule("api"),
	}
}

// Connect 建立连接，推送 connect
func (h *PowerHandler) Connect(c *gin.Context) {
	res := h.dispatcher.Dispatch(hardware.ConnectCommand())
	h.notifier.Notify(hardware.SignalConnect, res.Success, res.Message)
	respondResult(c, res)
}

// Disconnect 断开连接，推送 disconnect
func (h *PowerHandler) Disconnect(c *gin.Context) {
	res := h.dispatcher.Dispatch(hardware.DisconnectCommand())
	h.notifier.Notify(hardware.SignalDisconnect, res.Success, res.Message)
	respondResult(c, res)
}

// Power 打开/关闭输出 ?state=on|off
func (h *PowerHandler) Power(c *gin.Context) {
	on, err := queryBool(c, "state")
	if err != nil {
		badRequest(c, err)
		return
	}
	h.writeAndRefresh(c, hardware.SetPowerCommand(on))
}

// SetVoltage 设置电压 ?val=
func (h *PowerHandler) SetVoltage(c *gin.Context) {
	v, err := queryFloat(c, "val")
	if err != nil {
		badRequest(c, err)
		return
	}
	h.writeAndRefresh(c, hardware.SetVoltageCommand(v))
}

// SetCurrent 设置电流 ?val=
func (h *PowerHandler) SetCurrent(c *gin.Context) {
	i, err := queryFloat(c, "val")
	if err != nil {
		badRequest(c, err)
		return
	}
	h.writeAndRefresh(c, hardware.SetCurrentCommand(i))
}

// Get 查询状态，推送 newState
func (h *PowerHandler) Get(c *gin.Context) {
	res := h.dispatcher.Dispatch(hardware.QueryCommand())
	h.notifier.Notify(hardware.SignalNewState, res.Success, res.Payload())
	respondResult(c, res)
}

// writeAndRefresh 写入成功后稍等片刻重新查询，推送并返回新状态
func (h *PowerHandler) writeAndRefresh(c *gin.Context, cmd hardware.Command) {
	res := h.dispatcher.Dispatch(cmd)
	if !res.Success {
		respondResult(c, res)
		return
	}

	h.log.Info("电源设置成功", zap.Stringer("command", cmd.Kind), zap.String("msg", res.Message))
	switch cmd.Kind {
	case hardware.CmdSetVoltage:
		h.notifier.Notify(hardware.SignalNewVoltage, true, gin.H{"voltage": cmd.Value})
	case hardware.CmdSetCurrent:
		h.notifier.Notify(hardware.SignalNewCurrent, true, gin.H{"current": cmd.Value})
	}

	select {
	case <-time.After(h.refreshDelay):
	case <-c.Request.Context().Done():
		return
	}

	state := h.dispatcher.Dispatch(hardware.QueryCommand())
	h.notifier.Notify(hardware.SignalNewState, state.Success, state.Payload())
	respondResult(c, state)
}
