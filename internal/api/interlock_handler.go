package api

import (
	"github.com/gin-gonic/gin"
	"github.com/wfunc/ps2000-control/internal/errors"
	"github.com/wfunc/ps2000-control/internal/interlock"
)

// InterlockHandler 联锁接口
type InterlockHandler struct {
	il *interlock.Interlock
}

// NewInterlockHandler 创建联锁接口；il 为 nil 时接口返回失败
func NewInterlockHandler(il *interlock.Interlock) *InterlockHandler {
	return &InterlockHandler{il: il}
}

// Toggle 开启/关闭联锁 ?state=0|1
func (h *InterlockHandler) Toggle(c *gin.Context) {
	enable, err := queryBool(c, "state")
	if err != nil {
		badRequest(c, err)
		return
	}
	if h.il == nil {
		h.unavailable(c)
		return
	}
	respond(c, true, h.il.Toggle(enable))
}

// Reset 延期联锁
func (h *InterlockHandler) Reset(c *gin.Context) {
	if h.il == nil {
		h.unavailable(c)
		return
	}
	st, err := h.il.Reset()
	if err != nil {
		respond(c, false, err.Error())
		return
	}
	respond(c, true, st)
}

func (h *InterlockHandler) unavailable(c *gin.Context) {
	err := errors.New(errors.ErrNotImplemented, "联锁未配置")
	c.JSON(err.HTTPStatus(), Response{Success: false, Msg: err.Error()})
}
