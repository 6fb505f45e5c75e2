package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/ps2000-control/internal/errors"
	"github.com/wfunc/ps2000-control/internal/hardware"
)

// Response 接口响应，与推送消息的 {success, msg} 结构一致
type Response struct {
	Success bool        `json:"success"`
	Msg     interface{} `json:"msg"`
}

func respond(c *gin.Context, success bool, msg interface{}) {
	c.JSON(http.StatusOK, Response{Success: success, Msg: msg})
}

func respondResult(c *gin.Context, res hardware.Result) {
	respond(c, res.Success, res.Payload())
}

// badRequest 参数错误返回 400
func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, Response{Success: false, Msg: err.Error()})
}

func queryFloat(c *gin.Context, key string) (float64, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return 0, errors.Newf(errors.ErrInvalidParam, "缺少参数 `%s`", key)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.Wrapf(err, errors.ErrInvalidParam, "参数 `%s`", key)
	}
	return v, nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return 0, errors.Newf(errors.ErrInvalidParam, "缺少参数 `%s`", key)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(err, errors.ErrInvalidParam, "参数 `%s`", key)
	}
	return v, nil
}

// queryBool 接受 on/off、1/0、true/false
func queryBool(c *gin.Context, key string) (bool, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return false, errors.Newf(errors.ErrInvalidParam, "缺少参数 `%s`", key)
	}
	switch strings.ToLower(raw) {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	}
	return false, errors.Newf(errors.ErrInvalidParam, "参数 `%s` 无效: %q", key, raw)
}
