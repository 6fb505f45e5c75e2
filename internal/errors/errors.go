package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorCode 错误码类型
type ErrorCode int

// 错误码定义（按模块分组）
const (
	// 通用错误 (1000-1999)
	ErrUnknown        ErrorCode = 1000
	ErrInvalidParam   ErrorCode = 1001 // 参数超出设备范围（ValidationError）
	ErrTimeout        ErrorCode = 1005
	ErrNotImplemented ErrorCode = 1007
	ErrInvalidState   ErrorCode = 1008 // 当前生命周期状态下不允许的操作（StateError）

	// 硬件错误 (3000-3999)
	ErrSerialPortOpen   ErrorCode = 3000 // 无法获取串口（ConnectionError）
	ErrSerialPortWrite  ErrorCode = 3001 // 写入失败（IOError）
	ErrSerialPortRead   ErrorCode = 3002 // 读取失败（IOError）
	ErrSerialTimeout    ErrorCode = 3003 // 读取超时（IOError）
	ErrNotConnected     ErrorCode = 3004 // 设备未连接（NotConnectedError）
	ErrCommandFailed    ErrorCode = 3006 // 设备拒绝命令
	ErrInvalidResponse  ErrorCode = 3007 // 响应格式错误（ProtocolError）
	ErrSerialPortClosed ErrorCode = 3008 // 串口未打开（ConnectionError）
	ErrAlreadyConnected ErrorCode = 3009

	// 通信错误 (4000-4999)
	ErrWebSocketSend   ErrorCode = 4001
	ErrWebSocketClosed ErrorCode = 4003
	ErrMessageFormat   ErrorCode = 4007

	// 配置错误 (6000-6999)
	ErrConfigLoad     ErrorCode = 6000
	ErrConfigParse    ErrorCode = 6001
	ErrConfigValidate ErrorCode = 6002
	ErrConfigMissing  ErrorCode = 6003
)

// 错误码消息映射
var errorMessages = map[ErrorCode]string{
	// 通用错误
	ErrUnknown:        "未知错误",
	ErrInvalidParam:   "无效的参数",
	ErrTimeout:        "操作超时",
	ErrNotImplemented: "功能未实现",
	ErrInvalidState:   "当前状态不允许该操作",

	// 硬件错误
	ErrSerialPortOpen:   "串口打开失败",
	ErrSerialPortWrite:  "串口写入失败",
	ErrSerialPortRead:   "串口读取失败",
	ErrSerialTimeout:    "串口通信超时",
	ErrNotConnected:     "设备未连接",
	ErrCommandFailed:    "命令执行失败",
	ErrInvalidResponse:  "无效的设备响应",
	ErrSerialPortClosed: "串口未打开",
	ErrAlreadyConnected: "设备已连接",

	// 通信错误
	ErrWebSocketSend:   "WebSocket发送失败",
	ErrWebSocketClosed: "WebSocket连接已关闭",
	ErrMessageFormat:   "消息格式错误",

	// 配置错误
	ErrConfigLoad:     "配置加载失败",
	ErrConfigParse:    "配置解析失败",
	ErrConfigValidate: "配置验证失败",
	ErrConfigMissing:  "配置项缺失",
}

// Kind 错误分类
type Kind string

const (
	KindConnection   Kind = "ConnectionError"
	KindIO           Kind = "IOError"
	KindProtocol     Kind = "ProtocolError"
	KindValidation   Kind = "ValidationError"
	KindNotConnected Kind = "NotConnectedError"
	KindState        Kind = "StateError"
	KindConfig       Kind = "ConfigError"
	KindOther        Kind = "Error"
)

// AppError 应用错误结构
type AppError struct {
	Code    ErrorCode    `json:"code"`            // 错误码
	Message string       `json:"message"`         // 错误消息
	Details string       `json:"details"`         // 详细信息
	Cause   error        `json:"-"`               // 原始错误
	Stack   []StackFrame `json:"stack,omitempty"` // 调用栈
}

// StackFrame 调用栈帧
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Kind 返回错误所属分类
func (e *AppError) Kind() Kind {
	switch e.Code {
	case ErrSerialPortOpen, ErrSerialPortClosed:
		return KindConnection
	case ErrSerialPortWrite, ErrSerialPortRead, ErrSerialTimeout:
		return KindIO
	case ErrInvalidResponse, ErrCommandFailed:
		return KindProtocol
	case ErrInvalidParam:
		return KindValidation
	case ErrNotConnected:
		return KindNotConnected
	case ErrInvalidState, ErrAlreadyConnected:
		return KindState
	case ErrConfigLoad, ErrConfigParse, ErrConfigValidate, ErrConfigMissing:
		return KindConfig
	default:
		return KindOther
	}
}

// New 创建新的应用错误
func New(code ErrorCode, details ...string) *AppError {
	message, ok := errorMessages[code]
	if !ok {
		message = errorMessages[ErrUnknown]
	}

	err := &AppError{
		Code:    code,
		Message: message,
	}

	if len(details) > 0 {
		err.Details = strings.Join(details, "; ")
	}

	err.captureStack(2)

	return err
}

// Newf 创建格式化的应用错误
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	details := fmt.Sprintf(format, args...)
	return New(code, details)
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, details ...string) *AppError {
	if err == nil {
		return nil
	}

	// 如果已经是AppError，保留原始错误码；返回副本，不修改原错误
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		wrapped := *appErr
		wrapped.Cause = err
		if len(details) > 0 {
			wrapped.Details = strings.Join(details, "; ") + "; " + appErr.Details
		}
		return &wrapped
	}

	appErr = New(code, details...)
	appErr.Cause = err
	if appErr.Details == "" {
		appErr.Details = err.Error()
	} else {
		appErr.Details += ": " + err.Error()
	}

	return appErr
}

// Wrapf 包装格式化错误
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	details := fmt.Sprintf(format, args...)
	return Wrap(err, code, details)
}

// Is 判断错误是否为指定错误码
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

// GetCode 获取错误码
func GetCode(err error) ErrorCode {
	if err == nil {
		return 0
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}

	return ErrUnknown
}

// KindOf 获取错误分类
func KindOf(err error) Kind {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind()
	}
	return KindOther
}

// captureStack 捕获调用栈
func (e *AppError) captureStack(skip int) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)

	if n > 0 {
		frames := runtime.CallersFrames(pcs[:n])
		for {
			frame, more := frames.Next()

			// 跳过runtime和本包的调用
			if strings.Contains(frame.Function, "runtime.") ||
				strings.Contains(frame.Function, "github.com/wfunc/ps2000-control/internal/errors.") {
				if !more {
					break
				}
				continue
			}

			e.Stack = append(e.Stack, StackFrame{
				Function: frame.Function,
				File:     frame.File,
				Line:     frame.Line,
			})

			if !more || len(e.Stack) >= 10 {
				break
			}
		}
	}
}

// HTTPStatus 返回对应的HTTP状态码
func (e *AppError) HTTPStatus() int {
	switch e.Kind() {
	case KindValidation:
		return 400
	case KindState, KindNotConnected:
		return 409
	case KindConnection, KindIO, KindProtocol:
		return 503
	}
	if e.Code == ErrTimeout {
		return 408
	}
	return 500
}
