package hardware

// DeviceState 电源状态，每次轮询重新获取，不做缓存
type DeviceState struct {
	SetVoltage    float64 `json:"setVoltage"`
	ActualVoltage float64 `json:"actVoltage"`
	SetCurrent    float64 `json:"setCurrent"`
	ActualCurrent float64 `json:"actCurrent"`
	Output        bool    `json:"output"`
}

// Limits 设备允许的设定范围 [0, Max]
type Limits struct {
	MaxVoltage float64
	MaxCurrent float64
}

// PulseShape 脉冲形状（亮/灭时长，毫秒）
type PulseShape struct {
	OnMs  int `json:"on"`
	OffMs int `json:"off"`
}

// LightState 指示灯状态快照
type LightState struct {
	On        string `json:"led_on"` // "on" / "off"
	Pulsed    bool   `json:"led_pulsed"`
	Shape     [2]int `json:"led_shape"`
	Connected bool   `json:"led_connected"`
}

// Result 命令执行结果（success, message）
type Result struct {
	Success bool
	Message string
	State   *DeviceState
	Err     error
}

// Payload 推送/响应中 msg 字段的内容
func (r Result) Payload() interface{} {
	if r.State != nil {
		return r.State
	}
	return r.Message
}

func okResult(msg string) Result {
	return Result{Success: true, Message: msg}
}

func failResult(err error) Result {
	return Result{Success: false, Message: err.Error(), Err: err}
}

// Signal 推送信号名称
type Signal string

const (
	SignalConnect       Signal = "connect"
	SignalDisconnect    Signal = "disconnect"
	SignalNewVoltage    Signal = "newVoltage"
	SignalNewCurrent    Signal = "newCurrent"
	SignalNewState      Signal = "newState"
	SignalInterlock     Signal = "interlock"
	SignalLedConnect    Signal = "led_connect"
	SignalLedDisconnect Signal = "led_disconnect"
	SignalLedNewState   Signal = "ledNewState"
)

// Listener 状态推送接收者
type Listener interface {
	Notify(signal Signal, success bool, msg interface{})
}

// ListenerFunc 函数适配器
type ListenerFunc func(signal Signal, success bool, msg interface{})

// Notify 实现 Listener
func (f ListenerFunc) Notify(signal Signal, success bool, msg interface{}) {
	f(signal, success, msg)
}
