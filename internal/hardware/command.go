package hardware

import (
	"fmt"

	"github.com/wfunc/ps2000-control/internal/errors"
)

// CommandKind 电源命令类型
type CommandKind int

const (
	CmdConnect CommandKind = iota
	CmdDisconnect
	CmdSetRemote
	CmdSetPower
	CmdSetVoltage
	CmdSetCurrent
	CmdQuery
)

var commandNames = map[CommandKind]string{
	CmdConnect:    "connect",
	CmdDisconnect: "disconnect",
	CmdSetRemote:  "remote",
	CmdSetPower:   "power",
	CmdSetVoltage: "setVoltage",
	CmdSetCurrent: "setCurrent",
	CmdQuery:      "get",
}

func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", int(k))
}

// Command 一条电源命令，由 Dispatch 同步消费
type Command struct {
	Kind   CommandKind
	Enable bool    // SetRemote / SetPower
	Value  float64 // SetVoltage / SetCurrent
}

func ConnectCommand() Command    { return Command{Kind: CmdConnect} }
func DisconnectCommand() Command { return Command{Kind: CmdDisconnect} }
func QueryCommand() Command      { return Command{Kind: CmdQuery} }

func SetRemoteCommand(enable bool) Command {
	return Command{Kind: CmdSetRemote, Enable: enable}
}

func SetPowerCommand(on bool) Command {
	return Command{Kind: CmdSetPower, Enable: on}
}

func SetVoltageCommand(v float64) Command {
	return Command{Kind: CmdSetVoltage, Value: v}
}

func SetCurrentCommand(i float64) Command {
	return Command{Kind: CmdSetCurrent, Value: i}
}

// Validate 检查命令参数，不访问设备
func (c Command) Validate(l Limits) error {
	switch c.Kind {
	case CmdSetVoltage:
		return ValidateVoltage(c.Value, l)
	case CmdSetCurrent:
		return ValidateCurrent(c.Value, l)
	case CmdConnect, CmdDisconnect, CmdSetRemote, CmdSetPower, CmdQuery:
		return nil
	default:
		return errors.Newf(errors.ErrInvalidParam, "未知命令 %s", c.Kind)
	}
}
