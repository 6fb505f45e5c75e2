package hardware

import (
	"strings"

	"github.com/wfunc/ps2000-control/internal/errors"
	"github.com/wfunc/ps2000-control/internal/logger"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

// PortFinder 复位时重新定位设备串口（USB设备重新枚举后端口名可能变化）
type PortFinder interface {
	Resolve(current string) (string, error)
}

// USBPortFinder 按 USB VID/PID 查找串口
type USBPortFinder struct {
	VendorID  string
	ProductID string

	// list 枚举函数，测试时替换
	list func() ([]*enumerator.PortDetails, error)
}

// NewUSBPortFinder 创建查找器，pid 为空时只匹配 vid
func NewUSBPortFinder(vid, pid string) *USBPortFinder {
	return &USBPortFinder{
		VendorID:  vid,
		ProductID: pid,
		list:      enumerator.GetDetailedPortsList,
	}
}

// Resolve 当前端口仍匹配时保持不变，否则返回第一个匹配的USB串口
func (f *USBPortFinder) Resolve(current string) (string, error) {
	log := logger.WithModule("serial")

	ports, err := f.list()
	if err != nil {
		log.Warn("枚举串口失败", zap.Error(err))
	}
	if len(ports) == 0 {
		return "", errors.New(errors.ErrSerialPortOpen, "系统中没有串口")
	}

	found := ""
	for _, port := range ports {
		log.Debug("检查串口",
			zap.String("port", port.Name),
			zap.Bool("usb", port.IsUSB),
			zap.String("vid", port.VID),
			zap.String("pid", port.PID))
		if !f.matches(port) {
			continue
		}
		if port.Name == current {
			return current, nil
		}
		if found == "" {
			found = port.Name
		}
	}

	if found == "" {
		return "", errors.Newf(errors.ErrSerialPortOpen, "未找到 USB 设备 %s:%s", f.VendorID, f.ProductID)
	}
	log.Info("设备串口已变化", zap.String("from", current), zap.String("to", found))
	return found, nil
}

func (f *USBPortFinder) matches(port *enumerator.PortDetails) bool {
	if !port.IsUSB || !strings.EqualFold(port.VID, f.VendorID) {
		return false
	}
	return f.ProductID == "" || strings.EqualFold(port.PID, f.ProductID)
}
