package hardware

import (
	"context"
	"sync"
	"time"

	"github.com/wfunc/ps2000-control/internal/errors"
	"github.com/wfunc/ps2000-control/internal/logger"
	"go.uber.org/zap"
)

// HardwareConfig 硬件管理器配置
type HardwareConfig struct {
	// 电源
	PowerSupplyPort string
	PowerSupplyMode PortMode
	NominalVoltage  float64
	NominalCurrent  float64
	USBVendorID     string
	USBProductID    string
	PowerSupplyMock bool

	// 指示灯
	LightPort  string
	LightMode  PortMode
	PulseShape PulseShape
	LightMock  bool

	// 监控
	MonitorEnabled bool
	PollInterval   time.Duration
}

// DefaultHardwareConfig 默认配置
func DefaultHardwareConfig() *HardwareConfig {
	return &HardwareConfig{
		PowerSupplyPort: "/dev/ttyACM0",
		PowerSupplyMode: DefaultPortMode(),
		NominalVoltage:  42,
		NominalCurrent:  10,
		LightPort:       "/dev/ttyAMC0",
		LightMode:       DefaultPortMode(),
		PulseShape:      PulseShape{OnMs: 500, OffMs: 500},
		MonitorEnabled:  true,
		PollInterval:    6 * time.Second,
	}
}

// HardwareManager 组装电源、指示灯与状态监控，管理它们的生命周期
type HardwareManager struct {
	mu     sync.Mutex
	logger *zap.Logger
	config *HardwareConfig

	dispatcher *Dispatcher
	light      *Light
	monitor    *Monitor

	// 模拟模式下的设备
	psEmulator    *PS2000Emulator
	lightEmulator *LightEmulator

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewHardwareManager 按配置创建各组件（不会打开串口）
func NewHardwareManager(cfg *HardwareConfig) (*HardwareManager, error) {
	if cfg == nil {
		cfg = DefaultHardwareConfig()
	}

	m := &HardwareManager{
		logger: logger.WithModule("serial"),
		config: cfg,
	}

	psCfg := PowerSupplyConfig{
		Port:           cfg.PowerSupplyPort,
		Mode:           cfg.PowerSupplyMode,
		NominalVoltage: cfg.NominalVoltage,
		NominalCurrent: cfg.NominalCurrent,
	}
	if cfg.PowerSupplyMock {
		m.psEmulator = NewPS2000Emulator()
		psCfg.Opener = m.psEmulator.Opener()
		m.logger.Info("电源使用模拟设备")
	} else if cfg.USBVendorID != "" {
		psCfg.Finder = NewUSBPortFinder(cfg.USBVendorID, cfg.USBProductID)
	}

	ps, err := NewPowerSupply(psCfg)
	if err != nil {
		return nil, err
	}
	m.dispatcher = NewDispatcher(ps)

	var lightOpener Opener
	if cfg.LightMock {
		m.lightEmulator = NewLightEmulator()
		lightOpener = m.lightEmulator.Opener()
		m.logger.Info("指示灯使用模拟设备")
	}
	m.light, err = NewLight(cfg.LightPort, cfg.LightMode, lightOpener, cfg.PulseShape)
	if err != nil {
		return nil, err
	}

	m.monitor = NewMonitor(m.dispatcher, cfg.PollInterval)

	m.logger.Info("硬件管理器初始化完成",
		zap.String("power_supply_port", cfg.PowerSupplyPort),
		zap.String("light_port", cfg.LightPort),
		zap.Bool("monitor", cfg.MonitorEnabled),
		zap.Duration("poll_interval", cfg.PollInterval))
	return m, nil
}

// Start 连接设备并启动状态监控；连接失败不阻止启动，由监控循环负责恢复
func (m *HardwareManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errors.New(errors.ErrInvalidState, "硬件管理器已在运行")
	}

	if res := m.dispatcher.Dispatch(ConnectCommand()); !res.Success {
		m.logger.Warn("连接电源失败，等待监控循环重试", zap.String("error", res.Message))
	}
	if _, err := m.light.Connect(); err != nil {
		m.logger.Warn("连接指示灯失败", zap.Error(err))
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.running = true

	if m.config.MonitorEnabled {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.monitor.Run(ctx)
		}()
	}

	m.logger.Info("硬件管理器启动成功")
	return nil
}

// Stop 停止监控并断开设备
func (m *HardwareManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	m.cancel()
	m.wg.Wait()

	if res := m.dispatcher.Dispatch(DisconnectCommand()); !res.Success {
		m.logger.Error("断开电源失败", zap.String("error", res.Message))
	}
	if err := m.light.Disconnect(); err != nil {
		m.logger.Error("断开指示灯失败", zap.Error(err))
	}

	m.logger.Info("硬件管理器已停止")
	return nil
}

// AddListener 注册状态推送接收者
func (m *HardwareManager) AddListener(l Listener) {
	m.monitor.AddListener(l)
}

// Dispatcher 电源命令分发器
func (m *HardwareManager) Dispatcher() *Dispatcher {
	return m.dispatcher
}

// Light 指示灯控制器
func (m *HardwareManager) Light() *Light {
	return m.light
}

// Monitor 状态监控
func (m *HardwareManager) Monitor() *Monitor {
	return m.monitor
}

// IsRunning 是否正在运行
func (m *HardwareManager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// GetStatistics 运行统计
func (m *HardwareManager) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"power_supply_connected": m.dispatcher.Connected(),
		"monitor":                m.monitor.Stats(),
		"mock_mode":              m.psEmulator != nil,
	}
}
