package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/wfunc/ps2000-control/internal/api"
	"github.com/wfunc/ps2000-control/internal/config"
	"github.com/wfunc/ps2000-control/internal/errors"
	"github.com/wfunc/ps2000-control/internal/hardware"
	"github.com/wfunc/ps2000-control/internal/interlock"
	"github.com/wfunc/ps2000-control/internal/logger"
	"github.com/wfunc/ps2000-control/internal/websocket"
	"go.uber.org/zap"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	hardware  *hardware.HardwareManager
	hub       *websocket.Hub
	interlock *interlock.Interlock
	http      *http.Server

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		mock        = flag.Bool("mock", false, "使用模拟设备（不访问串口）")
		showVersion = flag.Bool("version", false, "显示版本信息")
	)
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()
	if *mock {
		cfg.PowerSupply.MockMode = true
		cfg.Light.MockMode = true
	}

	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Cleanup()

	server, err := NewServer(cfg)
	if err != nil {
		logger.Error("服务器初始化失败", zap.Error(err))
		os.Exit(1)
	}

	if err := server.Start(); err != nil {
		logger.Error("服务器启动失败", zap.Error(err))
		os.Exit(1)
	}

	server.WaitForShutdown()

	if err := server.Shutdown(); err != nil {
		logger.Error("服务器关闭失败", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("服务器已安全关闭")
}

// NewServer 组装硬件、推送通道、联锁与HTTP路由
func NewServer(cfg *config.Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		logger: logger.GetLogger(),
		ctx:    ctx,
		cancel: cancel,
	}

	hw, err := hardware.NewHardwareManager(hardwareConfig(cfg))
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, errors.ErrConfigValidate, "创建硬件管理器失败")
	}
	s.hardware = hw

	s.hub = websocket.NewHub(cfg.WebSocket)
	hw.AddListener(s.hub)

	s.interlock, err = interlock.New(cfg.Interlock, hw.Dispatcher())
	if err != nil {
		cancel()
		return nil, err
	}
	s.interlock.AddListener(s.hub)

	router := api.NewRouter(api.Options{
		Mode:          cfg.Server.Mode,
		Hardware:      hw,
		Interlock:     s.interlock,
		Hub:           s.hub,
		WebSocketPath: cfg.WebSocket.Path,
	})

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s, nil
}

// hardwareConfig 配置文件到硬件管理器参数
func hardwareConfig(cfg *config.Config) *hardware.HardwareConfig {
	return &hardware.HardwareConfig{
		PowerSupplyPort: cfg.PowerSupply.Port,
		PowerSupplyMode: portMode(cfg.PowerSupply.SerialConfig),
		NominalVoltage:  cfg.PowerSupply.NominalVoltage,
		NominalCurrent:  cfg.PowerSupply.NominalCurrent,
		USBVendorID:     cfg.PowerSupply.USBVendorID,
		USBProductID:    cfg.PowerSupply.USBProductID,
		PowerSupplyMock: cfg.PowerSupply.MockMode,

		LightPort:  cfg.Light.Port,
		LightMode:  portMode(cfg.Light.SerialConfig),
		PulseShape: hardware.PulseShape{OnMs: cfg.Light.PulseOnMs, OffMs: cfg.Light.PulseOffMs},
		LightMock:  cfg.Light.MockMode,

		MonitorEnabled: cfg.Monitor.Enabled,
		PollInterval:   cfg.Monitor.PollInterval,
	}
}

func portMode(sc config.SerialConfig) hardware.PortMode {
	return hardware.PortMode{
		BaudRate:    sc.BaudRate,
		DataBits:    sc.DataBits,
		Parity:      hardware.ParseParity(sc.Parity),
		StopBits:    sc.StopBits,
		ReadTimeout: sc.ReadTimeout,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("正在启动电源控制服务...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(s.ctx)
	}()

	// 设备连接失败不影响启动，可通过 /connect 重试
	if err := s.hardware.Start(s.ctx); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "启动硬件失败")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.interlock.Run(s.ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP服务异常退出", zap.Error(err))
		}
	}()

	config.Watch(func(newCfg *config.Config) {
		s.logger.Info("配置已更新，正在重新加载...")
		s.reloadConfig(newCfg)
	})

	s.logger.Info("服务器启动成功",
		zap.String("config", config.ConfigFile()),
		zap.String("http", s.http.Addr),
		zap.String("websocket", s.cfg.WebSocket.Path),
		zap.Bool("interlock", s.cfg.Interlock.Enabled),
	)
	return nil
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-sigCh
	s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP服务关闭失败", zap.Error(err))
	}

	// 先断开硬件（需要调度器仍可用），再取消其余协程
	if err := s.hardware.Stop(); err != nil {
		s.logger.Error("关闭硬件失败", zap.Error(err))
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("所有服务已正常关闭")
	case <-shutdownCtx.Done():
		s.logger.Warn("关闭超时，强制退出")
		return errors.New(errors.ErrTimeout, "关闭超时")
	}
	return nil
}

// reloadConfig 目前只热更新日志级别
func (s *Server) reloadConfig(newCfg *config.Config) {
	logger.SetLevel(newCfg.Log.Level)
	s.logger.Info("配置重新加载完成", zap.String("log_level", newCfg.Log.Level))
}

func printVersion() {
	fmt.Printf("PS2000 电源控制服务\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
