package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/ps2000-control/internal/hardware"
	"github.com/wfunc/ps2000-control/internal/interlock"
	"github.com/wfunc/ps2000-control/internal/logger"
	"github.com/wfunc/ps2000-control/internal/middleware"
	"github.com/wfunc/ps2000-control/internal/websocket"
	"go.uber.org/zap"
)

// Options 路由依赖
type Options struct {
	Mode          string // gin 模式: debug / release / test
	Hardware      *hardware.HardwareManager
	Interlock     *interlock.Interlock
	Hub           *websocket.Hub    // 为 nil 时不注册 WebSocket 路由
	Notifier      hardware.Listener // 默认使用 Hub
	WebSocketPath string
	RefreshDelay  time.Duration // 写入成功后重新查询前的等待
}

// Router API路由器
type Router struct {
	engine    *gin.Engine
	power     *PowerHandler
	light     *LightHandler
	interlock *InterlockHandler
	opts      Options
	log       *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(opts Options) *Router {
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}
	if opts.WebSocketPath == "" {
		opts.WebSocketPath = "/ws"
	}
	if opts.RefreshDelay <= 0 {
		opts.RefreshDelay = 100 * time.Millisecond
	}
	if opts.Notifier == nil {
		if opts.Hub != nil {
			opts.Notifier = opts.Hub
		} else {
			opts.Notifier = hardware.ListenerFunc(func(hardware.Signal, bool, interface{}) {})
		}
	}

	log := logger.WithModule("api")

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS())
	engine.Use(middleware.RequestLogger(log))

	r := &Router{
		engine:    engine,
		power:     NewPowerHandler(opts.Hardware.Dispatcher(), opts.Notifier, opts.RefreshDelay),
		light:     NewLightHandler(opts.Hardware.Light(), opts.Notifier),
		interlock: NewInterlockHandler(opts.Interlock),
		opts:      opts,
		log:       log,
	}
	r.setupRoutes()
	return r
}

// setupRoutes 设置路由，路径与前端页面保持一致
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.healthCheck)

	// 电源
	r.engine.GET("/connect", r.power.Connect)
	r.engine.GET("/disconnect", r.power.Disconnect)
	r.engine.GET("/power", r.power.Power)
	r.engine.GET("/setVoltage", r.power.SetVoltage)
	r.engine.GET("/setCurrent", r.power.SetCurrent)
	r.engine.GET("/get", r.power.Get)

	// 指示灯
	r.engine.GET("/led_connect", r.light.Connect)
	r.engine.GET("/led_disconnect", r.light.Disconnect)
	r.engine.GET("/led_on", r.light.TogglePower)
	r.engine.GET("/led_pulsed", r.light.TogglePulse)
	r.engine.GET("/led_shape", r.light.SetShape)
	r.engine.GET("/led_get", r.light.Get)

	// 联锁
	r.engine.GET("/toggleInterlock", r.interlock.Toggle)
	r.engine.GET("/resetInterlock", r.interlock.Reset)

	if r.opts.Hub != nil {
		r.engine.GET(r.opts.WebSocketPath, gin.WrapH(r.opts.Hub))
	}

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"msg":     "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	resp := gin.H{
		"status":   "healthy",
		"hardware": r.opts.Hardware.GetStatistics(),
	}
	if r.opts.Hub != nil {
		resp["ws_clients"] = r.opts.Hub.ClientCount()
	}
	if r.opts.Interlock != nil {
		resp["interlock"] = r.opts.Interlock.State()
	}
	c.JSON(http.StatusOK, resp)
}

// Handler 返回 http.Handler
func (r *Router) Handler() http.Handler {
	return r.engine
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
