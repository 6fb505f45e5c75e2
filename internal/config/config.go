package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/wfunc/ps2000-control/internal/errors"
)

// Config 全局配置结构体
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	WebSocket   WebSocketConfig   `mapstructure:"websocket"`
	PowerSupply PowerSupplyConfig `mapstructure:"power_supply"`
	Light       LightConfig       `mapstructure:"light"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Interlock   InterlockConfig   `mapstructure:"interlock"`
	Log         LogConfig         `mapstructure:"log"`
}

// ServerConfig HTTP服务器配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// WebSocketConfig 推送通道配置
type WebSocketConfig struct {
	Path            string        `mapstructure:"path"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// SerialConfig 串口线路配置
type SerialConfig struct {
	Port        string        `mapstructure:"port"`
	BaudRate    int           `mapstructure:"baud_rate"`
	DataBits    int           `mapstructure:"data_bits"`
	StopBits    int           `mapstructure:"stop_bits"`
	Parity      string        `mapstructure:"parity"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	MockMode    bool          `mapstructure:"mock_mode"` // 调试模式（使用模拟设备）
}

// PowerSupplyConfig 电源配置
type PowerSupplyConfig struct {
	SerialConfig   `mapstructure:",squash"`
	NominalVoltage float64 `mapstructure:"nominal_voltage"`
	NominalCurrent float64 `mapstructure:"nominal_current"`
	USBVendorID    string  `mapstructure:"usb_vid"` // 复位时按VID/PID重新查找串口
	USBProductID   string  `mapstructure:"usb_pid"`
}

// LightConfig 指示灯配置
type LightConfig struct {
	SerialConfig `mapstructure:",squash"`
	PulseOnMs    int `mapstructure:"pulse_on_ms"`
	PulseOffMs   int `mapstructure:"pulse_off_ms"`
}

// MonitorConfig 状态轮询配置
type MonitorConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// InterlockConfig 联锁定时器配置
type InterlockConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	TripAt     string        `mapstructure:"trip_at"` // HH:MM 本地时间
	WarnBefore time.Duration `mapstructure:"warn_before"`
	Extend     time.Duration `mapstructure:"extend"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		v = viper.New()

		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		v.SetEnvPrefix("PS2000")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		SetDefaults(v)

		if err = v.ReadInConfig(); err != nil {
			// 配置文件不存在时使用默认配置
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				err = errors.Wrap(err, errors.ErrConfigLoad)
				return
			}
			err = nil
		}

		var loaded *Config
		loaded, err = Load(v)
		if err != nil {
			return
		}
		cfg = loaded
	})

	return err
}

// Load 从viper实例解析并校验配置
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigParse)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// SetDefaults 设置默认配置值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.ping_interval", "54s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "10s")

	// 电源与指示灯共用线路参数: 9600 8O1, 100ms读超时
	for _, prefix := range []string{"power_supply", "light"} {
		v.SetDefault(prefix+".baud_rate", 9600)
		v.SetDefault(prefix+".data_bits", 8)
		v.SetDefault(prefix+".stop_bits", 1)
		v.SetDefault(prefix+".parity", "odd")
		v.SetDefault(prefix+".read_timeout", "100ms")
		v.SetDefault(prefix+".mock_mode", false)
	}
	v.SetDefault("power_supply.port", "/dev/ttyACM0")
	v.SetDefault("power_supply.nominal_voltage", 42.0)
	v.SetDefault("power_supply.nominal_current", 10.0)
	v.SetDefault("power_supply.usb_vid", "")
	v.SetDefault("power_supply.usb_pid", "")
	v.SetDefault("light.port", "/dev/ttyAMC0")
	v.SetDefault("light.pulse_on_ms", 500)
	v.SetDefault("light.pulse_off_ms", 500)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.poll_interval", "6s")

	v.SetDefault("interlock.enabled", false)
	v.SetDefault("interlock.trip_at", "22:00")
	v.SetDefault("interlock.warn_before", "10m")
	v.SetDefault("interlock.extend", "30m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "ps2000-control.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)
}

// Validate 校验配置，错误在启动时是致命的
func (c *Config) Validate() error {
	if err := c.PowerSupply.SerialConfig.validate("power_supply"); err != nil {
		return err
	}
	if err := c.Light.SerialConfig.validate("light"); err != nil {
		return err
	}
	if c.PowerSupply.NominalVoltage <= 0 || c.PowerSupply.NominalCurrent <= 0 {
		return errors.Newf(errors.ErrConfigValidate, "power_supply: 额定值必须为正数 (U=%v, I=%v)",
			c.PowerSupply.NominalVoltage, c.PowerSupply.NominalCurrent)
	}
	if c.Light.PulseOnMs < 0 || c.Light.PulseOffMs < 0 {
		return errors.New(errors.ErrConfigValidate, "light: 脉冲时长不能为负")
	}
	if c.Monitor.PollInterval <= 0 {
		return errors.Newf(errors.ErrConfigValidate, "monitor.poll_interval 必须大于0: %v", c.Monitor.PollInterval)
	}
	// 联锁可在运行时开启，trip_at 始终需要有效
	if _, err := time.Parse("15:04", c.Interlock.TripAt); err != nil {
		return errors.Wrapf(err, errors.ErrConfigValidate, "interlock.trip_at")
	}
	if c.Interlock.WarnBefore < 0 || c.Interlock.Extend <= 0 {
		return errors.Newf(errors.ErrConfigValidate, "interlock: warn_before=%v extend=%v",
			c.Interlock.WarnBefore, c.Interlock.Extend)
	}
	return nil
}

func (s SerialConfig) validate(section string) error {
	if s.Port == "" {
		return errors.Newf(errors.ErrConfigMissing, "%s.port", section)
	}
	if s.BaudRate <= 0 {
		return errors.Newf(errors.ErrConfigValidate, "%s.baud_rate 无效: %d", section, s.BaudRate)
	}
	if s.DataBits < 5 || s.DataBits > 8 {
		return errors.Newf(errors.ErrConfigValidate, "%s.data_bits 无效: %d", section, s.DataBits)
	}
	if s.StopBits != 1 && s.StopBits != 2 {
		return errors.Newf(errors.ErrConfigValidate, "%s.stop_bits 无效: %d", section, s.StopBits)
	}
	switch strings.ToLower(s.Parity) {
	case "none", "n", "odd", "o", "even", "e":
	default:
		return errors.Newf(errors.ErrConfigValidate, "%s.parity 无效: %q", section, s.Parity)
	}
	return nil
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	if v == nil {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		newCfg, err := Load(v)
		if err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}

		mu.Lock()
		cfg = newCfg
		mu.Unlock()

		if callback != nil {
			callback(newCfg)
		}
	})
	v.WatchConfig()
}

// ConfigFile 返回实际使用的配置文件路径
func ConfigFile() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}
