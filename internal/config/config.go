package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig 应用基础信息
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// HTTPConfig HTTP 服务配置（健康检查 / 指标 / 状态查询）
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// UDPConfig UDP 网关配置
type UDPConfig struct {
	Addr            string `mapstructure:"addr"`
	MaxDatagramSize int    `mapstructure:"maxDatagramSize"`
	QueueDepth      int    `mapstructure:"queueDepth"`
	RingSize        int    `mapstructure:"ringSize"`
	RatePerSecond   int    `mapstructure:"ratePerSecond"`
	RateBurst       int    `mapstructure:"rateBurst"`
	// SignalStrength 上报给客户端的信号强度（dBm）。桥接主机没有射频侧，
	// 该值由运维按部署环境配置。
	SignalStrength int `mapstructure:"signalStrength"`
}

// BusConfig 外设总线配置
type BusConfig struct {
	// I2CBus periph.io 总线名，空串表示使用系统默认总线
	I2CBus string `mapstructure:"i2cBus"`
	// DefaultDeviceAddress 上电后的目标设备地址，可被 SET_DEVICE_ADDRESS 命令覆盖
	DefaultDeviceAddress uint8 `mapstructure:"defaultDeviceAddress"`
	// SimAddress 命中该设备地址时走软件模拟设备
	SimAddress uint8 `mapstructure:"simAddress"`
	// SimSize 模拟设备的寄存器空间大小（字节）
	SimSize int `mapstructure:"simSize"`
	// RegisterMapFile 寄存器命名表（YAML），空串使用内置默认表
	RegisterMapFile string `mapstructure:"registerMapFile"`
	// HardwareEnabled 为 false 时不初始化 I2C，全部地址落在模拟设备
	HardwareEnabled bool `mapstructure:"hardwareEnabled"`
}

// FirmwareConfig 固件标识配置
type FirmwareConfig struct {
	Revision uint16 `mapstructure:"revision"`
}

// LumberjackConfig 日志滚动（lumberjack）配置
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig 日志级别与输出配置
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig Prometheus 指标暴露配置
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// Config 顶层配置结构
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	UDP      UDPConfig      `mapstructure:"udp"`
	Bus      BusConfig      `mapstructure:"bus"`
	Firmware FirmwareConfig `mapstructure:"firmware"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// Load 从 YAML 文件与环境变量加载配置。
// 若 path 为空，则尝试从环境变量 REGBRIDGE_CONFIG 读取；否则回退到 configs/example.yaml。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv("REGBRIDGE_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("example")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	// 环境变量覆盖：前缀 REGBRIDGE_，并将点号替换为下划线
	v.SetEnvPrefix("REGBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 首次运行允许缺少配置文件，依赖默认值与环境变量
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "regbridge")
	v.SetDefault("app.env", "dev")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")

	// 1182 是协议约定的默认监听端口
	v.SetDefault("udp.addr", ":1182")
	v.SetDefault("udp.maxDatagramSize", 2000)
	v.SetDefault("udp.queueDepth", 32)
	v.SetDefault("udp.ringSize", 0) // 0 表示按队列深度自动推算
	v.SetDefault("udp.ratePerSecond", 0)
	v.SetDefault("udp.rateBurst", 0)
	v.SetDefault("udp.signalStrength", 0)

	v.SetDefault("bus.i2cBus", "")
	v.SetDefault("bus.defaultDeviceAddress", 0)
	v.SetDefault("bus.simAddress", 0)
	v.SetDefault("bus.simSize", 256)
	v.SetDefault("bus.registerMapFile", "")
	v.SetDefault("bus.hardwareEnabled", false)

	v.SetDefault("firmware.revision", 1000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.filename", "logs/regbridge.log")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}
