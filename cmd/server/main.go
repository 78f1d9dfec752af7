package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/regbridge/internal/bus"
	cfgpkg "github.com/taoyao-code/regbridge/internal/config"
	"github.com/taoyao-code/regbridge/internal/gateway"
	"github.com/taoyao-code/regbridge/internal/health"
	"github.com/taoyao-code/regbridge/internal/httpserver"
	"github.com/taoyao-code/regbridge/internal/logging"
	"github.com/taoyao-code/regbridge/internal/metrics"
	"github.com/taoyao-code/regbridge/internal/protocol/wireg"
	"github.com/taoyao-code/regbridge/internal/udpserver"
)

func main() {
	// 1) 加载配置
	cfg, err := cfgpkg.Load("")
	if err != nil {
		panic(err)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	log := zap.L()

	serverID := gateway.GenerateServerID()
	log.Info("starting", zap.String("app", cfg.App.Name), zap.String("server_id", serverID))

	// 3) 指标注册与处理器
	reg := metrics.NewRegistry()
	appm := metrics.NewAppMetrics(reg)
	metricsHandler := metrics.Handler(reg)

	// 4) 总线装配：模拟设备始终可用，硬件按配置接入
	sim := bus.NewSimDevice(cfg.Bus.SimSize)
	var hw bus.Bus
	if cfg.Bus.HardwareEnabled {
		i2cBus, err := bus.NewI2CBus(cfg.Bus.I2CBus)
		if err != nil {
			log.Fatal("i2c init error", zap.Error(err))
		}
		defer func() { _ = i2cBus.Close() }()
		hw = i2cBus
	}
	busMux := bus.NewMux(hw, sim, cfg.Bus.SimAddress)

	regMap := bus.DefaultRegisterMap()
	if cfg.Bus.RegisterMapFile != "" {
		regMap, err = bus.LoadRegisterMap(cfg.Bus.RegisterMapFile)
		if err != nil {
			log.Fatal("register map load error", zap.Error(err))
		}
	}

	// 5) 摄取缓冲 + UDP 网关 + 协议引擎
	ring := wireg.NewRing(cfg.UDP.RingSize, cfg.UDP.MaxDatagramSize, cfg.UDP.QueueDepth)
	ring.SetCallbacks(
		func() { appm.RingWrapTotal.Inc() },
		func(n int) { appm.QueueDepth.Set(float64(n)) },
	)
	udpSrv := udpserver.New(cfg.UDP, ring, log, appm)
	engine := wireg.NewEngine(busMux, udpSrv, wireg.Options{
		FirmwareRevision: cfg.Firmware.Revision,
		DeviceAddress:    cfg.Bus.DefaultDeviceAddress,
		Logger:           log,
		Metrics:          appm,
		Registers:        regMap,
	})
	bridge := gateway.New(serverID, udpSrv, ring, engine, log)

	// 6) 健康检查聚合器：总线探读 + UDP 网关状态
	checks := health.NewAggregator(
		health.NewBusChecker(busMux, engine.DeviceAddress, 0x00, regMap),
		health.NewUDPChecker(udpSrv, ring.Depth),
	)

	// 7) HTTP 服务（健康检查 / 指标 / 状态查询）
	httpSrv := httpserver.New(cfg.HTTP, cfg.Metrics.Path, metricsHandler,
		func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return bridge.Ready() && checks.Ready(ctx)
		},
		func() any { return bridge.Status() },
		func(ctx context.Context) any { return checks.Report(ctx) })

	go func() {
		if err := httpSrv.Start(); err != nil {
			log.Error("http server error", zap.Error(err))
		}
	}()
	if err := bridge.Start(); err != nil {
		log.Fatal("bridge start error", zap.Error(err))
	}

	// 信号处理，优雅关闭
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	_ = bridge.Shutdown(ctx)
}
