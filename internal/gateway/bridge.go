// Package gateway 把 UDP 网关、环形缓冲与协议引擎装配成一个桥接器：
// 生产者是 UDP 接收循环，消费者是引擎的 Run 循环，二者只共享描述符队列。
package gateway

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/taoyao-code/regbridge/internal/protocol/wireg"
	"github.com/taoyao-code/regbridge/internal/udpserver"
)

// Bridge 桥接器：持有两个执行上下文的生命周期
type Bridge struct {
	serverID string
	udp      *udpserver.Server
	ring     *wireg.Ring
	engine   *wireg.Engine
	log      *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  atomic.Bool
}

// New 组装桥接器
func New(serverID string, udp *udpserver.Server, ring *wireg.Ring, engine *wireg.Engine, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{serverID: serverID, udp: udp, ring: ring, engine: engine, log: log}
}

// Start 启动 UDP 接收与引擎消费循环
func (b *Bridge) Start() error {
	if err := b.udp.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.engine.Run(ctx, b.ring); err != nil {
			b.log.Error("engine stopped", zap.Error(err))
		}
	}()

	b.ready.Store(true)
	b.log.Info("bridge started", zap.String("server_id", b.serverID))
	return nil
}

// Ready 就绪探针
func (b *Bridge) Ready() bool { return b.ready.Load() }

// Status 状态查询载荷（/api/v1/status）
type Status struct {
	ServerID      string                      `json:"server_id"`
	LastSender    string                      `json:"last_sender"`
	DeviceAddress uint8                       `json:"device_address"`
	QueueDepth    int                         `json:"queue_depth"`
	Engine        wireg.StatsSnapshot         `json:"engine"`
	RateLimiter   *udpserver.RateLimiterStats `json:"rate_limiter,omitempty"`
}

// Status 汇总当前运行状态
func (b *Bridge) Status() Status {
	return Status{
		ServerID:      b.serverID,
		LastSender:    b.udp.LastSender(),
		DeviceAddress: b.engine.DeviceAddress(),
		QueueDepth:    b.ring.Depth(),
		Engine:        b.engine.Snapshot(),
		RateLimiter:   b.udp.LimiterStats(),
	}
}

// Shutdown 先停传输侧，再关缓冲唤醒引擎，最后等消费循环退出
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.ready.Store(false)
	err := b.udp.Shutdown(ctx)
	b.ring.Close()
	if b.cancel != nil {
		b.cancel()
	}

	ch := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return err
	}
}
