package health

import (
	"context"
	"time"

	"github.com/taoyao-code/regbridge/internal/udpserver"
)

// UDPChecker UDP网关健康检查器
type UDPChecker struct {
	server *udpserver.Server
	depthF func() int
}

// NewUDPChecker 创建UDP检查器，depthFn 提供摄取队列当前深度
func NewUDPChecker(server *udpserver.Server, depthFn func() int) *UDPChecker {
	return &UDPChecker{server: server, depthF: depthFn}
}

// Name 返回检查器名称
func (c *UDPChecker) Name() string {
	return "udp"
}

// Check 执行健康检查
func (c *UDPChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	addr := c.server.Addr()
	if addr == nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "udp socket not bound",
			Latency: time.Since(start),
		}
	}

	details := map[string]any{
		"addr":        addr.String(),
		"last_sender": c.server.LastSender(),
	}
	if c.depthF != nil {
		details["queue_depth"] = c.depthF()
	}
	if st := c.server.LimiterStats(); st != nil {
		details["rate_limiter"] = st
	}

	return CheckResult{
		Status:  StatusHealthy,
		Details: details,
		Latency: time.Since(start),
	}
}
