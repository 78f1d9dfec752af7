package health

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/taoyao-code/regbridge/internal/bus"
)

// BusChecker 总线健康检查器：向当前目标设备探读版本寄存器。
// 总线不可达时服务仍在应答（带错误状态码），因此判定为降级而非不健康。
type BusChecker struct {
	bus      bus.Bus
	deviceFn func() uint8
	probeReg uint32
	regs     *bus.RegisterMap
}

// NewBusChecker 创建总线检查器，deviceFn 提供当前目标设备地址
func NewBusChecker(b bus.Bus, deviceFn func() uint8, probeReg uint32, regs *bus.RegisterMap) *BusChecker {
	if regs == nil {
		regs = bus.DefaultRegisterMap()
	}
	return &BusChecker{bus: b, deviceFn: deviceFn, probeReg: probeReg, regs: regs}
}

// Name 返回检查器名称
func (c *BusChecker) Name() string {
	return "bus"
}

// Check 执行健康检查
func (c *BusChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	dev := c.deviceFn()

	data, err := c.bus.Read(dev, c.probeReg, 1, 1)
	if err != nil {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("probe read failed: %v", err),
			Details: map[string]any{
				"device":   dev,
				"register": c.regs.Name(c.probeReg),
			},
			Latency: time.Since(start),
		}
	}

	return CheckResult{
		Status: StatusHealthy,
		Details: map[string]any{
			"device":   dev,
			"register": c.regs.Name(c.probeReg),
			"value":    hex.EncodeToString(data),
		},
		Latency: time.Since(start),
	}
}
