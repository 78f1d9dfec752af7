// Package bus 抽象寄存器可寻址的外设总线。
// 协议引擎只通过 Bus 接口读写寄存器，不关心底层是真实 I2C 外设还是软件模拟设备。
package bus

import "errors"

var (
	ErrWriteFailed = errors.New("bus write failed")
	ErrReadFailed  = errors.New("bus read failed")
)

// Bus 寄存器总线接口。
// regWidth 表示地址阶段要传输的地址字节数（1~4，协议允许 0，见引擎侧说明），
// 只影响寻址阶段，不限制 data/length 的大小。
// 实现约定：传输失败以 error 返回，绝不 panic。
type Bus interface {
	// Write 向 dev 设备的 reg 寄存器写入 data
	Write(dev uint8, reg uint32, regWidth int, data []byte) error
	// Read 从 dev 设备的 reg 寄存器读出 length 字节
	Read(dev uint8, reg uint32, regWidth int, length int) ([]byte, error)
}

// Mux 按设备地址路由：命中 simAddr 走软件模拟设备，其余走硬件总线。
// 硬件总线可以为 nil（纯模拟部署），此时非模拟地址的访问直接失败。
type Mux struct {
	hw      Bus
	sim     Bus
	simAddr uint8
}

// NewMux 创建设备地址路由器
func NewMux(hw, sim Bus, simAddr uint8) *Mux {
	return &Mux{hw: hw, sim: sim, simAddr: simAddr}
}

func (m *Mux) pick(dev uint8) Bus {
	if dev == m.simAddr {
		return m.sim
	}
	return m.hw
}

func (m *Mux) Write(dev uint8, reg uint32, regWidth int, data []byte) error {
	b := m.pick(dev)
	if b == nil {
		return ErrWriteFailed
	}
	return b.Write(dev, reg, regWidth, data)
}

func (m *Mux) Read(dev uint8, reg uint32, regWidth int, length int) ([]byte, error) {
	b := m.pick(dev)
	if b == nil {
		return nil, ErrReadFailed
	}
	return b.Read(dev, reg, regWidth, length)
}
