package bus

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// I2CBus 真实外设适配：通过 periph.io 的 I2C 主机接口完成寄存器读写。
// 地址阶段发送 regWidth 字节的寄存器地址（大端），随后是数据阶段。
type I2CBus struct {
	mu  sync.Mutex
	bus i2c.BusCloser
}

// NewI2CBus 打开 periph.io I2C 总线；busName 为空使用系统默认总线
func NewI2CBus(busName string) (*I2CBus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}
	b, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}
	return &I2CBus{bus: b}, nil
}

// Close 关闭底层总线
func (b *I2CBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bus.Close()
}

// regAddrBytes 把寄存器地址按声明宽度展开为大端字节（宽度 0 返回空地址阶段）
func regAddrBytes(reg uint32, regWidth int) []byte {
	out := make([]byte, regWidth)
	for i := regWidth - 1; i >= 0; i-- {
		out[i] = byte(reg)
		reg >>= 8
	}
	return out
}

func (b *I2CBus) Write(dev uint8, reg uint32, regWidth int, data []byte) error {
	w := append(regAddrBytes(reg, regWidth), data...)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.bus.Tx(uint16(dev), w, nil); err != nil {
		return fmt.Errorf("%w: dev=0x%02X reg=0x%X: %v", ErrWriteFailed, dev, reg, err)
	}
	return nil
}

func (b *I2CBus) Read(dev uint8, reg uint32, regWidth int, length int) ([]byte, error) {
	out := make([]byte, length)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.bus.Tx(uint16(dev), regAddrBytes(reg, regWidth), out); err != nil {
		return nil, fmt.Errorf("%w: dev=0x%02X reg=0x%X: %v", ErrReadFailed, dev, reg, err)
	}
	return out, nil
}
