package bus

import "sync"

// SimDevice 软件模拟设备：固定大小的可寻址字节数组，地址按空间大小取模回绕。
// 用于在没有物理外设的情况下联调协议引擎。
type SimDevice struct {
	mu  sync.Mutex
	mem []byte
}

// NewSimDevice 创建 size 字节寄存器空间的模拟设备；size<=0 时取 256
func NewSimDevice(size int) *SimDevice {
	if size <= 0 {
		size = 256
	}
	return &SimDevice{mem: make([]byte, size)}
}

// Size 寄存器空间大小
func (s *SimDevice) Size() int { return len(s.mem) }

func (s *SimDevice) Write(_ uint8, reg uint32, _ int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := uint32(len(s.mem))
	for i, b := range data {
		s.mem[(reg+uint32(i))%n] = b
	}
	return nil
}

func (s *SimDevice) Read(_ uint8, reg uint32, _ int, length int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := uint32(len(s.mem))
	out := make([]byte, length)
	for i := range out {
		out[i] = s.mem[(reg+uint32(i))%n]
	}
	return out, nil
}
