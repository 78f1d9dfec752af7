package bus

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RegisterMap 寄存器命名表：地址 -> 名称，用于日志与状态查询的可读输出
type RegisterMap struct {
	Names map[uint32]string `yaml:"names"`
}

// DefaultRegisterMap 返回内置命名表（目标 FPGA 的控制寄存器组）
func DefaultRegisterMap() *RegisterMap {
	return &RegisterMap{
		Names: map[uint32]string{
			0x00: "REG_VER",
			0x01: "REG_REV",
			0x04: "REG_EN",
			0x05: "REG_TX_START",
			0x07: "REG_TX_PT_DUR_MSB",
			0x08: "REG_TX_PT_DUR_LSB",
			0x25: "REG_TX_PT_SEL",
			0x26: "REG_TX_SEQ_LOOP_CNT",
			0x28: "REG_TX_SEQ_SEL",
			0x29: "REG_CLK_SEL",
			0x2A: "REG_PRF",
			0x80: "REG_RAM",
		},
	}
}

// LoadRegisterMap 从 YAML 文件加载命名表
func LoadRegisterMap(path string) (*RegisterMap, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read register map: %w", err)
	}
	var m RegisterMap
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal register map: %w", err)
	}
	if m.Names == nil {
		m.Names = make(map[uint32]string)
	}
	return &m, nil
}

// Name 返回寄存器名称；没有命名时回落到十六进制地址
func (m *RegisterMap) Name(reg uint32) string {
	if m != nil {
		if n, ok := m.Names[reg]; ok {
			return n
		}
	}
	return fmt.Sprintf("0x%02X", reg)
}
