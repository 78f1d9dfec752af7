// Package wireg 实现 UDP 寄存器桥的命令协议引擎：
// 帧解析、事务去重、变宽寄存器寻址、以及接收/执行两个执行上下文之间的环形缓冲交接。
package wireg

import (
	"encoding/binary"
	"errors"
)

// 帧格式（所有多字节整数大端）：
// 请求: transID[4] | cmd[1] | payload[...]
// 应答: transID[4] | cmd[1] | status[1] | payload[...]

// HeaderLen 请求帧最小长度（transID + cmd）
const HeaderLen = 5

// 命令码
const (
	CmdInitSequence        uint8 = 0 // 重新开始一段会话，清空去重窗口
	CmdSetClientPort       uint8 = 1 // 设置应答端口，同样清空去重窗口
	CmdSetDeviceAddress    uint8 = 2 // 切换目标设备地址
	CmdWriteRegisters      uint8 = 3 // 批量寄存器写
	CmdReadRegisters       uint8 = 4 // 单次寄存器读
	CmdGetFirmwareRevision uint8 = 5 // 查询固件版本
	CmdGetSignalStrength   uint8 = 6 // 查询信号强度
)

// 应答状态码
const (
	StatusOK               uint8 = 0
	StatusInsufficientData uint8 = 1
	StatusBusWriteFailed   uint8 = 2
	StatusBusReadFailed    uint8 = 3
)

var (
	ErrShortFrame = errors.New("short frame")
	ErrShortEntry = errors.New("short register entry")
)

// Frame 一条已解析的请求帧
type Frame struct {
	TransID uint32
	Cmd     uint8
	Payload []byte
}

// Parse 解析请求帧。不足 5 字节返回 ErrShortFrame，调用方应静默丢弃。
// Payload 是对 raw 的切片引用，不做拷贝。
func Parse(raw []byte) (*Frame, error) {
	if len(raw) < HeaderLen {
		return nil, ErrShortFrame
	}
	return &Frame{
		TransID: binary.BigEndian.Uint32(raw[0:4]),
		Cmd:     raw[4],
		Payload: raw[HeaderLen:],
	}, nil
}

// WriteEntry WRITE_REGISTERS 载荷中的一条写入：
// regWidth[1] | reg[regWidth] | valueLen[2] | value[valueLen]
type WriteEntry struct {
	Reg      uint32
	RegWidth int
	Value    []byte
}

// nextWriteEntry 从 payload 头部取出一条写入，返回剩余字节。
// 任何形式的截断（头不完整或 value 不足声明长度）都返回 ErrShortEntry，
// 同时尽量带回已解析到的寄存器地址，供错误应答回显。
func nextWriteEntry(payload []byte) (entry WriteEntry, rest []byte, err error) {
	if len(payload) < 1 {
		return entry, nil, ErrShortEntry
	}
	width := int(payload[0])
	if len(payload) < 1+width {
		return entry, nil, ErrShortEntry
	}
	entry.RegWidth = width
	// 宽度 0 时不进行累加，地址按 0 处理
	for i := 0; i < width; i++ {
		entry.Reg = entry.Reg<<8 | uint32(payload[1+i])
	}
	// 地址已解析完，之后的截断错误都能回显出错地址
	if len(payload) < 1+width+2 {
		return entry, nil, ErrShortEntry
	}
	valueLen := int(binary.BigEndian.Uint16(payload[1+width : 1+width+2]))
	body := payload[1+width+2:]
	if len(body) < valueLen {
		return entry, nil, ErrShortEntry
	}
	entry.Value = body[:valueLen]
	return entry, body[valueLen:], nil
}

// ReadRequest READ_REGISTERS 的完整载荷：
// regWidth[1] | reg[regWidth] | length[2]
type ReadRequest struct {
	Reg      uint32
	RegWidth int
	Length   int
}

// parseReadRequest 解析单次读请求
func parseReadRequest(payload []byte) (req ReadRequest, err error) {
	if len(payload) < 1 {
		return req, ErrShortEntry
	}
	width := int(payload[0])
	if len(payload) < 1+width+2 {
		return req, ErrShortEntry
	}
	req.RegWidth = width
	for i := 0; i < width; i++ {
		req.Reg = req.Reg<<8 | uint32(payload[1+i])
	}
	req.Length = int(binary.BigEndian.Uint16(payload[1+width : 1+width+2]))
	return req, nil
}
