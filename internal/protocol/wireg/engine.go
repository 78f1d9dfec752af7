package wireg

import (
	"context"
	"encoding/binary"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/taoyao-code/regbridge/internal/bus"
	"github.com/taoyao-code/regbridge/internal/metrics"
)

// Transport 引擎依赖的传输侧协作接口：应答回发给最近一次的发送方
type Transport interface {
	// SendReply 把应答帧发给最近的发送方
	SendReply(b []byte) error
	// SetReplyPort 设置客户端应答端口（SET_CLIENT_PORT 命令）
	SetReplyPort(port uint16)
	// SignalStrength 传输侧信号强度（dBm）
	SignalStrength() int
}

// Options 引擎构造参数
type Options struct {
	FirmwareRevision uint16
	DeviceAddress    uint8
	Logger           *zap.Logger
	Metrics          *metrics.AppMetrics
	Registers        *bus.RegisterMap
}

// Stats 引擎运行计数，供状态查询接口读取（引擎单消费者，读取方跨 goroutine）
type Stats struct {
	Accepted   atomic.Uint64
	Duplicates atomic.Uint64
	ShortDrops atomic.Uint64
	UnknownCmd atomic.Uint64
	Replies    atomic.Uint64
	BusErrors  atomic.Uint64
}

// StatsSnapshot Stats 的一次性快照
type StatsSnapshot struct {
	Accepted   uint64 `json:"accepted"`
	Duplicates uint64 `json:"duplicates"`
	ShortDrops uint64 `json:"short_drops"`
	UnknownCmd uint64 `json:"unknown_cmd"`
	Replies    uint64 `json:"replies"`
	BusErrors  uint64 `json:"bus_errors"`
}

// Engine 命令分发器（协议状态机）。
// 单实例单消费者：Run 循环逐帧处理，会话状态只在消费者上下文内读写。
type Engine struct {
	bus  bus.Bus
	tr   Transport
	log  *zap.Logger
	m    *metrics.AppMetrics
	regs *bus.RegisterMap

	fwRevision uint16

	// 会话状态，仅消费者上下文触碰
	lastTransID     uint32
	haveLastTransID bool
	activeCmd       uint8

	// deviceAddr 由 SET_DEVICE_ADDRESS 写入、状态查询与健康检查跨
	// goroutine 读取，必须原子访问
	deviceAddr atomic.Uint32

	// 应答组装缓冲，引擎独占，按帧复用
	reply []byte

	stats Stats
}

// NewEngine 创建命令分发器
func NewEngine(b bus.Bus, tr Transport, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	regs := opts.Registers
	if regs == nil {
		regs = bus.DefaultRegisterMap()
	}
	e := &Engine{
		bus:        b,
		tr:         tr,
		log:        log,
		m:          opts.Metrics,
		regs:       regs,
		fwRevision: opts.FirmwareRevision,
		reply:      make([]byte, 0, 512),
	}
	e.deviceAddr.Store(uint32(opts.DeviceAddress))
	return e
}

// Stats 返回运行计数
func (e *Engine) Stats() *Stats { return &e.stats }

// Snapshot 返回计数快照
func (e *Engine) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Accepted:   e.stats.Accepted.Load(),
		Duplicates: e.stats.Duplicates.Load(),
		ShortDrops: e.stats.ShortDrops.Load(),
		UnknownCmd: e.stats.UnknownCmd.Load(),
		Replies:    e.stats.Replies.Load(),
		BusErrors:  e.stats.BusErrors.Load(),
	}
}

// DeviceAddress 当前目标设备地址
func (e *Engine) DeviceAddress() uint8 { return uint8(e.deviceAddr.Load()) }

// Run 消费循环：逐条取出数据报并处理，直到 ctx 取消或 Ring 关闭。
// 不允许并发调用。
func (e *Engine) Run(ctx context.Context, ring *Ring) error {
	for {
		pkt, err := ring.Take(ctx)
		if err != nil {
			if errors.Is(err, ErrRingClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		e.HandleDatagram(pkt)
	}
}

// HandleDatagram 处理一帧请求。视图只在本次调用期间有效。
func (e *Engine) HandleDatagram(raw []byte) {
	f, err := Parse(raw)
	if err != nil {
		// 不足一个帧头：静默丢弃，不应答也不动任何状态
		e.stats.ShortDrops.Add(1)
		e.countFrame("short")
		return
	}

	// INIT_SEQUENCE 与 SET_CLIENT_PORT 重开去重窗口（客户端重连后事务号从头来）
	if f.Cmd == CmdInitSequence || f.Cmd == CmdSetClientPort {
		e.haveLastTransID = false
	}

	// 重传抑制：紧邻重复的事务号静默丢弃，避免执行两次
	if e.haveLastTransID && f.TransID == e.lastTransID {
		e.stats.Duplicates.Add(1)
		e.countFrame("duplicate")
		e.log.Debug("duplicate transaction dropped", zap.Uint32("trans_id", f.TransID))
		return
	}
	e.lastTransID = f.TransID
	e.haveLastTransID = true
	e.activeCmd = f.Cmd

	e.stats.Accepted.Add(1)
	e.countFrame("ok")
	if e.m != nil {
		e.m.CommandTotal.WithLabelValues(cmdLabel(f.Cmd)).Inc()
	}

	switch f.Cmd {
	case CmdInitSequence:
		e.sendReply(f.TransID, StatusOK, nil)
	case CmdSetClientPort:
		e.handleSetClientPort(f)
	case CmdSetDeviceAddress:
		e.handleSetDeviceAddress(f)
	case CmdWriteRegisters:
		e.handleWriteRegisters(f)
	case CmdReadRegisters:
		e.handleReadRegisters(f)
	case CmdGetFirmwareRevision:
		e.handleGetFirmwareRevision(f)
	case CmdGetSignalStrength:
		e.handleGetSignalStrength(f)
	default:
		// 未知命令不应答（沿用既有行为）
		e.stats.UnknownCmd.Add(1)
		e.countFrame("unknown_cmd")
		e.log.Warn("unknown command dropped",
			zap.Uint32("trans_id", f.TransID), zap.Uint8("cmd", f.Cmd))
	}
}

func (e *Engine) handleSetClientPort(f *Frame) {
	if len(f.Payload) < 2 {
		e.sendReply(f.TransID, StatusInsufficientData, nil)
		return
	}
	port := binary.BigEndian.Uint16(f.Payload[0:2])
	e.tr.SetReplyPort(port)
	e.log.Info("client reply port set", zap.Uint16("port", port))
	e.sendReply(f.TransID, StatusOK, nil)
}

func (e *Engine) handleSetDeviceAddress(f *Frame) {
	if len(f.Payload) < 1 {
		e.sendReply(f.TransID, StatusInsufficientData, nil)
		return
	}
	e.deviceAddr.Store(uint32(f.Payload[0]))
	e.log.Info("device address set", zap.Uint8("address", f.Payload[0]))
	e.sendReply(f.TransID, StatusOK, nil)
}

// handleWriteRegisters 顺序消费批量写入条目直至载荷耗尽。
// 声明长度超出剩余载荷属于协议违例，批次中止且不可恢复。
func (e *Engine) handleWriteRegisters(f *Frame) {
	dev := e.DeviceAddress()
	rest := f.Payload
	for len(rest) > 0 {
		entry, remain, err := nextWriteEntry(rest)
		if err != nil {
			e.sendReply(f.TransID, StatusInsufficientData, regAddrPayload(entry))
			return
		}
		if err := e.bus.Write(dev, entry.Reg, entry.RegWidth, entry.Value); err != nil {
			e.busError("write", entry.Reg, err)
			e.sendReply(f.TransID, StatusBusWriteFailed, regAddrPayload(entry))
			return
		}
		rest = remain
	}
	e.sendReply(f.TransID, StatusOK, nil)
}

func (e *Engine) handleReadRegisters(f *Frame) {
	req, err := parseReadRequest(f.Payload)
	if err != nil {
		e.sendReply(f.TransID, StatusInsufficientData, nil)
		return
	}
	data, err := e.bus.Read(e.DeviceAddress(), req.Reg, req.RegWidth, req.Length)
	if err != nil {
		e.busError("read", req.Reg, err)
		e.sendReply(f.TransID, StatusBusReadFailed,
			regAddrPayload(WriteEntry{Reg: req.Reg, RegWidth: req.RegWidth}))
		return
	}
	e.sendReply(f.TransID, StatusOK, data)
}

func (e *Engine) handleGetFirmwareRevision(f *Frame) {
	var rev [2]byte
	binary.BigEndian.PutUint16(rev[:], e.fwRevision)
	e.sendReply(f.TransID, StatusOK, rev[:])
}

func (e *Engine) handleGetSignalStrength(f *Frame) {
	rssi := int8(e.tr.SignalStrength())
	e.sendReply(f.TransID, StatusOK, []byte{byte(rssi)})
}

// sendReply 组装并发送应答帧，应答回显 activeCmd
func (e *Engine) sendReply(transID uint32, status uint8, payload []byte) {
	e.reply = AppendReply(e.reply[:0], transID, e.activeCmd, status, payload)
	if err := e.tr.SendReply(e.reply); err != nil {
		e.log.Error("send reply failed", zap.Error(err))
		return
	}
	e.stats.Replies.Add(1)
	if e.m != nil {
		e.m.ReplyTotal.WithLabelValues(statusLabel(status)).Inc()
	}
}

func (e *Engine) busError(op string, reg uint32, err error) {
	e.stats.BusErrors.Add(1)
	if e.m != nil {
		e.m.BusErrorTotal.WithLabelValues(op).Inc()
	}
	e.log.Warn("bus transfer failed",
		zap.String("op", op),
		zap.String("register", e.regs.Name(reg)),
		zap.Uint8("device", e.DeviceAddress()),
		zap.Error(err))
}

func (e *Engine) countFrame(result string) {
	if e.m != nil {
		e.m.FrameTotal.WithLabelValues(result).Inc()
	}
}

// regAddrPayload 错误应答里回显出错的寄存器地址，按声明宽度大端编码。
// 连寄存器地址都没解析出来（宽度 0）时载荷为空。
func regAddrPayload(entry WriteEntry) []byte {
	if entry.RegWidth <= 0 {
		return nil
	}
	out := make([]byte, entry.RegWidth)
	reg := entry.Reg
	for i := entry.RegWidth - 1; i >= 0; i-- {
		out[i] = byte(reg)
		reg >>= 8
	}
	return out
}

func cmdLabel(cmd uint8) string {
	switch cmd {
	case CmdInitSequence:
		return "init_sequence"
	case CmdSetClientPort:
		return "set_client_port"
	case CmdSetDeviceAddress:
		return "set_device_address"
	case CmdWriteRegisters:
		return "write_registers"
	case CmdReadRegisters:
		return "read_registers"
	case CmdGetFirmwareRevision:
		return "get_firmware_revision"
	case CmdGetSignalStrength:
		return "get_signal_strength"
	}
	return "unknown"
}

func statusLabel(status uint8) string {
	switch status {
	case StatusOK:
		return "ok"
	case StatusInsufficientData:
		return "insufficient_data"
	case StatusBusWriteFailed:
		return "bus_write_failed"
	case StatusBusReadFailed:
		return "bus_read_failed"
	}
	return "unknown"
}
