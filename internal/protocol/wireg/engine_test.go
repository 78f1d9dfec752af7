package wireg

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/taoyao-code/regbridge/internal/bus"
)

// fakeTransport 记录引擎发出的应答。
// Run 循环的测试会跨 goroutine 读取，所以带锁。
type fakeTransport struct {
	mu      sync.Mutex
	replies [][]byte
	ports   []uint16
	rssi    int
	sendErr error
}

func (t *fakeTransport) SendReply(b []byte) error {
	if t.sendErr != nil {
		return t.sendErr
	}
	t.mu.Lock()
	t.replies = append(t.replies, append([]byte(nil), b...))
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) replyCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.replies)
}

func (t *fakeTransport) SetReplyPort(port uint16) { t.ports = append(t.ports, port) }

func (t *fakeTransport) SignalStrength() int { return t.rssi }

// failingBus 所有传输都失败
type failingBus struct{}

func (failingBus) Write(uint8, uint32, int, []byte) error { return bus.ErrWriteFailed }
func (failingBus) Read(uint8, uint32, int, int) ([]byte, error) {
	return nil, bus.ErrReadFailed
}

func newTestEngine(b bus.Bus) (*Engine, *fakeTransport) {
	if b == nil {
		b = bus.NewSimDevice(256)
	}
	tr := &fakeTransport{rssi: -60}
	e := NewEngine(b, tr, Options{FirmwareRevision: 1000})
	return e, tr
}

func lastReply(t *testing.T, tr *fakeTransport) []byte {
	t.Helper()
	if len(tr.replies) == 0 {
		t.Fatalf("expected a reply")
	}
	return tr.replies[len(tr.replies)-1]
}

func TestEngine_ShortFrameSilentDrop(t *testing.T) {
	e, tr := newTestEngine(nil)
	e.HandleDatagram([]byte{0x00, 0x00, 0x00, 0x01}) // 4 字节，不足帧头
	if len(tr.replies) != 0 {
		t.Fatalf("short frame must not be replied to")
	}
	if e.haveLastTransID {
		t.Fatalf("short frame must not touch session state")
	}
}

func TestEngine_InitSequence(t *testing.T) {
	e, tr := newTestEngine(nil)
	e.HandleDatagram(makeRequest(1, CmdInitSequence, nil))
	reply := lastReply(t, tr)
	want := []byte{0x00, 0x00, 0x00, 0x01, 0x00, 0x00}
	if !bytes.Equal(reply, want) {
		t.Fatalf("reply = % 02X, want % 02X", reply, want)
	}
}

func TestEngine_DuplicateSuppression(t *testing.T) {
	e, tr := newTestEngine(nil)

	frame := makeRequest(42, CmdWriteRegisters, makeWriteEntry(0x09, 1, []byte{0x40}))
	e.HandleDatagram(frame)
	if len(tr.replies) != 1 {
		t.Fatalf("first occurrence must be replied to")
	}

	// 字节级重传：无应答、无副作用
	e.HandleDatagram(frame)
	if len(tr.replies) != 1 {
		t.Fatalf("retransmission must be dropped silently")
	}
	if got := e.Snapshot().Duplicates; got != 1 {
		t.Fatalf("duplicates = %d, want 1", got)
	}

	// 相同事务号、不同载荷同样被抑制
	e.HandleDatagram(makeRequest(42, CmdWriteRegisters, makeWriteEntry(0x0A, 1, []byte{0x7F})))
	if len(tr.replies) != 1 {
		t.Fatalf("same transaction id must be suppressed regardless of payload")
	}
}

func TestEngine_InitSequenceResetsDedupWindow(t *testing.T) {
	e, tr := newTestEngine(nil)

	e.HandleDatagram(makeRequest(7, CmdGetFirmwareRevision, nil))
	e.HandleDatagram(makeRequest(7, CmdGetFirmwareRevision, nil)) // 被抑制
	if len(tr.replies) != 1 {
		t.Fatalf("expected duplicate to be dropped")
	}

	e.HandleDatagram(makeRequest(8, CmdInitSequence, nil))

	// INIT_SEQUENCE 之后同一事务号重新被接受
	e.HandleDatagram(makeRequest(7, CmdGetFirmwareRevision, nil))
	if len(tr.replies) != 3 {
		t.Fatalf("transaction id must be accepted again after INIT_SEQUENCE, replies=%d", len(tr.replies))
	}
}

func TestEngine_SetClientPortResetsDedupWindow(t *testing.T) {
	e, tr := newTestEngine(nil)

	e.HandleDatagram(makeRequest(5, CmdGetFirmwareRevision, nil))
	e.HandleDatagram(makeRequest(6, CmdSetClientPort, []byte{0x75, 0x30})) // 30000
	e.HandleDatagram(makeRequest(5, CmdGetFirmwareRevision, nil))

	if len(tr.replies) != 3 {
		t.Fatalf("expected 3 replies, got %d", len(tr.replies))
	}
	if len(tr.ports) != 1 || tr.ports[0] != 30000 {
		t.Fatalf("expected reply port 30000, got %v", tr.ports)
	}
}

func TestEngine_WriteReadRoundTrip(t *testing.T) {
	sim := bus.NewSimDevice(256)
	e, tr := newTestEngine(sim)

	// 两条写入拼成一个批次，value 长度和恰好吃光载荷
	payload := append(
		makeWriteEntry(0x10, 1, []byte{0x01, 0x03, 0x05, 0x07}),
		makeWriteEntry(0x20, 1, []byte{0xEE})...,
	)
	e.HandleDatagram(makeRequest(1, CmdWriteRegisters, payload))
	reply := lastReply(t, tr)
	if reply[5] != StatusOK || len(reply) != 6 {
		t.Fatalf("write reply = % 02X", reply)
	}

	// 读回同一段
	e.HandleDatagram(makeRequest(2, CmdReadRegisters, []byte{0x01, 0x10, 0x00, 0x04}))
	reply = lastReply(t, tr)
	if reply[5] != StatusOK {
		t.Fatalf("read reply status = %d", reply[5])
	}
	if !bytes.Equal(reply[6:], []byte{0x01, 0x03, 0x05, 0x07}) {
		t.Fatalf("read back % 02X", reply[6:])
	}
}

func TestEngine_TruncatedWriteBatch(t *testing.T) {
	sim := bus.NewSimDevice(256)
	e, tr := newTestEngine(sim)

	first := makeWriteEntry(0x30, 1, []byte{0xAA})
	second := makeWriteEntry(0x40, 1, []byte{0x01, 0x02, 0x03, 0x04})
	payload := append(first, second[:len(second)-2]...) // 末条声明 4 字节只给 2 字节

	e.HandleDatagram(makeRequest(9, CmdWriteRegisters, payload))
	reply := lastReply(t, tr)
	if reply[5] != StatusInsufficientData {
		t.Fatalf("status = %d, want INSUFFICIENT_DATA", reply[5])
	}

	// 前面的条目已生效，截断条目之后不再有写入
	data, err := sim.Read(0, 0x30, 1, 1)
	if err != nil || data[0] != 0xAA {
		t.Fatalf("first entry should have been written, got % 02X err=%v", data, err)
	}
	data, _ = sim.Read(0, 0x40, 1, 4)
	if !bytes.Equal(data, []byte{0, 0, 0, 0}) {
		t.Fatalf("truncated entry must not be written, got % 02X", data)
	}
}

func TestEngine_BusWriteFailure(t *testing.T) {
	e, tr := newTestEngine(failingBus{})
	// 引擎默认设备地址 0，把目标切到非模拟地址以落在 failingBus 上没有必要：
	// failingBus 直接作为引擎总线，所有地址都失败
	e.HandleDatagram(makeRequest(3, CmdWriteRegisters, makeWriteEntry(0x29, 1, []byte{0x01})))
	reply := lastReply(t, tr)
	if reply[5] != StatusBusWriteFailed {
		t.Fatalf("status = %d, want BUS_WRITE_FAILED", reply[5])
	}
	// 出错的寄存器地址按声明宽度回显
	if !bytes.Equal(reply[6:], []byte{0x29}) {
		t.Fatalf("error payload = % 02X, want 29", reply[6:])
	}
}

func TestEngine_BusReadFailure(t *testing.T) {
	e, tr := newTestEngine(failingBus{})
	e.HandleDatagram(makeRequest(4, CmdReadRegisters, []byte{0x02, 0x12, 0x34, 0x00, 0x01}))
	reply := lastReply(t, tr)
	if reply[5] != StatusBusReadFailed {
		t.Fatalf("status = %d, want BUS_READ_FAILED", reply[5])
	}
	if !bytes.Equal(reply[6:], []byte{0x12, 0x34}) {
		t.Fatalf("error payload = % 02X, want 12 34", reply[6:])
	}
}

func TestEngine_SetDeviceAddress(t *testing.T) {
	e, tr := newTestEngine(nil)
	e.HandleDatagram(makeRequest(11, CmdSetDeviceAddress, []byte{0x23}))
	reply := lastReply(t, tr)
	if reply[5] != StatusOK {
		t.Fatalf("status = %d", reply[5])
	}
	if e.DeviceAddress() != 0x23 {
		t.Fatalf("device address = %02X, want 23", e.DeviceAddress())
	}

	// 空载荷拿不到地址
	e.HandleDatagram(makeRequest(12, CmdSetDeviceAddress, nil))
	reply = lastReply(t, tr)
	if reply[5] != StatusInsufficientData {
		t.Fatalf("status = %d, want INSUFFICIENT_DATA", reply[5])
	}
}

func TestEngine_DeviceAddressConcurrentRead(t *testing.T) {
	// 状态查询与健康检查在消费者之外的 goroutine 读设备地址，
	// -race 下必须干净
	e, _ := newTestEngine(nil)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = e.DeviceAddress()
			}
		}
	}()

	for i := 0; i < 100; i++ {
		e.HandleDatagram(makeRequest(uint32(100+i), CmdSetDeviceAddress, []byte{byte(i)}))
	}
	close(stop)
	wg.Wait()

	if e.DeviceAddress() != 99 {
		t.Fatalf("device address = %d, want 99", e.DeviceAddress())
	}
}

func TestEngine_GetFirmwareRevision(t *testing.T) {
	e, tr := newTestEngine(nil)
	e.HandleDatagram(makeRequest(13, CmdGetFirmwareRevision, nil))
	reply := lastReply(t, tr)
	// 1000 = 0x03E8，两字节大端
	if !bytes.Equal(reply[6:], []byte{0x03, 0xE8}) {
		t.Fatalf("revision payload = % 02X", reply[6:])
	}
}

func TestEngine_GetSignalStrength(t *testing.T) {
	e, tr := newTestEngine(nil)
	tr.rssi = -60
	e.HandleDatagram(makeRequest(14, CmdGetSignalStrength, nil))
	reply := lastReply(t, tr)
	if len(reply) != 7 {
		t.Fatalf("reply = % 02X", reply)
	}
	if got := int8(reply[6]); got != -60 {
		t.Fatalf("rssi = %d, want -60", got)
	}
}

func TestEngine_UnknownCommandSilentDrop(t *testing.T) {
	e, tr := newTestEngine(nil)
	e.HandleDatagram(makeRequest(15, 0x7F, []byte{0x01}))
	if len(tr.replies) != 0 {
		t.Fatalf("unknown command must not be replied to")
	}
	// 未知命令按协议状态机吃掉事务号（步骤 4 在分发之前）
	if !e.haveLastTransID || e.lastTransID != 15 {
		t.Fatalf("unknown command should still consume the transaction id")
	}
}

func TestEngine_RunConsumesRing(t *testing.T) {
	e, tr := newTestEngine(nil)
	r := NewRing(0, 64, 4)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), r) }()

	if err := r.Submit(makeRequest(1, CmdInitSequence, nil)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := r.Submit(makeRequest(2, CmdGetFirmwareRevision, nil)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for tr.replyCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := tr.replyCount(); n != 2 {
		t.Fatalf("expected 2 replies, got %d", n)
	}

	r.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not stop after ring close")
	}
}

func TestEngine_SendFailureDoesNotPanic(t *testing.T) {
	e, tr := newTestEngine(nil)
	tr.sendErr = errors.New("transport down")
	e.HandleDatagram(makeRequest(1, CmdInitSequence, nil))
	if got := e.Snapshot().Replies; got != 0 {
		t.Fatalf("replies = %d, want 0", got)
	}
}
