package wireg

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrRingClosed     = errors.New("ring closed")
	ErrDatagramTooBig = errors.New("datagram exceeds max size")
	ErrDatagramEmpty  = errors.New("empty datagram")
)

// descriptor 指向环形区域内一段在途数据报
type descriptor struct {
	off int
	n   int
}

// Ring 摄取缓冲：固定容量的环形字节区域 + 有界描述符队列。
// 单生产者（UDP 接收循环）调用 Submit，单消费者（协议引擎）调用 Take。
// 约定：当剩余连续空间小于最大数据报时，写指针直接回卷到 0，
// 宁可浪费尾部空间也绝不把一条数据报从边界处劈开。
//
// 覆盖安全依赖两点：Submit 先占住队列槽位再写区域（队列满时在写入前
// 阻塞），且区域容量至少 (队列深度+2)×最大数据报。于是任一时刻的占用
// 至多是 queueDepth 条在途数据报、一条消费者持有的视图、加上不足一条
// 数据报的回卷浪费，生产者不可能追上并覆盖仍被引用的切片。
type Ring struct {
	buf         []byte
	maxDatagram int
	w           int // 写指针，仅生产者触碰

	slots chan struct{} // 队列槽位信号量，写入区域前先占住
	descC chan descriptor
	done  chan struct{}
	once  sync.Once

	// 可选指标回调
	onWrap  func()
	onDepth func(n int)
}

// NewRing 创建摄取缓冲。
// size<=0 或不足以保证覆盖安全时，容量自动抬高到 (queueDepth+2)*maxDatagram。
func NewRing(size, maxDatagram, queueDepth int) *Ring {
	if maxDatagram <= 0 {
		maxDatagram = 2000
	}
	if queueDepth <= 0 {
		queueDepth = 32
	}
	min := (queueDepth + 2) * maxDatagram
	if size < min {
		size = min
	}
	return &Ring{
		buf:         make([]byte, size),
		maxDatagram: maxDatagram,
		slots:       make(chan struct{}, queueDepth),
		descC:       make(chan descriptor, queueDepth),
		done:        make(chan struct{}),
	}
}

// SetCallbacks 设置回卷与队列深度的指标回调
func (r *Ring) SetCallbacks(onWrap func(), onDepth func(int)) {
	r.onWrap, r.onDepth = onWrap, onDepth
}

// Submit 把一条数据报拷贝进环形区域并入队描述符。
// 队列满时阻塞生产者（背压），这一层不丢报文；Ring 关闭后返回 ErrRingClosed。
func (r *Ring) Submit(p []byte) error {
	if len(p) == 0 {
		return ErrDatagramEmpty
	}
	if len(p) > r.maxDatagram {
		return ErrDatagramTooBig
	}
	select {
	case <-r.done:
		return ErrRingClosed
	default:
	}

	// 先占槽位再写：队列满时必须在触碰区域之前阻塞，
	// 否则写入可能覆盖消费者仍持有的视图
	select {
	case r.slots <- struct{}{}:
	case <-r.done:
		return ErrRingClosed
	}

	// 剩余连续空间不足一条最大数据报时回卷到起点
	if len(r.buf)-r.w < r.maxDatagram {
		r.w = 0
		if r.onWrap != nil {
			r.onWrap()
		}
	}
	off := r.w
	copy(r.buf[off:], p)
	r.w = off + len(p)

	// 槽位已占住，入队不会阻塞
	r.descC <- descriptor{off: off, n: len(p)}
	if r.onDepth != nil {
		r.onDepth(len(r.descC))
	}
	return nil
}

// Take 阻塞等待下一条数据报，返回指向环形区域的只读视图。
// 视图在消费者下一次调用 Take 之前保持有效，用完再取。
// ctx 取消或 Ring 关闭时返回相应错误。
func (r *Ring) Take(ctx context.Context) ([]byte, error) {
	select {
	case d := <-r.descC:
		<-r.slots
		if r.onDepth != nil {
			r.onDepth(len(r.descC))
		}
		return r.buf[d.off : d.off+d.n], nil
	case <-r.done:
		// 关闭后把残留的描述符消费完，保证已接收的报文不丢
		select {
		case d := <-r.descC:
			<-r.slots
			return r.buf[d.off : d.off+d.n], nil
		default:
			return nil, ErrRingClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Depth 当前队列深度
func (r *Ring) Depth() int { return len(r.descC) }

// Close 关闭缓冲，唤醒两侧阻塞的调用
func (r *Ring) Close() {
	r.once.Do(func() { close(r.done) })
}
