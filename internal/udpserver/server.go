// Package udpserver 实现 UDP 网关：接收数据报、记录最近发送方、回发应答。
// 接收循环是协议引擎的生产者，经由环形缓冲与引擎交接。
package udpserver

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/regbridge/internal/config"
	"github.com/taoyao-code/regbridge/internal/metrics"
	"github.com/taoyao-code/regbridge/internal/protocol/wireg"
)

var ErrNoClient = errors.New("no known client to reply to")

// Server UDP 网关。只跟踪"最近一次"的发送方（协议约定的单客户端会话模型）。
type Server struct {
	cfg     cfgpkg.UDPConfig
	conn    *net.UDPConn
	ring    *wireg.Ring
	log     *zap.Logger
	m       *metrics.AppMetrics
	limiter *RateLimiter

	wg    sync.WaitGroup
	stopC chan struct{}

	// mu 保护最近发送方与应答端口；接收循环写入，引擎上下文经 SendReply 读取
	mu         sync.Mutex
	lastSender *net.UDPAddr
	replyPort  uint16
}

// New 创建 UDP 网关
func New(cfg cfgpkg.UDPConfig, ring *wireg.Ring, log *zap.Logger, m *metrics.AppMetrics) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{cfg: cfg, ring: ring, log: log, m: m, stopC: make(chan struct{})}
	if cfg.RatePerSecond > 0 {
		s.limiter = NewRateLimiter(cfg.RatePerSecond, cfg.RateBurst)
	}
	return s
}

// Start 绑定端口并启动接收循环（非阻塞，内部 goroutine）
func (s *Server) Start() error {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.Addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	s.conn = conn
	s.log.Info("udp gateway listening", zap.String("addr", conn.LocalAddr().String()))

	s.wg.Add(1)
	go s.recvLoop()
	return nil
}

// recvLoop 生产者循环：收一条报文，记录发送方，提交进环形缓冲。
// 环形缓冲队列满时 Submit 阻塞，背压传导到 UDP 接收（内核侧排队/丢弃）。
func (s *Server) recvLoop() {
	defer s.wg.Done()
	buf := make([]byte, s.cfg.MaxDatagramSize)
	for {
		n, sender, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.stopC:
				return
			default:
			}
			s.log.Error("udp read failed", zap.Error(err))
			continue
		}
		if n == 0 {
			continue
		}
		if s.m != nil {
			s.m.UDPDatagrams.Inc()
			s.m.UDPBytesReceived.Add(float64(n))
		}
		if s.limiter != nil && !s.limiter.Allow() {
			if s.m != nil {
				s.m.UDPDropped.Inc()
			}
			continue
		}

		s.mu.Lock()
		s.lastSender = sender
		s.mu.Unlock()

		if err := s.ring.Submit(buf[:n]); err != nil {
			if errors.Is(err, wireg.ErrRingClosed) {
				return
			}
			// 超长报文等异常：丢弃本条，继续收
			s.log.Warn("datagram not ingested", zap.Int("len", n), zap.Error(err))
		}
	}
}

// Addr 实际监听地址（Start 之后有效），测试里配 ":0" 时用它拿真实端口
func (s *Server) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// SendReply 把应答发给最近发送方。设置过应答端口就发到那个端口，
// 否则原路发回数据报的来源端口。
func (s *Server) SendReply(b []byte) error {
	s.mu.Lock()
	sender := s.lastSender
	port := s.replyPort
	s.mu.Unlock()

	if sender == nil {
		return ErrNoClient
	}
	dst := &net.UDPAddr{IP: sender.IP, Port: sender.Port, Zone: sender.Zone}
	if port != 0 {
		dst.Port = int(port)
	}
	_, err := s.conn.WriteToUDP(b, dst)
	return err
}

// SetReplyPort 设置客户端应答端口（0 表示原路返回）
func (s *Server) SetReplyPort(port uint16) {
	s.mu.Lock()
	s.replyPort = port
	s.mu.Unlock()
}

// SignalStrength 上报配置的信号强度（dBm）
func (s *Server) SignalStrength() int { return s.cfg.SignalStrength }

// LastSender 最近发送方地址的字符串形式，没有客户端时为空串
func (s *Server) LastSender() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSender == nil {
		return ""
	}
	return s.lastSender.String()
}

// LimiterStats 限流统计；未启用限流时返回 nil
func (s *Server) LimiterStats() *RateLimiterStats {
	if s.limiter == nil {
		return nil
	}
	st := s.limiter.Stats()
	return &st
}

// Shutdown 关闭套接字并等待接收循环退出
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stopC)
	if s.conn != nil {
		_ = s.conn.Close()
	}
	ch := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}
