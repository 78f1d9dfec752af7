package udpserver

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cfgpkg "github.com/taoyao-code/regbridge/internal/config"
	"github.com/taoyao-code/regbridge/internal/protocol/wireg"
)

func startServer(t *testing.T) (*Server, *wireg.Ring) {
	t.Helper()
	cfg := cfgpkg.UDPConfig{
		Addr:            "127.0.0.1:0",
		MaxDatagramSize: 512,
		QueueDepth:      8,
		SignalStrength:  -42,
	}
	ring := wireg.NewRing(0, cfg.MaxDatagramSize, cfg.QueueDepth)
	srv := New(cfg, ring, nil, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		ring.Close()
	})
	return srv, ring
}

func TestServer_IngestAndReply(t *testing.T) {
	srv, ring := startServer(t)

	client, err := net.DialUDP("udp", nil, srv.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	msg := []byte{0x00, 0x00, 0x00, 0x01, 0x00}
	_, err = client.Write(msg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pkt, err := ring.Take(ctx)
	require.NoError(t, err)
	require.True(t, bytes.Equal(pkt, msg))
	require.Equal(t, client.LocalAddr().String(), srv.LastSender())

	// 未设置应答端口：原路发回数据报来源端口
	require.NoError(t, srv.SendReply([]byte{0xCA, 0xFE}))
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 16)
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0xCA, 0xFE}, buf[:n])
}

func TestServer_ReplyPortOverride(t *testing.T) {
	srv, ring := startServer(t)

	// 独立的接收套接字扮演客户端的监听线程
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer listener.Close()

	client, err := net.DialUDP("udp", nil, srv.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte{0x00, 0x00, 0x00, 0x02, 0x00})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = ring.Take(ctx)
	require.NoError(t, err)

	srv.SetReplyPort(uint16(listener.LocalAddr().(*net.UDPAddr).Port))
	require.NoError(t, srv.SendReply([]byte{0x42}))

	require.NoError(t, listener.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 16)
	n, _, err := listener.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0x42}, buf[:n])
}

func TestServer_NoClientYet(t *testing.T) {
	srv, _ := startServer(t)
	require.ErrorIs(t, srv.SendReply([]byte{0x01}), ErrNoClient)
	require.Equal(t, "", srv.LastSender())
	require.Equal(t, -42, srv.SignalStrength())
	require.Nil(t, srv.LimiterStats())
}

func TestRateLimiter_AllowAndStats(t *testing.T) {
	l := NewRateLimiter(1, 1)
	require.True(t, l.Allow())
	require.False(t, l.Allow()) // 突发容量只有 1，第二条被拒

	st := l.Stats()
	require.Equal(t, int64(1), st.AllowedTotal)
	require.Equal(t, int64(1), st.RejectedTotal)
}
