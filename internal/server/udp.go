package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"

	"netpipe/internal/stats"
	"netpipe/pkg/log"
	xio "netpipe/pkg/util/io"
	xnet "netpipe/pkg/util/net"
)

// PeerStats 单个发送方的统计
type PeerStats struct {
	Addr      string `json:"addr"`
	Datagrams int64  `json:"datagrams"`
	Bytes     int64  `json:"bytes"`
}

// UDPStats UDP 服务统计信息
type UDPStats struct {
	Total stats.Stats `json:"total"`
	Peers []PeerStats `json:"peers"`
}

// UDPServer 接收数据报并逐个写到 out
type UDPServer struct {
	config *Config
	out    *xio.LockedWriter

	conn  *net.UDPConn
	meter *stats.Meter
	peers map[string]*PeerStats

	running bool
	mu      sync.Mutex
}

// NewUDPServer 创建 UDP 服务
func NewUDPServer(config *Config, out io.Writer) (*UDPServer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &UDPServer{
		config: config,
		out:    xio.NewLockedWriter(out),
		peers:  make(map[string]*PeerStats),
	}, nil
}

// Start 绑定 UDP 端口
func (s *UDPServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}
	if s.conn != nil {
		return ErrServerClosed
	}

	conn, err := xnet.ListenUDP(ctx, s.config.Address)
	if err != nil {
		return err
	}
	s.conn = conn
	s.meter = stats.NewMeter()
	s.running = true

	log.Infof("UDP Server listening on %s...", conn.LocalAddr())
	return nil
}

// Addr 实际监听地址
func (s *UDPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Serve 接收数据报直到 Stop; 超过缓冲区的数据报会被截断
func (s *UDPServer) Serve() error {
	s.mu.Lock()
	conn, meter := s.conn, s.meter
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("server not started")
	}

	defer s.summarize()

	buf := make([]byte, s.config.ChunkSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if !s.IsRunning() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			return fmt.Errorf("socket error: %w", err)
		}
		if n == 0 {
			continue
		}

		if _, err := s.out.WriteAndFlush(buf[:n]); err != nil {
			return fmt.Errorf("write datagram from %s: %w", addr, err)
		}
		meter.Add(n)
		s.record(addr.String(), n)

		log.Debugf("Received %d bytes from %s", n, addr)
	}
}

func (s *UDPServer) record(addr string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[addr]
	if !ok {
		p = &PeerStats{Addr: addr}
		s.peers[addr] = p
	}
	p.Datagrams++
	p.Bytes += int64(n)
}

// summarize 输出总计和每个发送方的统计
func (s *UDPServer) summarize() {
	st := s.GetStats()
	log.Info("Server shutting down.")
	log.Infof("Total received: %d bytes in %.2fs (%.2f KB/s)", st.Total.Bytes, st.Total.Duration.Seconds(), st.Total.KBps)
	for _, p := range st.Peers {
		log.Infof("  %s: %d datagrams, %d bytes", p.Addr, p.Datagrams, p.Bytes)
	}
}

// Stop 关闭 socket, Serve 随之返回
func (s *UDPServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	return s.conn.Close()
}

// GetStats 获取统计信息, 发送方按地址排序
func (s *UDPServer) GetStats() *UDPStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &UDPStats{}
	if s.meter != nil {
		st.Total = s.meter.Snapshot()
	}
	for _, p := range s.peers {
		st.Peers = append(st.Peers, *p)
	}
	sort.Slice(st.Peers, func(i, j int) bool { return st.Peers[i].Addr < st.Peers[j].Addr })
	return st
}

// IsRunning 检查是否运行中
func (s *UDPServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
