package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"netpipe/internal/stats"
	"netpipe/pkg/log"
	xio "netpipe/pkg/util/io"
	xnet "netpipe/pkg/util/net"
)

// TCPServer 每个客户端一个协程, 把收到的数据写到 out
type TCPServer struct {
	config *Config
	out    *xio.LockedWriter

	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup

	// 统计信息
	totalConnections  int64
	activeConnections int64
	totalBytes        int64
	errorCount        int64

	// 控制
	running bool
	mu      sync.Mutex
}

// TCPStats TCP 服务统计信息
type TCPStats struct {
	TotalConnections  int64 `json:"total_connections"`
	ActiveConnections int64 `json:"active_connections"`
	TotalBytes        int64 `json:"total_bytes"`
	ErrorCount        int64 `json:"error_count"`
}

// NewTCPServer 创建 TCP 服务
func NewTCPServer(config *Config, out io.Writer) (*TCPServer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	if config.Backlog <= 0 {
		return nil, fmt.Errorf("%w: backlog %d", ErrInvalidConfig, config.Backlog)
	}
	return &TCPServer{
		config: config,
		out:    xio.NewLockedWriter(out),
		conns:  make(map[net.Conn]struct{}),
	}, nil
}

// Start 绑定监听地址
func (s *TCPServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}
	if s.listener != nil {
		return ErrServerClosed
	}

	listener, err := xnet.ListenTCP(ctx, s.config.Address, s.config.Backlog)
	if err != nil {
		return err
	}
	s.listener = listener
	s.running = true

	log.Info("Server waiting for client connections...")
	log.Debugf("Listening on %s (backlog %d)", listener.Addr(), s.config.Backlog)
	return nil
}

// Addr 实际监听地址
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve 接受连接直到 Stop, 之后返回 ErrServerClosed
func (s *TCPServer) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return fmt.Errorf("server not started")
	}

	var backoff time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if !s.IsRunning() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			atomic.AddInt64(&s.errorCount, 1)
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			log.Errorf("Accept connection failed: %v; retrying in %v", err, backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !s.track(conn) {
			conn.Close()
			return ErrServerClosed
		}

		// 为每个连接启动处理协程
		go s.serveClient(conn)
	}
}

// track 登记连接, 服务已停止时返回 false
func (s *TCPServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.wg.Add(1)
	s.conns[conn] = struct{}{}
	atomic.AddInt64(&s.totalConnections, 1)
	atomic.AddInt64(&s.activeConnections, 1)
	return true
}

func (s *TCPServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	atomic.AddInt64(&s.activeConnections, -1)
	s.wg.Done()
}

// serveClient 接收单个客户端的数据直到对端关闭
func (s *TCPServer) serveClient(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	addr := conn.RemoteAddr()
	log.Infof("Client %s connected.", addr)

	meter := stats.NewMeter()
	defer func() {
		st := meter.Snapshot()
		log.Infof("Received %d bytes from %s in %.2fs (%.2f KB/s)", st.Bytes, addr, st.Duration.Seconds(), st.KBps)
		log.Infof("%s serviced.", addr)
	}()

	buf := make([]byte, s.config.ChunkSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := s.out.Write(buf[:n]); werr != nil {
				atomic.AddInt64(&s.errorCount, 1)
				log.Errorf("Write data from client %s failed: %v", addr, werr)
				return
			}
			meter.Add(n)
			atomic.AddInt64(&s.totalBytes, int64(n))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, net.ErrClosed) && !s.IsRunning() {
				log.Warnf("Client %s closed during shutdown", addr)
				break
			}
			atomic.AddInt64(&s.errorCount, 1)
			log.Errorf("Socket error client %s: %v", addr, err)
			break
		}
	}

	if err := s.out.Flush(); err != nil {
		atomic.AddInt64(&s.errorCount, 1)
		log.Errorf("Flush output failed: %v", err)
	}
}

// Stop 关闭监听并等待在途客户端, ctx 到期后强制断开
func (s *TCPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		s.mu.Lock()
		log.Warnf("Shutdown deadline reached, closing %d client connections", len(s.conns))
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		<-done
	}

	log.Infof("Server stopped: %d connections, %d bytes received",
		atomic.LoadInt64(&s.totalConnections), atomic.LoadInt64(&s.totalBytes))
	return err
}

// GetStats 获取统计信息
func (s *TCPServer) GetStats() *TCPStats {
	return &TCPStats{
		TotalConnections:  atomic.LoadInt64(&s.totalConnections),
		ActiveConnections: atomic.LoadInt64(&s.activeConnections),
		TotalBytes:        atomic.LoadInt64(&s.totalBytes),
		ErrorCount:        atomic.LoadInt64(&s.errorCount),
	}
}

// IsRunning 检查是否运行中
func (s *TCPServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
