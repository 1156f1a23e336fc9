package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"netpipe/internal/stats"
	"netpipe/pkg/log"
	xio "netpipe/pkg/util/io"
)

const (
	// DefaultChunkSize 每次从输入读取并发送的字节数
	DefaultChunkSize = 2048
	// DefaultDialTimeout 连接超时
	DefaultDialTimeout = 10 * time.Second
)

// ErrInvalidConfig 客户端配置无效
var ErrInvalidConfig = errors.New("invalid client config")

// Config 客户端配置
type Config struct {
	Network     string        `json:"network"`      // tcp 或 udp
	Address     string        `json:"address"`      // 服务端地址 host:port
	ChunkSize   int           `json:"chunk_size"`   // 数据块大小
	DialTimeout time.Duration `json:"dial_timeout"` // 连接超时
}

// DefaultConfig 默认客户端配置
func DefaultConfig() *Config {
	return &Config{
		Network:     "tcp",
		ChunkSize:   DefaultChunkSize,
		DialTimeout: DefaultDialTimeout,
	}
}

func (c *Config) validate() error {
	switch c.Network {
	case "tcp", "udp":
	default:
		return fmt.Errorf("%w: unsupported network %q", ErrInvalidConfig, c.Network)
	}
	if c.Address == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidConfig)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size %d", ErrInvalidConfig, c.ChunkSize)
	}
	return nil
}

// Client 把输入流按固定大小分块发送到服务端
type Client struct {
	config *Config
}

// New 创建客户端
func New(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Client{config: config}, nil
}

// Send 发送 src 中的全部数据, 出错时仍返回已发送部分的统计
func (c *Client) Send(ctx context.Context, src io.Reader) (stats.Stats, error) {
	if c.config.Network == "udp" {
		return c.sendDatagrams(ctx, src)
	}
	return c.sendStream(ctx, src)
}

// sendStream 通过 TCP 连接发送
func (c *Client) sendStream(ctx context.Context, src io.Reader) (stats.Stats, error) {
	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.config.Address)
	if err != nil {
		return stats.Stats{}, fmt.Errorf("connect %s: %w", c.config.Address, err)
	}
	defer conn.Close()

	log.Debugf("Connected to %s from %s", conn.RemoteAddr(), conn.LocalAddr())

	s, err := c.transfer(ctx, conn, conn, src)
	if err != nil {
		return s, err
	}

	log.Infof("Sent %d bytes in %.2f seconds (%.2f KB/s)", s.Bytes, s.Duration.Seconds(), s.KBps)
	log.Info("Client data sent. Check server for successful service.")
	return s, nil
}

// sendDatagrams 每块一个 UDP 数据报, 使用未连接的 socket
func (c *Client) sendDatagrams(ctx context.Context, src io.Reader) (stats.Stats, error) {
	raddr, err := net.ResolveUDPAddr("udp", c.config.Address)
	if err != nil {
		return stats.Stats{}, fmt.Errorf("resolve %s: %w", c.config.Address, err)
	}

	network := "udp6"
	if raddr.IP == nil || raddr.IP.To4() != nil {
		network = "udp4"
	}
	conn, err := net.ListenUDP(network, nil)
	if err != nil {
		return stats.Stats{}, fmt.Errorf("open udp socket: %w", err)
	}
	defer conn.Close()

	s, err := c.transfer(ctx, conn, &datagramWriter{conn: conn, to: raddr}, src)
	if err != nil {
		return s, err
	}

	log.Debugf("Finished sending. Total chunks: %d", s.Chunks)
	log.Infof("Sent %d bytes in %.2fs (%.2f KB/s)", s.Bytes, s.Duration.Seconds(), s.KBps)
	return s, nil
}

// transfer 分块复制并计量, ctx 取消时关闭 socket 以打断阻塞写, 等待输入时直接返回
func (c *Client) transfer(ctx context.Context, closer io.Closer, dst io.Writer, src io.Reader) (stats.Stats, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closer.Close()
		case <-done:
		}
	}()

	meter := stats.NewMeter()
	_, err := xio.CopyChunks(ctx, dst, src, c.config.ChunkSize, func(n int) {
		chunk := meter.Add(n)
		log.Debugf("Sent chunk %d, %d bytes (%.2f KB/s)", chunk, n, meter.RecentKBps())
	})
	s := meter.Snapshot()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return s, fmt.Errorf("transfer to %s aborted: %w", c.config.Address, ctxErr)
		}
		return s, fmt.Errorf("send to %s: %w", c.config.Address, err)
	}
	return s, nil
}

// datagramWriter 每次 Write 发送一个数据报
type datagramWriter struct {
	conn *net.UDPConn
	to   *net.UDPAddr
}

func (dw *datagramWriter) Write(p []byte) (int, error) {
	return dw.conn.WriteToUDP(p, dw.to)
}
