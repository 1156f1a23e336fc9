package server

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultChunkSize 每次 recv 的缓冲区大小
	DefaultChunkSize = 2048
	// DefaultBacklog TCP 监听队列长度
	DefaultBacklog = 10
	// DefaultShutdownWait 停止时等待在途客户端的时长
	DefaultShutdownWait = 5 * time.Second
)

var (
	// ErrServerClosed 服务已停止
	ErrServerClosed = errors.New("server closed")
	// ErrInvalidConfig 服务端配置无效
	ErrInvalidConfig = errors.New("invalid server config")
)

// Config 服务端配置
type Config struct {
	Address      string        `json:"address"`       // 监听地址, 如 ":9000"
	ChunkSize    int           `json:"chunk_size"`    // 接收缓冲区大小
	Backlog      int           `json:"backlog"`       // 仅 TCP
	ShutdownWait time.Duration `json:"shutdown_wait"` // 仅 TCP
}

// DefaultConfig 默认服务端配置
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:    DefaultChunkSize,
		Backlog:      DefaultBacklog,
		ShutdownWait: DefaultShutdownWait,
	}
}

// validate 只检查, 不修改取值; 默认值由 DefaultConfig 提供
func (c *Config) validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size %d", ErrInvalidConfig, c.ChunkSize)
	}
	return nil
}
