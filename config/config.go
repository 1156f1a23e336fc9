package config

import "time"

// Config 传输工具配置
type Config struct {
	Common   CommonConfig   `json:"common" yaml:"common"`
	Transfer TransferConfig `json:"transfer" yaml:"transfer"`
}

// CommonConfig 通用配置
type CommonConfig struct {
	LogLevel string `json:"log_level" yaml:"log_level"`
	LogFile  string `json:"log_file" yaml:"log_file"`
}

// TransferConfig 传输配置
type TransferConfig struct {
	ChunkSize    int           `json:"chunk_size" yaml:"chunk_size"`       // 每块字节数
	Backlog      int           `json:"backlog" yaml:"backlog"`             // TCP 监听队列长度
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`   // 客户端连接超时
	ShutdownWait time.Duration `json:"shutdown_wait" yaml:"shutdown_wait"` // 服务端停止等待时长
}
