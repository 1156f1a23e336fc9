package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig 从文件加载配置
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file error: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config error: %w", err)
	}

	// 设置默认值
	setDefaultValues(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig 未指定配置文件时使用
func DefaultConfig() *Config {
	var cfg Config
	setDefaultValues(&cfg)
	return &cfg
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	if c.Transfer.ChunkSize <= 0 {
		return fmt.Errorf("invalid chunk_size: %d", c.Transfer.ChunkSize)
	}
	if c.Transfer.Backlog <= 0 {
		return fmt.Errorf("invalid backlog: %d", c.Transfer.Backlog)
	}
	if c.Transfer.DialTimeout < 0 || c.Transfer.ShutdownWait < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// setDefaultValues 设置配置的默认值
func setDefaultValues(cfg *Config) {
	// 工具默认打印逐块调试信息
	if cfg.Common.LogLevel == "" {
		cfg.Common.LogLevel = "debug"
	}

	if cfg.Transfer.ChunkSize == 0 {
		cfg.Transfer.ChunkSize = 2048
	}
	if cfg.Transfer.Backlog == 0 {
		cfg.Transfer.Backlog = 10
	}
	if cfg.Transfer.DialTimeout == 0 {
		cfg.Transfer.DialTimeout = 10 * time.Second
	}
	if cfg.Transfer.ShutdownWait == 0 {
		cfg.Transfer.ShutdownWait = 5 * time.Second
	}
}

// Load path 为空时返回默认配置
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	return LoadConfig(path)
}
