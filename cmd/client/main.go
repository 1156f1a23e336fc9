package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"netpipe/config"
	"netpipe/internal/client"
	"netpipe/pkg/log"
	xnet "netpipe/pkg/util/net"
)

var (
	configFile = flag.String("c", "", "config file path")
	useUDP     = flag.Bool("u", false, "send datagrams over UDP instead of a TCP stream")
	chunkSize  = flag.Int("chunk", 0, "bytes per chunk, overrides config")
	logLevel   = flag.String("log-level", "", "log level, overrides config")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <server-ip> <server-port> < <file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(1)
	}

	// 加载配置
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *chunkSize > 0 {
		cfg.Transfer.ChunkSize = *chunkSize
	}
	if *logLevel != "" {
		cfg.Common.LogLevel = *logLevel
	}

	// 初始化日志
	if err := log.Init(cfg.Common.LogLevel, cfg.Common.LogFile); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	port, err := xnet.ParsePort(flag.Arg(1))
	if err != nil {
		log.Fatalf("Bad server port: %v", err)
	}

	cc := client.DefaultConfig()
	cc.Address = xnet.JoinHostPort(flag.Arg(0), port)
	cc.ChunkSize = cfg.Transfer.ChunkSize
	cc.DialTimeout = cfg.Transfer.DialTimeout
	if *useUDP {
		cc.Network = "udp"
	}

	c, err := client.New(cc)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	// 收到信号时取消传输
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := c.Send(ctx, os.Stdin); err != nil {
		stop()
		log.Fatalf("Socket error: %v", err)
	}
}
