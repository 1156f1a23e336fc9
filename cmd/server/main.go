package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"netpipe/config"
	"netpipe/internal/server"
	"netpipe/pkg/log"
	xnet "netpipe/pkg/util/net"
)

var (
	configFile = flag.String("c", "", "config file path")
	useUDP     = flag.Bool("u", false, "receive UDP datagrams instead of TCP streams")
	chunkSize  = flag.Int("chunk", 0, "receive buffer size, overrides config")
	logLevel   = flag.String("log-level", "", "log level, overrides config")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <server-port>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
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

	port, err := xnet.ParsePort(flag.Arg(0))
	if err != nil {
		log.Fatalf("Bad server port: %v", err)
	}

	sc := server.DefaultConfig()
	sc.Address = xnet.JoinHostPort("", port)
	sc.ChunkSize = cfg.Transfer.ChunkSize
	sc.Backlog = cfg.Transfer.Backlog
	sc.ShutdownWait = cfg.Transfer.ShutdownWait

	out := bufio.NewWriterSize(os.Stdout, 64*1024)
	defer out.Flush()

	if *useUDP {
		err = runUDP(sc, out)
	} else {
		err = runTCP(sc, out)
	}
	if err != nil {
		out.Flush()
		log.Fatalf("Socket error: %v", err)
	}
}

func runTCP(sc *server.Config, out *bufio.Writer) error {
	srv, err := server.NewTCPServer(sc, out)
	if err != nil {
		return err
	}
	if err := srv.Start(context.Background()); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		log.Info("Ctrl+C pressed. Server shutting down")
	case err := <-serveErr:
		if !errors.Is(err, server.ErrServerClosed) {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), sc.ShutdownWait)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		log.Warnf("Stop: %v", err)
	}
	return nil
}

func runUDP(sc *server.Config, out *bufio.Writer) error {
	srv, err := server.NewUDPServer(sc, out)
	if err != nil {
		return err
	}
	if err := srv.Start(context.Background()); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		log.Info("Ctrl+C pressed. Server shutting down")
		srv.Stop()
		// 等待 Serve 输出汇总
		err = <-serveErr
	case err = <-serveErr:
		srv.Stop()
	}
	if err != nil && !errors.Is(err, server.ErrServerClosed) {
		return err
	}
	return nil
}
