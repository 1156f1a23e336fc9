package net

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// ParsePort 解析端口号, 范围 1-65535
func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %d: out of range", port)
	}
	return port, nil
}

// JoinHostPort 拼接地址, host 为空时监听所有接口
func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ListenTCP 打开设置了 SO_REUSEADDR 和指定 backlog 的 TCP 监听
func ListenTCP(ctx context.Context, addr string, backlog int) (net.Listener, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	ln, err := listenTCP(ctx, tcpAddr, backlog)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

// ListenUDP 绑定 UDP 地址
func ListenUDP(ctx context.Context, addr string) (*net.UDPConn, error) {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return pc.(*net.UDPConn), nil
}
