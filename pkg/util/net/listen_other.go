//go:build !linux
// +build !linux

package net

import (
	"context"
	"net"
)

// listenTCP 非 Linux 平台使用标准库监听, backlog 由系统决定
func listenTCP(ctx context.Context, addr *net.TCPAddr, _ int) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", addr.String())
}
