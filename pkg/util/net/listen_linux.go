//go:build linux
// +build linux

package net

import (
	"context"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listenTCP 用原始 socket 建立监听, 以便控制 backlog
func listenTCP(_ context.Context, addr *net.TCPAddr, backlog int) (net.Listener, error) {
	family, sa, err := sockaddr(addr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket create: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}

	// FileListener 复制 fd, 原文件随即关闭
	f := os.NewFile(uintptr(fd), "tcp-listener")
	defer f.Close()
	return net.FileListener(f)
}

func sockaddr(addr *net.TCPAddr) (int, unix.Sockaddr, error) {
	if addr.IP == nil || addr.IP.To4() != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 := addr.IP.To4(); ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return unix.AF_INET, sa, nil
	}
	if ip6 := addr.IP.To16(); ip6 != nil {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa.Addr[:], ip6)
		if addr.Zone != "" {
			iface, err := net.InterfaceByName(addr.Zone)
			if err != nil {
				return 0, nil, fmt.Errorf("zone %s: %w", addr.Zone, err)
			}
			sa.ZoneId = uint32(iface.Index)
		}
		return unix.AF_INET6, sa, nil
	}
	return 0, nil, fmt.Errorf("unsupported address: %s", addr)
}
