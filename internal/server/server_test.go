package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"netpipe/pkg/log"
)

func init() {
	log.Init("debug", "")
}

// safeBuffer 测试用的并发安全输出
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startTCP(t *testing.T, out *safeBuffer) (*TCPServer, chan error) {
	t.Helper()
	config := DefaultConfig()
	config.Address = "127.0.0.1:0"

	srv, err := NewTCPServer(config, out)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()
	return srv, serveErr
}

func TestTCPServerReceivesStream(t *testing.T) {
	out := &safeBuffer{}
	srv, serveErr := startTCP(t, out)

	data := bytes.Repeat([]byte("0123456789"), 1000)
	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	conn.Close()

	waitFor(t, "client serviced", func() bool {
		st := srv.GetStats()
		return st.TotalConnections == 1 && st.ActiveConnections == 0
	})

	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := <-serveErr; !errors.Is(err, ErrServerClosed) {
		t.Errorf("Serve returned %v, want ErrServerClosed", err)
	}

	if !bytes.Equal(out.Bytes(), data) {
		t.Errorf("received %d bytes, want %d identical bytes", len(out.Bytes()), len(data))
	}
	st := srv.GetStats()
	if st.TotalBytes != int64(len(data)) || st.ErrorCount != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestTCPServerConcurrentClients(t *testing.T) {
	out := &safeBuffer{}
	srv, _ := startTCP(t, out)
	defer srv.Stop(context.Background())

	const clients = 8
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", srv.Addr().String())
			if err != nil {
				t.Errorf("client %d connect: %v", i, err)
				return
			}
			defer conn.Close()
			payload := bytes.Repeat([]byte{byte('a' + i)}, 3000)
			conn.Write(payload)
		}(i)
	}
	wg.Wait()

	waitFor(t, "all clients serviced", func() bool {
		st := srv.GetStats()
		return st.TotalConnections == clients && st.ActiveConnections == 0
	})

	got := out.Bytes()
	if len(got) != clients*3000 {
		t.Fatalf("received %d bytes, want %d", len(got), clients*3000)
	}
	counts := make(map[byte]int)
	for _, b := range got {
		counts[b]++
	}
	for i := 0; i < clients; i++ {
		if counts[byte('a'+i)] != 3000 {
			t.Errorf("client %d: %d bytes, want 3000", i, counts[byte('a'+i)])
		}
	}
}

func TestTCPServerStopForceClosesIdleClients(t *testing.T) {
	out := &safeBuffer{}
	srv, _ := startTCP(t, out)

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	conn.Write([]byte("partial"))

	waitFor(t, "partial data", func() bool {
		return srv.GetStats().ActiveConnections == 1 && len(out.Bytes()) == len("partial")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := srv.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop returned %v, want deadline exceeded", err)
	}
	if st := srv.GetStats(); st.ActiveConnections != 0 {
		t.Errorf("active connections after stop = %d", st.ActiveConnections)
	}
	if string(out.Bytes()) != "partial" {
		t.Errorf("received %q", out.Bytes())
	}
}

func TestTCPServerInvalidConfig(t *testing.T) {
	config := DefaultConfig()
	config.ChunkSize = 0
	if _, err := NewTCPServer(config, &safeBuffer{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestTCPServerLogLines(t *testing.T) {
	logs := &safeBuffer{}
	log.SetOutput(logs)
	defer log.SetOutput(os.Stderr)

	out := &safeBuffer{}
	srv, _ := startTCP(t, out)

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	client := conn.LocalAddr().String()
	conn.Write([]byte("hello"))
	conn.Close()

	waitFor(t, "client serviced", func() bool {
		st := srv.GetStats()
		return st.TotalConnections == 1 && st.ActiveConnections == 0
	})
	srv.Stop(context.Background())

	text := string(logs.Bytes())
	if !strings.Contains(text, "Server waiting for client connections...\n") {
		t.Errorf("start line missing: %q", text)
	}
	if !strings.Contains(text, "Client "+client+" connected.") {
		t.Errorf("connect line missing: %q", text)
	}
	summary := regexp.MustCompile(`Received 5 bytes from ` + regexp.QuoteMeta(client) + ` in \d+\.\d{2}s \(\d+\.\d{2} KB/s\)`)
	if !summary.MatchString(text) {
		t.Errorf("summary line missing: %q", text)
	}
	if !strings.Contains(text, client+" serviced.") {
		t.Errorf("serviced line missing: %q", text)
	}
}

func TestConfigNotModifiedByValidation(t *testing.T) {
	config := DefaultConfig()
	config.Backlog = 0

	if _, err := NewTCPServer(config, &safeBuffer{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig for zero backlog", err)
	}
	if config.Backlog != 0 {
		t.Errorf("Backlog rewritten to %d", config.Backlog)
	}

	// UDP 不使用 backlog
	if _, err := NewUDPServer(config, &safeBuffer{}); err != nil {
		t.Errorf("NewUDPServer rejected config without backlog: %v", err)
	}
}

func TestTCPServerStartTwice(t *testing.T) {
	srv, _ := startTCP(t, &safeBuffer{})
	defer srv.Stop(context.Background())
	if err := srv.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}
}

func startUDP(t *testing.T, out *safeBuffer, chunkSize int) (*UDPServer, chan error) {
	t.Helper()
	config := DefaultConfig()
	config.Address = "127.0.0.1:0"
	config.ChunkSize = chunkSize

	srv, err := NewUDPServer(config, out)
	if err != nil {
		t.Fatalf("Failed to create UDP server: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start UDP server: %v", err)
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()
	return srv, serveErr
}

func TestUDPServerReceivesDatagrams(t *testing.T) {
	out := &safeBuffer{}
	srv, serveErr := startUDP(t, out, DefaultChunkSize)

	conn, err := net.Dial("udp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	var want bytes.Buffer
	for i := 0; i < 5; i++ {
		msg := []byte(fmt.Sprintf("datagram-%d;", i))
		want.Write(msg)
		conn.Write(msg)
		// 逐个等待, 避免环回上的乱序影响断言
		waitFor(t, "datagram", func() bool { return len(out.Bytes()) == want.Len() })
	}

	st := srv.GetStats()
	if st.Total.Chunks != 5 || st.Total.Bytes != int64(want.Len()) {
		t.Errorf("total = %+v", st.Total)
	}
	if len(st.Peers) != 1 || st.Peers[0].Addr != conn.LocalAddr().String() || st.Peers[0].Datagrams != 5 {
		t.Errorf("peers = %+v", st.Peers)
	}

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := <-serveErr; !errors.Is(err, ErrServerClosed) {
		t.Errorf("Serve returned %v, want ErrServerClosed", err)
	}
	if !bytes.Equal(out.Bytes(), want.Bytes()) {
		t.Errorf("got %q, want %q", out.Bytes(), want.Bytes())
	}
}

func TestUDPServerShutdownSummary(t *testing.T) {
	logs := &safeBuffer{}
	log.SetOutput(logs)
	defer log.SetOutput(os.Stderr)

	out := &safeBuffer{}
	srv, serveErr := startUDP(t, out, DefaultChunkSize)

	var peers []string
	for i := 0; i < 2; i++ {
		conn, err := net.Dial("udp", srv.Addr().String())
		if err != nil {
			t.Fatalf("Failed to dial: %v", err)
		}
		defer conn.Close()
		peers = append(peers, conn.LocalAddr().String())
		for j := 0; j <= i; j++ {
			conn.Write([]byte("abcd"))
			want := 4 * (len(peers)*(len(peers)-1)/2 + j + 1)
			waitFor(t, "datagram", func() bool { return len(out.Bytes()) == want })
		}
	}

	srv.Stop()
	<-serveErr

	text := string(logs.Bytes())
	if !strings.Contains(text, "Server shutting down.") {
		t.Errorf("shutdown line missing: %q", text)
	}
	total := regexp.MustCompile(`Total received: 12 bytes in \d+\.\d{2}s \(\d+\.\d{2} KB/s\)`)
	if !total.MatchString(text) {
		t.Errorf("total line missing: %q", text)
	}
	if !strings.Contains(text, peers[0]+": 1 datagrams, 4 bytes") {
		t.Errorf("peer line for %s missing: %q", peers[0], text)
	}
	if !strings.Contains(text, peers[1]+": 2 datagrams, 8 bytes") {
		t.Errorf("peer line for %s missing: %q", peers[1], text)
	}
}

func TestUDPServerSkipsEmptyAndTruncates(t *testing.T) {
	out := &safeBuffer{}
	srv, _ := startUDP(t, out, 8)
	defer srv.Stop()

	conn, err := net.Dial("udp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	conn.Write(nil)
	conn.Write([]byte("0123456789abcdef"))

	waitFor(t, "truncated datagram", func() bool { return len(out.Bytes()) > 0 })
	if string(out.Bytes()) != "01234567" {
		t.Errorf("got %q, want first 8 bytes", out.Bytes())
	}
	if st := srv.GetStats(); st.Total.Chunks != 1 {
		t.Errorf("chunks = %d, want 1 (empty datagram skipped)", st.Total.Chunks)
	}
}
