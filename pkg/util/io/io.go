package io

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ReadChunk 读满 buf, 仅在输入结束时返回不足一块的数据
func ReadChunk(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return n, nil
	}
	return n, err
}

// chunk 读协程交出的一块数据
type chunk struct {
	data []byte
	err  error
}

// readChunks 在独立协程中分块读取 src, ctx 取消后不再投递
// 阻塞在 src 上的读取无法打断, 协程在该次读取返回后退出
func readChunks(ctx context.Context, src io.Reader, chunkSize int) <-chan chunk {
	ch := make(chan chunk)
	go func() {
		defer close(ch)
		for {
			buf := make([]byte, chunkSize)
			n, err := ReadChunk(src, buf)
			select {
			case ch <- chunk{data: buf[:n], err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}

// CopyChunks 以固定大小的块从 src 复制到 dst, 每块整块写出
// ctx 取消时立即返回 ctx.Err(), 即使 src 上的读取仍在阻塞
func CopyChunks(ctx context.Context, dst io.Writer, src io.Reader, chunkSize int, onChunk func(n int)) (written int64, err error) {
	if chunkSize <= 0 {
		return 0, fmt.Errorf("invalid chunk size: %d", chunkSize)
	}

	// 返回时让读协程退出
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := readChunks(ctx, src, chunkSize)
	for {
		var c chunk
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		case c = <-chunks:
		}
		if err := ctx.Err(); err != nil {
			return written, err
		}

		if n := len(c.data); n > 0 {
			w, werr := dst.Write(c.data)
			written += int64(w)
			if werr != nil {
				return written, werr
			}
			if w != n {
				return written, io.ErrShortWrite
			}
			if onChunk != nil {
				onChunk(n)
			}
		}
		if c.err == io.EOF {
			return written, nil
		}
		if c.err != nil {
			return written, c.err
		}
	}
}

// Flusher 可刷新的输出
type Flusher interface {
	Flush() error
}

// LockedWriter 串行化多个协程的整块写入
type LockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLockedWriter 包装输出
func NewLockedWriter(w io.Writer) *LockedWriter {
	if lw, ok := w.(*LockedWriter); ok {
		return lw
	}
	return &LockedWriter{w: w}
}

func (lw *LockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// Flush 底层输出支持时刷新
func (lw *LockedWriter) Flush() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if f, ok := lw.w.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// WriteAndFlush 写入一块并立即刷新
func (lw *LockedWriter) WriteAndFlush(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	n, err := lw.w.Write(p)
	if err != nil {
		return n, err
	}
	if f, ok := lw.w.(Flusher); ok {
		return n, f.Flush()
	}
	return n, nil
}
