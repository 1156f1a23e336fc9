package stats

import (
	"fmt"
	"sync"
	"time"

	"github.com/eapache/queue"
)

// DefaultWindow 最近速率的滑动窗口长度
const DefaultWindow = time.Second

// Stats 传输统计快照
type Stats struct {
	Chunks   int64         `json:"chunks"`
	Bytes    int64         `json:"bytes"`
	Duration time.Duration `json:"duration"`
	KBps     float64       `json:"kbps"`
}

func (s Stats) String() string {
	return fmt.Sprintf("%d bytes in %.2fs (%.2f KB/s)", s.Bytes, s.Duration.Seconds(), s.KBps)
}

type sample struct {
	at time.Time
	n  int64
}

// Meter 吞吐量计量器
type Meter struct {
	mu     sync.Mutex
	start  time.Time
	chunks int64
	bytes  int64

	// 滑动窗口
	window      time.Duration
	samples     *queue.Queue
	recentBytes int64

	now func() time.Time
}

// NewMeter 创建计量器并开始计时
func NewMeter() *Meter {
	return newMeter(time.Now, DefaultWindow)
}

func newMeter(now func() time.Time, window time.Duration) *Meter {
	return &Meter{
		start:   now(),
		window:  window,
		samples: queue.New(),
		now:     now,
	}
}

// Add 记录一块数据, 返回块序号(从 1 开始)
func (m *Meter) Add(n int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.chunks++
	m.bytes += int64(n)

	m.samples.Add(sample{at: now, n: int64(n)})
	m.recentBytes += int64(n)
	m.evict(now)

	return m.chunks
}

// evict 丢弃窗口外的样本
func (m *Meter) evict(now time.Time) {
	for m.samples.Length() > 0 {
		s := m.samples.Peek().(sample)
		if now.Sub(s.at) <= m.window {
			return
		}
		m.samples.Remove()
		m.recentBytes -= s.n
	}
}

// Chunks 已记录的块数
func (m *Meter) Chunks() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chunks
}

// Bytes 已记录的字节数
func (m *Meter) Bytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytes
}

// Elapsed 自开始计时以来的时长
func (m *Meter) Elapsed() time.Duration {
	return m.now().Sub(m.start)
}

// KBps 平均速率, 耗时为零时返回 0
func (m *Meter) KBps() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return rate(m.bytes, m.now().Sub(m.start))
}

// RecentKBps 最近窗口内的速率
func (m *Meter) RecentKBps() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.evict(now)

	span := m.window
	if elapsed := now.Sub(m.start); elapsed < span {
		span = elapsed
	}
	return rate(m.recentBytes, span)
}

// Snapshot 获取统计快照
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.now().Sub(m.start)
	return Stats{
		Chunks:   m.chunks,
		Bytes:    m.bytes,
		Duration: d,
		KBps:     rate(m.bytes, d),
	}
}

func rate(bytes int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(bytes) / d.Seconds() / 1024
}
