package jobs

import (
	"strings"
	"sync"
)

// RingBuffer 定长行环: 保留任务最近 N 行进度, 写满后覆盖最旧的一行。
type RingBuffer struct {
	mu    sync.Mutex
	lines []string
	head  int // 下一次写入的位置
	full  bool
}

// NewRingBuffer 创建容量为 maxLines 行的环 (至少 1 行)。
func NewRingBuffer(maxLines int) *RingBuffer {
	return &RingBuffer{lines: make([]string, max(maxLines, 1))}
}

// Add 追加一行。多行文本按换行拆分, 空行丢弃。
func (rb *RingBuffer) Add(text string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}
		rb.lines[rb.head] = line
		rb.head = (rb.head + 1) % len(rb.lines)
		if rb.head == 0 {
			rb.full = true
		}
	}
}

// Lines 按写入顺序返回保留的行。
func (rb *RingBuffer) Lines() []string {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if !rb.full {
		return append([]string(nil), rb.lines[:rb.head]...)
	}
	out := make([]string, 0, len(rb.lines))
	out = append(out, rb.lines[rb.head:]...)
	return append(out, rb.lines[:rb.head]...)
}

// Len 当前保留的行数。
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.full {
		return len(rb.lines)
	}
	return rb.head
}

// String 以换行连接全部行。
func (rb *RingBuffer) String() string {
	lines := rb.Lines()
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// Reset 清空。
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	clear(rb.lines)
	rb.head = 0
	rb.full = false
}
