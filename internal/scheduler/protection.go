package scheduler

import (
	"sync"
	"time"
)

// protectionBook 记录每个币种的开仓时间，新仓在窗口期内禁止平仓，
// 高盈利的动态止盈可绕过。
type protectionBook struct {
	mu       sync.Mutex
	openedAt map[string]time.Time
	window   time.Duration
	now      func() time.Time
}

func newProtectionBook(window time.Duration) *protectionBook {
	return &protectionBook{
		openedAt: make(map[string]time.Time),
		window:   window,
		now:      time.Now,
	}
}

func (b *protectionBook) recordOpen(symbol string) {
	b.mu.Lock()
	b.openedAt[symbol] = b.now()
	b.mu.Unlock()
}

func (b *protectionBook) clear(symbol string) {
	b.mu.Lock()
	delete(b.openedAt, symbol)
	b.mu.Unlock()
}

func (b *protectionBook) protected(symbol string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	opened, ok := b.openedAt[symbol]
	if !ok {
		return false
	}
	return b.now().Sub(opened) < b.window
}

// remaining 返回剩余保护时长，没有记录时返回 0。
func (b *protectionBook) remaining(symbol string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	opened, ok := b.openedAt[symbol]
	if !ok {
		return 0
	}
	left := b.window - b.now().Sub(opened)
	if left < 0 {
		return 0
	}
	return left
}
