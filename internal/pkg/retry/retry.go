// Package retry 提供统一的外部调用重试策略：有限次数、递增超时、指数退避。
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/liliangjiep/nofv/internal/logger"
)

type Policy struct {
	MaxAttempts int           // <=0 时取 3
	BaseDelay   time.Duration // 首次失败后的等待，之后按次数翻倍
	BaseTimeout time.Duration // 单次调用超时 = BaseTimeout × 第N次；0 表示不限
}

func Default() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, BaseTimeout: 10 * time.Second}
}

// Do 执行 fn 直至成功或次数耗尽。每次尝试的 ctx 超时随次数递增。
func Do(ctx context.Context, p Policy, name string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.BaseTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.BaseTimeout*time.Duration(attempt))
		}
		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		delay := p.BaseDelay
		if delay <= 0 {
			delay = time.Second
		}
		delay *= time.Duration(1 << (attempt - 1))
		logger.Warnf("%s 第%d次失败: %v, %s 后重试", name, attempt, err, delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s 重试 %d 次后仍失败: %w", name, attempts, lastErr)
}
