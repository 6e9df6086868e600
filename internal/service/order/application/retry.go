package application

import (
	"context"
	"time"
)

const defaultMaxRetries = 3

// retryWithBackoff 以线性退避重试 fn（300ms、600ms...），
// 全部失败后返回最后一次的错误。ctx 取消会提前终止。
func retryWithBackoff(ctx context.Context, maxRetries int, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < maxRetries {
			select {
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}
