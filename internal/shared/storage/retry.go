package storage

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// DefaultRetryAttempts 乐观并发冲突的默认重试次数
const DefaultRetryAttempts = 3

// WithRetry 在 ErrConflict 时重试 fn，其他错误立即返回。
// 每次重试前带抖动退避，fn 内部应重读实体后重算再写。
func WithRetry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, ErrConflict) {
			return err
		}

		if i == attempts-1 {
			break
		}

		backoff := time.Duration(10+rand.Intn(40)) * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}
