package service

import (
	"errors"

	"creditpay/internal/repository"
)

// withRetry 乐观锁冲突重试
// 只重试 ErrOptimisticLock，业务性失败（额度不足、余额不足）立即返回
func withRetry(maxRetries int, fn func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrOptimisticLock) {
			return err
		}
	}
	return err
}
