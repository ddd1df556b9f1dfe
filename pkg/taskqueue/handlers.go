package taskqueue

import (
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

// Permanent 标记重试无法修复的错误，asynq会直接归档任务
func Permanent(err error) error {
	if err == nil || IsPermanent(err) {
		return err
	}
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}

// IsPermanent 判断错误是否被标记为不可重试
func IsPermanent(err error) bool {
	return errors.Is(err, asynq.SkipRetry)
}
