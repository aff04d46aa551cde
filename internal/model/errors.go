package model

import (
	"errors"
	"fmt"
	"time"
)

// 抓取失败分类：调度器按类别决定退避策略，单源失败不影响其它源
var (
	ErrSourceUnavailable = errors.New("信号源不可用")
	ErrParse             = errors.New("响应解析失败")
)

// RateLimitedError 源侧限流，可携带retry-after提示
type RateLimitedError struct {
	RetryAfter time.Duration // 0表示源未给出提示
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("请求被限流（retry-after=%s）", e.RetryAfter)
	}
	return "请求被限流"
}

// IsRateLimited 判断错误链中是否有限流错误，并取出retry-after提示
func IsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
