package interfaces

import (
	"context"
	"time"

	"TrendRadar/internal/config"
	"TrendRadar/internal/model"

	"github.com/sirupsen/logrus"
)

// SourceAdapter 所有信号源必须实现的核心接口。
// FetchSignals 失败时返回 model.RateLimitedError / model.ErrSourceUnavailable / model.ErrParse 之一
type SourceAdapter interface {
	GetName() string                                                              // 信号源名称
	GetType() model.SourceType                                                    // 信号源类型
	FetchSignals(ctx context.Context, since time.Time) ([]*model.RawSignal, error) // 抓取since之后的观测
}

// Factory 信号源适配器工厂函数签名
// 入参：源名称、源配置、日志实例
// 出参：实现SourceAdapter接口的适配器实例
type Factory func(name string, cfg *config.SourceConfig, logger *logrus.Logger) SourceAdapter
