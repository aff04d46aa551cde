package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"TrendRadar/internal/config"
	"TrendRadar/internal/model"
	"TrendRadar/internal/repository"

	"github.com/sirupsen/logrus"
)

// HealthService 信号源健康跟踪与熔断。
// source_health行只由本服务写入，单源转换持锁串行
type HealthService struct {
	cfg    *config.BreakerConfig
	repo   repository.HealthRepository
	logger *logrus.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewHealthService(cfg *config.BreakerConfig, repo repository.HealthRepository, logger *logrus.Logger) *HealthService {
	return &HealthService{
		cfg:    cfg,
		repo:   repo,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *HealthService) lockFor(source string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[source]
	if !ok {
		l = &sync.Mutex{}
		s.locks[source] = l
	}
	return l
}

// RecordSuccess 成功：清零连续失败计数并解除熔断
func (s *HealthService) RecordSuccess(ctx context.Context, source string, t time.Time) error {
	l := s.lockFor(source)
	l.Lock()
	defer l.Unlock()

	h, err := s.loadOrInit(ctx, source)
	if err != nil {
		return err
	}
	h.LastOK = &t
	h.ConsecutiveErrors = 0
	h.CircuitOpenUntil = nil
	h.UpdatedAt = t
	if err := s.repo.Upsert(ctx, h); err != nil {
		return err
	}
	s.audit(ctx, source, "fetch_ok", "info", t, nil)
	return nil
}

// RecordFailure 失败：递增计数，达到阈值后按指数退避开启熔断
func (s *HealthService) RecordFailure(ctx context.Context, source string, t time.Time) error {
	l := s.lockFor(source)
	l.Lock()
	defer l.Unlock()

	h, err := s.loadOrInit(ctx, source)
	if err != nil {
		return err
	}
	h.LastError = &t
	h.ConsecutiveErrors++
	if h.ConsecutiveErrors >= s.cfg.FailureThreshold {
		until := t.Add(s.backoff(h.ConsecutiveErrors))
		// 已有更晚的解除时间时保留（GREATEST语义）
		if h.CircuitOpenUntil == nil || until.After(*h.CircuitOpenUntil) {
			h.CircuitOpenUntil = &until
		}
	}
	h.UpdatedAt = t
	if err := s.repo.Upsert(ctx, h); err != nil {
		return err
	}
	s.audit(ctx, source, "fetch_failed", "warning", t, map[string]interface{}{
		"consecutive_errors": h.ConsecutiveErrors,
	})
	return nil
}

// RecordRateLimited 限流：按失败计数，另按retry-after提示设置冷却（不超过退避上限）
func (s *HealthService) RecordRateLimited(ctx context.Context, source string, t time.Time, retryAfter time.Duration) error {
	l := s.lockFor(source)
	l.Lock()
	defer l.Unlock()

	h, err := s.loadOrInit(ctx, source)
	if err != nil {
		return err
	}
	h.LastError = &t
	h.ConsecutiveErrors++

	cooldown := retryAfter
	if cooldown <= 0 {
		cooldown = s.cfg.BaseBackoff
	}
	if cooldown > s.cfg.MaxBackoff {
		cooldown = s.cfg.MaxBackoff
	}
	if h.ConsecutiveErrors >= s.cfg.FailureThreshold {
		if b := s.backoff(h.ConsecutiveErrors); b > cooldown {
			cooldown = b
		}
	}
	until := t.Add(cooldown)
	if h.CircuitOpenUntil == nil || until.After(*h.CircuitOpenUntil) {
		h.CircuitOpenUntil = &until
	}
	h.UpdatedAt = t
	if err := s.repo.Upsert(ctx, h); err != nil {
		return err
	}
	s.audit(ctx, source, "rate_limited", "warning", t, map[string]interface{}{
		"cooldown_seconds": int(cooldown.Seconds()),
	})
	return nil
}

// MarkAttempt 记录尝试时间（节奏计算基准），不改动健康计数
func (s *HealthService) MarkAttempt(ctx context.Context, source string, t time.Time) error {
	l := s.lockFor(source)
	l.Lock()
	defer l.Unlock()

	h, err := s.loadOrInit(ctx, source)
	if err != nil {
		return err
	}
	h.LastAttempt = &t
	h.UpdatedAt = t
	return s.repo.Upsert(ctx, h)
}

// IsEligible 熔断未解除期间恒为false，与节奏判断相互独立
func (s *HealthService) IsEligible(ctx context.Context, source string, t time.Time) (bool, error) {
	h, err := s.repo.Get(ctx, source)
	if err != nil {
		return false, err
	}
	if h == nil || h.CircuitOpenUntil == nil {
		return true, nil
	}
	return !t.Before(*h.CircuitOpenUntil), nil
}

// Get 查询单源健康状态（调度器读取last_ok/last_attempt）
func (s *HealthService) Get(ctx context.Context, source string) (*model.SourceHealth, error) {
	return s.repo.Get(ctx, source)
}

// backoff 指数退避：base * 2^(n-threshold)，封顶max_backoff
func (s *HealthService) backoff(consecutive int) time.Duration {
	shift := consecutive - s.cfg.FailureThreshold
	if shift < 0 {
		shift = 0
	}
	if shift > 20 {
		return s.cfg.MaxBackoff
	}
	d := s.cfg.BaseBackoff << uint(shift)
	if d > s.cfg.MaxBackoff || d <= 0 {
		return s.cfg.MaxBackoff
	}
	return d
}

// audit 追加审计行。审计失败只记日志，不影响调用方
func (s *HealthService) audit(ctx context.Context, source, event, level string, t time.Time, extra map[string]interface{}) {
	var raw []byte
	if extra != nil {
		raw, _ = json.Marshal(extra)
	}
	entry := &model.AuditLog{
		Ts:     t,
		Source: source,
		Event:  event,
		Level:  level,
		Extra:  raw,
	}
	if err := s.repo.AppendAudit(ctx, entry); err != nil {
		s.logger.WithError(err).WithField("source", source).Warn("审计日志写入失败")
	}
}

func (s *HealthService) loadOrInit(ctx context.Context, source string) (*model.SourceHealth, error) {
	h, err := s.repo.Get(ctx, source)
	if err != nil {
		return nil, err
	}
	if h == nil {
		h = &model.SourceHealth{Source: source}
	}
	return h, nil
}
