package service

import (
	"context"
	"testing"
	"time"

	"TrendRadar/internal/config"
)

func testBreakerConfig() *config.BreakerConfig {
	return &config.BreakerConfig{
		FailureThreshold: 3,
		BaseBackoff:      10 * time.Minute,
		MaxBackoff:       4 * time.Hour,
	}
}

func TestHealthCircuitOpensAtThreshold(t *testing.T) {
	t.Parallel()
	repo := newMemHealthRepo()
	svc := NewHealthService(testBreakerConfig(), repo, testLogger())
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// 阈值以下不熔断
	svc.RecordFailure(ctx, "reddit", now)
	svc.RecordFailure(ctx, "reddit", now.Add(time.Minute))
	if ok, _ := svc.IsEligible(ctx, "reddit", now.Add(2*time.Minute)); !ok {
		t.Fatal("两次失败不应熔断")
	}

	// 第三次失败：熔断10分钟
	t3 := now.Add(2 * time.Minute)
	svc.RecordFailure(ctx, "reddit", t3)
	h, _ := repo.Get(ctx, "reddit")
	if h.CircuitOpenUntil == nil || !h.CircuitOpenUntil.Equal(t3.Add(10*time.Minute)) {
		t.Fatalf("第三次失败应熔断到t+10m，实际%v", h.CircuitOpenUntil)
	}
	if ok, _ := svc.IsEligible(ctx, "reddit", t3.Add(5*time.Minute)); ok {
		t.Fatal("熔断期间不应可抓取")
	}
	if ok, _ := svc.IsEligible(ctx, "reddit", t3.Add(10*time.Minute)); !ok {
		t.Fatal("熔断到期后应恢复可抓取")
	}
}

func TestHealthExponentialBackoff(t *testing.T) {
	t.Parallel()
	repo := newMemHealthRepo()
	svc := NewHealthService(testBreakerConfig(), repo, testLogger())
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{failures: 3, want: 10 * time.Minute},
		{failures: 4, want: 20 * time.Minute},
		{failures: 5, want: 40 * time.Minute},
		{failures: 8, want: 4 * time.Hour}, // 320m超过上限
	}
	ts := now
	for i := 0; i < 8; i++ {
		ts = ts.Add(5 * time.Hour) // 间隔拉开，避免GREATEST语义干扰
		svc.RecordFailure(ctx, "gdelt", ts)
		for _, tt := range tests {
			if tt.failures != i+1 {
				continue
			}
			h, _ := repo.Get(ctx, "gdelt")
			if h.CircuitOpenUntil == nil {
				t.Fatalf("第%d次失败后应熔断", tt.failures)
			}
			if got := h.CircuitOpenUntil.Sub(ts); got != tt.want {
				t.Errorf("第%d次失败退避 = %v, want %v", tt.failures, got, tt.want)
			}
		}
	}
}

func TestHealthSuccessResets(t *testing.T) {
	t.Parallel()
	repo := newMemHealthRepo()
	svc := NewHealthService(testBreakerConfig(), repo, testLogger())
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		svc.RecordFailure(ctx, "trends", now.Add(time.Duration(i)*time.Minute))
	}
	svc.RecordSuccess(ctx, "trends", now.Add(10*time.Minute))

	h, _ := repo.Get(ctx, "trends")
	if h.ConsecutiveErrors != 0 {
		t.Fatalf("成功后连续失败计数应清零，实际%d", h.ConsecutiveErrors)
	}
	if h.CircuitOpenUntil != nil {
		t.Fatal("成功后应解除熔断")
	}
	if h.LastOK == nil {
		t.Fatal("成功后应记录last_ok")
	}
	if ok, _ := svc.IsEligible(ctx, "trends", now.Add(11*time.Minute)); !ok {
		t.Fatal("解除熔断后应可抓取")
	}
}

func TestHealthRateLimitedHonorsRetryAfter(t *testing.T) {
	t.Parallel()
	repo := newMemHealthRepo()
	svc := NewHealthService(testBreakerConfig(), repo, testLogger())
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// 首次限流就按retry-after冷却，不等失败阈值
	svc.RecordRateLimited(ctx, "reddit", now, 30*time.Minute)
	h, _ := repo.Get(ctx, "reddit")
	if h.CircuitOpenUntil == nil || !h.CircuitOpenUntil.Equal(now.Add(30*time.Minute)) {
		t.Fatalf("限流冷却应为30分钟，实际%v", h.CircuitOpenUntil)
	}

	// retry-after超过上限时封顶
	svc.RecordRateLimited(ctx, "wikipedia", now, 10*time.Hour)
	h, _ = repo.Get(ctx, "wikipedia")
	if !h.CircuitOpenUntil.Equal(now.Add(4 * time.Hour)) {
		t.Fatalf("限流冷却应封顶4小时，实际%v", h.CircuitOpenUntil)
	}

	// 无retry-after提示时用退避基数
	svc.RecordRateLimited(ctx, "gdelt", now, 0)
	h, _ = repo.Get(ctx, "gdelt")
	if !h.CircuitOpenUntil.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("无提示时冷却应为退避基数，实际%v", h.CircuitOpenUntil)
	}
}

func TestHealthAuditTrail(t *testing.T) {
	t.Parallel()
	repo := newMemHealthRepo()
	svc := NewHealthService(testBreakerConfig(), repo, testLogger())
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	svc.RecordFailure(ctx, "reddit", now)
	svc.RecordRateLimited(ctx, "reddit", now.Add(time.Minute), time.Minute)
	svc.RecordSuccess(ctx, "reddit", now.Add(2*time.Minute))

	want := []string{"fetch_failed", "rate_limited", "fetch_ok"}
	if len(repo.audits) != len(want) {
		t.Fatalf("审计行数 = %d, want %d", len(repo.audits), len(want))
	}
	for i, event := range want {
		if repo.audits[i].Event != event {
			t.Errorf("审计事件[%d] = %s, want %s", i, repo.audits[i].Event, event)
		}
	}
}

func TestHealthMarkAttemptKeepsCounters(t *testing.T) {
	t.Parallel()
	repo := newMemHealthRepo()
	svc := NewHealthService(testBreakerConfig(), repo, testLogger())
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	svc.RecordFailure(ctx, "trends", now)
	svc.MarkAttempt(ctx, "trends", now.Add(time.Minute))

	h, _ := repo.Get(ctx, "trends")
	if h.ConsecutiveErrors != 1 {
		t.Fatalf("MarkAttempt不应改动失败计数，实际%d", h.ConsecutiveErrors)
	}
	if h.LastAttempt == nil || !h.LastAttempt.Equal(now.Add(time.Minute)) {
		t.Fatalf("last_attempt未更新: %v", h.LastAttempt)
	}
}
