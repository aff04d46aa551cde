package config

import (
	"testing"
	"time"
)

func TestValidateFillsDefaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("空配置校验失败: %v", err)
	}

	if cfg.Scoring.WVelocity != 0.5 || cfg.Scoring.WSpread != 0.3 || cfg.Scoring.WAffect != 0.2 {
		t.Fatalf("打分权重默认值不对: %+v", cfg.Scoring)
	}
	if cfg.Scoring.DecayTauHours != 24 || cfg.Scoring.VelocityClamp != 4.0 {
		t.Fatalf("衰减参数默认值不对: %+v", cfg.Scoring)
	}
	if cfg.Gates.VelocityMin != 2.5 || cfg.Gates.PersistencePolls != 2 {
		t.Fatalf("门限默认值不对: %+v", cfg.Gates)
	}
	if cfg.Breaker.FailureThreshold != 3 || cfg.Breaker.BaseBackoff != 10*time.Minute || cfg.Breaker.MaxBackoff != 4*time.Hour {
		t.Fatalf("熔断默认值不对: %+v", cfg.Breaker)
	}
	if cfg.Resolver.SimilarityThreshold != 0.88 {
		t.Fatalf("归一门限默认值不对: %+v", cfg.Resolver)
	}
	if cfg.Sync.CycleInterval != 5*time.Minute {
		t.Fatalf("周期间隔默认值不对: %v", cfg.Sync.CycleInterval)
	}
}

func TestValidateRejectsBadWeights(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Scoring: ScoringConfig{WVelocity: 0.5, WSpread: 0.3, WAffect: 0.3},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("权重之和不为1.0应校验失败")
	}
}
