package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"TrendRadar/internal/config"
	"TrendRadar/internal/model"
	"TrendRadar/internal/repository"

	"github.com/sirupsen/logrus"
)

// 峰值回溯窗口：48小时内无分数行时按999小时处理（衰减趋近于0）
const (
	peakLookback      = 48 * time.Hour
	hoursSinceNoPeak  = 999.0
	toneMetricSuffix  = "tone_avg"
	affectToneDivisor = 5.0
)

// SourceCatalog 打分所需的信号源目录视图（由适配器注册表实现）
type SourceCatalog interface {
	TypeOf(source string) (model.SourceType, bool)
	DistinctEnabledTypes() int
}

// Components 一次打分的全部分量与解释
type Components struct {
	VelocityZ      float64
	Spread         float64
	Affect         float64
	Decay          float64
	Heat           float64
	HoursSincePeak float64
	Reasons        string
}

// ScoringService 热度打分引擎。打分本身是纯函数，服务层只负责取数与落库
type ScoringService struct {
	cfg        *config.ScoringConfig
	sources    map[string]config.SourceConfig
	catalog    SourceCatalog
	signalRepo repository.SignalRepository
	scoreRepo  repository.ScoreRepository
	logger     *logrus.Logger
}

func NewScoringService(
	cfg *config.ScoringConfig,
	sources map[string]config.SourceConfig,
	catalog SourceCatalog,
	signalRepo repository.SignalRepository,
	scoreRepo repository.ScoreRepository,
	logger *logrus.Logger,
) *ScoringService {
	return &ScoringService{
		cfg:        cfg,
		sources:    sources,
		catalog:    catalog,
		signalRepo: signalRepo,
		scoreRepo:  scoreRepo,
		logger:     logger,
	}
}

// ScoreEntity 对单实体执行一轮打分并落库。无信号也产出分数行（全零分量）。
// 返回完整分量供门限状态机直接消费
func (s *ScoringService) ScoreEntity(ctx context.Context, entityID uint64, now time.Time) (Components, error) {
	from := now.Add(-time.Duration(s.cfg.BaselineDays) * 24 * time.Hour)
	signals, err := s.signalRepo.QueryWindow(ctx, entityID, from, now)
	if err != nil {
		return Components{}, err
	}
	peakTs, err := s.scoreRepo.PeakTsSince(ctx, entityID, now.Add(-peakLookback))
	if err != nil {
		return Components{}, err
	}

	comp := s.Compute(signals, peakTs, now)
	score := &model.Score{
		EntityID:  entityID,
		Ts:        now,
		VelocityZ: comp.VelocityZ,
		Spread:    comp.Spread,
		Affect:    comp.Affect,
		Decay:     comp.Decay,
		Heat:      comp.Heat,
		Reasons:   comp.Reasons,
	}
	if err := s.scoreRepo.Insert(ctx, score); err != nil {
		return Components{}, err
	}
	return comp, nil
}

// Compute 纯打分函数：同样的输入永远给出同样的分量。
// heat = decay * (w1*velocity_z + w2*spread + w3*affect)
func (s *ScoringService) Compute(signals []*model.Signal, peakTs *time.Time, now time.Time) Components {
	shortWindow := time.Duration(s.cfg.ShortWindowHours) * time.Hour
	shortStart := now.Add(-shortWindow)

	vz := s.velocityZ(signals, now)
	spread, drivers := s.spread(signals, shortStart)
	affect := s.affect(signals, shortStart, now)

	hoursSincePeak := hoursSinceNoPeak
	if peakTs != nil {
		hoursSincePeak = now.Sub(*peakTs).Hours()
		if hoursSincePeak < 0 {
			hoursSincePeak = 0
		}
	}
	decay := math.Exp(-hoursSincePeak / s.cfg.DecayTauHours)
	heat := decay * (s.cfg.WVelocity*vz + s.cfg.WSpread*spread + s.cfg.WAffect*affect)

	reasons := fmt.Sprintf("v=%.2f; spread=%.2f; affect=%.2f; hours_since_peak=%.1f; drivers=%s",
		vz, spread, affect, hoursSincePeak, strings.Join(drivers, ","))

	return Components{
		VelocityZ:      vz,
		Spread:         spread,
		Affect:         affect,
		Decay:          decay,
		Heat:           heat,
		HoursSincePeak: hoursSincePeak,
		Reasons:        reasons,
	}
}

// velocityZ 加权信号量按短窗口切桶，最新桶相对历史桶的z值。
// 历史非空桶不足5个时视为基线不足，返回0；结果截断到±velocity_clamp
func (s *ScoringService) velocityZ(signals []*model.Signal, now time.Time) float64 {
	bucketLen := time.Duration(s.cfg.ShortWindowHours) * time.Hour
	numBuckets := s.cfg.BaselineDays * 24 / s.cfg.ShortWindowHours
	if numBuckets < 2 {
		return 0
	}
	windowStart := now.Add(-time.Duration(numBuckets) * bucketLen)

	buckets := make([]float64, numBuckets)
	for _, sig := range signals {
		if strings.HasSuffix(sig.Metric, toneMetricSuffix) {
			continue // 情感指标不计入信号量
		}
		if sig.Ts.Before(windowStart) || sig.Ts.After(now) {
			continue
		}
		idx := int(sig.Ts.Sub(windowStart) / bucketLen)
		if idx >= numBuckets {
			idx = numBuckets - 1
		}
		buckets[idx] += sig.Value * s.weightOf(sig.Source)
	}

	latest := buckets[numBuckets-1]
	prior := buckets[:numBuckets-1]
	nonEmpty := 0
	for _, v := range prior {
		if v > 0 {
			nonEmpty++
		}
	}
	if nonEmpty < 5 {
		return 0
	}

	var sum float64
	for _, v := range prior {
		sum += v
	}
	mean := sum / float64(len(prior))
	var variance float64
	for _, v := range prior {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(len(prior)))

	z := (latest - mean) / (std + 1e-9)
	if z > s.cfg.VelocityClamp {
		z = s.cfg.VelocityClamp
	}
	if z < -s.cfg.VelocityClamp {
		z = -s.cfg.VelocityClamp
	}
	return z
}

// spread 短窗口内出现非零信号量的源类型占启用类型总数的比例，[0,1]。
// 同时返回排序后的贡献源列表（解释串的drivers部分）
func (s *ScoringService) spread(signals []*model.Signal, shortStart time.Time) (float64, []string) {
	types := make(map[model.SourceType]bool)
	sources := make(map[string]bool)
	for _, sig := range signals {
		if strings.HasSuffix(sig.Metric, toneMetricSuffix) {
			continue
		}
		if sig.Ts.Before(shortStart) || sig.Value <= 0 {
			continue
		}
		sources[sig.Source] = true
		if t, ok := s.catalog.TypeOf(sig.Source); ok {
			types[t] = true
		}
	}
	total := s.catalog.DistinctEnabledTypes()
	if total == 0 {
		return 0, nil
	}
	drivers := make([]string, 0, len(sources))
	for src := range sources {
		drivers = append(drivers, src)
	}
	sort.Strings(drivers)
	spread := float64(len(types)) / float64(total)
	if spread > 1 {
		spread = 1
	}
	return spread, drivers
}

// affect 最近一条情感指标的|tone|/5，封顶1。
// 短窗口加权信号量低于下限时情感不可信，返回0
func (s *ScoringService) affect(signals []*model.Signal, shortStart, now time.Time) float64 {
	var volume float64
	var latestTone *model.Signal
	for _, sig := range signals {
		if strings.HasSuffix(sig.Metric, toneMetricSuffix) {
			if latestTone == nil || sig.Ts.After(latestTone.Ts) {
				latestTone = sig
			}
			continue
		}
		if !sig.Ts.Before(shortStart) && !sig.Ts.After(now) {
			volume += sig.Value * s.weightOf(sig.Source)
		}
	}
	if latestTone == nil || volume < s.cfg.AffectVolumeFloor {
		return 0
	}
	affect := math.Abs(latestTone.Value) / affectToneDivisor
	if affect > 1 {
		affect = 1
	}
	return affect
}

func (s *ScoringService) weightOf(source string) float64 {
	if sc, ok := s.sources[source]; ok && sc.Weight > 0 {
		return sc.Weight
	}
	return 1.0
}
