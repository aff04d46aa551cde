package service

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"TrendRadar/internal/config"
	"TrendRadar/internal/model"
	"TrendRadar/internal/repository"

	"github.com/sirupsen/logrus"
)

// 单候选缓存的观测上限，防止热门噪声名把内存打爆
const maxBufferedPerCandidate = 500

// candidate 尚未提升为实体的观测聚合（纯内存，进程重启即丢弃）
type candidate struct {
	displayName string // 首次观测时的原始写法
	firstSeen   time.Time
	lastSeen    time.Time
	lastByType  map[model.SourceType]time.Time // 各源类型最近观测时间
	buffered    []*model.RawSignal             // 提升时回放入库的观测
}

// DiscoveryService 实体发现与生命周期管理。
// 未归一的观测进入候选缓冲，跨源确认+速度突增后提升为正式实体
type DiscoveryService struct {
	cfg        *config.DiscoveryConfig
	entityRepo repository.EntityRepository
	signalRepo repository.SignalRepository
	scoreRepo  repository.ScoreRepository
	logger     *logrus.Logger

	mu         sync.Mutex
	candidates map[string]*candidate // 规范化名→候选
}

func NewDiscoveryService(
	cfg *config.DiscoveryConfig,
	entityRepo repository.EntityRepository,
	signalRepo repository.SignalRepository,
	scoreRepo repository.ScoreRepository,
	logger *logrus.Logger,
) *DiscoveryService {
	return &DiscoveryService{
		cfg:        cfg,
		entityRepo: entityRepo,
		signalRepo: signalRepo,
		scoreRepo:  scoreRepo,
		logger:     logger,
		candidates: make(map[string]*candidate),
	}
}

// Observe 记录一条未归一观测。缓冲满时淘汰最久未活跃的候选
func (s *DiscoveryService) Observe(raw *model.RawSignal) {
	key := Canonicalize(raw.EntityName)
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.candidates[key]
	if !ok {
		if len(s.candidates) >= s.cfg.MaxCandidates {
			s.evictOldestLocked()
		}
		c = &candidate{
			displayName: raw.EntityName,
			firstSeen:   raw.Ts,
			lastByType:  make(map[model.SourceType]time.Time),
		}
		s.candidates[key] = c
	}
	if raw.Ts.After(c.lastSeen) {
		c.lastSeen = raw.Ts
	}
	if prev, ok := c.lastByType[raw.SourceType]; !ok || raw.Ts.After(prev) {
		c.lastByType[raw.SourceType] = raw.Ts
	}
	if len(c.buffered) < maxBufferedPerCandidate {
		c.buffered = append(c.buffered, raw)
	}
}

// CandidateCount 当前候选数（健康接口用）
func (s *DiscoveryService) CandidateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.candidates)
}

// PromoteEligible 扫描候选并提升满足条件者：
// 窗口内至少min_source_types个不同源类型确认，且小时粒度观测量出现速度突增。
// 提升后把缓冲观测回放入signals，返回新实体供归一索引接入。
// 入库失败的候选保留在缓冲中，第一个错误上抛，由下个周期重试
func (s *DiscoveryService) PromoteEligible(ctx context.Context, now time.Time) ([]*model.Entity, error) {
	s.mu.Lock()
	s.expireLocked(now)

	type pending struct {
		key  string
		snap candidate
	}
	var eligible []pending
	windowStart := now.Add(-time.Duration(s.cfg.WindowHours) * time.Hour)
	for key, c := range s.candidates {
		types := 0
		for _, ts := range c.lastByType {
			if !ts.Before(windowStart) {
				types++
			}
		}
		if types < s.cfg.MinSourceTypes {
			continue
		}
		if hourlyVelocityZ(c.buffered, now, s.cfg.WindowHours) < s.cfg.VelocityThreshold {
			continue
		}
		// 快照缓冲切片，入库期间不持锁
		snap := *c
		snap.buffered = append([]*model.RawSignal(nil), c.buffered...)
		eligible = append(eligible, pending{key: key, snap: snap})
	}
	s.mu.Unlock()

	var promoted []*model.Entity
	var firstErr error
	for i := range eligible {
		p := &eligible[i]
		e, err := s.promote(ctx, &p.snap, now)
		if err != nil {
			s.logger.WithError(err).WithField("name", p.snap.displayName).Error("提升候选实体失败")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		// 提升成功才从缓冲移除，失败的下轮重新进入提升判定
		s.mu.Lock()
		delete(s.candidates, p.key)
		s.mu.Unlock()
		promoted = append(promoted, e)
	}
	return promoted, firstErr
}

func (s *DiscoveryService) promote(ctx context.Context, c *candidate, now time.Time) (*model.Entity, error) {
	sources := make(map[string]bool)
	for _, raw := range c.buffered {
		sources[raw.Source] = true
	}
	var sourceList []string
	for src := range sources {
		sourceList = append(sourceList, src)
	}
	prov, _ := json.Marshal(map[string]interface{}{
		"discovered_at": now.UTC().Format(time.RFC3339),
		"sources":       sourceList,
		"first_seen":    c.firstSeen.UTC().Format(time.RFC3339),
	})

	e := &model.Entity{
		Name:       c.displayName,
		Type:       model.EntityTypeGeneral,
		IsActive:   true,
		FirstSeen:  c.firstSeen,
		Provenance: prov,
	}
	if err := s.entityRepo.Create(ctx, e); err != nil {
		return nil, err
	}

	// 回放缓冲观测，让新实体立刻有打分依据
	signals := make([]*model.Signal, 0, len(c.buffered))
	for _, raw := range c.buffered {
		signals = append(signals, &model.Signal{
			EntityID: e.ID,
			Source:   raw.Source,
			Metric:   raw.Metric,
			Ts:       raw.Ts,
			Value:    raw.Value,
		})
	}
	if err := s.signalRepo.Append(ctx, signals); err != nil {
		s.logger.WithError(err).WithField("entity_id", e.ID).Warn("回放候选观测失败")
	}

	s.logger.WithFields(logrus.Fields{
		"entity_id": e.ID,
		"name":      e.Name,
		"sources":   sourceList,
	}).Info("发现并提升新实体")
	return e, nil
}

// DeactivateStale 停用长期无信号且近期热度低迷的实体
func (s *DiscoveryService) DeactivateStale(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-time.Duration(s.cfg.InactiveAfterDays) * 24 * time.Hour)
	stale, err := s.entityRepo.ListStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	deactivated := 0
	for _, e := range stale {
		latest, err := s.scoreRepo.LatestByEntity(ctx, e.ID)
		if err != nil {
			return deactivated, err
		}
		if latest != nil && latest.Heat >= s.cfg.DeactivateHeatBelow {
			continue
		}
		if err := s.entityRepo.SetActive(ctx, e.ID, false); err != nil {
			return deactivated, err
		}
		deactivated++
		s.logger.WithFields(logrus.Fields{
			"entity_id": e.ID,
			"name":      e.Name,
		}).Info("停用长期无信号实体")
	}
	return deactivated, nil
}

// expireLocked 清理超过保留时长未活跃的候选（调用方持锁）
func (s *DiscoveryService) expireLocked(now time.Time) {
	cutoff := now.Add(-time.Duration(s.cfg.RetentionHours) * time.Hour)
	for key, c := range s.candidates {
		if c.lastSeen.Before(cutoff) {
			delete(s.candidates, key)
		}
	}
}

// evictOldestLocked 淘汰最久未活跃的一个候选（调用方持锁）
func (s *DiscoveryService) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, c := range s.candidates {
		if oldestKey == "" || c.lastSeen.Before(oldest) {
			oldestKey = key
			oldest = c.lastSeen
		}
	}
	if oldestKey != "" {
		delete(s.candidates, oldestKey)
	}
}

// hourlyVelocityZ 小时粒度观测量的突增度：
// 窗口按小时切桶（含空桶），最新桶相对其余桶的z值
func hourlyVelocityZ(observations []*model.RawSignal, now time.Time, windowHours int) float64 {
	if windowHours < 2 {
		return 0
	}
	buckets := make([]float64, windowHours)
	windowStart := now.Add(-time.Duration(windowHours) * time.Hour)
	for _, raw := range observations {
		if raw.Ts.Before(windowStart) || raw.Ts.After(now) {
			continue
		}
		idx := int(raw.Ts.Sub(windowStart).Hours())
		if idx >= windowHours {
			idx = windowHours - 1
		}
		buckets[idx]++
	}
	latest := buckets[windowHours-1]
	prior := buckets[:windowHours-1]

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
	return (latest - mean) / (std + 1e-9)
}
