package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"TrendRadar/internal/config"
	"TrendRadar/internal/interfaces"
	"TrendRadar/internal/model"
	"TrendRadar/internal/repository"

	"github.com/sirupsen/logrus"
)

var (
	ErrSourceNotDue     = errors.New("信号源未到抓取节奏")
	ErrSourceOnCooldown = errors.New("信号源熔断中")
	ErrSourceDisabled   = errors.New("信号源未启用")
)

// AdapterProvider 调度器对适配器注册表的依赖视图
type AdapterProvider interface {
	GetAdapter(source string) (interfaces.SourceAdapter, error)
	ListRegisteredSources() []string
}

// SyncService 采集周期调度器：节奏判断→并发抓取→归一入库→发现→打分→门限。
// 单个源的失败只影响自己，不阻塞其他源，也不中断周期
type SyncService struct {
	cfg       *config.Config
	registry  AdapterProvider
	resolver  *ResolverService
	discovery *DiscoveryService
	scoring   *ScoringService
	gating    *GatingService
	health    *HealthService

	signalRepo repository.SignalRepository
	entityRepo repository.EntityRepository
	logger     *logrus.Logger
}

func NewSyncService(
	cfg *config.Config,
	registry AdapterProvider,
	resolver *ResolverService,
	discovery *DiscoveryService,
	scoring *ScoringService,
	gating *GatingService,
	health *HealthService,
	signalRepo repository.SignalRepository,
	entityRepo repository.EntityRepository,
	logger *logrus.Logger,
) *SyncService {
	return &SyncService{
		cfg:        cfg,
		registry:   registry,
		resolver:   resolver,
		discovery:  discovery,
		scoring:    scoring,
		gating:     gating,
		health:     health,
		signalRepo: signalRepo,
		entityRepo: entityRepo,
		logger:     logger,
	}
}

// Run 后台周期循环。启动后立即跑一轮，之后按cycle_interval触发，ctx取消即退出
func (s *SyncService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Sync.CycleInterval)
	defer ticker.Stop()

	if err := s.RunCycle(ctx); err != nil {
		s.logger.WithError(err).Error("采集周期出现存储错误")
	}
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("调度器收到退出信号，停止周期循环")
			return
		case <-ticker.C:
			if err := s.RunCycle(ctx); err != nil {
				s.logger.WithError(err).Error("采集周期出现存储错误")
			}
		}
	}
}

// RunCycle 执行一个完整周期。抓取侧错误只记日志；
// 存储侧错误记下第一个并返回，由下个周期重算补偿
func (s *SyncService) RunCycle(ctx context.Context) error {
	now := time.Now().UTC()
	start := time.Now()

	if err := s.resolver.Refresh(ctx); err != nil {
		return fmt.Errorf("刷新归一索引失败: %w", err)
	}

	var firstErr error
	var errOnce sync.Once
	recordErr := func(err error) {
		if err != nil {
			errOnce.Do(func() { firstErr = err })
		}
	}

	// 1. 并发抓取到期且未熔断的源
	due := s.dueSources(ctx, now)
	sem := make(chan struct{}, s.cfg.Sync.FetchConcurrency)
	var wg sync.WaitGroup
	for _, source := range due {
		wg.Add(1)
		sem <- struct{}{}
		go func(source string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.fetchOne(ctx, source, now); err != nil {
				recordErr(err)
			}
		}(source)
	}
	wg.Wait()

	// 2. 候选提升：新实体当轮就能参与打分
	promoted, err := s.discovery.PromoteEligible(ctx, now)
	if err != nil {
		recordErr(err)
	}
	for _, e := range promoted {
		s.resolver.AddEntity(e)
	}

	// 3. 活跃实体打分+门限判定
	entities, err := s.entityRepo.ListAll(ctx)
	if err != nil {
		recordErr(err)
		entities = nil
	}
	scoreSem := make(chan struct{}, s.cfg.Sync.ScoreConcurrency)
	var scoreWg sync.WaitGroup
	scored := 0
	for _, e := range entities {
		if !e.IsActive {
			continue
		}
		scored++
		scoreWg.Add(1)
		scoreSem <- struct{}{}
		go func(e *model.Entity) {
			defer scoreWg.Done()
			defer func() { <-scoreSem }()
			comp, err := s.scoring.ScoreEntity(ctx, e.ID, now)
			if err != nil {
				s.logger.WithError(err).WithField("entity_id", e.ID).Error("实体打分失败")
				recordErr(err)
				return
			}
			if _, err := s.gating.Evaluate(ctx, e, comp, now); err != nil {
				s.logger.WithError(err).WithField("entity_id", e.ID).Error("门限判定失败")
				recordErr(err)
			}
		}(e)
	}
	scoreWg.Wait()

	// 4. 停用长期无信号实体
	deactivated, err := s.discovery.DeactivateStale(ctx, now)
	if err != nil {
		recordErr(err)
	}

	s.logger.WithFields(logrus.Fields{
		"fetched_sources": len(due),
		"promoted":        len(promoted),
		"scored":          scored,
		"deactivated":     deactivated,
		"candidates":      s.discovery.CandidateCount(),
		"duration_ms":     time.Since(start).Milliseconds(),
	}).Info("采集周期完成")
	return firstErr
}

// FetchSource 单源即时抓取（API触发）。force只跳过节奏判断，永不绕过熔断
func (s *SyncService) FetchSource(ctx context.Context, source string, force bool) error {
	srcCfg, ok := s.cfg.Sources[source]
	if !ok || !srcCfg.Enabled {
		return ErrSourceDisabled
	}
	now := time.Now().UTC()

	eligible, err := s.health.IsEligible(ctx, source, now)
	if err != nil {
		return err
	}
	if !eligible {
		return ErrSourceOnCooldown
	}
	if !force {
		isDue, err := s.isDue(ctx, source, srcCfg.Cadence, now)
		if err != nil {
			return err
		}
		if !isDue {
			return ErrSourceNotDue
		}
	}
	return s.fetchOne(ctx, source, now)
}

// dueSources 本轮需要抓取的源：启用+到期+未熔断。
// 按tier升序、源名升序排列，调度顺序稳定可复现
func (s *SyncService) dueSources(ctx context.Context, now time.Time) []string {
	type entry struct {
		name string
		tier int
	}
	var entries []entry
	for _, source := range s.registry.ListRegisteredSources() {
		srcCfg, ok := s.cfg.Sources[source]
		if !ok || !srcCfg.Enabled {
			continue
		}
		isDue, err := s.isDue(ctx, source, srcCfg.Cadence, now)
		if err != nil {
			s.logger.WithError(err).WithField("source", source).Error("读取源健康状态失败")
			continue
		}
		if !isDue {
			continue
		}
		eligible, err := s.health.IsEligible(ctx, source, now)
		if err != nil {
			s.logger.WithError(err).WithField("source", source).Error("读取源熔断状态失败")
			continue
		}
		if !eligible {
			s.logger.WithField("source", source).Debug("信号源熔断中，本轮跳过")
			continue
		}
		entries = append(entries, entry{name: source, tier: srcCfg.Tier})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].tier != entries[j].tier {
			return entries[i].tier < entries[j].tier
		}
		return entries[i].name < entries[j].name
	})
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.name)
	}
	return names
}

// isDue 节奏判断：距上次尝试已超过cadence（从未尝试视为到期）
func (s *SyncService) isDue(ctx context.Context, source string, cadence time.Duration, now time.Time) (bool, error) {
	h, err := s.health.Get(ctx, source)
	if err != nil {
		return false, err
	}
	if h == nil || h.LastAttempt == nil {
		return true, nil
	}
	return !now.Before(h.LastAttempt.Add(cadence)), nil
}

// fetchOne 抓取单个源并归一入库。返回值仅包含存储侧错误
func (s *SyncService) fetchOne(ctx context.Context, source string, now time.Time) error {
	if err := s.health.MarkAttempt(ctx, source, now); err != nil {
		return err
	}
	adapterIns, err := s.registry.GetAdapter(source)
	if err != nil {
		s.logger.WithError(err).WithField("source", source).Error("获取适配器实例失败")
		return nil
	}

	since := now.Add(-time.Duration(s.cfg.Scoring.BaselineDays) * 24 * time.Hour)
	if h, err := s.health.Get(ctx, source); err == nil && h != nil && h.LastOK != nil {
		since = *h.LastOK
	}

	fctx, cancel := context.WithTimeout(ctx, s.cfg.Sync.FetchTimeout)
	raws, fetchErr := adapterIns.FetchSignals(fctx, since)
	cancel()

	if fetchErr != nil {
		if retryAfter, ok := model.IsRateLimited(fetchErr); ok {
			s.logger.WithField("source", source).Warn("信号源限流")
			return s.health.RecordRateLimited(ctx, source, now, retryAfter)
		}
		s.logger.WithError(fetchErr).WithField("source", source).Warn("信号源抓取失败")
		return s.health.RecordFailure(ctx, source, now)
	}

	ingestErr := s.ingest(ctx, source, raws)
	// 源侧成功与存储侧失败分开记账：健康状态反映源本身
	if err := s.health.RecordSuccess(ctx, source, now); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"source":  source,
		"signals": len(raws),
	}).Info("信号源抓取完成")
	return ingestErr
}

// ingest 原始观测归一：命中实体的入signals，未命中的进发现候选。
// 停用实体再次出现信号时自动重新激活
func (s *SyncService) ingest(ctx context.Context, source string, raws []*model.RawSignal) error {
	var batch []*model.Signal
	resolvedIDs := make(map[uint64]bool)
	for _, raw := range raws {
		entityID, ok := s.resolver.Resolve(ctx, raw.EntityName)
		if !ok {
			s.discovery.Observe(raw)
			continue
		}
		resolvedIDs[entityID] = true
		batch = append(batch, &model.Signal{
			EntityID: entityID,
			Source:   raw.Source,
			Metric:   raw.Metric,
			Ts:       raw.Ts,
			Value:    raw.Value,
		})
	}
	if err := s.signalRepo.Append(ctx, batch); err != nil {
		return fmt.Errorf("写入信号失败: %w, source: %s", err, source)
	}
	for entityID := range resolvedIDs {
		e, err := s.entityRepo.GetByID(ctx, entityID)
		if err != nil {
			return err
		}
		if !e.IsActive {
			if err := s.entityRepo.SetActive(ctx, entityID, true); err != nil {
				return err
			}
			s.logger.WithFields(logrus.Fields{
				"entity_id": entityID,
				"name":      e.Name,
			}).Info("停用实体重新出现信号，已重新激活")
		}
	}
	return nil
}
