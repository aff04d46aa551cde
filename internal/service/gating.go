package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"TrendRadar/internal/config"
	"TrendRadar/internal/model"
	"TrendRadar/internal/notify"
	"TrendRadar/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// 置信度封顶：门限超出幅度再大也不给满分
const confidenceCap = 0.95

// PressCatalog 行业媒体类信号源的查询入口（pre_trade判定用）
type PressCatalog interface {
	SourcesOfType(t model.SourceType) []string
}

// GatingService 告警门限状态机：idle → passing → alerted。
// 单实体转换持锁串行，一次转换恰好落一条TrendState写入
type GatingService struct {
	cfg        *config.GateConfig
	trendRepo  repository.TrendRepository
	signalRepo repository.SignalRepository
	catalog    PressCatalog
	sink       notify.Sink
	logger     *logrus.Logger

	mu    sync.Mutex
	locks map[uint64]*sync.Mutex
}

func NewGatingService(
	cfg *config.GateConfig,
	trendRepo repository.TrendRepository,
	signalRepo repository.SignalRepository,
	catalog PressCatalog,
	sink notify.Sink,
	logger *logrus.Logger,
) *GatingService {
	return &GatingService{
		cfg:        cfg,
		trendRepo:  trendRepo,
		signalRepo: signalRepo,
		catalog:    catalog,
		sink:       sink,
		logger:     logger,
		locks:      make(map[uint64]*sync.Mutex),
	}
}

func (s *GatingService) lockFor(entityID uint64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[entityID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[entityID] = l
	}
	return l
}

// Evaluate 用最新分量驱动一次状态转换。产生告警时返回告警行，否则返回nil。
// 门限 = 速度z与平台覆盖同时达标；热度本身不是门限条件
func (s *GatingService) Evaluate(ctx context.Context, entity *model.Entity, comp Components, now time.Time) (*model.Alert, error) {
	l := s.lockFor(entity.ID)
	l.Lock()
	defer l.Unlock()

	st, err := s.trendRepo.GetState(ctx, entity.ID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = &model.TrendState{EntityID: entity.ID, State: model.TrendIdle}
	}

	pass := comp.VelocityZ >= s.cfg.VelocityMin && comp.Spread >= s.cfg.SpreadMin

	var alert *model.Alert
	if pass {
		st.LastGatePassTs = &now
		switch st.State {
		case model.TrendAlerted:
			// 冷却中：继续通过门限不重复告警，持续计数冻结在告警时的值
		default:
			st.ConsecutivePasses++
			if st.ConsecutivePasses >= s.cfg.PersistencePolls {
				alert = s.buildAlert(entity.ID, comp, now)
				s.fillPreTrade(ctx, alert)
				st.State = model.TrendAlerted
				st.LastAlertTs = &now
				heat := comp.Heat
				st.LastAlertHeat = &heat
				if comp.Heat > st.PriorPeakHeat {
					st.PriorPeakHeat = comp.Heat
				}
			} else {
				st.State = model.TrendPassing
			}
		}
	} else {
		st.ConsecutivePasses = 0
		switch st.State {
		case model.TrendPassing:
			st.State = model.TrendIdle
		case model.TrendAlerted:
			// 热度跌破上次告警热度的一定比例才解除冷却，允许下一轮突增重新告警
			if st.LastAlertHeat != nil && comp.Heat < s.cfg.RealertDropFraction*(*st.LastAlertHeat) {
				st.State = model.TrendIdle
			}
		}
	}
	st.UpdatedAt = now

	// 状态行与告警行同事务落库：任一失败则本轮转换整体不生效，下轮重算
	if err := s.trendRepo.SaveTransition(ctx, st, alert); err != nil {
		return nil, err
	}

	if alert != nil {
		s.logger.WithFields(logrus.Fields{
			"alert_uuid": alert.AlertUUID,
			"entity_id":  entity.ID,
			"name":       entity.Name,
			"heat":       alert.Heat,
			"confidence": alert.Confidence,
		}).Warn("实体触发热度告警")
		if err := s.sink.Emit(ctx, alert, entity.Name); err != nil {
			s.logger.WithError(err).WithField("alert_uuid", alert.AlertUUID).Warn("告警推送失败")
		}
	}
	return alert, nil
}

// buildAlert 组装不可变告警行。置信度由门限超出幅度折算
func (s *GatingService) buildAlert(entityID uint64, comp Components, now time.Time) *model.Alert {
	components, _ := json.Marshal(map[string]float64{
		"velocity_z":       comp.VelocityZ,
		"spread":           comp.Spread,
		"affect":           comp.Affect,
		"decay":            comp.Decay,
		"heat":             comp.Heat,
		"hours_since_peak": comp.HoursSincePeak,
	})
	return &model.Alert{
		AlertUUID:  uuid.NewString(),
		EntityID:   entityID,
		Ts:         now,
		Heat:       comp.Heat,
		VelocityZ:  comp.VelocityZ,
		Spread:     comp.Spread,
		Affect:     comp.Affect,
		Confidence: s.confidence(comp),
		Reasons:    comp.Reasons,
		Components: components,
	}
}

// fillPreTrade 对照最早的行业媒体信号判定告警是否领先行业报道。
// 尚无报道即为领先（领先分钟数待报道出现后回填）；已有报道则记录与首报的间隔
func (s *GatingService) fillPreTrade(ctx context.Context, alert *model.Alert) {
	earliest, err := s.signalRepo.EarliestTs(ctx, alert.EntityID, s.catalog.SourcesOfType(model.SourceTypePress))
	if err != nil {
		s.logger.WithError(err).WithField("entity_id", alert.EntityID).Warn("查询行业媒体首报时间失败")
		return
	}
	if earliest == nil {
		alert.PreTrade = true
		return
	}
	lead := int(alert.Ts.Sub(*earliest).Minutes())
	alert.LeadTimeMinutes = &lead
}

// confidence 0.5基准 + 速度超出量*0.1 + 覆盖超出量*0.3，封顶0.95
func (s *GatingService) confidence(comp Components) float64 {
	c := 0.5 + 0.1*(comp.VelocityZ-s.cfg.VelocityMin) + 0.3*(comp.Spread-s.cfg.SpreadMin)
	if c > confidenceCap {
		c = confidenceCap
	}
	if c < 0 {
		c = 0
	}
	return c
}
