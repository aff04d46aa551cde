package repository

import (
	"context"
	"time"

	"TrendRadar/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SignalRepository 信号时间序列仓储。写入按四元组唯一键幂等
type SignalRepository interface {
	Append(ctx context.Context, signals []*model.Signal) error
	QueryWindow(ctx context.Context, entityID uint64, from, to time.Time) ([]*model.Signal, error)
	LastSignalTs(ctx context.Context, entityID uint64) (*time.Time, error)
	EarliestTs(ctx context.Context, entityID uint64, sources []string) (*time.Time, error)
}

type signalRepository struct {
	db *gorm.DB
}

func NewSignalRepository(db *gorm.DB) SignalRepository {
	return &signalRepository{db: db}
}

// Append 批量追加信号。键冲突时按无操作处理，保证重复窗口抓取不产生重复行
func (r *signalRepository) Append(ctx context.Context, signals []*model.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "entity_id"}, {Name: "source"}, {Name: "metric"}, {Name: "ts"},
		},
		DoNothing: true,
	}).Create(signals).Error
}

// QueryWindow 查询实体在窗口内的全部信号（打分引擎只读）
func (r *signalRepository) QueryWindow(ctx context.Context, entityID uint64, from, to time.Time) ([]*model.Signal, error) {
	var signals []*model.Signal
	if err := r.db.WithContext(ctx).
		Where("entity_id = ? AND ts >= ? AND ts <= ?", entityID, from, to).
		Order("ts ASC").
		Find(&signals).Error; err != nil {
		return nil, err
	}
	return signals, nil
}

// LastSignalTs 实体最近一条信号的时间，无信号返回nil
func (r *signalRepository) LastSignalTs(ctx context.Context, entityID uint64) (*time.Time, error) {
	var sig model.Signal
	err := r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("ts DESC").
		First(&sig).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sig.Ts, nil
}

// EarliestTs 实体在指定源集合内最早一条信号的时间，无信号返回nil
func (r *signalRepository) EarliestTs(ctx context.Context, entityID uint64, sources []string) (*time.Time, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	var sig model.Signal
	err := r.db.WithContext(ctx).
		Where("entity_id = ? AND source IN ?", entityID, sources).
		Order("ts ASC").
		First(&sig).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sig.Ts, nil
}
