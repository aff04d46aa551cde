package repository

import (
	"context"
	"fmt"

	"TrendRadar/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TrendRepository 门限持续状态与告警仓储。
// 一次状态机转换对应一次SaveTransition：状态行与告警行同事务落库，失败则整体不生效
type TrendRepository interface {
	GetState(ctx context.Context, entityID uint64) (*model.TrendState, error)
	SaveTransition(ctx context.Context, state *model.TrendState, alert *model.Alert) error
	ListAlerts(ctx context.Context, limit int) ([]*model.Alert, error)
}

type trendRepository struct {
	db *gorm.DB
}

func NewTrendRepository(db *gorm.DB) TrendRepository {
	return &trendRepository{db: db}
}

func (r *trendRepository) GetState(ctx context.Context, entityID uint64) (*model.TrendState, error) {
	var st model.TrendState
	err := r.db.WithContext(ctx).Where("entity_id = ?", entityID).First(&st).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *trendRepository) SaveTransition(ctx context.Context, state *model.TrendState, alert *model.Alert) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if alert != nil {
			if err := tx.Create(alert).Error; err != nil {
				return err
			}
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "entity_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"state", "last_gate_pass_ts", "consecutive_passes",
				"last_alert_ts", "last_alert_heat", "prior_peak_heat", "updated_at",
			}),
		}).Create(state).Error
	})
	if err != nil {
		return fmt.Errorf("保存状态转换失败: %w, entity_id: %d", err, state.EntityID)
	}
	return nil
}

func (r *trendRepository) ListAlerts(ctx context.Context, limit int) ([]*model.Alert, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var list []*model.Alert
	if err := r.db.WithContext(ctx).Order("ts DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
