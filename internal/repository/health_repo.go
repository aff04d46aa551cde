package repository

import (
	"context"

	"TrendRadar/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// HealthRepository 信号源健康状态仓储 + 审计日志追加
type HealthRepository interface {
	Get(ctx context.Context, source string) (*model.SourceHealth, error)
	Upsert(ctx context.Context, health *model.SourceHealth) error
	List(ctx context.Context) ([]*model.SourceHealth, error)
	AppendAudit(ctx context.Context, entry *model.AuditLog) error
}

type healthRepository struct {
	db *gorm.DB
}

func NewHealthRepository(db *gorm.DB) HealthRepository {
	return &healthRepository{db: db}
}

func (r *healthRepository) Get(ctx context.Context, source string) (*model.SourceHealth, error) {
	var h model.SourceHealth
	err := r.db.WithContext(ctx).Where("source = ?", source).First(&h).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *healthRepository) Upsert(ctx context.Context, health *model.SourceHealth) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_ok", "last_error", "last_attempt",
			"consecutive_errors", "circuit_open_until", "updated_at",
		}),
	}).Create(health).Error
}

func (r *healthRepository) List(ctx context.Context) ([]*model.SourceHealth, error) {
	var list []*model.SourceHealth
	if err := r.db.WithContext(ctx).Order("source ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *healthRepository) AppendAudit(ctx context.Context, entry *model.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}
