package repository

import (
	"context"
	"time"

	"TrendRadar/internal/model"

	"gorm.io/gorm"
)

// ScoreRepository 分数仓储。分数行只追加，不修改
type ScoreRepository interface {
	Insert(ctx context.Context, score *model.Score) error
	LatestByEntity(ctx context.Context, entityID uint64) (*model.Score, error)
	// PeakTsSince 窗口内热度最高的分数行的时间（新鲜度衰减的峰值基准）
	PeakTsSince(ctx context.Context, entityID uint64, since time.Time) (*time.Time, error)
	ListByEntity(ctx context.Context, entityID uint64, from time.Time) ([]*model.Score, error)
}

type scoreRepository struct {
	db *gorm.DB
}

func NewScoreRepository(db *gorm.DB) ScoreRepository {
	return &scoreRepository{db: db}
}

func (r *scoreRepository) Insert(ctx context.Context, score *model.Score) error {
	return r.db.WithContext(ctx).Create(score).Error
}

func (r *scoreRepository) LatestByEntity(ctx context.Context, entityID uint64) (*model.Score, error) {
	var s model.Score
	err := r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("ts DESC").
		First(&s).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *scoreRepository) PeakTsSince(ctx context.Context, entityID uint64, since time.Time) (*time.Time, error) {
	var s model.Score
	err := r.db.WithContext(ctx).
		Where("entity_id = ? AND ts >= ?", entityID, since).
		Order("heat DESC, ts DESC").
		First(&s).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s.Ts, nil
}

func (r *scoreRepository) ListByEntity(ctx context.Context, entityID uint64, from time.Time) ([]*model.Score, error) {
	var list []*model.Score
	if err := r.db.WithContext(ctx).
		Where("entity_id = ? AND ts >= ?", entityID, from).
		Order("ts ASC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
