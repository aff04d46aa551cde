package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"TrendRadar/internal/model"

	"gorm.io/gorm"
)

// EntityRepository 实体仓储。实体只停用，永不删除
type EntityRepository interface {
	Create(ctx context.Context, entity *model.Entity) error
	GetByID(ctx context.Context, id uint64) (*model.Entity, error)
	List(ctx context.Context, activeOnly bool, page, pageSize int) ([]*model.Entity, int64, error)
	ListAll(ctx context.Context) ([]*model.Entity, error)
	AppendAlias(ctx context.Context, entityID uint64, alias string) error
	SetActive(ctx context.Context, entityID uint64, active bool) error
	// ListStale 查询cutoff之后没有任何信号的活跃实体（停用候选）
	ListStale(ctx context.Context, cutoff time.Time) ([]*model.Entity, error)
}

type entityRepository struct {
	db *gorm.DB
}

func NewEntityRepository(db *gorm.DB) EntityRepository {
	return &entityRepository{db: db}
}

func (r *entityRepository) Create(ctx context.Context, entity *model.Entity) error {
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return fmt.Errorf("创建实体失败: %w, name: %s", err, entity.Name)
	}
	return nil
}

func (r *entityRepository) GetByID(ctx context.Context, id uint64) (*model.Entity, error) {
	var e model.Entity
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *entityRepository) List(ctx context.Context, activeOnly bool, page, pageSize int) ([]*model.Entity, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	db := r.db.WithContext(ctx).Model(&model.Entity{})
	if activeOnly {
		db = db.Where("is_active = ?", true)
	}
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []*model.Entity
	if err := db.Order("id ASC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *entityRepository) ListAll(ctx context.Context) ([]*model.Entity, error) {
	var list []*model.Entity
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// AppendAlias 追加别名（按原样字符串去重）
func (r *entityRepository) AppendAlias(ctx context.Context, entityID uint64, alias string) error {
	var e model.Entity
	if err := r.db.WithContext(ctx).Where("id = ?", entityID).First(&e).Error; err != nil {
		return err
	}
	var aliases []string
	if len(e.Aliases) > 0 {
		if err := json.Unmarshal(e.Aliases, &aliases); err != nil {
			return fmt.Errorf("解析别名列表失败: %w", err)
		}
	}
	for _, a := range aliases {
		if a == alias {
			return nil
		}
	}
	aliases = append(aliases, alias)
	raw, err := json.Marshal(aliases)
	if err != nil {
		return fmt.Errorf("序列化别名列表失败: %w", err)
	}
	return r.db.WithContext(ctx).Model(&model.Entity{}).
		Where("id = ?", entityID).
		Update("aliases", raw).Error
}

func (r *entityRepository) SetActive(ctx context.Context, entityID uint64, active bool) error {
	return r.db.WithContext(ctx).Model(&model.Entity{}).
		Where("id = ?", entityID).
		Update("is_active", active).Error
}

func (r *entityRepository) ListStale(ctx context.Context, cutoff time.Time) ([]*model.Entity, error) {
	var list []*model.Entity
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("NOT EXISTS (SELECT 1 FROM signals WHERE signals.entity_id = entities.id AND signals.ts >= ?)", cutoff).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
