package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/model"
)

// AuditLogFilter 审计日志查询条件（零值字段不参与过滤）
type AuditLogFilter struct {
	SchoolCode string
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Since      *time.Time
	Until      *time.Time
	Ascending  bool // 默认倒序
}

// AuditLogRepository 审计日志数据访问接口
// 只追加：不提供 Update / Delete
type AuditLogRepository interface {
	Create(ctx context.Context, entry *model.AuditLogEntry) error
	CreateBatch(ctx context.Context, entries []model.AuditLogEntry, batchSize int) error
	List(ctx context.Context, filter AuditLogFilter, offset, limit int) ([]model.AuditLogEntry, int64, error)
}

type auditLogRepo struct {
	db *gorm.DB
}

// NewAuditLogRepo 创建 AuditLogRepository 实例
func NewAuditLogRepo(db *gorm.DB) AuditLogRepository {
	return &auditLogRepo{db: db}
}

func (r *auditLogRepo) Create(ctx context.Context, entry *model.AuditLogEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *auditLogRepo) CreateBatch(ctx context.Context, entries []model.AuditLogEntry, batchSize int) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(entries, batchSize).Error
}

func (r *auditLogRepo) List(ctx context.Context, filter AuditLogFilter, offset, limit int) ([]model.AuditLogEntry, int64, error) {
	var entries []model.AuditLogEntry
	var total int64

	db := r.db.WithContext(ctx).Model(&model.AuditLogEntry{}).Where("school_code = ?", filter.SchoolCode)
	if filter.ActorID != "" {
		db = db.Where("actor_id = ?", filter.ActorID)
	}
	if filter.Action != "" {
		db = db.Where("action = ?", filter.Action)
	}
	if filter.EntityType != "" {
		db = db.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != "" {
		db = db.Where("entity_id = ?", filter.EntityID)
	}
	if filter.Since != nil {
		db = db.Where("created_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		db = db.Where("created_at < ?", *filter.Until)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	order := "created_at DESC, entry_id DESC"
	if filter.Ascending {
		order = "created_at ASC, entry_id ASC"
	}
	err := db.Offset(offset).Limit(limit).Order(order).Find(&entries).Error
	return entries, total, err
}
