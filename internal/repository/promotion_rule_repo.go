package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/model"
	pkgerrors "github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/errors"
)

// PromotionRuleRepository 升级规则与学校年级序列数据访问接口
type PromotionRuleRepository interface {
	ListBySchool(ctx context.Context, schoolID string) ([]model.PromotionRule, error)
	GetByID(ctx context.Context, id string) (*model.PromotionRule, error)
	Create(ctx context.Context, rule *model.PromotionRule) error
	Update(ctx context.Context, rule *model.PromotionRule) error
	Delete(ctx context.Context, id string, deletedBy string) error

	GetProfile(ctx context.Context, schoolID string) (*model.SchoolProfile, error)
	SaveProfile(ctx context.Context, profile *model.SchoolProfile) error
}

type promotionRuleRepo struct {
	db *gorm.DB
}

// NewPromotionRuleRepo 创建 PromotionRuleRepository 实例
func NewPromotionRuleRepo(db *gorm.DB) PromotionRuleRepository {
	return &promotionRuleRepo{db: db}
}

func (r *promotionRuleRepo) ListBySchool(ctx context.Context, schoolID string) ([]model.PromotionRule, error) {
	var rules []model.PromotionRule
	err := r.db.WithContext(ctx).
		Where("school_id = ?", schoolID).
		Order("from_class ASC, from_section ASC NULLS LAST").
		Find(&rules).Error
	return rules, err
}

func (r *promotionRuleRepo) GetByID(ctx context.Context, id string) (*model.PromotionRule, error) {
	var rule model.PromotionRule
	err := r.db.WithContext(ctx).
		Where("rule_id = ?", id).
		First(&rule).Error
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *promotionRuleRepo) Create(ctx context.Context, rule *model.PromotionRule) error {
	return translateError(r.db.WithContext(ctx).Create(rule).Error)
}

func (r *promotionRuleRepo) Update(ctx context.Context, rule *model.PromotionRule) error {
	oldVersion := rule.Version
	result := r.db.WithContext(ctx).
		Model(&model.PromotionRule{}).
		Where("rule_id = ? AND version = ?", rule.RuleID, oldVersion).
		Updates(map[string]interface{}{
			"to_class":   rule.ToClass,
			"to_section": rule.ToSection,
			"criteria":   rule.Criteria,
			"updated_by": rule.UpdatedBy,
			"updated_at": gorm.Expr("NOW()"),
			"version":    oldVersion + 1,
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	rule.Version = oldVersion + 1
	return nil
}

func (r *promotionRuleRepo) Delete(ctx context.Context, id string, deletedBy string) error {
	return r.db.WithContext(ctx).
		Model(&model.PromotionRule{}).
		Where("rule_id = ?", id).
		Updates(map[string]interface{}{
			"deleted_by": deletedBy,
			"deleted_at": gorm.Expr("NOW()"),
		}).Error
}

func (r *promotionRuleRepo) GetProfile(ctx context.Context, schoolID string) (*model.SchoolProfile, error) {
	var profile model.SchoolProfile
	err := r.db.WithContext(ctx).
		Where("school_id = ?", schoolID).
		First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *promotionRuleRepo) SaveProfile(ctx context.Context, profile *model.SchoolProfile) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "school_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"class_ladder", "terminal_class", "updated_by", "updated_at"}),
		}).
		Create(profile).Error
}
