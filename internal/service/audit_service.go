package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/dto"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/model"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/repository"
	pkgerrors "github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/errors"
)

// AuditRecord 待写入的审计记录，Before / After 为任意可 JSON 序列化的快照
type AuditRecord struct {
	SchoolCode string
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Before     interface{}
	After      interface{}
}

// AuditService 审计账本
// Append 与触发它的业务写入处于同一事务：审计写失败即业务失败
type AuditService interface {
	Append(ctx context.Context, tx *repository.Repository, rec AuditRecord) error
	AppendBatch(ctx context.Context, tx *repository.Repository, recs []AuditRecord) error
	Query(ctx context.Context, schoolCode string, q *dto.AuditLogQuery) ([]dto.AuditLogResponse, int64, error)
}

type auditService struct {
	repo      *repository.Repository
	batchSize int
	logger    *zap.Logger
}

// NewAuditService 创建 AuditService 实例
func NewAuditService(repo *repository.Repository, batchSize int, logger *zap.Logger) AuditService {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &auditService{repo: repo, batchSize: batchSize, logger: logger}
}

func (s *auditService) Append(ctx context.Context, tx *repository.Repository, rec AuditRecord) error {
	if tx == nil {
		tx = s.repo
	}
	entry, err := toAuditEntry(rec)
	if err != nil {
		return err
	}
	if err := tx.AuditLog.Create(ctx, entry); err != nil {
		s.logger.Error("写入审计日志失败",
			zap.String("action", rec.Action),
			zap.String("entity_id", rec.EntityID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *auditService) AppendBatch(ctx context.Context, tx *repository.Repository, recs []AuditRecord) error {
	if len(recs) == 0 {
		return nil
	}
	if tx == nil {
		tx = s.repo
	}
	entries := make([]model.AuditLogEntry, 0, len(recs))
	for _, rec := range recs {
		entry, err := toAuditEntry(rec)
		if err != nil {
			return err
		}
		entries = append(entries, *entry)
	}
	if err := tx.AuditLog.CreateBatch(ctx, entries, s.batchSize); err != nil {
		s.logger.Error("批量写入审计日志失败", zap.Int("count", len(entries)), zap.Error(err))
		return err
	}
	return nil
}

func (s *auditService) Query(ctx context.Context, schoolCode string, q *dto.AuditLogQuery) ([]dto.AuditLogResponse, int64, error) {
	filter := repository.AuditLogFilter{
		SchoolCode: schoolCode,
		ActorID:    q.ActorID,
		Action:     q.Action,
		EntityType: q.EntityType,
		EntityID:   q.EntityID,
		Ascending:  q.Order == "asc",
	}
	if q.Since != "" {
		t, err := time.Parse(dateLayout, q.Since)
		if err != nil {
			return nil, 0, pkgerrors.Validation("since 日期格式无效")
		}
		filter.Since = &t
	}
	if q.Until != "" {
		t, err := time.Parse(dateLayout, q.Until)
		if err != nil {
			return nil, 0, pkgerrors.Validation("until 日期格式无效")
		}
		// until 当天包含在内
		t = t.AddDate(0, 0, 1)
		filter.Until = &t
	}

	entries, total, err := s.repo.AuditLog.List(ctx, filter, q.GetOffset(), q.GetLimit())
	if err != nil {
		s.logger.Error("查询审计日志失败", zap.String("school_code", schoolCode), zap.Error(err))
		return nil, 0, err
	}

	list := make([]dto.AuditLogResponse, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		item := dto.AuditLogResponse{
			EntryID:    e.EntryID,
			SchoolCode: e.SchoolCode,
			ActorID:    e.ActorID,
			Action:     e.Action,
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			After:      json.RawMessage(e.After),
			CreatedAt:  e.CreatedAt.Format(time.RFC3339),
		}
		if len(e.Before) > 0 {
			item.Before = json.RawMessage(e.Before)
		}
		list = append(list, item)
	}
	return list, total, nil
}

func toAuditEntry(rec AuditRecord) (*model.AuditLogEntry, error) {
	entry := &model.AuditLogEntry{
		SchoolCode: rec.SchoolCode,
		ActorID:    rec.ActorID,
		Action:     rec.Action,
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		CreatedAt:  time.Now(),
	}
	if rec.Before != nil {
		b, err := json.Marshal(rec.Before)
		if err != nil {
			return nil, fmt.Errorf("序列化审计快照失败: %w", err)
		}
		entry.Before = datatypes.JSON(b)
	}
	after := rec.After
	if after == nil {
		after = map[string]interface{}{}
	}
	a, err := json.Marshal(after)
	if err != nil {
		return nil, fmt.Errorf("序列化审计快照失败: %w", err)
	}
	entry.After = datatypes.JSON(a)
	return entry, nil
}
