package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/model"
	pkgerrors "github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/errors"
)

// ── 导出错误 ──

var (
	ErrExportRunNotCommitted = errors.New("只能导出已完成的提交运行")
	ErrExportGenerateFail    = errors.New("生成 Excel 文件失败")
)

// ExportService 升级决策导出
type ExportService interface {
	// ExportRun 导出提交运行的有效决策（每名学生更正链的末端）
	ExportRun(ctx context.Context, schoolID, runID string) (*bytes.Buffer, string, error)
}

type exportService struct {
	promotion PromotionService
	logger    *zap.Logger
}

// NewExportService 创建 ExportService 实例
func NewExportService(promotion PromotionService, logger *zap.Logger) ExportService {
	return &exportService{promotion: promotion, logger: logger}
}

const (
	decisionSheet = "升级决策"
	summarySheet  = "汇总"
)

var decisionHeaders = []string{"学号", "原年级", "原班", "新年级", "新班", "决策", "决策人", "决策时间", "覆盖原因", "更正自"}

var decisionLabels = map[model.Decision]string{
	model.DecisionPromoted:    "升级",
	model.DecisionRetained:    "留级",
	model.DecisionTransferred: "转出",
	model.DecisionGraduated:   "毕业",
	model.DecisionExcluded:    "待人工处理",
}

// ═══════════════════════════════════════════════════════════
// ExportRun — 一张决策明细表 + 一张按决策汇总表
//
// 回滚或失败的运行不导出；试运行不落库决策，同样不导出。
// ═══════════════════════════════════════════════════════════

func (s *exportService) ExportRun(ctx context.Context, schoolID, runID string) (*bytes.Buffer, string, error) {
	run, decisions, err := s.promotion.GetRun(ctx, schoolID, runID)
	if err != nil {
		return nil, "", err
	}
	if run.Mode != model.RunModeCommit || run.Status != model.RunStatusCompleted {
		return nil, "", pkgerrors.State(ErrExportRunNotCommitted.Error(), runID)
	}

	f := excelize.NewFile()
	defer f.Close()

	idx, _ := f.NewSheet(decisionSheet)
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")
	if _, err := f.NewSheet(summarySheet); err != nil {
		s.logger.Error("创建汇总表失败", zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	// 表头
	for i, h := range decisionHeaders {
		f.SetCellValue(decisionSheet, cell(colName(i), 1), h)
	}
	f.SetCellStyle(decisionSheet, "A1", cell(colName(len(decisionHeaders)-1), 1), headerStyle)
	f.SetPanes(decisionSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	// 数据行
	for i := range decisions {
		d := &decisions[i]
		row := i + 2
		values := []interface{}{
			d.StudentID,
			d.FromClass,
			d.FromSection,
			d.ToClass,
			derefOr(d.ToSection, "-"),
			decisionLabel(d.Decision),
			d.DecidedBy,
			d.DecidedAt.Format(time.DateTime),
			derefOr(d.OverrideReason, ""),
			derefOr(d.SupersedesID, ""),
		}
		for col, v := range values {
			f.SetCellValue(decisionSheet, cell(colName(col), row), v)
		}
	}

	f.SetColWidth(decisionSheet, "A", "A", 16)
	f.SetColWidth(decisionSheet, "B", "E", 10)
	f.SetColWidth(decisionSheet, "F", "G", 14)
	f.SetColWidth(decisionSheet, "H", "H", 20)
	f.SetColWidth(decisionSheet, "I", "J", 38)

	// 汇总表：按有效决策重新统计，包含更正后的结果
	counts := make(map[model.Decision]int, len(model.AllDecisions))
	for i := range decisions {
		counts[decisions[i].Decision]++
	}
	f.SetCellValue(summarySheet, "A1", "运行")
	f.SetCellValue(summarySheet, "B1", run.RunID)
	f.SetCellValue(summarySheet, "A2", "完成时间")
	if run.CompletedAt != nil {
		f.SetCellValue(summarySheet, "B2", run.CompletedAt.Format(time.DateTime))
	}
	f.SetCellValue(summarySheet, "A3", "学生总数")
	f.SetCellValue(summarySheet, "B3", len(decisions))
	f.SetCellValue(summarySheet, "A5", "决策")
	f.SetCellValue(summarySheet, "B5", "人数")
	f.SetCellStyle(summarySheet, "A5", "B5", headerStyle)
	for i, d := range model.AllDecisions {
		f.SetCellValue(summarySheet, cell("A", 6+i), decisionLabel(d))
		f.SetCellValue(summarySheet, cell("B", 6+i), counts[d])
	}
	f.SetColWidth(summarySheet, "A", "A", 14)
	f.SetColWidth(summarySheet, "B", "B", 38)

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		s.logger.Error("写入 Excel 失败", zap.String("run_id", runID), zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}

	filename := fmt.Sprintf("升级决策_%s.xlsx", run.RunID)
	return buf, filename, nil
}

// ── 辅助函数 ──

func decisionLabel(d model.Decision) string {
	if label, ok := decisionLabels[d]; ok {
		return label
	}
	return string(d)
}

func derefOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func colName(idx int) string {
	name, _ := excelize.ColumnNumberToName(idx + 1)
	return name
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
