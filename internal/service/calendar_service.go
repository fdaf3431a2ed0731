package service

import (
	"context"
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"
	"go.uber.org/zap"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/model"
)

// ── 学年日历 ──────────────────────────────────────────────
//
// 职责：把学校的学年输出为 iCalendar (RFC 5545) 订阅源。
//
//   - 每个学年一个全天事件，DTEND 为结束日的次日（RFC 5545 全天事件不含结束日）
//   - UID 由学年 ID 派生，订阅端刷新时不会产生重复事件
//   - 草稿学年也输出，summary 中带状态以便区分
// ─────────────────────────────────────────────────────────────

const calendarProductID = "-//smart-school//academic-year//ZH"

var yearStatusLabels = map[model.YearStatus]string{
	model.YearStatusDraft:     "草稿",
	model.YearStatusActive:    "进行中",
	model.YearStatusPromoting: "升级中",
	model.YearStatusClosing:   "关闭中",
	model.YearStatusClosed:    "已关闭",
}

// CalendarService 学年日历订阅
type CalendarService interface {
	CalendarFeed(ctx context.Context, schoolID string) ([]byte, error)
}

type calendarService struct {
	years  AcademicYearService
	nowFn  func() time.Time
	logger *zap.Logger
}

// NewCalendarService 创建 CalendarService 实例
func NewCalendarService(years AcademicYearService, logger *zap.Logger) CalendarService {
	return &calendarService{years: years, nowFn: time.Now, logger: logger}
}

func (s *calendarService) CalendarFeed(ctx context.Context, schoolID string) ([]byte, error) {
	years, err := s.years.List(ctx, schoolID)
	if err != nil {
		s.logger.Error("查询学年列表失败", zap.String("school_id", schoolID), zap.Error(err))
		return nil, err
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(calendarProductID)
	cal.SetXWRCalName(fmt.Sprintf("%s 学年日历", schoolID))

	stamp := s.nowFn().UTC()
	for i := range years {
		y := &years[i]
		event := cal.AddEvent(fmt.Sprintf("academic-year-%s@%s", y.YearID, schoolID))
		event.SetDtStampTime(stamp)
		event.SetSummary(fmt.Sprintf("%s（%s）", y.YearLabel, yearStatusLabel(y.Status)))
		event.SetAllDayStartAt(y.StartDate)
		event.SetAllDayEndAt(y.EndDate.AddDate(0, 0, 1))
		event.SetDescription(fmt.Sprintf("学年 %s，%s 至 %s",
			y.YearLabel, y.StartDate.Format(dateLayout), y.EndDate.Format(dateLayout)))
	}

	return []byte(cal.Serialize()), nil
}

func yearStatusLabel(s model.YearStatus) string {
	if label, ok := yearStatusLabels[s]; ok {
		return label
	}
	return string(s)
}
