package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/model"
	pkgerrors "github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/errors"
)

// ── CreateDraft 测试 ──

func TestAcademicYearService_CreateDraft_Success(t *testing.T) {
	env := setupTestEnv(t)
	env.years.put(model.AcademicYear{
		YearID:    testSourceYear,
		SchoolID:  testSchool,
		YearLabel: "2025-26",
		Status:    model.YearStatusActive,
		StartDate: mustDate("2025-04-01"),
		EndDate:   mustDate("2026-03-31"),
	})

	year, err := env.yearSvc.CreateDraft(context.Background(), testSchool, "2026-27",
		mustDate("2026-04-01"), mustDate("2027-03-31"), testActor)
	if err != nil {
		t.Fatalf("CreateDraft 应成功: %v", err)
	}
	if year.Status != model.YearStatusDraft {
		t.Errorf("期望 draft，实际 %s", year.Status)
	}
	if year.PreviousYearID == nil || *year.PreviousYearID != testSourceYear {
		t.Errorf("previous_year_id 应指向 %s", testSourceYear)
	}
	if year.YearID == "" {
		t.Error("应分配学年 ID")
	}
	entries := env.auditRepo.byAction(model.AuditActionYearCreate)
	if len(entries) != 1 || entries[0].EntityID != year.YearID {
		t.Errorf("期望 1 条创建审计，实际 %v", entries)
	}
}

func TestAcademicYearService_CreateDraft_FirstYearHasNoPrevious(t *testing.T) {
	env := setupTestEnv(t)
	year, err := env.yearSvc.CreateDraft(context.Background(), testSchool, "2025-26",
		mustDate("2025-04-01"), mustDate("2026-03-31"), testActor)
	if err != nil {
		t.Fatalf("CreateDraft 应成功: %v", err)
	}
	if year.PreviousYearID != nil {
		t.Error("首个学年不应有 previous_year_id")
	}
}

func TestAcademicYearService_CreateDraft_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		label   string
		start   string
		end     string
		wantErr error
		wantIDs []string
	}{
		{name: "结束早于开始", label: "X", start: "2027-04-01", end: "2027-03-31", wantErr: pkgerrors.ErrValidation},
		{name: "结束等于开始", label: "X", start: "2027-04-01", end: "2027-04-01", wantErr: pkgerrors.ErrValidation},
		{name: "名称重复", label: "2025-26", start: "2027-04-01", end: "2028-03-31", wantErr: pkgerrors.ErrValidation, wantIDs: []string{testSourceYear}},
		{name: "与未关闭学年重叠", label: "2026-27", start: "2026-01-01", end: "2026-12-31", wantErr: pkgerrors.ErrValidation, wantIDs: []string{testSourceYear}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			env.years.put(model.AcademicYear{
				YearID:    testSourceYear,
				SchoolID:  testSchool,
				YearLabel: "2025-26",
				Status:    model.YearStatusActive,
				StartDate: mustDate("2025-04-01"),
				EndDate:   mustDate("2026-03-31"),
			})
			_, err := env.yearSvc.CreateDraft(context.Background(), testSchool, tt.label,
				mustDate(tt.start), mustDate(tt.end), testActor)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("期望 %v，实际: %v", tt.wantErr, err)
			}
			if tt.wantIDs != nil {
				ids := pkgerrors.EntityIDsOf(err)
				if len(ids) != len(tt.wantIDs) || ids[0] != tt.wantIDs[0] {
					t.Errorf("期望 ids=%v，实际 %v", tt.wantIDs, ids)
				}
			}
		})
	}
}

func TestAcademicYearService_CreateDraft_ExistingDraftConflict(t *testing.T) {
	env := setupTestEnv(t)
	env.seedYears()
	_, err := env.yearSvc.CreateDraft(context.Background(), testSchool, "2027-28",
		mustDate("2027-04-01"), mustDate("2028-03-31"), testActor)
	if !errors.Is(err, pkgerrors.ErrConflict) {
		t.Errorf("已有草稿期望 ConflictError，实际: %v", err)
	}
}

func TestAcademicYearService_CreateDraft_ChainsAfterClosedYear(t *testing.T) {
	env := setupTestEnv(t)
	env.years.put(model.AcademicYear{
		YearID:    "closed-year",
		SchoolID:  testSchool,
		YearLabel: "2024-25",
		Status:    model.YearStatusClosed,
		StartDate: mustDate("2024-04-01"),
		EndDate:   mustDate("2025-03-31"),
	})
	year, err := env.yearSvc.CreateDraft(context.Background(), testSchool, "2025-26",
		mustDate("2025-04-01"), mustDate("2026-03-31"), testActor)
	if err != nil {
		t.Fatalf("紧接已关闭学年的草稿应允许: %v", err)
	}
	if year.PreviousYearID == nil || *year.PreviousYearID != "closed-year" {
		t.Errorf("previous_year_id 期望 closed-year，实际 %v", year.PreviousYearID)
	}
}

func TestAcademicYearService_CreateDraft_RejectsBackdatedDraft(t *testing.T) {
	env := setupTestEnv(t)
	env.years.put(model.AcademicYear{
		YearID:    "closed-year",
		SchoolID:  testSchool,
		YearLabel: "2025-26",
		Status:    model.YearStatusClosed,
		StartDate: mustDate("2025-04-01"),
		EndDate:   mustDate("2026-03-31"),
	})

	tests := []struct {
		name  string
		start string
		end   string
	}{
		{"早于上一学年", "2025-01-01", "2025-03-31"},
		{"与已关闭的上一学年重叠", "2026-03-01", "2027-03-31"},
		{"开始于上一学年结束日", "2026-03-31", "2027-03-31"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.yearSvc.CreateDraft(context.Background(), testSchool, "backdated",
				mustDate(tt.start), mustDate(tt.end), testActor)
			if !errors.Is(err, pkgerrors.ErrValidation) {
				t.Fatalf("期望 ValidationError，实际: %v", err)
			}
			if ids := pkgerrors.EntityIDsOf(err); len(ids) != 1 || ids[0] != "closed-year" {
				t.Errorf("期望 ids=[closed-year]，实际 %v", ids)
			}
		})
	}
}

// ── Activate 测试 ──

func TestAcademicYearService_Activate(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	year, err := env.yearSvc.CreateDraft(ctx, testSchool, "2025-26", mustDate("2025-04-01"), mustDate("2026-03-31"), testActor)
	if err != nil {
		t.Fatalf("CreateDraft 应成功: %v", err)
	}
	activated, err := env.yearSvc.Activate(ctx, testSchool, year.YearID, testActor)
	if err != nil {
		t.Fatalf("首个学年启用应成功: %v", err)
	}
	if activated.Status != model.YearStatusActive || activated.Version != 2 {
		t.Errorf("期望 active 且 version=2，实际 %s / %d", activated.Status, activated.Version)
	}

	// 已启用的学年不能再次启用
	_, err = env.yearSvc.Activate(ctx, testSchool, year.YearID, testActor)
	if !errors.Is(err, pkgerrors.ErrState) {
		t.Errorf("期望 StateError，实际: %v", err)
	}

	next, err := env.yearSvc.CreateDraft(ctx, testSchool, "2026-27", mustDate("2026-04-01"), mustDate("2027-03-31"), testActor)
	if err != nil {
		t.Fatalf("CreateDraft 应成功: %v", err)
	}
	_, err = env.yearSvc.Activate(ctx, testSchool, next.YearID, testActor)
	if !errors.Is(err, pkgerrors.ErrState) {
		t.Errorf("已有 active 学年时期望 StateError，实际: %v", err)
	}
	if ids := pkgerrors.EntityIDsOf(err); len(ids) != 1 || ids[0] != year.YearID {
		t.Errorf("错误应携带当前 active 学年，实际 %v", ids)
	}
}

func TestAcademicYearService_ActivateBlockedByPromotingYear(t *testing.T) {
	env := setupTestEnv(t)
	env.seedYears()
	ctx := context.Background()
	src, _ := env.years.GetByID(ctx, testSourceYear)
	_ = env.years.UpdateStatus(ctx, src, model.YearStatusPromoting, testActor)

	_, err := env.yearSvc.Activate(ctx, testSchool, testTargetYear, testActor)
	if !errors.Is(err, pkgerrors.ErrState) {
		t.Errorf("存在 promoting 学年时期望 StateError，实际: %v", err)
	}
}

// ── Transition 测试 ──

func TestAcademicYearService_Transition(t *testing.T) {
	legal := []struct{ from, to model.YearStatus }{
		{model.YearStatusDraft, model.YearStatusActive},
		{model.YearStatusActive, model.YearStatusPromoting},
		{model.YearStatusPromoting, model.YearStatusActive},
		{model.YearStatusPromoting, model.YearStatusClosing},
		{model.YearStatusClosing, model.YearStatusClosed},
	}
	for _, tt := range legal {
		t.Run(string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			env := setupTestEnv(t)
			env.years.put(model.AcademicYear{YearID: "y", SchoolID: testSchool, Status: tt.from})
			year, _ := env.years.GetByID(context.Background(), "y")
			if err := env.yearSvc.Transition(context.Background(), nil, year, tt.to, testActor); err != nil {
				t.Fatalf("合法迁移应成功: %v", err)
			}
			if env.years.status("y") != tt.to {
				t.Errorf("期望 %s，实际 %s", tt.to, env.years.status("y"))
			}
			if n := len(env.auditRepo.byAction(model.AuditActionYearTransition)); n != 1 {
				t.Errorf("期望 1 条迁移审计，实际 %d", n)
			}
		})
	}

	illegal := []struct{ from, to model.YearStatus }{
		{model.YearStatusDraft, model.YearStatusClosed},
		{model.YearStatusActive, model.YearStatusClosed},
		{model.YearStatusActive, model.YearStatusClosing},
		{model.YearStatusClosed, model.YearStatusActive},
		{model.YearStatusClosing, model.YearStatusActive},
	}
	for _, tt := range illegal {
		t.Run(string(tt.from)+"↛"+string(tt.to), func(t *testing.T) {
			env := setupTestEnv(t)
			env.years.put(model.AcademicYear{YearID: "y", SchoolID: testSchool, Status: tt.from})
			year, _ := env.years.GetByID(context.Background(), "y")
			err := env.yearSvc.Transition(context.Background(), nil, year, tt.to, testActor)
			if !errors.Is(err, pkgerrors.ErrInvalidTransition) {
				t.Errorf("期望 InvalidTransitionError，实际: %v", err)
			}
			if env.years.status("y") != tt.from {
				t.Error("非法迁移不应改变状态")
			}
		})
	}
}

func TestAcademicYearService_Transition_StaleVersionConflict(t *testing.T) {
	env := setupTestEnv(t)
	env.seedYears()
	ctx := context.Background()

	stale, _ := env.years.GetByID(ctx, testSourceYear)
	fresh, _ := env.years.GetByID(ctx, testSourceYear)
	if err := env.yearSvc.Transition(ctx, nil, fresh, model.YearStatusPromoting, testActor); err != nil {
		t.Fatalf("迁移应成功: %v", err)
	}
	// stale 仍认为学年是 active，CAS 失败
	err := env.yearSvc.Transition(ctx, nil, stale, model.YearStatusPromoting, testActor)
	if !errors.Is(err, pkgerrors.ErrConflict) {
		t.Errorf("期望 ConflictError，实际: %v", err)
	}
}

// ── 查询与只读保护 ──

func TestAcademicYearService_GetCrossSchoolNotFound(t *testing.T) {
	env := setupTestEnv(t)
	env.seedYears()
	_, err := env.yearSvc.Get(context.Background(), "S2", testSourceYear)
	if !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Errorf("期望 NotFoundError，实际: %v", err)
	}
	_, err = env.yearSvc.GetActive(context.Background(), "S2")
	if !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Errorf("期望 NotFoundError，实际: %v", err)
	}
}

func TestAcademicYearService_EnsureWritable(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.years.put(model.AcademicYear{YearID: "open", SchoolID: testSchool, Status: model.YearStatusActive})
	env.years.put(model.AcademicYear{YearID: "closed", SchoolID: testSchool, Status: model.YearStatusClosed})
	env.years.put(model.AcademicYear{YearID: "archived", SchoolID: testSchool, Status: model.YearStatusPromoting})
	_ = env.years.Archive(ctx, &model.YearArchive{YearID: "archived", SchoolID: testSchool, ArchivedBy: testActor})

	if err := env.yearSvc.EnsureWritable(ctx, testSchool, "open"); err != nil {
		t.Errorf("active 学年应可写: %v", err)
	}
	for _, id := range []string{"closed", "archived"} {
		if err := env.yearSvc.EnsureWritable(ctx, testSchool, id); !errors.Is(err, pkgerrors.ErrLocked) {
			t.Errorf("%s 期望 LockedError，实际: %v", id, err)
		}
	}
}
