package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/config"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/model"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/repository"
	pkgerrors "github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/errors"
)

const (
	testSchool     = "S1"
	testActor      = "admin-001"
	testSourceYear = "year-2025"
	testTargetYear = "year-2026"
)

// ── 协作方 fake ──

type fakeDirectory struct {
	mu      sync.Mutex
	records map[string][]StudentRecord // year_id → 名册
	err     error
}

func (f *fakeDirectory) ListActiveStudents(_ context.Context, _, yearID, _, _ string) ([]StudentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]StudentRecord(nil), f.records[yearID]...), nil
}

func (f *fakeDirectory) set(yearID string, records ...StudentRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[yearID] = records
}

type fakeExams struct {
	mu       sync.Mutex
	outcomes map[string]*ExamOutcome // student_id → 结果；不存在即无汇总
	errFor   map[string]error

	entered chan struct{} // 首次调用时通知
	gate    chan struct{} // 非 nil 时阻塞直到关闭
}

func (f *fakeExams) GetOutcome(_ context.Context, _, _, studentID string) (*ExamOutcome, error) {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errFor[studentID]; ok {
		return nil, err
	}
	if o, ok := f.outcomes[studentID]; ok {
		return o, nil
	}
	return nil, ErrExamSummaryNotFound
}

type fakeAuthorizer struct {
	deny map[string]bool // action → 拒绝
}

func (f *fakeAuthorizer) Authorize(_ context.Context, _, actorID, action string) error {
	if f.deny[action] {
		return pkgerrors.Authorization(actorID, action)
	}
	return nil
}

// ── 测试环境 ──

type testEnv struct {
	years     *mockYearRepo
	rules     *mockRuleRepo
	runs      *mockRunRepo
	decisions *mockDecisionRepo
	auditRepo *mockAuditRepo

	directory *fakeDirectory
	exams     *fakeExams
	authz     *fakeAuthorizer
	locker    TenantLocker

	repo      *repository.Repository
	audit     AuditService
	yearSvc   AcademicYearService
	ruleSvc   PromotionRuleService
	promotion PromotionService
	closure   YearClosureService
	lifecycle LifecycleService
}

func testLifecycleConfig() *config.LifecycleConfig {
	return &config.LifecycleConfig{
		LockTTL:              time.Minute,
		DecisionBatchSize:    2,
		ExamFetchConcurrency: 4,
		StaleRunAfter:        30 * time.Minute,
		SweepCron:            "@every 5m",
		DefaultTerminalClass: "12",
	}
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	runs := newMockRunRepo()
	env := &testEnv{
		years:     newMockYearRepo(),
		rules:     newMockRuleRepo(),
		runs:      runs,
		decisions: newMockDecisionRepo(runs),
		auditRepo: newMockAuditRepo(),
		directory: &fakeDirectory{records: make(map[string][]StudentRecord)},
		exams:     &fakeExams{outcomes: make(map[string]*ExamOutcome), errFor: make(map[string]error)},
		authz:     &fakeAuthorizer{deny: make(map[string]bool)},
		locker:    NewLocalLocker(),
	}
	env.repo = &repository.Repository{
		AcademicYear:  env.years,
		PromotionRule: env.rules,
		PromotionRun:  env.runs,
		Decision:      env.decisions,
		AuditLog:      env.auditRepo,
	}

	cfg := testLifecycleConfig()
	logger := zap.NewNop()
	env.audit = NewAuditService(env.repo, cfg.DecisionBatchSize, logger)
	env.yearSvc = NewAcademicYearService(env.repo, env.audit, logger)
	env.ruleSvc = NewPromotionRuleService(env.repo, env.audit, cfg.DefaultTerminalClass, logger)
	env.promotion = NewPromotionService(cfg, env.repo, env.yearSvc, env.ruleSvc, env.audit, env.directory, env.exams, env.locker, logger)
	env.closure = NewYearClosureService(env.repo, env.yearSvc, env.audit, env.directory, logger)
	env.lifecycle = NewLifecycleService(cfg, env.repo, env.yearSvc, env.ruleSvc, env.promotion, env.closure, env.audit, env.authz, env.locker, logger)
	return env
}

func mustDate(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

// seedYears 源学年 active，目标学年为其后的草稿
func (e *testEnv) seedYears() {
	e.years.put(model.AcademicYear{
		YearID:    testSourceYear,
		SchoolID:  testSchool,
		YearLabel: "2025-26",
		Status:    model.YearStatusActive,
		StartDate: mustDate("2025-04-01"),
		EndDate:   mustDate("2026-03-31"),
	})
	prev := testSourceYear
	e.years.put(model.AcademicYear{
		YearID:         testTargetYear,
		SchoolID:       testSchool,
		YearLabel:      "2026-27",
		Status:         model.YearStatusDraft,
		StartDate:      mustDate("2026-04-01"),
		EndDate:        mustDate("2027-03-31"),
		PreviousYearID: &prev,
	})
}

func (e *testEnv) runParams(mode model.RunMode) *RunParams {
	return &RunParams{
		SchoolID:     testSchool,
		SourceYearID: testSourceYear,
		TargetYearID: testTargetYear,
		Mode:         mode,
		ActorID:      testActor,
	}
}

func (e *testEnv) commit(t *testing.T) *RunOutcome {
	t.Helper()
	out, err := e.promotion.StartRun(context.Background(), e.runParams(model.RunModeCommit))
	if err != nil {
		t.Fatalf("提交运行应成功: %v", err)
	}
	return out
}

func decisionsByStudent(decisions []model.StudentPromotionDecision) map[string]model.StudentPromotionDecision {
	m := make(map[string]model.StudentPromotionDecision, len(decisions))
	for _, d := range decisions {
		m[d.StudentID] = d
	}
	return m
}

func strPtr(s string) *string { return &s }
