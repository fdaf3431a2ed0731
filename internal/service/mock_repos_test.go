package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/model"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/repository"
	pkgerrors "github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/errors"
)

// mock 仓储以 map 保存副本，返回值也是副本，模拟数据库行与内存对象的隔离
// Transaction 在 mock 聚合上直接执行，不会回滚，因此失败路径依赖服务自身的补偿逻辑

func dupErr(what string) error {
	return fmt.Errorf("%w: %s", pkgerrors.ErrDuplicate, what)
}

// ── Mock AcademicYearRepository ──

type mockYearRepo struct {
	mu       sync.Mutex
	years    map[string]*model.AcademicYear
	archives map[string]model.YearArchive
}

func newMockYearRepo() *mockYearRepo {
	return &mockYearRepo{
		years:    make(map[string]*model.AcademicYear),
		archives: make(map[string]model.YearArchive),
	}
}

func (m *mockYearRepo) Create(_ context.Context, year *model.AcademicYear) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, y := range m.years {
		if y.SchoolID != year.SchoolID {
			continue
		}
		if y.YearLabel == year.YearLabel {
			return dupErr("year_label")
		}
		if y.Status == model.YearStatusDraft && year.Status == model.YearStatusDraft {
			return dupErr("draft")
		}
	}
	now := time.Now()
	if year.CreatedAt.IsZero() {
		year.CreatedAt = now
	}
	year.UpdatedAt = now
	cp := *year
	m.years[year.YearID] = &cp
	return nil
}

func (m *mockYearRepo) GetByID(_ context.Context, id string) (*model.AcademicYear, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if y, ok := m.years[id]; ok {
		cp := *y
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockYearRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.AcademicYear, error) {
	return m.GetByID(ctx, id)
}

func (m *mockYearRepo) ListBySchool(_ context.Context, schoolID string) ([]model.AcademicYear, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.AcademicYear
	for _, y := range m.years {
		if y.SchoolID == schoolID {
			result = append(result, *y)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartDate.After(result[j].StartDate) })
	return result, nil
}

func (m *mockYearRepo) GetByStatus(ctx context.Context, schoolID string, status model.YearStatus) (*model.AcademicYear, error) {
	years, _ := m.ListBySchool(ctx, schoolID)
	for i := range years {
		if years[i].Status == status {
			return &years[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockYearRepo) GetLatestNonDraft(ctx context.Context, schoolID string) (*model.AcademicYear, error) {
	years, _ := m.ListBySchool(ctx, schoolID)
	for i := range years {
		if years[i].Status != model.YearStatusDraft {
			return &years[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockYearRepo) UpdateStatus(_ context.Context, year *model.AcademicYear, to model.YearStatus, updatedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.years[year.YearID]
	if !ok || stored.Status != year.Status || stored.Version != year.Version {
		return pkgerrors.ErrOptimisticLock
	}
	if to == model.YearStatusActive {
		for _, y := range m.years {
			if y.SchoolID == year.SchoolID && y.YearID != year.YearID && y.Status == model.YearStatusActive {
				return dupErr("active")
			}
		}
	}
	stored.Status = to
	stored.Version++
	stored.UpdatedBy = &updatedBy
	stored.UpdatedAt = time.Now()

	year.Status = to
	year.Version = stored.Version
	year.UpdatedBy = &updatedBy
	return nil
}

func (m *mockYearRepo) Archive(_ context.Context, archive *model.YearArchive) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.archives[archive.YearID]; ok {
		return dupErr("archive")
	}
	m.archives[archive.YearID] = *archive
	return nil
}

func (m *mockYearRepo) IsArchived(_ context.Context, yearID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.archives[yearID]
	return ok, nil
}

// put 直接写入测试数据（绕过校验）
func (m *mockYearRepo) put(y model.AcademicYear) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if y.Version == 0 {
		y.Version = 1
	}
	m.years[y.YearID] = &y
}

func (m *mockYearRepo) status(id string) model.YearStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.years[id].Status
}

// ── Mock PromotionRuleRepository ──

type mockRuleRepo struct {
	mu       sync.Mutex
	rules    map[string]*model.PromotionRule
	profiles map[string]*model.SchoolProfile
}

func newMockRuleRepo() *mockRuleRepo {
	return &mockRuleRepo{
		rules:    make(map[string]*model.PromotionRule),
		profiles: make(map[string]*model.SchoolProfile),
	}
}

func (m *mockRuleRepo) ListBySchool(_ context.Context, schoolID string) ([]model.PromotionRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.PromotionRule
	for _, r := range m.rules {
		if r.SchoolID == schoolID && !r.DeletedAt.Valid {
			result = append(result, *r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].FromClass < result[j].FromClass })
	return result, nil
}

func (m *mockRuleRepo) GetByID(_ context.Context, id string) (*model.PromotionRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rules[id]; ok && !r.DeletedAt.Valid {
		cp := *r
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockRuleRepo) Create(_ context.Context, rule *model.PromotionRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rule
	m.rules[rule.RuleID] = &cp
	return nil
}

func (m *mockRuleRepo) Update(_ context.Context, rule *model.PromotionRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rules[rule.RuleID]
	if !ok || stored.Version != rule.Version {
		return pkgerrors.ErrOptimisticLock
	}
	rule.Version++
	cp := *rule
	m.rules[rule.RuleID] = &cp
	return nil
}

func (m *mockRuleRepo) Delete(_ context.Context, id string, deletedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rules[id]; ok {
		r.DeletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
		r.DeletedBy = &deletedBy
	}
	return nil
}

func (m *mockRuleRepo) GetProfile(_ context.Context, schoolID string) (*model.SchoolProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[schoolID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockRuleRepo) SaveProfile(_ context.Context, profile *model.SchoolProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *profile
	m.profiles[profile.SchoolID] = &cp
	return nil
}

// ── Mock PromotionRunRepository ──

type mockRunRepo struct {
	mu   sync.Mutex
	runs map[string]*model.PromotionRun
}

func newMockRunRepo() *mockRunRepo {
	return &mockRunRepo{runs: make(map[string]*model.PromotionRun)}
}

func (m *mockRunRepo) Create(_ context.Context, run *model.PromotionRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.SourceYearID == run.SourceYearID && r.Status == model.RunStatusInProgress {
			return dupErr("in_progress run")
		}
	}
	cp := *run
	m.runs[run.RunID] = &cp
	return nil
}

func (m *mockRunRepo) GetByID(_ context.Context, id string) (*model.PromotionRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runs[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockRunRepo) Finish(_ context.Context, run *model.PromotionRun, from model.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.runs[run.RunID]
	if !ok || stored.Status != from {
		return pkgerrors.ErrOptimisticLock
	}
	stored.Status = run.Status
	stored.CompletedAt = run.CompletedAt
	stored.TotalStudents = run.TotalStudents
	stored.CountsByDecision = run.CountsByDecision
	stored.FailureReason = run.FailureReason
	return nil
}

func (m *mockRunRepo) list(filter func(r *model.PromotionRun) bool) []model.PromotionRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.PromotionRun
	for _, r := range m.runs {
		if filter(r) {
			result = append(result, *r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.After(result[j].StartedAt) })
	return result
}

func (m *mockRunRepo) FindInProgress(_ context.Context, sourceYearID string) (*model.PromotionRun, error) {
	runs := m.list(func(r *model.PromotionRun) bool {
		return r.SourceYearID == sourceYearID && r.Status == model.RunStatusInProgress
	})
	if len(runs) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &runs[0], nil
}

func (m *mockRunRepo) GetLatestCompletedCommit(_ context.Context, sourceYearID, targetYearID string) (*model.PromotionRun, error) {
	runs := m.list(func(r *model.PromotionRun) bool {
		return r.SourceYearID == sourceYearID && r.TargetYearID == targetYearID &&
			r.Mode == model.RunModeCommit && r.Status == model.RunStatusCompleted
	})
	if len(runs) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &runs[0], nil
}

func (m *mockRunRepo) ListBySourceYear(_ context.Context, schoolID, sourceYearID string, offset, limit int) ([]model.PromotionRun, int64, error) {
	runs := m.list(func(r *model.PromotionRun) bool {
		return r.SchoolID == schoolID && (sourceYearID == "" || r.SourceYearID == sourceYearID)
	})
	total := int64(len(runs))
	if offset >= len(runs) {
		return nil, total, nil
	}
	end := min(offset+limit, len(runs))
	return runs[offset:end], total, nil
}

func (m *mockRunRepo) ListStale(_ context.Context, before time.Time) ([]model.PromotionRun, error) {
	return m.list(func(r *model.PromotionRun) bool {
		return r.Status == model.RunStatusInProgress && r.StartedAt.Before(before)
	}), nil
}

func (m *mockRunRepo) put(r model.PromotionRun) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.RunID] = &r
}

func (m *mockRunRepo) get(id string) model.PromotionRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.runs[id]
}

func (m *mockRunRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

// ── Mock DecisionRepository ──

type mockDecisionRepo struct {
	mu   sync.Mutex
	rows []model.StudentPromotionDecision
	runs *mockRunRepo

	// failAtRow > 0 时，写入第 failAtRow 行（从 1 计数，跨批次累计）时返回错误
	failAtRow int
	written   int
}

func newMockDecisionRepo(runs *mockRunRepo) *mockDecisionRepo {
	return &mockDecisionRepo{runs: runs}
}

var errInjectedWrite = errors.New("injected write failure")

func (m *mockDecisionRepo) BatchCreate(_ context.Context, decisions []model.StudentPromotionDecision, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range decisions {
		m.written++
		if m.failAtRow > 0 && m.written == m.failAtRow {
			return errInjectedWrite
		}
		for _, r := range m.rows {
			if r.RunID == d.RunID && r.StudentID == d.StudentID && r.SupersedesID == nil && d.SupersedesID == nil {
				return dupErr("run_id, student_id")
			}
		}
		m.rows = append(m.rows, d)
	}
	return nil
}

func (m *mockDecisionRepo) Create(_ context.Context, decision *model.StudentPromotionDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if decision.SupersedesID != nil {
		for _, r := range m.rows {
			if r.SupersedesID != nil && *r.SupersedesID == *decision.SupersedesID {
				return dupErr("supersedes_id")
			}
		}
	}
	m.rows = append(m.rows, *decision)
	return nil
}

func (m *mockDecisionRepo) GetByID(_ context.Context, id string) (*model.StudentPromotionDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.DecisionID == id {
			cp := r
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockDecisionRepo) ListByRun(_ context.Context, runID string) ([]model.StudentPromotionDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.StudentPromotionDecision
	for _, r := range m.rows {
		if r.RunID == runID {
			result = append(result, r)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.FromClass != b.FromClass {
			return a.FromClass < b.FromClass
		}
		if a.FromSection != b.FromSection {
			return a.FromSection < b.FromSection
		}
		if a.StudentID != b.StudentID {
			return a.StudentID < b.StudentID
		}
		return a.DecidedAt.Before(b.DecidedAt)
	})
	return result, nil
}

func (m *mockDecisionRepo) IsSuperseded(_ context.Context, decisionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.SupersedesID != nil && *r.SupersedesID == decisionID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockDecisionRepo) DiscardUncommitted(_ context.Context, runID string) (int64, error) {
	run := m.runs.get(runID)
	if run.Status != model.RunStatusInProgress {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	var n int64
	for _, r := range m.rows {
		if r.RunID == runID {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.rows = kept
	return n, nil
}

func (m *mockDecisionRepo) count(runID string) int {
	rows, _ := m.ListByRun(context.Background(), runID)
	return len(rows)
}

// ── Mock AuditLogRepository ──

type mockAuditRepo struct {
	mu      sync.Mutex
	entries []model.AuditLogEntry
	nextID  int64
	failErr error
}

func newMockAuditRepo() *mockAuditRepo {
	return &mockAuditRepo{}
}

func (m *mockAuditRepo) Create(_ context.Context, entry *model.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.nextID++
	entry.EntryID = m.nextID
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *mockAuditRepo) CreateBatch(ctx context.Context, entries []model.AuditLogEntry, _ int) error {
	for i := range entries {
		if err := m.Create(ctx, &entries[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockAuditRepo) List(_ context.Context, filter repository.AuditLogFilter, offset, limit int) ([]model.AuditLogEntry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.AuditLogEntry
	for _, e := range m.entries {
		if e.SchoolCode != filter.SchoolCode ||
			(filter.ActorID != "" && e.ActorID != filter.ActorID) ||
			(filter.Action != "" && e.Action != filter.Action) ||
			(filter.EntityType != "" && e.EntityType != filter.EntityType) ||
			(filter.EntityID != "" && e.EntityID != filter.EntityID) ||
			(filter.Since != nil && e.CreatedAt.Before(*filter.Since)) ||
			(filter.Until != nil && !e.CreatedAt.Before(*filter.Until)) {
			continue
		}
		result = append(result, e)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if filter.Ascending {
			return result[i].EntryID < result[j].EntryID
		}
		return result[i].EntryID > result[j].EntryID
	})
	total := int64(len(result))
	if offset >= len(result) {
		return nil, total, nil
	}
	return result[offset:min(offset+limit, len(result))], total, nil
}

func (m *mockAuditRepo) byAction(action string) []model.AuditLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.AuditLogEntry
	for _, e := range m.entries {
		if e.Action == action {
			result = append(result, e)
		}
	}
	return result
}

// ── 协作方 Mock ──

type mockStudentDirectoryRepo struct {
	rows []model.StudentEnrollment
}

func (m *mockStudentDirectoryRepo) ListActive(_ context.Context, schoolID, yearID, class, section string) ([]model.StudentEnrollment, error) {
	var result []model.StudentEnrollment
	for _, r := range m.rows {
		if r.SchoolID != schoolID || r.YearID != yearID || r.Status != "active" {
			continue
		}
		if (class != "" && r.Class != class) || (section != "" && r.Section != section) {
			continue
		}
		result = append(result, r)
	}
	return result, nil
}

type mockExamSummaryRepo struct {
	rows map[string]model.ExamSummary // student_id → summary
}

func (m *mockExamSummaryRepo) Get(_ context.Context, schoolID, yearID, studentID string) (*model.ExamSummary, error) {
	if s, ok := m.rows[studentID]; ok && s.SchoolID == schoolID && s.YearID == yearID {
		return &s, nil
	}
	return nil, gorm.ErrRecordNotFound
}

type mockStaffRoleRepo struct {
	roles map[string]string // actor_id → role
}

func (m *mockStaffRoleRepo) GetRole(_ context.Context, schoolID, actorID string) (*model.StaffRole, error) {
	if role, ok := m.roles[actorID]; ok {
		return &model.StaffRole{ActorID: actorID, SchoolID: schoolID, Role: role}, nil
	}
	return nil, gorm.ErrRecordNotFound
}
