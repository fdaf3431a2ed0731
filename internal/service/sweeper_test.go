package service

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/model"
)

func TestNewStaleRunSweeper_InvalidExpr(t *testing.T) {
	env := setupTestEnv(t)
	if _, err := NewStaleRunSweeper("every five minutes", env.lifecycle, time.Second, zap.NewNop()); err == nil {
		t.Error("非法 cron 表达式应返回错误")
	}
}

func TestStaleRunSweeper_Sweep(t *testing.T) {
	env := setupTestEnv(t)
	env.seedYears()
	env.runs.put(model.PromotionRun{
		RunID:        "run-stale",
		SchoolID:     testSchool,
		SourceYearID: testSourceYear,
		TargetYearID: testTargetYear,
		Mode:         model.RunModeDryRun,
		Status:       model.RunStatusInProgress,
		StartedBy:    testActor,
		StartedAt:    time.Now().Add(-time.Hour),
	})

	sweeper, err := NewStaleRunSweeper("@every 5m", env.lifecycle, time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("创建清理任务失败: %v", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	sweeper.sweep()
	if st := env.runs.get("run-stale").Status; st != model.RunStatusFailed {
		t.Errorf("期望 failed，实际 %s", st)
	}
}
