package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StaleRunSweeper 定时清理进程崩溃遗留的 in_progress 运行
type StaleRunSweeper struct {
	cron      *cron.Cron
	lifecycle LifecycleService
	timeout   time.Duration
	logger    *zap.Logger
}

// NewStaleRunSweeper 按 cron 表达式（如 "@every 5m"）注册清理任务
// 上一轮未结束时跳过本轮
func NewStaleRunSweeper(expr string, lifecycle LifecycleService, timeout time.Duration, logger *zap.Logger) (*StaleRunSweeper, error) {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	s := &StaleRunSweeper{cron: c, lifecycle: lifecycle, timeout: timeout, logger: logger}
	if _, err := c.AddFunc(expr, s.sweep); err != nil {
		return nil, fmt.Errorf("注册失效运行清理任务失败: %w", err)
	}
	return s, nil
}

func (s *StaleRunSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.lifecycle.SweepStaleRuns(ctx); err != nil {
		s.logger.Warn("失效运行清理未完成", zap.Error(err))
	}
}

// Start 启动调度（非阻塞）
func (s *StaleRunSweeper) Start() {
	s.cron.Start()
	s.logger.Info("失效运行清理任务已启动")
}

// Stop 停止调度并等待正在执行的任务结束
func (s *StaleRunSweeper) Stop() {
	<-s.cron.Stop().Done()
}
