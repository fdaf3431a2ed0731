package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	pkgerrors "github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/errors"
)

// 租户锁被占用时返回给调用方的信息，调用方应退避重试
const msgOperationInProgress = "operation already in progress"

// tenantGuard 学校级写操作串行化：拿不到锁立即返回 ConflictError，不阻塞
type tenantGuard struct {
	locker TenantLocker
	ttl    time.Duration
	logger *zap.Logger
}

func newTenantGuard(locker TenantLocker, ttl time.Duration, logger *zap.Logger) *tenantGuard {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &tenantGuard{locker: locker, ttl: ttl, logger: logger}
}

func (g *tenantGuard) run(ctx context.Context, schoolID string, fn func() error) error {
	unlock, err := g.locker.TryLock(ctx, schoolID, g.ttl)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrLockHeld) {
			return pkgerrors.Conflict(msgOperationInProgress, schoolID)
		}
		g.logger.Error("获取租户锁失败", zap.String("school_id", schoolID), zap.Error(err))
		return err
	}
	defer unlock()
	stop := g.keepAlive(schoolID)
	defer stop()
	return fn()
}

// keepAlive 持锁期间每 ttl/3 续期一次；返回的 stop 等待续期协程退出后才返回
func (g *tenantGuard) keepAlive(schoolID string) (stop func()) {
	interval := g.ttl / 3
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				// 请求上下文取消时提交仍在收尾，续期不跟随请求上下文
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				err := g.locker.Extend(ctx, schoolID, g.ttl)
				cancel()
				if err != nil {
					g.logger.Error("租户锁续期失败", zap.String("school_id", schoolID), zap.Error(err))
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// runWithRetry 用于必须完成的收尾步骤（如试运行结束后恢复学年状态），短暂退避重试
func (g *tenantGuard) runWithRetry(ctx context.Context, schoolID string, attempts int, fn func() error) error {
	backoff := 100 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		err = g.run(ctx, schoolID, fn)
		if err == nil || !errors.Is(err, pkgerrors.ErrConflict) || pkgerrors.MessageOf(err) != msgOperationInProgress {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
