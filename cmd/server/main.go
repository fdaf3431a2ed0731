package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/config"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/api/handler"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/api/router"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/repository"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/internal/service"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/database"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/jwt"
	applogger "github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/logger"
	"github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/redis"
)

func main() {
	// 0. 本地开发读取 .env（不存在时忽略）
	_ = godotenv.Load()

	// 1. 加载配置
	cfg, err := config.Load(os.Getenv("SCHOOL_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.Int("port", cfg.Server.Port),
		zap.String("log_level", cfg.Log.Level),
	)

	// 3. 连接数据库并执行迁移
	db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	logger.Info("数据库连接成功")

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("获取底层 sql.DB 失败", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, logger); err != nil {
		logger.Fatal("数据库迁移失败", zap.Error(err))
	}

	// 4. 连接 Redis（可选：失败时降级为进程内租户锁，黑名单与限流放行）
	rdb, err := redis.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis 连接失败，降级运行", zap.Error(err))
		rdb = nil
	}
	var locker service.TenantLocker
	if rdb != nil {
		locker = rdb
	}

	// 5. 初始化 JWT 管理器与自定义校验规则
	jwtMgr := jwt.NewManager(&cfg.Auth)
	if err := handler.RegisterValidators(); err != nil {
		logger.Fatal("注册校验规则失败", zap.Error(err))
	}

	// 6. 依赖注入: Repository → Service → Handler
	repo := repository.NewRepository(db)
	svc := service.NewService(cfg, repo, locker, logger)
	h := handler.NewHandler(svc)

	// 7. 失效运行清理任务
	sweeper, err := service.NewStaleRunSweeper(cfg.Lifecycle.SweepCron, svc.Lifecycle, cfg.Lifecycle.LockTTL, logger)
	if err != nil {
		logger.Fatal("初始化清理任务失败", zap.Error(err))
	}
	sweeper.Start()

	// 8. 初始化路由并启动 HTTP 服务器
	engine := router.Setup(cfg, h, jwtMgr, rdb, db, logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP 服务器异常", zap.Error(err))
		}
	}()

	// 9. 监听系统信号，优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("收到关闭信号，开始优雅关闭...", zap.String("signal", sig.String()))

	// 等待进行中的提交运行写完，超时取 write_timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}
	sweeper.Stop()

	if err := sqlDB.Close(); err != nil {
		logger.Warn("关闭数据库连接失败", zap.Error(err))
	}
	if rdb != nil {
		rdb.Close()
	}

	logger.Info("服务器已关闭")
}
