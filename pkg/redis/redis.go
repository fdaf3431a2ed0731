package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Harrsh777/SmartSchoolSystem-sub013/config"
	pkgerrors "github.com/Harrsh777/SmartSchoolSystem-sub013/pkg/errors"
)

// Client Redis 客户端封装
// 用于租户锁、接口限流与 Token 黑名单校验
type Client struct {
	rdb    *goredis.Client
	logger *zap.Logger

	mu   sync.Mutex
	held map[string]string // 本实例持有的锁：key → owner token
}

// NewClient 创建 Redis 连接并执行 Ping 健康检查
func NewClient(cfg *config.RedisConfig, logger *zap.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis 连接失败: %w", err)
	}

	logger.Info("Redis 连接成功", zap.String("addr", cfg.Addr))

	return &Client{rdb: rdb, logger: logger, held: make(map[string]string)}, nil
}

// ── 租户锁 ──

const lockPrefix = "lock:school:"

// 仅持有者可释放：value 与 owner token 一致才删除
var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// 仅持有者可续期
var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// TryLock 非阻塞获取租户锁（SET NX PX）
// 锁已被持有时返回 pkgerrors.ErrLockHeld；成功时返回用于释放的 unlock 函数
func (c *Client) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, lockPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("获取租户锁失败: %w", err)
	}
	if !ok {
		return nil, pkgerrors.ErrLockHeld
	}
	c.mu.Lock()
	c.held[key] = token
	c.mu.Unlock()

	unlock := func() {
		c.mu.Lock()
		if c.held[key] == token {
			delete(c.held, key)
		}
		c.mu.Unlock()

		// 请求上下文可能已取消，释放使用独立超时
		rctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := unlockScript.Run(rctx, c.rdb, []string{lockPrefix + key}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
			c.logger.Warn("释放租户锁失败", zap.String("key", key), zap.Error(err))
		}
	}
	return unlock, nil
}

// Extend 将本实例持有的租户锁续期为 ttl
// 锁已过期或已被他人取得时返回 pkgerrors.ErrLockLost
func (c *Client) Extend(ctx context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	token, ok := c.held[key]
	c.mu.Unlock()
	if !ok {
		return pkgerrors.ErrLockLost
	}

	res, err := extendScript.Run(ctx, c.rdb, []string{lockPrefix + key}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("续期租户锁失败: %w", err)
	}
	if res == 0 {
		return pkgerrors.ErrLockLost
	}
	return nil
}

// ── 限流 ──

const rateLimitScriptSrc = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
redis.call("ZREMRANGEBYSCORE", key, 0, now - window)
local count = redis.call("ZCARD", key)
if count >= limit then
	return 0
end
redis.call("ZADD", key, now, member)
redis.call("PEXPIRE", key, window)
return 1
`

var rateLimitScript = goredis.NewScript(rateLimitScriptSrc)

// CheckRateLimit 滑动窗口限流，返回本次请求是否放行
func (c *Client) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now().UnixMilli()
	member := strconv.FormatInt(now, 10) + ":" + uuid.NewString()
	res, err := rateLimitScript.Run(ctx, c.rdb, []string{key}, now, window.Milliseconds(), limit, member).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// ── Token 黑名单 ──

// 黑名单由认证模块在登出时写入，本服务只读
const blacklistPrefix = "token:blacklist:"

// IsBlacklisted 检查 JWT ID 是否在黑名单中
func (c *Client) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := c.rdb.Exists(ctx, blacklistPrefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Ping 健康检查
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (c *Client) Close() error {
	return c.rdb.Close()
}
