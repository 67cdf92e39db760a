package relayer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

var (
	// ErrNonceNotIssued nonce 不是本 relayer 发放的
	ErrNonceNotIssued = errors.New("nonce was not issued by this relayer")
	// ErrNonceUsed nonce 已经被消费（重放）
	ErrNonceUsed = errors.New("nonce already used")
)

// SeedFunc 地址首次出现时读取链上 forwarder nonce
type SeedFunc func(ctx context.Context) (uint64, error)

// NonceStore 每个地址的 nonce 发放与消费。
// Reserve 原子递增，同一个 nonce 不会发放两次；Consume 保证每个 nonce 只执行一次。
type NonceStore interface {
	Reserve(ctx context.Context, address string, seed SeedFunc) (uint64, error)
	Consume(ctx context.Context, address string, nonce uint64) error
	Release(ctx context.Context, address string, nonce uint64) error
	// Sync 把计数器设置为 next（可能回拨）
	Sync(ctx context.Context, address string, next uint64) error
	// Advance 只在计数器落后时前移
	Advance(ctx context.Context, address string, next uint64) error
}

func normalizeAddress(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}

// --- redis ---

// reserve: 计数器不存在时用链上 nonce 初始化，然后 INCR，返回 INCR 前的值
var reserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('SET', KEYS[1], ARGV[1])
end
return redis.call('INCR', KEYS[1]) - 1
`)

// consume: -1 未发放, 0 已使用, 1 成功
var consumeScript = redis.NewScript(`
local issued = tonumber(redis.call('GET', KEYS[1]) or '-1')
if issued == nil or tonumber(ARGV[1]) >= issued then
  return -1
end
if redis.call('SET', KEYS[2], '1', 'NX', 'EX', ARGV[2]) then
  return 1
end
return 0
`)

var advanceScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if cur < tonumber(ARGV[1]) then
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// RedisNonceStore 多实例 relayer 共享的 nonce 存储
type RedisNonceStore struct {
	client    *redis.Client
	prefix    string
	markerTTL time.Duration
}

// NewRedisNonceStore markerTTL 必须长于任何可接受的 deadline 窗口
func NewRedisNonceStore(client *redis.Client, prefix string, markerTTL time.Duration) *RedisNonceStore {
	if prefix == "" {
		prefix = "relay"
	}
	if markerTTL <= 0 {
		markerTTL = 7 * 24 * time.Hour
	}
	return &RedisNonceStore{client: client, prefix: prefix, markerTTL: markerTTL}
}

var _ NonceStore = (*RedisNonceStore)(nil)

func (s *RedisNonceStore) counterKey(address string) string {
	return fmt.Sprintf("%s:nonce:%s", s.prefix, normalizeAddress(address))
}

func (s *RedisNonceStore) usedKey(address string, nonce uint64) string {
	return fmt.Sprintf("%s:used:%s:%d", s.prefix, normalizeAddress(address), nonce)
}

func (s *RedisNonceStore) Reserve(ctx context.Context, address string, seed SeedFunc) (uint64, error) {
	key := s.counterKey(address)
	var initial uint64
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("nonce counter lookup: %w", err)
	}
	if exists == 0 {
		if initial, err = seed(ctx); err != nil {
			return 0, fmt.Errorf("seed nonce: %w", err)
		}
	}
	n, err := reserveScript.Run(ctx, s.client, []string{key}, initial).Int64()
	if err != nil {
		return 0, fmt.Errorf("reserve nonce: %w", err)
	}
	return uint64(n), nil
}

func (s *RedisNonceStore) Consume(ctx context.Context, address string, nonce uint64) error {
	res, err := consumeScript.Run(ctx, s.client,
		[]string{s.counterKey(address), s.usedKey(address, nonce)},
		nonce, int64(s.markerTTL/time.Second),
	).Int64()
	if err != nil {
		return fmt.Errorf("consume nonce: %w", err)
	}
	switch res {
	case -1:
		return ErrNonceNotIssued
	case 0:
		return ErrNonceUsed
	}
	return nil
}

func (s *RedisNonceStore) Release(ctx context.Context, address string, nonce uint64) error {
	return s.client.Del(ctx, s.usedKey(address, nonce)).Err()
}

func (s *RedisNonceStore) Sync(ctx context.Context, address string, next uint64) error {
	return s.client.Set(ctx, s.counterKey(address), next, 0).Err()
}

func (s *RedisNonceStore) Advance(ctx context.Context, address string, next uint64) error {
	return advanceScript.Run(ctx, s.client, []string{s.counterKey(address)}, next).Err()
}

// --- memory ---

// MemoryNonceStore 单实例 / 测试用
type MemoryNonceStore struct {
	mu      sync.Mutex
	counter map[string]uint64
	used    map[string]map[uint64]struct{}
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{
		counter: make(map[string]uint64),
		used:    make(map[string]map[uint64]struct{}),
	}
}

var _ NonceStore = (*MemoryNonceStore)(nil)

// Reserve 在锁内调用 seed，保证首次初始化也是原子的
func (s *MemoryNonceStore) Reserve(ctx context.Context, address string, seed SeedFunc) (uint64, error) {
	addr := normalizeAddress(address)
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := s.counter[addr]
	if !ok {
		initial, err := seed(ctx)
		if err != nil {
			return 0, fmt.Errorf("seed nonce: %w", err)
		}
		next = initial
	}
	s.counter[addr] = next + 1
	return next, nil
}

func (s *MemoryNonceStore) Consume(_ context.Context, address string, nonce uint64) error {
	addr := normalizeAddress(address)
	s.mu.Lock()
	defer s.mu.Unlock()
	issued, ok := s.counter[addr]
	if !ok || nonce >= issued {
		return ErrNonceNotIssued
	}
	used := s.used[addr]
	if used == nil {
		used = make(map[uint64]struct{})
		s.used[addr] = used
	}
	if _, dup := used[nonce]; dup {
		return ErrNonceUsed
	}
	used[nonce] = struct{}{}
	return nil
}

func (s *MemoryNonceStore) Release(_ context.Context, address string, nonce uint64) error {
	addr := normalizeAddress(address)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.used[addr], nonce)
	return nil
}

func (s *MemoryNonceStore) Sync(_ context.Context, address string, next uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter[normalizeAddress(address)] = next
	return nil
}

func (s *MemoryNonceStore) Advance(_ context.Context, address string, next uint64) error {
	addr := normalizeAddress(address)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counter[addr] < next {
		s.counter[addr] = next
	}
	return nil
}
