package relayer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrStaleNonce nonce 已在链上被使用
	ErrStaleNonce = errors.New("nonce is behind the forwarder")
	// ErrNonceGap 前序 nonce 在等待窗口内没有到达
	ErrNonceGap = errors.New("preceding nonce was never submitted")
)

type addressLane struct {
	mu      sync.Mutex
	known   bool
	next    uint64
	sent    uint64 // 已成功发送的最大 nonce + 1，reset 后也不会低于它
	busy    bool
	changed chan struct{}
}

// sequencer 按地址串行执行，并保证 forwarder 看到连续的 nonce。
// 并发取号的客户端可能乱序提交，后到的前序请求会唤醒等待者。
type sequencer struct {
	mu    sync.Mutex
	lanes map[string]*addressLane
	wait  time.Duration
}

func newSequencer(wait time.Duration) *sequencer {
	if wait <= 0 {
		wait = 10 * time.Second
	}
	return &sequencer{lanes: make(map[string]*addressLane), wait: wait}
}

func (s *sequencer) lane(address string) *addressLane {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lanes[address]
	if !ok {
		l = &addressLane{changed: make(chan struct{})}
		s.lanes[address] = l
	}
	return l
}

// acquire 阻塞到轮到 nonce 执行。返回的 release 必须调用一次，executed 表示链上 nonce 已前进。
func (s *sequencer) acquire(ctx context.Context, address string, nonce uint64, seed SeedFunc) (func(executed bool), error) {
	l := s.lane(normalizeAddress(address))
	timer := time.NewTimer(s.wait)
	defer timer.Stop()

	for {
		l.mu.Lock()
		if !l.known {
			n, err := seed(ctx)
			if err != nil {
				l.mu.Unlock()
				return nil, fmt.Errorf("read forwarder nonce: %w", err)
			}
			if n < l.sent {
				n = l.sent
			}
			l.next, l.known = n, true
		}
		if nonce < l.next {
			next := l.next
			l.mu.Unlock()
			return nil, fmt.Errorf("%w: got %d, forwarder expects %d", ErrStaleNonce, nonce, next)
		}
		if nonce == l.next && !l.busy {
			l.busy = true
			l.mu.Unlock()
			return func(executed bool) {
				l.mu.Lock()
				l.busy = false
				if executed {
					l.next++
					l.sent = l.next
				}
				close(l.changed)
				l.changed = make(chan struct{})
				l.mu.Unlock()
			}, nil
		}
		changed := l.changed
		l.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			l.mu.Lock()
			next := l.next
			l.mu.Unlock()
			return nil, fmt.Errorf("%w: got %d, forwarder expects %d", ErrNonceGap, nonce, next)
		}
	}
}

// expected 当前已知的下一个 nonce
func (s *sequencer) expected(address string) uint64 {
	l := s.lane(normalizeAddress(address))
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next
}

// gapFloor 可以安全回拨到的 nonce；前序 nonce 正在执行时返回 false
func (s *sequencer) gapFloor(address string) (uint64, bool) {
	l := s.lane(normalizeAddress(address))
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy || !l.known {
		return 0, false
	}
	return l.next, true
}

// reset 链上状态与本地不一致时调用
func (s *sequencer) reset(address string) {
	l := s.lane(normalizeAddress(address))
	l.mu.Lock()
	l.known = false
	close(l.changed)
	l.changed = make(chan struct{})
	l.mu.Unlock()
}
