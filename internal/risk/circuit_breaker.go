package risk

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrCircuitOpen 跟单账户已熔断，不再下新单
var ErrCircuitOpen = errors.New("circuit open")

// CircuitBreakerConfig 连续失败阈值，
// 小于等于 0 时不自动熔断
type CircuitBreakerConfig struct {
	MaxConsecutiveErrors int64
}

// CircuitBreaker 单个跟单账户连续分发失败过多时熔断。
// 业务跳过既不算成功也不算失败
type CircuitBreaker struct {
	mu                sync.Mutex
	halted            bool
	consecutiveErrors int64
	maxErrors         int64
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{maxErrors: cfg.MaxConsecutiveErrors}
}

// Halt 暂停该账户，直到 Resume
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	cb.halted = true
	cb.mu.Unlock()
}

// Resume 解除熔断并清零错误计数
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	cb.halted = false
	cb.consecutiveErrors = 0
	cb.mu.Unlock()
}

// Allow 熔断期间返回 ErrCircuitOpen
func (cb *CircuitBreaker) Allow() error {
	if cb == nil {
		return nil
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.halted {
		return ErrCircuitOpen
	}
	return nil
}

func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	cb.consecutiveErrors = 0
	cb.mu.Unlock()
}

// OnError 记录一次失败，返回本次是否触发熔断
func (cb *CircuitBreaker) OnError() bool {
	if cb == nil {
		return false
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveErrors++
	if cb.maxErrors > 0 && !cb.halted && cb.consecutiveErrors >= cb.maxErrors {
		cb.halted = true
		return true
	}
	return false
}

// State 供状态接口使用的当前状态
type State struct {
	Halted            bool  `json:"halted"`
	ConsecutiveErrors int64 `json:"consecutiveErrors"`
}

func (cb *CircuitBreaker) State() State {
	if cb == nil {
		return State{}
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return State{Halted: cb.halted, ConsecutiveErrors: cb.consecutiveErrors}
}

// Board 按跟单账户 ID 管理熔断器
type Board struct {
	mu       sync.Mutex
	cfg      CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

func NewBoard(cfg CircuitBreakerConfig) *Board {
	return &Board{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// For 返回 id 对应的熔断器，首次使用时创建。
// nil Board 返回 nil 熔断器（始终放行）
func (b *Board) For(id string) *CircuitBreaker {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[id]
	if !ok {
		cb = NewCircuitBreaker(b.cfg)
		b.breakers[id] = cb
	}
	return cb
}

// Resume 恢复 id，并返回该熔断器是否存在
func (b *Board) Resume(id string) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	cb, ok := b.breakers[id]
	b.mu.Unlock()
	if ok {
		cb.Resume()
	}
	return ok
}

func (b *Board) States() map[string]State {
	out := make(map[string]State)
	if b == nil {
		return out
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, cb := range b.breakers {
		out[id] = cb.State()
	}
	return out
}
