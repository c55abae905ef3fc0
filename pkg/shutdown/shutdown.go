package shutdown

import (
	"context"
	"sync"

	"github.com/betbot/gocopy/pkg/logger"
)

// Handler 释放一个资源，ctx 结束时应尽快返回
type Handler func(ctx context.Context)

// Manager 并发执行已注册的关闭处理函数
type Manager struct {
	callbacks []Handler
	mu        sync.Mutex
}

func NewManager() *Manager {
	return &Manager{
		callbacks: make([]Handler, 0),
	}
}

// OnShutdown 注册处理函数
func (m *Manager) OnShutdown(handler Handler) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, handler)
}

// Shutdown 执行所有处理函数，阻塞直到全部返回或 ctx 结束，
// 返回是否全部按时完成
func (m *Manager) Shutdown(ctx context.Context) bool {
	m.mu.Lock()
	callbacks := m.callbacks
	m.callbacks = nil
	m.mu.Unlock()

	if len(callbacks) == 0 {
		return true
	}

	logger.Infof("shutting down, %d handlers", len(callbacks))

	var wg sync.WaitGroup
	wg.Add(len(callbacks))
	for _, cb := range callbacks {
		go func(handler Handler) {
			defer wg.Done()
			handler(ctx)
		}(cb)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return true
	case <-ctx.Done():
		logger.Warnf("shutdown timed out: %v", ctx.Err())
		return false
	}
}
