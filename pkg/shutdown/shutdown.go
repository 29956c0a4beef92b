package shutdown

import (
	"context"
	"sync"
	"time"

	"github.com/betbot/ladderbot/pkg/logger"
)

// Handler 关闭回调。收到的 ctx 带超时，回调内的阻塞操作应尊重它。
type Handler func(ctx context.Context)

// Manager 收集关闭回调，退出时并发执行并在超时后放弃等待。
// 回调注册顺序不保证执行顺序，相互依赖的清理要合并到同一个回调里。
type Manager struct {
	mu        sync.Mutex
	callbacks []Handler
}

func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, handler)
}

// Shutdown 并发执行全部回调并阻塞等待，ctx 到期则带着未完成的回调返回。
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	callbacks := make([]Handler, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	if len(callbacks) == 0 {
		return
	}

	logger.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))
	start := time.Now()

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
		logger.Infof("所有关闭回调已完成，耗时 %s", time.Since(start).Round(time.Millisecond))
	case <-ctx.Done():
		logger.Warnf("关闭等待超时，放弃未完成的回调: %v", ctx.Err())
	}
}
