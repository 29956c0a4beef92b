package syncgroup

import "sync"

// SyncGroup 包装 sync.WaitGroup：先 Add 注册函数，Run 统一启动，
// 自动配对 Add/Done，避免手写 WaitGroup 时漏掉 Done。
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	fns     []func()
	running int
}

func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 注册一个 goroutine 函数。应在 Run 之前调用；
// 上一批 goroutine 还在运行时的 Add 会被丢弃，需先 WaitAndClear。
func (g *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running > 0 {
		return
	}
	g.fns = append(g.fns, fn)
}

// Run 启动所有已注册的函数并清空注册列表
func (g *SyncGroup) Run() {
	g.mu.Lock()
	if g.running > 0 {
		g.mu.Unlock()
		return
	}
	fns := g.fns
	g.fns = nil
	g.running = len(fns)
	g.mu.Unlock()

	for _, fn := range fns {
		g.wg.Add(1)
		go func(do func()) {
			defer func() {
				g.wg.Done()
				g.mu.Lock()
				g.running--
				g.mu.Unlock()
			}()
			do()
		}(fn)
	}
}

// WaitAndClear 等待本批 goroutine 全部退出并复位，之后可再次 Add/Run
func (g *SyncGroup) WaitAndClear() {
	g.wg.Wait()
	g.mu.Lock()
	g.fns = nil
	g.running = 0
	g.mu.Unlock()
}

// Wait 等待本批 goroutine 全部退出（不复位）
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}
