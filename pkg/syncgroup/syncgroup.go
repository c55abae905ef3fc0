package syncgroup

import (
	"sync"
)

type syncGroupFunc func()

// SyncGroup 封装 sync.WaitGroup，调用方注册函数即可，
// 无需手动配对 Add 和 Done
type SyncGroup struct {
	wg sync.WaitGroup

	sgFuncsMu    sync.Mutex
	sgFuncs      []syncGroupFunc
	hasRun       bool
	runningCount int
}

func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 将 fn 加入下一次 Run。上一批仍在运行时添加的函数会被丢弃，
// 需先调用 WaitAndClear
func (w *SyncGroup) Add(fn syncGroupFunc) {
	if fn == nil {
		return
	}

	w.sgFuncsMu.Lock()
	defer w.sgFuncsMu.Unlock()

	if w.hasRun && w.runningCount > 0 {
		return
	}
	w.sgFuncs = append(w.sgFuncs, fn)
}

// Run 为每个函数启动一个 goroutine
func (w *SyncGroup) Run() {
	w.sgFuncsMu.Lock()
	if w.hasRun && w.runningCount > 0 {
		w.sgFuncsMu.Unlock()
		return
	}

	fns := w.sgFuncs
	w.sgFuncs = nil
	w.hasRun = true
	w.runningCount = len(fns)
	w.sgFuncsMu.Unlock()

	for _, fn := range fns {
		w.wg.Add(1)
		go func(doFunc syncGroupFunc) {
			defer func() {
				w.sgFuncsMu.Lock()
				w.runningCount--
				w.sgFuncsMu.Unlock()
				w.wg.Done()
			}()
			doFunc()
		}(fn)
	}
}

// WaitAndClear 等待当前批次结束并重置，以便复用
func (w *SyncGroup) WaitAndClear() {
	w.wg.Wait()

	w.sgFuncsMu.Lock()
	w.sgFuncs = nil
	w.hasRun = false
	w.runningCount = 0
	w.sgFuncsMu.Unlock()
}

func (w *SyncGroup) Wait() {
	w.wg.Wait()
}
