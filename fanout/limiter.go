package fanout

import (
	"context"
	"sync"
)

// DefaultCapacity 限流器默认容量
const DefaultCapacity = 3

// Limiter 进程级 FIFO 计数信号量，约束批量路径同时在途的模型调用数。
//
// 不变量: available ∈ [0, capacity]。Release 在等待队列非空时把槽位
// 直接交给最早的等待者，绝不会同时回收槽位又唤醒等待者。
type Limiter struct {
	mu        sync.Mutex
	capacity  int
	available int
	waiters   []chan struct{} // FIFO 等待队列
}

// NewLimiter 创建限流器。capacity < 1 时使用 DefaultCapacity。
func NewLimiter(capacity int) *Limiter {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Limiter{
		capacity:  capacity,
		available: capacity,
	}
}

// Acquire 获取一个槽位。有空闲槽位时立即返回，否则按 FIFO 排队挂起，
// 直到被 Release 唤醒或 ctx 结束。
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.available > 0 {
		l.available--
		l.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	l.waiters = append(l.waiters, ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ready {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// 取消与授予竞争时槽位已经交给了我们，转交给下一个等待者。
		l.Release()
		return ctx.Err()
	}
}

// TryAcquire 非阻塞获取槽位。
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.available > 0 {
		l.available--
		return true
	}
	return false
}

// Release 释放一个槽位。等待队列非空时直接移交给队首等待者。
func (l *Limiter) Release() {
	l.mu.Lock()
	if len(l.waiters) > 0 {
		ready := l.waiters[0]
		l.waiters = l.waiters[1:]
		l.mu.Unlock()
		close(ready)
		return
	}
	if l.available < l.capacity {
		l.available++
	}
	l.mu.Unlock()
}

// Capacity 返回容量。
func (l *Limiter) Capacity() int {
	return l.capacity
}

// InUse 返回当前被占用的槽位数。
func (l *Limiter) InUse() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capacity - l.available
}

// Waiting 返回排队等待的调用数。
func (l *Limiter) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}
