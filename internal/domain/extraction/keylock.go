package extraction

import "sync"

// KeyedLock 按文档 ID 互斥的进程内锁。
// 同一文档的并发提取请求立即被拒绝而不是排队，
// 避免两条管线对同一文档交错执行 delete + upsert。
type KeyedLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewKeyedLock() *KeyedLock {
	return &KeyedLock{held: make(map[string]struct{})}
}

// TryAcquire 尝试获取 key 锁，已被持有时返回 false
func (l *KeyedLock) TryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

// Release 释放 key 锁。释放未持有的 key 是无害的空操作。
func (l *KeyedLock) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
