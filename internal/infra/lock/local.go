package lock

import (
	"context"
	"sync"
)

// LocalLocker сериализует работу с данными арендатора внутри одного
// процесса. Достаточно, когда планировщик и API живут в одном бинарнике.
type LocalLocker struct {
	mu      sync.Mutex
	tenants map[string]*sync.Mutex
}

// NewLocalLocker создаёт блокировку уровня процесса.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{tenants: make(map[string]*sync.Mutex)}
}

// WithLock выполняет fn под мьютексом арендатора.
func (l *LocalLocker) WithLock(ctx context.Context, tenantID string, fn func() error) error {
	l.mu.Lock()
	m, ok := l.tenants[tenantID]
	if !ok {
		m = &sync.Mutex{}
		l.tenants[tenantID] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}
