package sync

import (
	gosync "sync"

	"keapsync/internal/domain/entity"
)

// KeyLock взаимоисключение по ключу сущности внутри процесса
type KeyLock struct {
	mu    gosync.Mutex
	locks map[entity.Key]*keyEntry
}

type keyEntry struct {
	mu   gosync.Mutex
	refs int
}

func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[entity.Key]*keyEntry)}
}

// Lock блокирует ключ и возвращает функцию освобождения
func (l *KeyLock) Lock(key entity.Key) func() {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &keyEntry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Len возвращает число ключей, которые сейчас удерживаются или ожидаются
func (l *KeyLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
