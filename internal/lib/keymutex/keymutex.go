// Package keymutex реализует взаимное исключение по ключу:
// операции с одним ключом выполняются последовательно,
// операции с разными ключами не мешают друг другу.
package keymutex

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// KeyMutex хранит мьютекс на каждый занятый ключ и удаляет его,
// когда ключ больше никто не удерживает и не ждёт.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New создаёт пустой KeyMutex.
func New() *KeyMutex {
	return &KeyMutex{locks: make(map[string]*entry)}
}

// Lock захватывает ключ и возвращает функцию освобождения.
func (k *KeyMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Len возвращает число ключей, которые сейчас удерживаются или ожидаются.
func (k *KeyMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
