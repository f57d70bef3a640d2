package position

import "sync"

// symbolLocks hands out one blocking mutex per symbol, dropping entries
// once no caller holds or waits on them.
type symbolLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newSymbolLocks() *symbolLocks {
	return &symbolLocks{locks: make(map[string]*refLock)}
}

// lock blocks until symbol is free and returns its unlock function
func (s *symbolLocks) lock(symbol string) func() {
	s.mu.Lock()
	l, ok := s.locks[symbol]
	if !ok {
		l = &refLock{}
		s.locks[symbol] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, symbol)
		}
		s.mu.Unlock()
	}
}
