// Package intern deduplicates strings that repeat across wordlists and
// discovered URLs, such as host names and path segments.
package intern

import "sync"

// Pool hands out one canonical copy of each distinct string.
type Pool struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewPool() *Pool {
	return &Pool{values: make(map[string]string)}
}

// Intern returns the canonical copy of s.
func (p *Pool) Intern(s string) string {
	if s == "" {
		return ""
	}

	p.mu.RLock()
	interned, ok := p.values[s]
	p.mu.RUnlock()
	if ok {
		return interned
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if interned, ok := p.values[s]; ok {
		return interned
	}
	if p.values == nil {
		p.values = make(map[string]string)
	}
	p.values[s] = s
	return s
}

// Len reports how many distinct strings the pool holds.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.values)
}

var shared = NewPool()

// Intern uses the process-wide pool.
func Intern(s string) string {
	return shared.Intern(s)
}
