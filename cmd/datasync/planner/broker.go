package planner

import (
	"sync"

	"github.com/lyzr/datasync/cmd/datasync/models"
)

// phaseBroker fans phase transitions of a shared fetch out to every caller
// waiting on it
type phaseBroker struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]Reporter
}

func newPhaseBroker() *phaseBroker {
	return &phaseBroker{subs: make(map[string]map[int]Reporter)}
}

func (b *phaseBroker) subscribe(key string, r Reporter) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	if b.subs[key] == nil {
		b.subs[key] = make(map[int]Reporter)
	}
	b.subs[key][id] = r

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[key], id)
		if len(b.subs[key]) == 0 {
			delete(b.subs, key)
		}
	}
}

func (b *phaseBroker) publish(key string, phase models.Phase) {
	b.mu.Lock()
	reporters := make([]Reporter, 0, len(b.subs[key]))
	for _, r := range b.subs[key] {
		reporters = append(reporters, r)
	}
	b.mu.Unlock()

	for _, r := range reporters {
		r(phase)
	}
}
