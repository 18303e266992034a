package events

import "sync"

const defaultBuffer = 32

// Feed fans published values out to every subscriber. Publish never blocks:
// a subscriber whose buffer is full misses the value.
type Feed[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan T
	closed bool
	buffer int
}

func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{subs: make(map[int]chan T), buffer: defaultBuffer}
}

// Subscribe returns a receive channel and a function that detaches it.
func (f *Feed[T]) Subscribe() (<-chan T, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan T, f.buffer)
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if sub, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(sub)
			}
		})
	}
}

// Publish reports how many subscribers received v.
func (f *Feed[T]) Publish(v T) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0
	}
	delivered := 0
	for _, ch := range f.subs {
		select {
		case ch <- v:
			delivered++
		default:
		}
	}
	return delivered
}

func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
