package evfs

import "sync"

// localBroadcaster fans a node's own StoreEvents out to its direct
// watch_folder/watch_file subscribers. This is separate from eventRouter:
// the node committing a write already knows the event and its own path, so
// there is no need to round-trip through the store's NodeEvents stream the
// way a cross-subtree watch_tree subscription must.
type localBroadcaster struct {
	mu   sync.Mutex
	subs map[int]chan StoreEvent
	next int
}

func newLocalBroadcaster() *localBroadcaster {
	return &localBroadcaster{subs: make(map[int]chan StoreEvent)}
}

// subscribe registers a new observer and returns its channel plus a detach
// function. Detach is idempotent.
func (b *localBroadcaster) subscribe() (<-chan StoreEvent, func()) {
	ch := make(chan StoreEvent, 16)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	detach := func() {
		once.Do(func() {
			b.mu.Lock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
			b.mu.Unlock()
		})
	}
	return ch, detach
}

// publish delivers ev to every current subscriber, non-blockingly: a slow
// reader drops events rather than stalling the writer that produced them.
func (b *localBroadcaster) publish(ev StoreEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
