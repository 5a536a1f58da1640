package backend

import "sync"

// Broadcaster delivers auth changes to subscribers. Each subscriber gets its
// own goroutine and queue, so delivery is asynchronous, in publish order,
// and a slow subscriber never blocks the publisher.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
}

type subscriber struct {
	mu     sync.Mutex
	queue  []AuthChange
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
	handle func(AuthChange)
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]*subscriber)}
}

// Subscribe registers fn and returns its unsubscribe function.
func (b *Broadcaster) Subscribe(fn func(AuthChange)) func() {
	s := &subscriber{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		handle: fn,
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	go s.run()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		s.stop()
	}
}

// Publish queues change for every current subscriber.
func (b *Broadcaster) Publish(change AuthChange) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.push(change)
	}
}

// Close removes every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[int]*subscriber)
	b.mu.Unlock()
	for _, s := range subs {
		s.stop()
	}
}

func (s *subscriber) push(change AuthChange) {
	s.mu.Lock()
	s.queue = append(s.queue, change)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			change := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.handle(change)
		}
	}
}
