package remote

import (
	"context"
	"sync"
)

// eventStream fans auth events out to all active subscribers.
type eventStream struct {
	mu   sync.RWMutex
	subs map[int]chan AuthEvent
	next int
}

func newEventStream() *eventStream {
	return &eventStream{subs: make(map[int]chan AuthEvent)}
}

// subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *eventStream) subscribe(ctx context.Context) <-chan AuthEvent {
	ch := make(chan AuthEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// publish fan-outs the event to all subscribers.
func (s *eventStream) publish(evt AuthEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
