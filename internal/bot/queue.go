package bot

import (
	"context"
	"sync"
)

// chatQueues runs one worker per chat with pending events. A worker exits
// when its queue drains, so idle chats cost nothing.
type chatQueues struct {
	mu     sync.Mutex
	chats  map[int64]*chatQueue
	closed bool
	wg     sync.WaitGroup
	handle func(Event)
}

type chatQueue struct {
	pending []Event
}

func newChatQueues(handle func(Event)) *chatQueues {
	return &chatQueues{chats: make(map[int64]*chatQueue), handle: handle}
}

// push enqueues ev behind earlier events of the same chat. It reports false
// after close.
func (q *chatQueues) push(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}

	cq, running := q.chats[ev.ChatID]
	if !running {
		cq = &chatQueue{}
		q.chats[ev.ChatID] = cq
	}
	cq.pending = append(cq.pending, ev)
	if !running {
		q.wg.Add(1)
		go q.drain(ev.ChatID, cq)
	}
	return true
}

func (q *chatQueues) drain(chatID int64, cq *chatQueue) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(cq.pending) == 0 {
			delete(q.chats, chatID)
			q.mu.Unlock()
			return
		}
		ev := cq.pending[0]
		cq.pending = cq.pending[1:]
		q.mu.Unlock()

		q.handle(ev)
	}
}

// close refuses new events and waits for queued ones until ctx ends.
func (q *chatQueues) close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
