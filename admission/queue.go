// Package admission bounds how many callers may proceed concurrently per key
// while admitting them in arrival order.
package admission

import (
	"context"
	"fmt"
	"sync"

	llmrelay "github.com/bluefunda/llm-relay"
)

// Queue is a per-key FIFO of ticket ids. The first maxConcurrent entries of a
// key's sequence are admitted; everyone behind them waits.
//
// Every caller that got past Wait must Remove its ticket when done, usually in
// a defer. A ticket that is never removed keeps its slot forever.
type Queue struct {
	mu      sync.Mutex
	seqs    map[string][]string
	changed map[string]chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		seqs:    make(map[string][]string),
		changed: make(map[string]chan struct{}),
	}
}

// Add appends id to the end of key's sequence. An id already queued under key
// is rejected with ErrDuplicateTicket.
func (q *Queue) Add(key, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.addLocked(key, id)
}

func (q *Queue) addLocked(key, id string) error {
	if indexOf(q.seqs[key], id) >= 0 {
		return fmt.Errorf("%w: %s/%s", llmrelay.ErrDuplicateTicket, key, id)
	}
	q.seqs[key] = append(q.seqs[key], id)
	q.broadcastLocked(key)
	return nil
}

// Remove drops the first occurrence of id from key's sequence. Unknown keys and
// ids are ignored.
func (q *Queue) Remove(key, id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	seq, ok := q.seqs[key]
	if !ok {
		return
	}
	i := indexOf(seq, id)
	if i < 0 {
		return
	}
	// empty sequences stay in the map so a vanished ticket is not re-registered by Wait
	q.seqs[key] = append(seq[:i:i], seq[i+1:]...)
	q.broadcastLocked(key)
}

// Wait blocks until id is admitted (its index is below maxConcurrent) or is no
// longer queued under key. When key has never been seen, id registers itself
// first. A maxConcurrent below 1 is treated as 1.
//
// Wait does not remove the ticket when ctx ends; the caller still owns it.
func (q *Queue) Wait(ctx context.Context, key, id string, maxConcurrent int) error {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	q.mu.Lock()
	if _, ok := q.seqs[key]; !ok {
		if err := q.addLocked(key, id); err != nil {
			q.mu.Unlock()
			return err
		}
	}

	for {
		i := indexOf(q.seqs[key], id)
		if i < maxConcurrent {
			q.mu.Unlock()
			return nil
		}
		changed := q.changedLocked(key)
		q.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
		q.mu.Lock()
	}
}

// Acquire enqueues id under key and waits for admission. The returned release
// removes the ticket and is safe to call more than once. On error the ticket
// has already been removed.
func (q *Queue) Acquire(ctx context.Context, key, id string, maxConcurrent int) (func(), error) {
	if err := q.Add(key, id); err != nil {
		return nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() { q.Remove(key, id) })
	}

	if err := q.Wait(ctx, key, id, maxConcurrent); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

// Len returns the number of tickets queued under key.
func (q *Queue) Len(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.seqs[key])
}

// Position returns id's index under key, or -1 when it is not queued.
func (q *Queue) Position(key, id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return indexOf(q.seqs[key], id)
}

func (q *Queue) changedLocked(key string) chan struct{} {
	ch, ok := q.changed[key]
	if !ok {
		ch = make(chan struct{})
		q.changed[key] = ch
	}
	return ch
}

// broadcastLocked wakes every waiter of key.
func (q *Queue) broadcastLocked(key string) {
	if ch, ok := q.changed[key]; ok {
		close(ch)
		delete(q.changed, key)
	}
}

func indexOf(seq []string, id string) int {
	for i, v := range seq {
		if v == id {
			return i
		}
	}
	return -1
}
