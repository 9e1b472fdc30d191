package convo

import (
	"context"
	"slices"
	"sync"
)

// ticket is one place in a lane. ready is closed when the ticket reaches the head.
type ticket struct {
	ready chan struct{}
}

// lane admits holders strictly in the order they took a ticket.
type lane struct {
	mu    sync.Mutex
	queue []*ticket
}

func newLane() *lane {
	return &lane{}
}

// ticket reserves a place in line without waiting.
func (l *lane) ticket() *ticket {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := &ticket{ready: make(chan struct{})}
	l.queue = append(l.queue, t)
	if len(l.queue) == 1 {
		close(t.ready)
	}
	return t
}

// wait blocks until t reaches the head of the lane and returns its release func. When ctx ends
// first the ticket is given up so later tickets are not held back.
func (l *lane) wait(ctx context.Context, t *ticket) (func(), error) {
	if err := ctx.Err(); err != nil {
		l.leave(t)
		return nil, err
	}
	select {
	case <-t.ready:
		var once sync.Once
		return func() { once.Do(func() { l.leave(t) }) }, nil
	case <-ctx.Done():
		l.leave(t)
		return nil, ctx.Err()
	}
}

// leave removes t and, if t was at the head, admits the next ticket.
func (l *lane) leave(t *ticket) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := slices.Index(l.queue, t)
	if i < 0 {
		return
	}
	l.queue = slices.Delete(l.queue, i, i+1)
	if i == 0 && len(l.queue) > 0 {
		close(l.queue[0].ready)
	}
}
