package channel

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ReplyRouter dispatches inbound gateway replies to the dialogue turn
// waiting on that contact. One waiter per contact at a time; replies with
// no waiter are dropped (the attempt already timed out or finished).
type ReplyRouter struct {
	mu      sync.Mutex
	waiters map[string]chan string
	logger  *zap.Logger
}

// NewReplyRouter creates a reply router
func NewReplyRouter(logger *zap.Logger) *ReplyRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplyRouter{
		waiters: make(map[string]chan string),
		logger:  logger,
	}
}

// Await blocks until a reply arrives for the contact or the context ends
func (r *ReplyRouter) Await(ctx context.Context, contact string) (string, error) {
	ch := make(chan string, 1)

	r.mu.Lock()
	r.waiters[contact] = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.waiters[contact] == ch {
			delete(r.waiters, contact)
		}
		r.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case reply := <-ch:
		return reply, nil
	}
}

// Dispatch hands an inbound reply to the contact's waiter, if any
func (r *ReplyRouter) Dispatch(contact, body string) bool {
	r.mu.Lock()
	ch, ok := r.waiters[contact]
	if ok {
		delete(r.waiters, contact)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("reply with no waiter dropped", zap.String("contact", contact))
		return false
	}
	ch <- body
	return true
}
