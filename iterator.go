package pubsub

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/Fxlr8/graphql-nats-subscriptions/pkg/slogx"
)

// MessageIterator adapts push delivery to pull consumption: it subscribes
// to one or more triggers and yields the decoded messages in arrival order,
// interleaved across triggers. Construction is cheap; the underlying
// subscriptions are only opened on the first call to Next.
//
// An iterator is single-shot. Once closed it stays closed, and the logical
// subscriptions it opened are released.
type MessageIterator struct {
	ps       *PubSub
	triggers []string

	mu        sync.Mutex
	started   bool
	done      bool
	pushQueue []any
	pullQueue []chan any
	subIDs    []uint64
}

// Iterator returns a MessageIterator over the given triggers. It is the
// pull-based counterpart to Subscribe, intended for GraphQL subscription
// resolvers that drain one value per client request.
func (ps *PubSub) Iterator(triggers ...string) *MessageIterator {
	it := &MessageIterator{
		ps:       ps,
		triggers: make([]string, len(triggers)),
	}
	copy(it.triggers, triggers)
	return it
}

// Next returns the next message. A queued message is returned immediately;
// otherwise Next blocks until one arrives, ctx is done, or the iterator is
// closed. Concurrent callers are served in call order, one message each.
//
// After Close, Next returns ErrIteratorDone.
func (it *MessageIterator) Next(ctx context.Context) (any, error) {
	it.mu.Lock()
	if it.done {
		it.mu.Unlock()
		return nil, ErrIteratorDone
	}
	if !it.started {
		if err := it.subscribeAll(ctx); err != nil {
			it.mu.Unlock()
			return nil, err
		}
		it.started = true
	}
	if len(it.pushQueue) > 0 {
		msg := it.pushQueue[0]
		it.pushQueue = it.pushQueue[1:]
		it.mu.Unlock()
		return msg, nil
	}

	wait := make(chan any, 1)
	it.pullQueue = append(it.pullQueue, wait)
	it.mu.Unlock()

	select {
	case msg, ok := <-wait:
		if !ok {
			return nil, ErrIteratorDone
		}
		return msg, nil
	case <-ctx.Done():
		it.abandon(wait)
		return nil, ctx.Err()
	}
}

// Close terminates the iterator: pending Next calls return ErrIteratorDone,
// queued messages are dropped, and every logical subscription the iterator
// opened is released. Close is idempotent and safe to call before the first
// Next.
func (it *MessageIterator) Close() {
	it.mu.Lock()
	if it.done {
		it.mu.Unlock()
		return
	}
	it.done = true
	waiting := it.pullQueue
	ids := it.subIDs
	it.pullQueue = nil
	it.pushQueue = nil
	it.subIDs = nil
	it.mu.Unlock()

	for _, wait := range waiting {
		close(wait)
	}
	for _, id := range ids {
		if err := it.ps.Unsubscribe(id); err != nil && !errors.Is(err, ErrUnknownSubscription) {
			it.ps.log.Error("failed to release iterator subscription",
				slogx.SubID(id), slogx.Error(err))
		}
	}
}

// Values yields messages as a range-over-func sequence. The iterator is
// closed when the loop ends, whether by break, by ctx, or by Close.
func (it *MessageIterator) Values(ctx context.Context) iter.Seq[any] {
	return func(yield func(any) bool) {
		defer it.Close()
		for {
			msg, err := it.Next(ctx)
			if err != nil {
				return
			}
			if !yield(msg) {
				return
			}
		}
	}
}

// subscribeAll opens the logical subscriptions backing the iterator. Called
// with it.mu held, on the first Next. A failure rolls back the
// subscriptions opened so far and terminates the iterator.
func (it *MessageIterator) subscribeAll(ctx context.Context) error {
	ids := make([]uint64, 0, len(it.triggers))
	for _, trigger := range it.triggers {
		id, err := it.ps.Subscribe(ctx, trigger, it.push, nil)
		if err != nil {
			for _, created := range ids {
				if uerr := it.ps.Unsubscribe(created); uerr != nil {
					it.ps.log.Error("failed to roll back iterator subscription",
						slogx.SubID(created), slogx.Error(uerr))
				}
			}
			it.done = true
			return err
		}
		ids = append(ids, id)
	}
	it.subIDs = ids
	return nil
}

// push is the MessageHandler shared by all of the iterator's subscriptions.
// A message satisfies the oldest pending pull if there is one, otherwise it
// is queued.
func (it *MessageIterator) push(msg any) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.done {
		return
	}
	if len(it.pullQueue) > 0 {
		wait := it.pullQueue[0]
		it.pullQueue = it.pullQueue[1:]
		wait <- msg
		return
	}
	it.pushQueue = append(it.pushQueue, msg)
}

// abandon withdraws a pull whose caller gave up on ctx. If a message raced
// into the pull's channel first, it is handed to the oldest pending pull,
// or put back at the head of the queue when none is waiting, so it is not
// lost.
func (it *MessageIterator) abandon(wait chan any) {
	it.mu.Lock()
	defer it.mu.Unlock()
	for i, ch := range it.pullQueue {
		if ch == wait {
			it.pullQueue = append(it.pullQueue[:i], it.pullQueue[i+1:]...)
			return
		}
	}
	select {
	case msg, ok := <-wait:
		if !ok || it.done {
			return
		}
		if len(it.pullQueue) > 0 {
			next := it.pullQueue[0]
			it.pullQueue = it.pullQueue[1:]
			next <- msg
			return
		}
		it.pushQueue = append([]any{msg}, it.pushQueue...)
	default:
	}
}
