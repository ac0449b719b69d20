package pubsub

import (
	"errors"
	"fmt"
)

// ErrUnknownSubscription is returned by Unsubscribe when the id was never
// issued or has already been retired. Ids are never reused, so a second
// Unsubscribe with the same id always fails with this error.
var ErrUnknownSubscription = errors.New("unknown subscription id")

// ErrIteratorDone is returned by MessageIterator.Next once the iterator has
// been closed. A closed iterator never yields values again.
var ErrIteratorDone = errors.New("message iterator is done")

// InternalInconsistencyError reports a broken registry invariant: a logical
// subscription exists but the bookkeeping for its topic does not. The
// affected call fails, other topics keep working.
type InternalInconsistencyError struct {
	SubscriptionID uint64
	Topic          string
}

func (e *InternalInconsistencyError) Error() string {
	return fmt.Sprintf("subscription registry inconsistent: no reference set for topic %q (subscription id %d)", e.Topic, e.SubscriptionID)
}
