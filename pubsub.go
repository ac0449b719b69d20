package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fogfish/opts"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/Fxlr8/graphql-nats-subscriptions/broker"
	"github.com/Fxlr8/graphql-nats-subscriptions/pkg/jsonx"
	"github.com/Fxlr8/graphql-nats-subscriptions/pkg/slogx"
)

// MessageHandler receives every decoded message that arrives for the
// subscription it was registered with.
type MessageHandler func(msg any)

// Options carries per-call channel options. They are handed to the trigger
// transform and the options resolvers verbatim.
type Options map[string]any

// TriggerTransform maps an application-level trigger to the broker topic it
// is published on. The default transform is the identity.
type TriggerTransform func(trigger string, options Options) string

// PublishOptionsResolver is a reserved extension point for per-publish
// broker options. The default path never consults it.
type PublishOptionsResolver func(ctx context.Context, trigger string, payload any) (Options, error)

// SubscribeOptionsResolver is a reserved extension point for per-subscribe
// broker options. Its result feeds the trigger transform.
type SubscribeOptionsResolver func(ctx context.Context, trigger string, options Options) (Options, error)

type registryEntry struct {
	topic   string
	handler MessageHandler
}

// PubSub multiplexes any number of logical subscriptions onto a single
// broker connection. At most one physical broker subscription exists per
// topic: the first logical subscriber opens it, every later one shares it,
// and the last one to unsubscribe releases it. Incoming messages fan out to
// every logical subscriber of their topic.
//
// All registry state is guarded by a single mutex, so a PubSub is safe for
// concurrent use.
type PubSub struct {
	conn              broker.Conn
	log               *slog.Logger
	triggerTransform  TriggerTransform
	publishResolver   PublishOptionsResolver
	subscribeResolver SubscribeOptionsResolver

	mu            sync.Mutex
	nextID        uint64
	subscriptions map[uint64]*registryEntry
	subRefs       map[string]*orderedmap.OrderedMap[uint64, struct{}]
	brokerSubs    map[string]broker.Subscription
}

// New creates a PubSub on top of an existing broker connection. The
// connection is shared infrastructure: PubSub never closes it.
func New(conn broker.Conn, options ...opts.Option[PubSub]) (*PubSub, error) {
	if conn == nil {
		return nil, fmt.Errorf("broker connection is required")
	}
	ps := &PubSub{
		conn:             conn,
		log:              slog.Default(),
		triggerTransform: func(trigger string, _ Options) string { return trigger },
		subscriptions:    make(map[uint64]*registryEntry),
		subRefs:          make(map[string]*orderedmap.OrderedMap[uint64, struct{}]),
		brokerSubs:       make(map[string]broker.Subscription),
	}
	if err := opts.Apply(ps, options); err != nil {
		return nil, err
	}
	return ps, nil
}

// Subscribe registers handler for every message published on trigger's
// topic and returns the logical subscription id. Ids are unique for the
// lifetime of the PubSub and are never reused.
//
// The first subscriber for a topic opens the physical broker subscription;
// if that fails, the error is returned and no registry state is left
// behind.
func (ps *PubSub) Subscribe(ctx context.Context, trigger string, handler MessageHandler, options Options) (uint64, error) {
	if handler == nil {
		return 0, fmt.Errorf("handler is required")
	}
	if ps.subscribeResolver != nil {
		resolved, err := ps.subscribeResolver(ctx, trigger, options)
		if err != nil {
			return 0, fmt.Errorf("resolve subscribe options for %q: %w", trigger, err)
		}
		if resolved != nil {
			options = resolved
		}
	}
	topic := ps.triggerTransform(trigger, options)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	refs, ok := ps.subRefs[topic]
	if !ok {
		sub, err := ps.conn.Subscribe(topic, func(data []byte) { ps.dispatch(topic, data) })
		if err != nil {
			return 0, fmt.Errorf("subscribe to topic %q: %w", topic, err)
		}
		refs = orderedmap.New[uint64, struct{}]()
		ps.subRefs[topic] = refs
		ps.brokerSubs[topic] = sub
	}

	id := ps.nextID
	ps.nextID++
	ps.subscriptions[id] = &registryEntry{topic: topic, handler: handler}
	refs.Set(id, struct{}{})
	return id, nil
}

// Unsubscribe retires a logical subscription id. When the id is the last
// one for its topic, the physical broker subscription is released before
// Unsubscribe returns. Unknown and already-retired ids fail with
// ErrUnknownSubscription.
func (ps *PubSub) Unsubscribe(id uint64) error {
	ps.mu.Lock()
	entry, ok := ps.subscriptions[id]
	if !ok {
		ps.mu.Unlock()
		return fmt.Errorf("unsubscribe id %d: %w", id, ErrUnknownSubscription)
	}
	refs, ok := ps.subRefs[entry.topic]
	if !ok {
		ps.mu.Unlock()
		err := &InternalInconsistencyError{SubscriptionID: id, Topic: entry.topic}
		ps.log.Error("subscription registry inconsistent",
			slogx.SubID(id), slogx.Topic(entry.topic), slogx.Error(err))
		return err
	}

	var release broker.Subscription
	if refs.Len() == 1 {
		release = ps.brokerSubs[entry.topic]
		delete(ps.brokerSubs, entry.topic)
		delete(ps.subRefs, entry.topic)
	} else {
		refs.Delete(id)
	}
	delete(ps.subscriptions, id)
	ps.mu.Unlock()

	if release != nil {
		if err := release.Unsubscribe(); err != nil {
			ps.log.Error("failed to release broker subscription",
				slogx.Topic(entry.topic), slog.String("handle", release.ID()), slogx.Error(err))
		}
	}
	return nil
}

// Publish encodes payload and hands it to the broker connection for
// trigger's topic. Delivery is at-most-once: once the broker accepts the
// bytes, broker-side failures are not observable here.
func (ps *PubSub) Publish(ctx context.Context, trigger string, payload any) error {
	if ps.publishResolver != nil {
		if _, err := ps.publishResolver(ctx, trigger, payload); err != nil {
			return fmt.Errorf("resolve publish options for %q: %w", trigger, err)
		}
	}
	topic := ps.triggerTransform(trigger, nil)
	data, err := jsonx.Encode(payload)
	if err != nil {
		return fmt.Errorf("encode payload for topic %q: %w", topic, err)
	}
	return ps.conn.Publish(topic, data)
}

// dispatch is the handler bound to every physical subscription. It snapshots
// the topic's subscribers under the lock and invokes them outside of it, so
// callbacks are free to subscribe or unsubscribe.
func (ps *PubSub) dispatch(topic string, data []byte) {
	type delivery struct {
		id      uint64
		handler MessageHandler
	}

	ps.mu.Lock()
	refs, ok := ps.subRefs[topic]
	if !ok || refs.Len() == 0 {
		// The last unsubscribe won the race against an in-flight message.
		ps.mu.Unlock()
		return
	}
	deliveries := make([]delivery, 0, refs.Len())
	for pair := refs.Oldest(); pair != nil; pair = pair.Next() {
		if entry, ok := ps.subscriptions[pair.Key]; ok {
			deliveries = append(deliveries, delivery{id: pair.Key, handler: entry.handler})
		}
	}
	ps.mu.Unlock()

	msg := jsonx.Decode(data)
	for _, d := range deliveries {
		ps.deliver(topic, d.id, d.handler, msg)
	}
}

// deliver invokes a single subscriber. A panicking callback is contained
// here so it cannot starve later subscribers or reach the broker client.
func (ps *PubSub) deliver(topic string, id uint64, handler MessageHandler, msg any) {
	defer func() {
		if r := recover(); r != nil {
			ps.log.Error("subscriber callback panicked",
				slogx.Topic(topic), slogx.SubID(id), slog.Any("panic", r))
		}
	}()
	handler(msg)
}
