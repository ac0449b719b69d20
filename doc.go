/*
Package pubsub multiplexes GraphQL subscriptions onto a single NATS
connection.

A GraphQL server typically has many resolvers interested in the same event
class at the same time. Opening one broker subscription per resolver does
not scale and leaks connection state; this package keeps exactly one
physical subscription per topic regardless of how many logical subscribers
share it. The first Subscribe for a topic opens the broker subscription,
every later one rides along, and the last Unsubscribe releases it.
Incoming messages are decoded once and fanned out to every logical
subscriber of their topic, in subscription order.

# Basic Usage

	nc, err := natsx.NewClient()
	if err != nil {
		// Handle error
	}
	ps, err := pubsub.New(broker.NATS(nc))
	if err != nil {
		// Handle error
	}

	id, err := ps.Subscribe(ctx, "COMMENT_ADDED", func(msg any) {
		// msg is the decoded payload
	}, nil)
	defer ps.Unsubscribe(id)

	_ = ps.Publish(ctx, "COMMENT_ADDED", map[string]any{"body": "hi"})

Resolvers that consume imperatively use the pull iterator:

	it := ps.Iterator("COMMENT_ADDED")
	defer it.Close()
	msg, err := it.Next(ctx)

or, as a range-over-func sequence:

	for msg := range ps.Iterator("COMMENT_ADDED").Values(ctx) {
		// ...
	}

# Architecture

1. Registry (pubsub.go)
  - Maps logical subscription ids to topics and handlers
  - Reference-counts physical broker subscriptions per topic
  - Dispatches arrived messages to all subscribers of a topic

2. Pull iterator (iterator.go)
  - Turns push delivery into on-demand consumption
  - Two-queue design: queued messages vs. pending pulls
  - Single-shot lifecycle with idempotent Close

3. Broker port (broker/)
  - The connection contract the registry is written against
  - NATS adapter plus an in-process implementation

Triggers are mapped to broker topics by a configurable TriggerTransform
(identity by default). Payloads are encoded as JSON; payloads that fail to
decode as JSON are delivered to subscribers as raw text rather than
dropped.
*/
package pubsub
