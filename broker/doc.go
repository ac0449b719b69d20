// Package broker defines the connection contract the subscription registry
// is built against, together with the two implementations shipped with this
// module.
//
// The registry never talks to NATS directly. It sees a Conn, which can
// publish raw bytes to a topic and open at most one handler-backed
// subscription per call. Each Subscribe call returns a Subscription handle
// whose Unsubscribe releases the broker-side resource synchronously.
//
// Implementations:
//   - NATS: a thin adapter over *nats.Conn. One registry topic maps to one
//     NATS subject.
//   - Local: an in-process fan-out over a concurrent topic map, used by the
//     tests and by deployments that run without an external server. Delivery
//     is synchronous in publish order.
//
// Custom transports implement Conn and hand it to the root package; nothing
// in the registry assumes NATS semantics beyond topic-for-topic delivery.
package broker
