package broker

// MsgHandler is invoked by a Conn for every message that arrives on a
// subscribed topic. The byte slice is only valid for the duration of the
// call.
type MsgHandler func(data []byte)

// Conn is the broker connection the subscription registry talks to. A single
// Conn is shared by every logical subscriber and publisher.
type Conn interface {
	Publish(topic string, data []byte) error
	Subscribe(topic string, handler MsgHandler) (Subscription, error)
}

// Subscription is the handle for one physical topic subscription.
type Subscription interface {
	ID() string
	Unsubscribe() error
}
