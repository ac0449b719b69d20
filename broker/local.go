package broker

import (
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/google/uuid"
)

type localConn struct {
	topics *haxmap.Map[string, *localTopic]
}

// Local returns an in-process Conn. It delivers messages synchronously to
// every handler subscribed to the published topic, which makes it suitable
// for tests and single-process deployments that don't need a NATS server.
func Local() Conn {
	return &localConn{
		topics: haxmap.New[string, *localTopic](),
	}
}

func (c *localConn) topic(name string) *localTopic {
	top, _ := c.topics.GetOrCompute(name, func() *localTopic {
		return &localTopic{
			subscriptions: haxmap.New[string, *localSubscription](),
		}
	})
	return top
}

func (c *localConn) Publish(topic string, data []byte) error {
	c.topic(topic).publish(data)
	return nil
}

func (c *localConn) Subscribe(topic string, handler MsgHandler) (Subscription, error) {
	return c.topic(topic).subscribe(handler), nil
}

type localTopic struct {
	mu            sync.Mutex // serializes publishes so handlers see arrival order
	subscriptions *haxmap.Map[string, *localSubscription]
}

func (t *localTopic) publish(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscriptions.ForEach(func(id string, sub *localSubscription) bool {
		if sub != nil {
			sub.handler(data)
		}
		return true
	})
}

func (t *localTopic) subscribe(handler MsgHandler) *localSubscription {
	id := uuid.Must(uuid.NewV7()).String()
	sub := &localSubscription{
		id:      id,
		handler: handler,
		onClose: func() { t.subscriptions.Del(id) },
	}
	t.subscriptions.Set(id, sub)
	return sub
}

type localSubscription struct {
	id        string
	handler   MsgHandler
	closeOnce sync.Once
	onClose   func()
}

func (s *localSubscription) ID() string {
	return s.id
}

func (s *localSubscription) Unsubscribe() error {
	s.closeOnce.Do(s.onClose)
	return nil
}
