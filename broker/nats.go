package broker

import (
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

type natsConn struct {
	client *nats.Conn
}

// NATS wraps an existing NATS connection as a Conn.
func NATS(client *nats.Conn) Conn {
	return &natsConn{client: client}
}

func (c *natsConn) Publish(topic string, data []byte) error {
	return c.client.Publish(topic, data)
}

func (c *natsConn) Subscribe(topic string, handler MsgHandler) (Subscription, error) {
	nsub, err := c.client.Subscribe(topic, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return &natsSubscription{
		id:  uuid.Must(uuid.NewV7()).String(),
		sub: nsub,
	}, nil
}

type natsSubscription struct {
	id  string
	sub *nats.Subscription
}

func (s *natsSubscription) ID() string {
	return s.id
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
