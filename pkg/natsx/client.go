// Package natsx builds the NATS client the way this module expects it:
// URL from the environment, a stable client name, and connection lifecycle
// events that are never lost. Events go to a caller-supplied Listener when
// one is given, otherwise to slog.
package natsx

import (
	"log/slog"
	"os"

	"github.com/nats-io/nats.go"

	"github.com/Fxlr8/graphql-nats-subscriptions/pkg/slogx"
)

// NewClient connects to the NATS server named by the NATS_URL environment
// variable. Without explicit options the connection gets a client name,
// compression, and slog-backed lifecycle event handlers.
func NewClient(opts ...nats.Option) (*nats.Conn, error) {
	if len(opts) == 0 {
		opts = append(opts, nats.Name("graphql-nats-subscriptions"), nats.Compression(true))
		opts = append(opts, Events(Listener{})...)
	}
	return nats.Connect(os.Getenv("NATS_URL"), opts...)
}

// Listener receives connection lifecycle events. Nil fields fall back to
// logging via slog.
type Listener struct {
	OnDisconnect func(err error)
	OnReconnect  func(url string)
	OnClose      func()
	OnError      func(subject string, err error)
}

// Events returns the nats.Options that route disconnect, reconnect, close
// and async error events through l.
func Events(l Listener) []nats.Option {
	return []nats.Option{
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if l.OnDisconnect != nil {
				l.OnDisconnect(err)
				return
			}
			if err != nil {
				slog.Warn("nats connection lost", slogx.Error(err))
			} else {
				slog.Warn("nats connection lost")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if l.OnReconnect != nil {
				l.OnReconnect(nc.ConnectedUrl())
				return
			}
			slog.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if l.OnClose != nil {
				l.OnClose()
				return
			}
			slog.Info("nats connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			if l.OnError != nil {
				l.OnError(subject, err)
				return
			}
			slog.Error("nats async error", slogx.Error(err), slog.String("subject", subject))
		}),
	}
}
