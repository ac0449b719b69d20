package slogx

import "log/slog"

// Error returns a slog.Attr for the provided error under the key "error".
func Error(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// ByteString creates a slog.Attr with the given key and the string
// representation of the byte slice value.
func ByteString(key string, value []byte) slog.Attr {
	return slog.String(key, string(value))
}

// Topic returns a slog.Attr for a broker topic name.
func Topic(topic string) slog.Attr {
	return slog.String("topic", topic)
}

// SubID returns a slog.Attr for a logical subscription id.
func SubID(id uint64) slog.Attr {
	return slog.Uint64("subscription_id", id)
}
