// Package jsonx is the payload codec for the pub/sub layer. Payloads travel
// over the broker as JSON bytes, but the broker makes no promise that every
// message on a topic is structured, so decoding never fails: anything that
// isn't valid JSON is handed to subscribers as the raw text instead.
package jsonx

import json "github.com/goccy/go-json"

// Encode serializes a payload to the bytes published on the broker.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode turns broker bytes back into a value. Valid JSON decodes into the
// usual dynamic shapes (map[string]any, []any, float64, string, bool, nil);
// everything else comes back verbatim as a string.
func Decode(data []byte) any {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	return v
}
