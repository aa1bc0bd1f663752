// Package rpc exposes the order and payment services over Connect. Wire
// messages are plain structs carried by a JSON codec; handler paths follow
// the /groupbuy.v1.<Service>/<Method> convention so clients address
// procedures the same way generated stubs would.
package rpc

import (
	"encoding/json"

	"connectrpc.com/connect"
)

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// CodecOption configures a Connect client or handler with the wire codec
// used by this package. Clients must pass it when dialing.
func CodecOption() connect.Option {
	return connect.WithCodec(jsonCodec{})
}
