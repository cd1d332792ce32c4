package protocol

import (
	"encoding/json"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec frames control messages on a byte stream. Decode is called from
// one goroutine; Encode calls are serialized by the caller.
type Codec interface {
	Decode(*Request) error
	Encode(Event) error
}

type jsonCodec struct {
	dec *json.Decoder
	enc *json.Encoder
}

// NewJSONCodec returns a Codec reading and writing newline-delimited JSON.
func NewJSONCodec(r io.Reader, w io.Writer) Codec {
	return &jsonCodec{dec: json.NewDecoder(r), enc: json.NewEncoder(w)}
}

func (c *jsonCodec) Decode(req *Request) error { return c.dec.Decode(req) }
func (c *jsonCodec) Encode(ev Event) error     { return c.enc.Encode(ev) }

type msgpackCodec struct {
	dec *msgpack.Decoder
	enc *msgpack.Encoder
}

// NewMsgpackCodec returns a Codec reading and writing a stream of
// MessagePack values. Field names match the JSON codec.
func NewMsgpackCodec(r io.Reader, w io.Writer) Codec {
	dec := msgpack.NewDecoder(r)
	dec.SetCustomStructTag("json")
	enc := msgpack.NewEncoder(w)
	enc.SetCustomStructTag("json")
	return &msgpackCodec{dec: dec, enc: enc}
}

func (c *msgpackCodec) Decode(req *Request) error { return c.dec.Decode(req) }
func (c *msgpackCodec) Encode(ev Event) error     { return c.enc.Encode(ev) }
