package link

import (
	"encoding/json"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec serialises frames for the wire. The codec is chosen per connection
// with the codec query parameter.
type Codec interface {
	Encode(f *Frame) ([]byte, error)
	Decode(data []byte) (*Frame, error)
	Name() string
	// MessageType is the websocket message type frames are sent as.
	MessageType() int
}

const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// CodecFor returns the named codec. Unknown names fall back to JSON.
func CodecFor(name string) Codec {
	if name == CodecMsgpack {
		return MsgpackCodec{}
	}
	return JSONCodec{}
}

type JSONCodec struct{}

func (JSONCodec) Encode(f *Frame) ([]byte, error) { return json.Marshal(f) }

func (JSONCodec) Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (JSONCodec) Name() string     { return CodecJSON }
func (JSONCodec) MessageType() int { return websocket.TextMessage }

type MsgpackCodec struct{}

func (MsgpackCodec) Encode(f *Frame) ([]byte, error) { return msgpack.Marshal(f) }

func (MsgpackCodec) Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (MsgpackCodec) Name() string     { return CodecMsgpack }
func (MsgpackCodec) MessageType() int { return websocket.BinaryMessage }
