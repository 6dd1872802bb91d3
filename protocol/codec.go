package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/AlibekovAA/NATS/types"
)

// Codec marshals envelopes and decodes worker responses.
type Codec interface {
	// Name identifies the codec in configuration and logs.
	Name() string
	// Marshal encodes an envelope.
	Marshal(v any) ([]byte, error)
	// Unmarshal decodes data into v. Failures are *types.DecodeError.
	Unmarshal(data []byte, v any) error
	// DecodeMap decodes a response into a generic map. Failures are
	// *types.DecodeError whose Cause distinguishes unreadable bytes from
	// invalid structure.
	DecodeMap(data []byte) (map[string]any, error)
}

// Codec names.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// ParseCodec returns the codec with the given name. Empty input yields JSON,
// the format the worker speaks by default.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, types.NewError(types.ErrValidation, "parse codec",
			fmt.Sprintf("unsupported codec %q (must be json or msgpack)", name), nil)
	}
}

// JSONCodec encodes envelopes as UTF-8 JSON.
type JSONCodec struct{}

// Name implements Codec.
func (JSONCodec) Name() string { return CodecJSON }

// Marshal implements Codec.
func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal implements Codec.
func (JSONCodec) Unmarshal(data []byte, v any) error {
	if err := checkText(data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &types.DecodeError{Cause: types.DecodeCauseStructure, Err: err}
	}
	return nil
}

// DecodeMap implements Codec.
func (JSONCodec) DecodeMap(data []byte) (map[string]any, error) {
	if err := checkText(data); err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &types.DecodeError{Cause: types.DecodeCauseStructure, Err: err}
	}
	if m == nil {
		return nil, &types.DecodeError{Cause: types.DecodeCauseStructure, Err: errors.New("response is not an object")}
	}
	return m, nil
}

// checkText rejects bytes that cannot be interpreted as text.
func checkText(data []byte) error {
	if len(data) == 0 {
		return &types.DecodeError{Cause: types.DecodeCauseBytes, Err: errors.New("empty response")}
	}
	if !utf8.Valid(data) {
		return &types.DecodeError{Cause: types.DecodeCauseBytes, Err: errors.New("response is not valid UTF-8")}
	}
	return nil
}

// MsgpackCodec encodes envelopes as MessagePack for workers that opt in.
type MsgpackCodec struct{}

// Name implements Codec.
func (MsgpackCodec) Name() string { return CodecMsgpack }

// Marshal implements Codec.
func (MsgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Unmarshal implements Codec.
func (MsgpackCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return &types.DecodeError{Cause: types.DecodeCauseBytes, Err: errors.New("empty response")}
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return &types.DecodeError{Cause: types.DecodeCauseStructure, Err: err}
	}
	return nil
}

// DecodeMap implements Codec.
func (c MsgpackCodec) DecodeMap(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := c.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &types.DecodeError{Cause: types.DecodeCauseStructure, Err: errors.New("response is not a map")}
	}
	return m, nil
}

var (
	_ Codec = JSONCodec{}
	_ Codec = MsgpackCodec{}
)
