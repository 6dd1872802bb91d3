// Package protocol defines the three-phase session envelopes exchanged with
// the analysis worker and interprets its replies.
//
// A session is one start publish, N chunk requests and one finish request:
//
//	<prefix>.start   publish  {sessionId, totalChunks, encoding}
//	<prefix>.chunk   request  {sessionId, chunkIndex, totalChunks, data, encoding}
//	                 reply    {status: "ok"} | {error}
//	<prefix>.finish  request  {sessionId, encoding}
//	                 reply    {error} | {packets, summary}
package protocol

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/AlibekovAA/NATS/types"
)

// DefaultSubjectPrefix is the default subject namespace.
const DefaultSubjectPrefix = "analysis"

// Subjects holds the bus subjects for one namespace.
type Subjects struct {
	Start  string
	Chunk  string
	Finish string
}

// NewSubjects builds the subjects under prefix. Empty input yields
// DefaultSubjectPrefix.
func NewSubjects(prefix string) Subjects {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return Subjects{
		Start:  prefix + ".start",
		Chunk:  prefix + ".chunk",
		Finish: prefix + ".finish",
	}
}

// StartEnvelope announces a session. It is published, never acknowledged.
type StartEnvelope struct {
	SessionID   string         `json:"sessionId" msgpack:"sessionId"`
	TotalChunks int            `json:"totalChunks" msgpack:"totalChunks"`
	Encoding    types.Encoding `json:"encoding" msgpack:"encoding"`
}

// ChunkEnvelope carries one encoded chunk.
type ChunkEnvelope struct {
	SessionID   string         `json:"sessionId" msgpack:"sessionId"`
	ChunkIndex  int            `json:"chunkIndex" msgpack:"chunkIndex"`
	TotalChunks int            `json:"totalChunks" msgpack:"totalChunks"`
	Data        string         `json:"data" msgpack:"data"`
	Encoding    types.Encoding `json:"encoding" msgpack:"encoding"`
}

// FinishEnvelope asks the worker to analyse the reassembled capture.
type FinishEnvelope struct {
	SessionID string         `json:"sessionId" msgpack:"sessionId"`
	Encoding  types.Encoding `json:"encoding" msgpack:"encoding"`
}

// BuildStartEnvelope builds the start envelope for a session.
func BuildStartEnvelope(sessionID string, totalChunks int, enc types.Encoding) StartEnvelope {
	return StartEnvelope{SessionID: sessionID, TotalChunks: totalChunks, Encoding: enc}
}

// BuildChunkEnvelope encodes c's payload with the chunk's encoding.
func BuildChunkEnvelope(sessionID string, c types.Chunk) (ChunkEnvelope, error) {
	data, err := Encode(c.Payload, c.Encoding)
	if err != nil {
		return ChunkEnvelope{}, err
	}
	return ChunkEnvelope{
		SessionID:   sessionID,
		ChunkIndex:  c.Index,
		TotalChunks: c.TotalChunks,
		Data:        data,
		Encoding:    c.Encoding,
	}, nil
}

// BuildFinishEnvelope builds the finish envelope for a session.
func BuildFinishEnvelope(sessionID string, enc types.Encoding) FinishEnvelope {
	return FinishEnvelope{SessionID: sessionID, Encoding: enc}
}

// Encode renders payload as text in the given encoding.
func Encode(payload []byte, enc types.Encoding) (string, error) {
	switch enc {
	case types.EncodingHex:
		return hex.EncodeToString(payload), nil
	case types.EncodingBase64:
		return base64.StdEncoding.EncodeToString(payload), nil
	default:
		return "", types.NewError(types.ErrValidation, "encode",
			fmt.Sprintf("unsupported encoding %q", enc), nil)
	}
}

// DecodePayload reverses Encode.
func DecodePayload(s string, enc types.Encoding) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch enc {
	case types.EncodingHex:
		out, err = hex.DecodeString(s)
	case types.EncodingBase64:
		out, err = base64.StdEncoding.DecodeString(s)
	default:
		return nil, types.NewError(types.ErrValidation, "decode payload",
			fmt.Sprintf("unsupported encoding %q", enc), nil)
	}
	if err != nil {
		return nil, &types.DecodeError{Cause: types.DecodeCauseStructure, Err: err}
	}
	return out, nil
}

// EncodedLen returns the length of payload once encoded, without encoding it.
func EncodedLen(n int, enc types.Encoding) int {
	switch enc {
	case types.EncodingHex:
		return hex.EncodedLen(n)
	case types.EncodingBase64:
		return base64.StdEncoding.EncodedLen(n)
	default:
		return n
	}
}
