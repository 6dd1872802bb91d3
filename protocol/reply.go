package protocol

import (
	"errors"
	"fmt"

	"github.com/AlibekovAA/NATS/types"
)

// AckStatus is the status of a chunk acknowledgement.
type AckStatus string

const (
	// AckOK means the worker stored the chunk.
	AckOK AckStatus = "ok"
	// AckError means the worker rejected the chunk.
	AckError AckStatus = "error"
)

// Ack is a decoded chunk acknowledgement. It is not retained after
// validation.
type Ack struct {
	Status AckStatus
	Error  string
}

// Decode interprets a worker response as a structured map.
// Failures are *types.DecodeError.
func Decode(codec Codec, response []byte) (map[string]any, error) {
	return codec.DecodeMap(response)
}

// remoteError returns a RemoteError if m carries an explicit error field.
func remoteError(m map[string]any) error {
	v, ok := m["error"]
	if !ok || v == nil {
		return nil
	}
	msg, isString := v.(string)
	if !isString {
		msg = fmt.Sprintf("%v", v)
	}
	if msg == "" {
		msg = "worker reported an unspecified error"
	}
	return &types.RemoteError{Message: msg}
}

// ParseAck decodes a chunk reply. It returns the Ack and, for a reply with an
// error field, a *types.RemoteError.
func ParseAck(codec Codec, response []byte) (Ack, error) {
	m, err := Decode(codec, response)
	if err != nil {
		return Ack{}, err
	}
	if rerr := remoteError(m); rerr != nil {
		var remote *types.RemoteError
		errors.As(rerr, &remote)
		return Ack{Status: AckError, Error: remote.Message}, rerr
	}
	status, _ := m["status"].(string)
	if AckStatus(status) != AckOK {
		return Ack{}, &types.DecodeError{
			Cause: types.DecodeCauseStructure,
			Err:   fmt.Errorf("unexpected ack status %q", status),
		}
	}
	return Ack{Status: AckOK}, nil
}

// ParseResult decodes a finish reply into an AnalysisResult.
// A reply with an error field yields a *types.RemoteError.
func ParseResult(codec Codec, response []byte) (*types.AnalysisResult, error) {
	m, err := Decode(codec, response)
	if err != nil {
		return nil, err
	}
	if rerr := remoteError(m); rerr != nil {
		return nil, rerr
	}
	_, hasPackets := m["packets"]
	_, hasSummary := m["summary"]
	if !hasPackets && !hasSummary {
		return nil, &types.DecodeError{
			Cause: types.DecodeCauseStructure,
			Err:   errors.New("result has neither packets nor summary"),
		}
	}

	var result types.AnalysisResult
	if err := codec.Unmarshal(response, &result); err != nil {
		return nil, err
	}
	if result.Packets == nil {
		result.Packets = []types.NetworkPacket{}
	}
	if result.Summary == nil {
		result.Summary = map[string]any{}
	}
	return &result, nil
}
