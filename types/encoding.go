// Package types defines core domain types for chunked capture transfer.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"strings"
)

// Encoding is the text encoding applied to every chunk payload of a session.
type Encoding string

const (
	// EncodingHex encodes payloads as lowercase hexadecimal text.
	EncodingHex Encoding = "hex"
	// EncodingBase64 encodes payloads as standard (padded) base64 text.
	EncodingBase64 Encoding = "base64"
)

// DefaultEncoding is used when the caller does not choose one.
const DefaultEncoding = EncodingHex

// ParseEncoding parses an encoding name. Empty input yields DefaultEncoding.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultEncoding, nil
	case string(EncodingHex):
		return EncodingHex, nil
	case string(EncodingBase64):
		return EncodingBase64, nil
	default:
		return "", NewError(ErrValidation, "parse encoding",
			fmt.Sprintf("unsupported encoding %q (must be hex or base64)", s), nil)
	}
}

// Valid reports whether e is a supported encoding.
func (e Encoding) Valid() bool {
	return e == EncodingHex || e == EncodingBase64
}

func (e Encoding) String() string { return string(e) }
