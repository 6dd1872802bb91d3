package types

// Chunk is a contiguous slice of a capture buffer tagged with its position.
// Chunks are immutable once produced; Payload aliases the original buffer
// and must not be modified.
type Chunk struct {
	// Index is the 0-based position of the chunk.
	Index int
	// Payload is the raw chunk bytes.
	Payload []byte
	// TotalChunks is the number of chunks in the sequence.
	TotalChunks int
	// Encoding is the text encoding the session applies to Payload.
	Encoding Encoding
}

// IsLast reports whether c is the final chunk of its sequence.
func (c Chunk) IsLast() bool {
	return c.Index == c.TotalChunks-1
}
