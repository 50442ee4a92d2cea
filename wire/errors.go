package wire

import "errors"

// ErrDecodeError is returned when a frame's bytes are structurally
// invalid (bad tag, malformed variant) but not simply truncated. A host
// transport seeing this should treat the stream as corrupt.
var ErrDecodeError = errors.New("wire: decode error")

// ErrBufferUnderflow is returned when the reader runs out of bytes mid
// frame. A host transport may treat this as "wait for more bytes" on a
// live stream, or as corruption on a closed one.
var ErrBufferUnderflow = errors.New("wire: buffer underflow")
