package colyseus

import "fmt"

// DecodeLimits bounds the sizes the decoder is willing to allocate while
// processing a single frame, so a corrupt or hostile length prefix fails
// with an error instead of driving an unbounded allocation.
type DecodeLimits struct {
	MaxStringLen      uint32
	MaxByteSliceLen    uint32
	MaxCollectionGrowth uint32
	MaxSchemaBlobLen   uint32
}

// DefaultLimits are generous enough for normal gameplay state while still
// rejecting the pathological inputs a fuzzer or a broken server might send.
var DefaultLimits = DecodeLimits{
	MaxStringLen:        1 << 20,  // 1MB
	MaxByteSliceLen:     16 << 20, // 16MB
	MaxCollectionGrowth: 1 << 16,  // highest list index / map slot accepted (65536)
	MaxSchemaBlobLen:    4 << 20,  // 4MB handshake blob
}

func checkLimit(got, max uint32, what string) error {
	if got > max {
		return fmt.Errorf("%s: %d exceeds limit %d: %w", what, got, max, ErrLimitExceeded)
	}
	return nil
}
