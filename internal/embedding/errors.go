package embedding

import (
	"errors"
	"fmt"
)

// ErrProviderUnavailable marks failures that persist after the retry
// budget is exhausted: network errors, provider outages, rate-limit
// rejections. Callers may re-batch and try again later.
var ErrProviderUnavailable = errors.New("embedding provider unavailable")

// DimensionError reports a vector whose dimension does not match the
// provider's reported dimension within one batch. Mixed dimensions are a
// configuration mistake and are never padded or truncated.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: want %d, got %d", e.Want, e.Got)
}
