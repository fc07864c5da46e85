package hotsource

import "fmt"

// ForkDetectedError signals that the chain at the head no longer extends the
// blocks this processor committed. It is a control-flow signal for the
// runner, not a failure.
type ForkDetectedError struct {
	// Height is the first height whose block no longer matches.
	Height  uint64
	Details string
}

func (e *ForkDetectedError) Error() string {
	return fmt.Sprintf("fork detected at block %d: %s", e.Height, e.Details)
}

// NewForkError creates a new ForkDetectedError.
func NewForkError(height uint64, details string) error {
	return &ForkDetectedError{Height: height, Details: details}
}
