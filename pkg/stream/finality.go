package stream

import "fmt"

// Finality is the confirmation level of a delivered block.
type Finality string

const (
	// FinalityPending is a block still being built by the sequencer; it has no hash yet.
	FinalityPending Finality = "pending"

	// FinalityAccepted is a block accepted on L2; it can still be reorganized.
	FinalityAccepted Finality = "accepted"

	// FinalityFinalized is a block accepted on L1.
	FinalityFinalized Finality = "finalized"
)

// String returns the string representation of Finality.
func (f Finality) String() string {
	return string(f)
}

// IsValid checks if the Finality value is valid.
func (f Finality) IsValid() bool {
	switch f {
	case FinalityPending, FinalityAccepted, FinalityFinalized:
		return true
	default:
		return false
	}
}

// rank orders finality levels from weakest to strongest.
func (f Finality) rank() int {
	switch f {
	case FinalityPending:
		return 0
	case FinalityAccepted:
		return 1
	case FinalityFinalized:
		return 2 //nolint:mnd
	default:
		return -1
	}
}

// AtLeast reports whether f is as strong as min.
func (f Finality) AtLeast(min Finality) bool {
	return f.rank() >= min.rank()
}

// ParseFinality parses a string into a Finality.
func ParseFinality(s string) (Finality, error) {
	f := Finality(s)
	if !f.IsValid() {
		return "", fmt.Errorf("invalid finality: %s (must be one of: pending, accepted, finalized)", s)
	}
	return f, nil
}
