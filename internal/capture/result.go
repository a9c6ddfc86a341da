package capture

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind selects the biometric engine a capture is sent to.
type Kind string

const (
	KindIris Kind = "iris"
	KindHand Kind = "hand"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindIris, KindHand:
		return k, nil
	default:
		return "", fmt.Errorf("unknown capture type %q (want iris or hand)", s)
	}
}

// Descriptor is the engine's feature vector for an accepted capture.
type Descriptor struct {
	Embedding []float64
	Version   string
}

// Result is the outcome of one capture cycle. Success is true only when the engine
// returned a descriptor; Err carries the reason otherwise.
type Result struct {
	CycleID     uuid.UUID
	Kind        Kind
	Success     bool
	Descriptor  *Descriptor
	Err         error
	CompletedAt time.Time
}
