package jobregistry

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique job identifiers.
type Generator func() string

// ID schemes accepted by NewGenerator.
const (
	IDSchemeNumeric = "numeric"
	IDSchemeUUID    = "uuid"
)

// Numeric returns a Generator of decimal, time-derived ids.
//
// Ids are Unix nanoseconds, bumped by one whenever the clock has not advanced
// past the previous id, so they are strictly increasing and never repeat
// within the process.
func Numeric() Generator {
	var last atomic.Int64
	return func() string {
		for {
			prev := last.Load()
			next := time.Now().UnixNano()
			if next <= prev {
				next = prev + 1
			}
			if last.CompareAndSwap(prev, next) {
				return strconv.FormatInt(next, 10)
			}
		}
	}
}

// UUIDv7 returns a Generator of RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// NewGenerator returns the Generator for a configured scheme.
// An empty scheme selects IDSchemeNumeric.
func NewGenerator(scheme string) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case "", IDSchemeNumeric:
		return Numeric(), nil
	case IDSchemeUUID:
		return UUIDv7(), nil
	default:
		return nil, fmt.Errorf("unknown id scheme %q (want %s or %s)", scheme, IDSchemeNumeric, IDSchemeUUID)
	}
}
