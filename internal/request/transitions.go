package request

import (
	"fmt"

	"github.com/hpnt/matreq/internal/models"
)

// Policy decides which status changes are accepted.
type Policy string

const (
	// Permissive accepts any known status as the next one.
	Permissive Policy = "permissive"
	// Enforced accepts only the moves listed in ValidTransitions.
	Enforced Policy = "enforced"
)

// ValidTransitions maps each status to the statuses it may move to under the
// enforced policy. Keeping the current status is always allowed.
var ValidTransitions = map[string][]string{
	models.StatusPending:  {models.StatusApproved, models.StatusRejected},
	models.StatusApproved: {models.StatusOrdered, models.StatusRejected, models.StatusPending},
	models.StatusOrdered:  {models.StatusReceived, models.StatusApproved},
	models.StatusRejected: {models.StatusPending},
	models.StatusReceived: {},
}

// ParsePolicy converts a config value into a Policy. Empty means Permissive.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", Permissive:
		return Permissive, nil
	case Enforced:
		return Enforced, nil
	default:
		return "", fmt.Errorf("request: unknown status policy %q", s)
	}
}

// Allows reports whether a request in status from may move to status to.
func (p Policy) Allows(from, to string) bool {
	if from == to || p != Enforced {
		return true
	}
	for _, next := range ValidTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
