// Package units converts visit durations into billable units.
package units

import (
	"fmt"
	"time"

	apperrors "github.com/jwalitptl/evv-api/pkg/errors"
)

// Rule is an "8-minute rule" style rounding scheme: nothing is billable below
// MinimumMinutes, the first unit starts at MinimumMinutes, and every further
// UnitMinutes adds one unit.
type Rule struct {
	MinimumMinutes int
	UnitMinutes    int
}

// Default is the federal 8/15 rule.
var Default = Rule{MinimumMinutes: 8, UnitMinutes: 15}

func (r Rule) Validate() error {
	if r.MinimumMinutes <= 0 || r.UnitMinutes <= 0 {
		return fmt.Errorf("unit rule needs positive minimum and unit minutes, got %d/%d", r.MinimumMinutes, r.UnitMinutes)
	}
	return nil
}

// UnitsFor returns the billable units between start and end.
// Minutes are floored; an end before start is ErrInvalidInterval.
func (r Rule) UnitsFor(start, end time.Time) (int, error) {
	if end.Before(start) {
		return 0, apperrors.ErrInvalidInterval
	}
	return r.UnitsForMinutes(int(end.Sub(start) / time.Minute)), nil
}

func (r Rule) UnitsForMinutes(m int) int {
	if m < r.MinimumMinutes {
		return 0
	}
	return 1 + (m-r.MinimumMinutes)/r.UnitMinutes
}
