package recurrence

import (
	"time"
)

// Expand materializes the occurrences of m that start in [start, end).
// Overrides are included at their new start, and each instance carries the
// RECURRENCE-ID of the occurrence it stands for.
//
// Expand fails with ErrTooManyInstances rather than truncating when the
// range holds more than opts.MaxInstances occurrences, and with
// ErrBudgetExhausted when the rule search gave up before reaching end.
func Expand(m *MasterEvent, start, end time.Time, opts ExpandOptions) ([]Instance, error) {
	occs, err := expandOccurrences(m, start, end, opts.maxInstances())
	if err != nil {
		return nil, err
	}
	return materialize(m, occs), nil
}

func materialize(m *MasterEvent, occs []Occurrence) []Instance {
	instances := make([]Instance, len(occs))
	for i, occ := range occs {
		instances[i] = Instance{Occurrence: occ, Component: instanceComponent(occ, m.AllDay)}
	}
	return instances
}

func expandOccurrences(m *MasterEvent, start, end time.Time, limit int) ([]Occurrence, error) {
	if end.Before(start) {
		return nil, newError(ErrInvalidInput, "range end %s is before start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	mg, err := NewMerger(m)
	if err != nil {
		return nil, err
	}
	mg.SetHorizon(end)
	if mg.FastForwardBefore(start) {
		mg.Next()
	}

	var out []Occurrence
	for ; mg.Valid(); mg.Next() {
		occ := mg.Occurrence()
		if !occ.Start.Before(end) {
			break
		}
		if len(out) == limit {
			return nil, newError(ErrTooManyInstances, "more than %d instances between %s and %s",
				limit, start.Format(time.RFC3339), end.Format(time.RFC3339))
		}
		out = append(out, occ)
	}
	if err := mg.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
