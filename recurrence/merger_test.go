package recurrence

import (
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/go-cmp/cmp"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jan returns 2020-01-d at hour h UTC.
func jan(d, h int) time.Time {
	return utc(2020, 1, d, h, 0, 0)
}

func dailyMaster(t *testing.T, value string) *MasterEvent {
	t.Helper()
	rule, err := ParseRule(value, time.UTC)
	require.NoError(t, err)
	return &MasterEvent{
		Start:     jan(1, 9),
		Duration:  mo.Some(time.Hour),
		Rule:      &rule,
		Component: ical.NewComponent(ical.CompEvent),
	}
}

func newMerger(t *testing.T, m *MasterEvent) *Merger {
	t.Helper()
	mg, err := NewMerger(m)
	require.NoError(t, err)
	return mg
}

func mergedOccurrences(mg *Merger, n int) []Occurrence {
	var out []Occurrence
	for ; mg.Valid() && len(out) < n; mg.Next() {
		out = append(out, mg.Occurrence())
	}
	return out
}

func assertTimes(t *testing.T, want, got []time.Time) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("occurrences mismatch (-want +got):\n%s", diff)
	}
}

func TestMerger_OverrideMovedLater(t *testing.T) {
	m := dailyMaster(t, "FREQ=DAILY;COUNT=10")
	override := ical.NewComponent(ical.CompEvent)
	m.Overrides = []Override{{RecurrenceID: jan(4, 9), Start: jan(6, 21), Component: override}}

	occs := mergedOccurrences(newMerger(t, m), 100)
	require.Len(t, occs, 10)

	var starts []time.Time
	for _, occ := range occs {
		starts = append(starts, occ.Start)
	}
	assertTimes(t, []time.Time{
		jan(1, 9), jan(2, 9), jan(3, 9), jan(5, 9), jan(6, 9),
		jan(6, 21),
		jan(7, 9), jan(8, 9), jan(9, 9), jan(10, 9),
	}, starts)

	for i := 1; i < len(starts); i++ {
		assert.True(t, starts[i].After(starts[i-1]), "not strictly ascending at %d", i)
	}

	moved := occs[5]
	assert.True(t, moved.IsException)
	assert.Equal(t, jan(4, 9), moved.RecurrenceID)
	assert.Equal(t, jan(6, 22), moved.End)
	assert.Same(t, override, moved.Source)

	base := occs[4]
	assert.False(t, base.IsException)
	assert.Equal(t, base.Start, base.RecurrenceID)
	assert.Same(t, m.Component, base.Source)
}

func TestMerger_OverrideMovedEarlier(t *testing.T) {
	m := dailyMaster(t, "FREQ=DAILY;COUNT=5")
	m.Overrides = []Override{{RecurrenceID: jan(5, 9), Start: jan(2, 12)}}

	assertTimes(t, []time.Time{jan(1, 9), jan(2, 9), jan(2, 12), jan(3, 9), jan(4, 9)},
		collect(newMerger(t, m), 100))
}

func TestMerger_ExclusionsMatchAcrossZones(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	m := dailyMaster(t, "FREQ=DAILY;COUNT=6")
	m.ExDates = []time.Time{
		jan(2, 9).In(ny),
		time.Date(2020, 1, 4, 10, 0, 0, 0, time.FixedZone("CET", 3600)),
		jan(6, 9),
		jan(30, 9), // matches nothing
	}

	assertTimes(t, []time.Time{jan(1, 9), jan(3, 9), jan(5, 9)}, collect(newMerger(t, m), 100))
}

func TestMerger_OverrideDurations(t *testing.T) {
	m := dailyMaster(t, "FREQ=DAILY;COUNT=3")
	m.Overrides = []Override{
		{RecurrenceID: jan(1, 9), Start: jan(1, 10), End: mo.Some(jan(1, 13))},
		{RecurrenceID: jan(2, 9), Start: jan(2, 9), Duration: mo.Some(30 * time.Minute)},
		{RecurrenceID: jan(3, 9), Start: jan(3, 15)},
	}

	occs := mergedOccurrences(newMerger(t, m), 100)
	require.Len(t, occs, 3)
	assert.Equal(t, jan(1, 13), occs[0].End)
	assert.Equal(t, jan(2, 9).Add(30*time.Minute), occs[1].End)
	assert.Equal(t, jan(3, 16), occs[2].End)
	assert.Equal(t, 3*time.Hour, m.MaxDuration())
}

func TestMerger_OrphanOverrideIsKept(t *testing.T) {
	m := dailyMaster(t, "FREQ=DAILY;COUNT=3")
	m.Overrides = []Override{{RecurrenceID: utc(2019, 6, 1, 9, 0, 0), Start: jan(2, 12)}}

	occs := mergedOccurrences(newMerger(t, m), 100)
	require.Len(t, occs, 4)
	assert.Equal(t, jan(2, 12), occs[2].Start)
	assert.True(t, occs[2].IsException)
}

func TestMerger_LastOverrideWins(t *testing.T) {
	m := dailyMaster(t, "FREQ=DAILY;COUNT=3")
	m.Overrides = []Override{
		{RecurrenceID: jan(2, 9), Start: jan(2, 10)},
		{RecurrenceID: jan(2, 9).In(time.FixedZone("X", 7200)), Start: jan(2, 11)},
	}

	assertTimes(t, []time.Time{jan(1, 9), jan(2, 11), jan(3, 9)}, collect(newMerger(t, m), 100))
}

func TestMerger_OverrideTieComesFirst(t *testing.T) {
	m := dailyMaster(t, "FREQ=DAILY;COUNT=4")
	m.Overrides = []Override{{RecurrenceID: jan(2, 9), Start: jan(3, 9)}}

	occs := mergedOccurrences(newMerger(t, m), 100)
	require.Len(t, occs, 4)
	assert.Equal(t, jan(3, 9), occs[1].Start)
	assert.True(t, occs[1].IsException)
	assert.Equal(t, jan(3, 9), occs[2].Start)
	assert.False(t, occs[2].IsException)
}

func TestMerger_WithoutRule(t *testing.T) {
	tests := []struct {
		name     string
		master   MasterEvent
		expected []time.Time
	}{
		{
			name:     "single occurrence",
			master:   MasterEvent{Start: jan(1, 9)},
			expected: []time.Time{jan(1, 9)},
		},
		{
			name: "explicit dates",
			master: MasterEvent{
				Start:  jan(1, 9),
				RDates: []time.Time{jan(5, 9), jan(3, 9), jan(1, 9)},
			},
			expected: []time.Time{jan(1, 9), jan(3, 9), jan(5, 9)},
		},
		{
			name: "excluded start",
			master: MasterEvent{
				Start:   jan(1, 9),
				RDates:  []time.Time{jan(3, 9)},
				ExDates: []time.Time{jan(1, 9)},
			},
			expected: []time.Time{jan(3, 9)},
		},
		{
			name: "overridden start",
			master: MasterEvent{
				Start:     jan(1, 9),
				Overrides: []Override{{RecurrenceID: jan(1, 9), Start: jan(1, 14)}},
			},
			expected: []time.Time{jan(1, 14)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mg := newMerger(t, &tt.master)
			assert.False(t, mg.IsInfinite())
			assertTimes(t, tt.expected, collect(mg, 100))
		})
	}
}

func TestMerger_RuleAndDates(t *testing.T) {
	m := dailyMaster(t, "FREQ=WEEKLY;COUNT=3")
	m.RDates = []time.Time{jan(8, 9), jan(10, 9), jan(20, 9)}
	m.ExDates = []time.Time{jan(10, 9)}

	assertTimes(t, []time.Time{jan(1, 9), jan(8, 9), jan(15, 9), jan(20, 9)}, collect(newMerger(t, m), 100))
}

func complexMaster(t *testing.T) *MasterEvent {
	m := dailyMaster(t, "FREQ=WEEKLY;BYDAY=MO,WE,FR")
	m.Start = utc(2020, 1, 1, 9, 0, 0) // a Wednesday
	m.RDates = []time.Time{jan(4, 12), jan(11, 12), jan(13, 9)}
	m.ExDates = []time.Time{jan(3, 9), jan(15, 9), jan(11, 12)}
	m.Overrides = []Override{
		{RecurrenceID: jan(6, 9), Start: jan(20, 7)},
		{RecurrenceID: jan(8, 9), Start: jan(8, 8)},
		{RecurrenceID: jan(22, 9), Start: jan(2, 9)},
		{RecurrenceID: jan(29, 9), Start: jan(29, 9)},
	}
	return m
}

func TestMerger_FastForwardMatchesEnumeration(t *testing.T) {
	m := complexMaster(t)
	all := collect(newMerger(t, m), 40)
	require.Len(t, all, 40)
	limit := all[len(all)-1]

	mg := newMerger(t, m)
	for _, target := range seekTargets(all) {
		if target.After(limit) {
			continue
		}

		mg.FastForward(target)
		want, ok := firstAtOrAfter(all, target)
		require.True(t, ok)
		require.True(t, mg.Valid())
		assert.Equal(t, want, mg.Current(), "FastForward(%s)", target)

		prev, hasPrev := lastBefore(all, target)
		require.Equal(t, hasPrev, mg.FastForwardBefore(target), "FastForwardBefore(%s)", target)
		if hasPrev {
			assert.Equal(t, prev, mg.Current(), "FastForwardBefore(%s)", target)
			mg.Next()
			assert.Equal(t, want, mg.Current(), "Next after FastForwardBefore(%s)", target)
		} else {
			assert.Equal(t, all[0], mg.Current())
		}
	}
}

func TestMerger_FastForwardToEnd(t *testing.T) {
	tests := []struct {
		name      string
		overrides []Override
		exdates   []time.Time
		last      time.Time
	}{
		{name: "plain", last: jan(5, 9)},
		{name: "last excluded", exdates: []time.Time{jan(5, 9)}, last: jan(4, 9)},
		{
			name:      "last moved earlier",
			overrides: []Override{{RecurrenceID: jan(5, 9), Start: jan(3, 12)}},
			last:      jan(4, 9),
		},
		{
			name:      "earlier moved past the end",
			overrides: []Override{{RecurrenceID: jan(2, 9), Start: jan(20, 9)}},
			last:      jan(20, 9),
		},
		{
			name:      "override ties the last",
			overrides: []Override{{RecurrenceID: jan(2, 9), Start: jan(5, 9)}},
			last:      jan(5, 9),
		},
		{
			name:      "everything suppressed but an override",
			overrides: []Override{{RecurrenceID: jan(1, 9), Start: jan(1, 10)}},
			exdates:   []time.Time{jan(2, 9), jan(3, 9), jan(4, 9), jan(5, 9)},
			last:      jan(1, 10),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := dailyMaster(t, "FREQ=DAILY;COUNT=5")
			m.Overrides = tt.overrides
			m.ExDates = tt.exdates

			all := collect(newMerger(t, m), 100)
			require.Equal(t, tt.last, all[len(all)-1])

			mg := newMerger(t, m)
			require.NoError(t, mg.FastForwardToEnd())
			require.True(t, mg.Valid())
			assert.Equal(t, tt.last, mg.Current())

			mg.Next()
			assert.False(t, mg.Valid())
		})
	}
}

func TestMerger_FastForwardToEndInfinite(t *testing.T) {
	mg := newMerger(t, dailyMaster(t, "FREQ=DAILY"))
	assert.True(t, mg.IsInfinite())

	err := mg.FastForwardToEnd()
	require.Error(t, err)
	assert.True(t, IsType(err, ErrUsage))
}

func TestMerger_CloneIsIndependent(t *testing.T) {
	mg := newMerger(t, complexMaster(t))
	mg.Next()

	clone := mg.Clone()
	clone.Next()
	clone.Next()

	assert.Equal(t, collect(mg.Clone(), 5)[2:], collect(clone, 3))
}

func TestNewMerger_Errors(t *testing.T) {
	_, err := NewMerger(nil)
	assert.True(t, IsType(err, ErrInvalidInput))

	_, err = NewMerger(&MasterEvent{})
	assert.True(t, IsType(err, ErrInvalidInput))

	_, err = NewMerger(&MasterEvent{Start: jan(1, 9), Rule: &Rule{Freq: Daily}})
	assert.True(t, IsType(err, ErrInvalidRule))
}
