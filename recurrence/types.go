package recurrence

import (
	"time"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

// DefaultMaxInstances is the instance ceiling Expand applies when
// ExpandOptions.MaxInstances is not set.
const DefaultMaxInstances = 3500

// MasterEvent is a recurring event definition: its base start and length,
// the rule and explicit dates that generate occurrences, and the exclusions
// and overrides applied on top. It is read, never modified, by expansion.
type MasterEvent struct {
	Start time.Time
	// End and Duration are alternatives; Duration wins when both are set.
	End      mo.Option[time.Time]
	Duration mo.Option[time.Duration]
	// AllDay marks DATE-valued events. Their occurrences end on a calendar
	// day boundary rather than after a fixed number of hours.
	AllDay bool

	Rule      *Rule
	RDates    []time.Time
	ExDates   []time.Time
	Overrides []Override

	// Component holds the master's properties. It may be nil.
	Component *ical.Component
}

func (m *MasterEvent) duration() time.Duration {
	if d, ok := m.Duration.Get(); ok {
		return d
	}
	if end, ok := m.End.Get(); ok {
		return end.Sub(m.Start)
	}
	if m.AllDay {
		return 24 * time.Hour
	}
	return 0
}

// MaxDuration returns the longest length any occurrence of m can have.
func (m *MasterEvent) MaxDuration() time.Duration {
	base := m.duration()
	longest := base
	for _, ov := range m.Overrides {
		if d := ov.duration(base); d > longest {
			longest = d
		}
	}
	return longest
}

// Override replaces the occurrence originally at RecurrenceID.
type Override struct {
	RecurrenceID time.Time
	// Start is the new start; the zero value keeps RecurrenceID.
	Start time.Time
	// End and Duration default to the master's length when both are absent.
	End      mo.Option[time.Time]
	Duration mo.Option[time.Duration]

	Component *ical.Component
}

// start returns the override's effective start.
func (o Override) start() time.Time {
	if o.Start.IsZero() {
		return o.RecurrenceID
	}
	return o.Start
}

func (o Override) duration(master time.Duration) time.Duration {
	if d, ok := o.Duration.Get(); ok {
		return d
	}
	if end, ok := o.End.Get(); ok {
		return end.Sub(o.start())
	}
	return master
}

// Occurrence is one resolved instance of a master event.
type Occurrence struct {
	Start time.Time
	End   time.Time
	// RecurrenceID is the original instant the occurrence stands for. It
	// equals Start unless an override moved the occurrence.
	RecurrenceID time.Time
	IsException  bool
	// Source is the component supplying the occurrence's properties: the
	// override's when IsException is set, the master's otherwise.
	Source *ical.Component
}

// Instance is a materialized occurrence.
type Instance struct {
	Occurrence
	// Component is a standalone copy of Source with the occurrence's
	// DTSTART, DTEND and RECURRENCE-ID written in and the recurrence
	// properties removed. It is nil when Source is nil.
	Component *ical.Component
}

// ExpandOptions tunes a single Expand call.
type ExpandOptions struct {
	// MaxInstances caps the number of instances; 0 means DefaultMaxInstances.
	MaxInstances int
}

func (o ExpandOptions) maxInstances() int {
	if o.MaxInstances <= 0 {
		return DefaultMaxInstances
	}
	return o.MaxInstances
}

// endOf returns start+d, counting whole days on the calendar for all-day
// events so that DST transitions do not shift the end.
func endOf(start time.Time, d time.Duration, allDay bool) time.Time {
	const day = 24 * time.Hour
	if allDay && d > 0 && d%day == 0 {
		return start.AddDate(0, 0, int(d/day))
	}
	return start.Add(d)
}
