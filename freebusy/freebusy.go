// Package freebusy computes busy time from recurring events and renders it
// as a VFREEBUSY component.
package freebusy

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"github.com/cyp0633/librecur/recurrence"
)

const (
	compFreeBusy = "VFREEBUSY"
	propFreeBusy = "FREEBUSY"
	propTransp   = "TRANSP"
	paramFBType  = "FBTYPE"

	productID = "-//librecur//freebusy//EN"
)

// Period is a half-open busy interval [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) String() string {
	return p.Start.UTC().Format("20060102T150405Z") + "/" + p.End.UTC().Format("20060102T150405Z")
}

// Calculator computes busy periods with a recurrence Engine.
type Calculator struct {
	engine *recurrence.Engine
	logger *slog.Logger
	now    func() time.Time
}

// Option represents a configuration option for the Calculator
type Option func(*Calculator)

// WithLogger sets the logger for the calculator
func WithLogger(logger *slog.Logger) Option {
	return func(c *Calculator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the clock used for DTSTAMP.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Calculator expanding events with engine.
func New(engine *recurrence.Engine, opts ...Option) *Calculator {
	c := &Calculator{
		engine: engine,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Busy returns the merged busy periods of events within [start, end).
// Occurrences marked TRANSP:TRANSPARENT or STATUS:CANCELLED are free time;
// overlapping or touching periods are coalesced and clipped to the range.
func (c *Calculator) Busy(events []*recurrence.MasterEvent, start, end time.Time) ([]Period, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("free/busy range end %s is before start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	var periods []Period
	for _, m := range events {
		// Occurrences starting before the range can still reach into it.
		from := start.Add(-m.MaxDuration())
		instances, err := c.engine.Expand(m, from, end)
		if err != nil {
			return nil, fmt.Errorf("failed to expand event: %w", err)
		}
		for _, inst := range instances {
			if !isBusy(inst.Source) {
				continue
			}
			p := Period{Start: inst.Start, End: inst.End}
			if p.Start.Before(start) {
				p.Start = start
			}
			if p.End.After(end) {
				p.End = end
			}
			if p.End.After(p.Start) {
				periods = append(periods, p)
			}
		}
	}

	merged := coalesce(periods)
	c.logger.Debug("computed free/busy",
		"events", len(events), "start", start, "end", end, "periods", len(merged))
	return merged, nil
}

func isBusy(comp *ical.Component) bool {
	if comp == nil {
		return true
	}
	if prop := comp.Props.Get(propTransp); prop != nil && strings.EqualFold(prop.Value, "TRANSPARENT") {
		return false
	}
	if prop := comp.Props.Get(ical.PropStatus); prop != nil && strings.EqualFold(prop.Value, "CANCELLED") {
		return false
	}
	return true
}

// coalesce sorts periods and merges those that overlap or touch.
func coalesce(periods []Period) []Period {
	if len(periods) == 0 {
		return nil
	}
	slices.SortFunc(periods, func(a, b Period) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return a.End.Compare(b.End)
	})

	out := []Period{periods[0]}
	for _, p := range periods[1:] {
		last := &out[len(out)-1]
		if p.Start.After(last.End) {
			out = append(out, p)
			continue
		}
		if p.End.After(last.End) {
			last.End = p.End
		}
	}
	return out
}

// Component renders periods as a VFREEBUSY component covering
// [start, end).
func (c *Calculator) Component(periods []Period, start, end time.Time) *ical.Component {
	comp := ical.NewComponent(compFreeBusy)
	comp.Props.SetText(ical.PropUID, uuid.NewString())
	comp.Props.SetDateTime(ical.PropDateTimeStamp, c.now().UTC())
	comp.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
	comp.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())

	if len(periods) > 0 {
		values := make([]string, len(periods))
		for i, p := range periods {
			values[i] = p.String()
		}
		prop := ical.NewProp(propFreeBusy)
		prop.Params.Set(paramFBType, "BUSY")
		prop.Value = strings.Join(values, ",")
		comp.Props.Add(prop)
	}
	return comp
}

// Calendar wraps a VFREEBUSY component in an encodable VCALENDAR.
func (c *Calculator) Calendar(periods []Period, start, end time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Children = append(cal.Children, c.Component(periods, start, end))
	return cal
}
