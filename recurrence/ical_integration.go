package recurrence

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

const propRecurrenceID = "RECURRENCE-ID"

// MasterEventFromComponents builds a MasterEvent from a recurring VEVENT or
// VTODO and the overriding components sharing its UID. Floating times are
// read in loc (UTC when nil); TZID parameters take precedence.
func MasterEventFromComponents(master *ical.Component, overrides []*ical.Component, loc *time.Location) (*MasterEvent, error) {
	if loc == nil {
		loc = time.UTC
	}

	start, end, hasTime, err := ExtractBasicTimeInfoFromComponent(master, loc)
	if err != nil {
		return nil, err
	}
	if !hasTime {
		return nil, newError(ErrInvalidInput, "%s has no DTSTART", master.Name)
	}

	m := &MasterEvent{
		Start:     start,
		End:       mo.Some(end),
		AllDay:    isDateValue(master.Props.Get(ical.PropDateTimeStart)),
		Component: master,
	}

	if prop := master.Props.Get(ical.PropRecurrenceRule); prop != nil && prop.Value != "" {
		rule, err := ParseRule(prop.Value, start.Location())
		if err != nil {
			return nil, err
		}
		m.Rule = &rule
	}
	for _, prop := range master.Props[ical.PropRecurrenceDates] {
		dates, err := parseDateList(prop, loc)
		if err != nil {
			return nil, err
		}
		m.RDates = append(m.RDates, dates...)
	}
	for _, prop := range master.Props[ical.PropExceptionDates] {
		dates, err := parseDateList(prop, loc)
		if err != nil {
			return nil, err
		}
		m.ExDates = append(m.ExDates, dates...)
	}

	for _, comp := range overrides {
		ov, err := overrideFromComponent(comp, loc)
		if err != nil {
			return nil, err
		}
		m.Overrides = append(m.Overrides, ov)
	}
	return m, nil
}

func overrideFromComponent(comp *ical.Component, loc *time.Location) (Override, error) {
	rid, ok, err := propTime(comp, propRecurrenceID, loc)
	if err != nil {
		return Override{}, err
	}
	if !ok {
		return Override{}, newError(ErrInvalidInput, "override %s has no %s", comp.Name, propRecurrenceID)
	}

	ov := Override{RecurrenceID: rid, Start: rid, Component: comp}
	start, hasStart, err := propTime(comp, ical.PropDateTimeStart, loc)
	if err != nil {
		return Override{}, err
	}
	if hasStart {
		ov.Start = start
	}
	if end, ok, err := propTime(comp, ical.PropDateTimeEnd, loc); err != nil {
		return Override{}, err
	} else if ok {
		ov.End = mo.Some(end)
	} else if prop := comp.Props.Get(ical.PropDuration); prop != nil {
		d, err := prop.Duration()
		if err != nil {
			return Override{}, &Error{Type: ErrInvalidInput, Message: "bad DURATION in override", Err: err}
		}
		ov.Duration = mo.Some(d)
	}

	if comp.Name == ical.CompToDo {
		due, hasDue, err := propTime(comp, ical.PropDue, loc)
		if err != nil {
			return Override{}, err
		}
		switch {
		case !hasDue:
		case !hasStart:
			// Like its master, a task without DTSTART occurs at DUE.
			ov.Start, ov.End = due, mo.Some(due)
		case ov.End.IsAbsent() && ov.Duration.IsAbsent():
			ov.End = mo.Some(due)
		}
	}
	return ov, nil
}

// MasterEventsFromCalendar groups the VEVENT and VTODO children of cal by
// UID and builds one MasterEvent per group, in order of first appearance.
// An override whose master is missing is an error.
func MasterEventsFromCalendar(cal *ical.Calendar, loc *time.Location) ([]*MasterEvent, error) {
	type group struct {
		master    *ical.Component
		overrides []*ical.Component
	}
	groups := make(map[string]*group)
	var order []string

	for _, child := range cal.Children {
		if child.Name != ical.CompEvent && child.Name != ical.CompToDo {
			continue
		}
		uid, err := child.Props.Text(ical.PropUID)
		if err != nil {
			return nil, &Error{Type: ErrInvalidInput, Message: "bad UID", Err: err}
		}
		g, ok := groups[uid]
		if !ok {
			g = &group{}
			groups[uid] = g
			order = append(order, uid)
		}
		if child.Props.Get(propRecurrenceID) != nil {
			g.overrides = append(g.overrides, child)
			continue
		}
		if g.master != nil {
			return nil, newError(ErrInvalidInput, "duplicate master for UID %q", uid)
		}
		g.master = child
	}

	masters := make([]*MasterEvent, 0, len(order))
	for _, uid := range order {
		g := groups[uid]
		if g.master == nil {
			return nil, newError(ErrInvalidInput, "override for UID %q has no master", uid)
		}
		m, err := MasterEventFromComponents(g.master, g.overrides, loc)
		if err != nil {
			return nil, fmt.Errorf("UID %q: %w", uid, err)
		}
		masters = append(masters, m)
	}
	return masters, nil
}

// ExtractBasicTimeInfoFromComponent extracts start and end times from an
// iCal component. DATE-valued events without an end last one day, timed
// ones without an end are instantaneous, and a VTODO falls back to DUE.
func ExtractBasicTimeInfoFromComponent(comp *ical.Component, loc *time.Location) (start, end time.Time, hasTime bool, err error) {
	start, hasTime, err = propTime(comp, ical.PropDateTimeStart, loc)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}

	if hasTime {
		allDay := isDateValue(comp.Props.Get(ical.PropDateTimeStart))
		dtend, hasEnd, err := propTime(comp, ical.PropDateTimeEnd, loc)
		switch {
		case err != nil:
			return time.Time{}, time.Time{}, false, err
		case hasEnd:
			end = dtend
			// An all-day event ending on its start date still covers that day.
			if allDay && !end.After(start) {
				end = start.AddDate(0, 0, 1)
			}
		case comp.Props.Get(ical.PropDuration) != nil:
			d, err := comp.Props.Get(ical.PropDuration).Duration()
			if err != nil {
				return time.Time{}, time.Time{}, false, &Error{Type: ErrInvalidInput, Message: "bad DURATION", Err: err}
			}
			end = endOf(start, d, allDay)
		case allDay:
			end = start.AddDate(0, 0, 1)
		default:
			end = start
		}
	}

	if comp.Name == ical.CompToDo {
		due, hasDue, err := propTime(comp, ical.PropDue, loc)
		if err != nil {
			return time.Time{}, time.Time{}, false, err
		}
		if hasDue {
			if !hasTime {
				start, end, hasTime = due, due, true
			} else if due.After(end) {
				end = due
			}
		}
	}
	return start, end, hasTime, nil
}

// propTime reads a single DATE or DATE-TIME property. ok is false when the
// property is absent.
func propTime(comp *ical.Component, name string, loc *time.Location) (t time.Time, ok bool, err error) {
	prop := comp.Props.Get(name)
	if prop == nil || prop.Value == "" {
		return time.Time{}, false, nil
	}
	t, err = prop.DateTime(loc)
	if err != nil {
		return time.Time{}, false, &Error{Type: ErrInvalidInput, Message: "bad " + name + " value", Err: err}
	}
	return t, true, nil
}

func isDateValue(prop *ical.Prop) bool {
	return prop != nil && prop.ValueType() == ical.ValueDate
}

// parseDateList reads the comma-separated values of an RDATE or EXDATE
// property. PERIOD values contribute their start.
func parseDateList(prop ical.Prop, loc *time.Location) ([]time.Time, error) {
	period := prop.ValueType() == ical.ValuePeriod
	params := cloneParams(prop.Params)
	if period {
		delete(params, ical.ParamValue)
	}

	var dates []time.Time
	for _, value := range strings.Split(prop.Value, ",") {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if period {
			value, _, _ = strings.Cut(value, "/")
		}
		// Parse each value as a DTSTART so that the default value type is
		// DATE-TIME and VALUE=DATE or TZID still apply.
		single := ical.Prop{Name: ical.PropDateTimeStart, Params: params, Value: value}
		t, err := single.DateTime(loc)
		if err != nil {
			return nil, &Error{Type: ErrInvalidInput, Message: "bad " + prop.Name + " value " + value, Err: err}
		}
		dates = append(dates, t)
	}
	return dates, nil
}

func cloneParams(params ical.Params) ical.Params {
	if params == nil {
		return nil
	}
	out := make(ical.Params, len(params))
	for k, v := range params {
		out[k] = slices.Clone(v)
	}
	return out
}

func cloneComponent(c *ical.Component) *ical.Component {
	out := &ical.Component{Name: c.Name, Props: make(ical.Props, len(c.Props))}
	for name, props := range c.Props {
		cp := make([]ical.Prop, len(props))
		for i, p := range props {
			cp[i] = ical.Prop{Name: p.Name, Params: cloneParams(p.Params), Value: p.Value}
		}
		out.Props[name] = cp
	}
	for _, child := range c.Children {
		out.Children = append(out.Children, cloneComponent(child))
	}
	return out
}

// instanceComponent renders occ as a standalone component.
func instanceComponent(occ Occurrence, allDay bool) *ical.Component {
	if occ.Source == nil {
		return nil
	}
	c := cloneComponent(occ.Source)
	for _, name := range []string{
		ical.PropRecurrenceRule,
		ical.PropRecurrenceDates,
		ical.PropExceptionDates,
		ical.PropDuration,
		ical.PropDateTimeEnd,
		ical.PropDue,
	} {
		delete(c.Props, name)
	}

	endProp := ical.PropDateTimeEnd
	if c.Name == ical.CompToDo {
		endProp = ical.PropDue
	}
	if allDay {
		setDate(c, ical.PropDateTimeStart, occ.Start)
		setDate(c, endProp, occ.End)
		setDate(c, propRecurrenceID, occ.RecurrenceID)
	} else {
		c.Props.SetDateTime(ical.PropDateTimeStart, occ.Start)
		c.Props.SetDateTime(endProp, occ.End)
		c.Props.SetDateTime(propRecurrenceID, occ.RecurrenceID)
	}
	return c
}

func setDate(c *ical.Component, name string, t time.Time) {
	prop := ical.NewProp(name)
	prop.SetDate(t)
	c.Props.Set(prop)
}
