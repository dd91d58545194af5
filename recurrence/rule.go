package recurrence

import (
	"fmt"
	"strconv"
	"time"

	"github.com/samber/mo"
)

// Frequency is the base period of a recurrence rule. Finer frequencies
// compare lower.
type Frequency int

const (
	Secondly Frequency = iota
	Minutely
	Hourly
	Daily
	Weekly
	Monthly
	Yearly
)

var frequencyNames = [...]string{
	Secondly: "SECONDLY",
	Minutely: "MINUTELY",
	Hourly:   "HOURLY",
	Daily:    "DAILY",
	Weekly:   "WEEKLY",
	Monthly:  "MONTHLY",
	Yearly:   "YEARLY",
}

func (f Frequency) String() string {
	if f.valid() {
		return frequencyNames[f]
	}
	return "Frequency(" + strconv.Itoa(int(f)) + ")"
}

func (f Frequency) valid() bool {
	return f >= Secondly && f <= Yearly
}

var weekdayNames = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// WeekdayNum is one BYDAY entry. N is zero for "every such weekday",
// positive for the Nth and negative for the Nth-from-last weekday of the
// month or year.
type WeekdayNum struct {
	N       int
	Weekday time.Weekday
}

func (w WeekdayNum) String() string {
	day := "??"
	if w.Weekday >= time.Sunday && w.Weekday <= time.Saturday {
		day = weekdayNames[w.Weekday]
	}
	if w.N == 0 {
		return day
	}
	return strconv.Itoa(w.N) + day
}

// Rule is a recurrence rule (the value of an RRULE property).
//
// Interval must be at least 1; the zero value is rejected rather than read
// as "unset". WeekStart's zero value is Sunday, while ParseRule defaults it
// to Monday.
type Rule struct {
	Freq      Frequency
	Interval  int
	Count     mo.Option[int]
	Until     mo.Option[time.Time]
	WeekStart time.Weekday

	BySecond   []int
	ByMinute   []int
	ByHour     []int
	ByDay      []WeekdayNum
	ByMonthDay []int
	ByYearDay  []int
	ByWeekNo   []int
	ByMonth    []int
	BySetPos   []int
}

// IsInfinite reports whether the rule has neither a COUNT nor an UNTIL bound.
func (r Rule) IsInfinite() bool {
	return r.Count.IsAbsent() && r.Until.IsAbsent()
}

// Validate checks the rule for values no calendar could ever satisfy.
func (r Rule) Validate() error {
	if !r.Freq.valid() {
		return newError(ErrInvalidRule, "unknown frequency %d", int(r.Freq))
	}
	if r.Interval < 1 {
		return newError(ErrInvalidRule, "interval must be at least 1, got %d", r.Interval)
	}
	if r.Count.IsPresent() && r.Until.IsPresent() {
		return newError(ErrInvalidRule, "COUNT and UNTIL are mutually exclusive")
	}
	if c, ok := r.Count.Get(); ok && c < 1 {
		return newError(ErrInvalidRule, "count must be at least 1, got %d", c)
	}
	if r.WeekStart < time.Sunday || r.WeekStart > time.Saturday {
		return newError(ErrInvalidRule, "invalid week start %d", int(r.WeekStart))
	}

	checks := []struct {
		name   string
		values []int
		lo, hi int
		signed bool
	}{
		{"BYSECOND", r.BySecond, 0, 60, false},
		{"BYMINUTE", r.ByMinute, 0, 59, false},
		{"BYHOUR", r.ByHour, 0, 23, false},
		{"BYMONTHDAY", r.ByMonthDay, 1, 31, true},
		{"BYYEARDAY", r.ByYearDay, 1, 366, true},
		{"BYWEEKNO", r.ByWeekNo, 1, 53, true},
		{"BYMONTH", r.ByMonth, 1, 12, false},
		{"BYSETPOS", r.BySetPos, 1, 366, true},
	}
	for _, c := range checks {
		for _, v := range c.values {
			abs := v
			if c.signed && v < 0 {
				abs = -v
			}
			if abs < c.lo || abs > c.hi {
				return newError(ErrInvalidRule, "%s value %d out of range", c.name, v)
			}
		}
	}

	for _, wd := range r.ByDay {
		if wd.Weekday < time.Sunday || wd.Weekday > time.Saturday {
			return newError(ErrInvalidRule, "BYDAY has invalid weekday %d", int(wd.Weekday))
		}
		if wd.N < -53 || wd.N > 53 {
			return newError(ErrInvalidRule, "BYDAY ordinal %d out of range", wd.N)
		}
		if wd.N == 0 {
			continue
		}
		if r.Freq != Monthly && r.Freq != Yearly {
			return newError(ErrInvalidRule, "BYDAY ordinal %s requires a MONTHLY or YEARLY rule", wd)
		}
		if len(r.ByWeekNo) > 0 {
			return newError(ErrInvalidRule, "BYDAY ordinal %s cannot be combined with BYWEEKNO", wd)
		}
	}
	if len(r.ByWeekNo) > 0 && r.Freq != Yearly {
		return newError(ErrInvalidRule, "BYWEEKNO requires a YEARLY rule, got %s", r.Freq)
	}
	return nil
}

func (r Rule) String() string {
	buf := make([]byte, 0, 64)
	buf = append(buf, "FREQ="...)
	buf = append(buf, r.Freq.String()...)
	if r.Interval != 1 {
		buf = fmt.Appendf(buf, ";INTERVAL=%d", r.Interval)
	}
	if c, ok := r.Count.Get(); ok {
		buf = fmt.Appendf(buf, ";COUNT=%d", c)
	}
	if u, ok := r.Until.Get(); ok {
		buf = append(buf, ";UNTIL="...)
		buf = u.UTC().AppendFormat(buf, "20060102T150405Z")
	}
	if r.WeekStart != time.Monday {
		buf = append(buf, ";WKST="...)
		buf = append(buf, WeekdayNum{Weekday: r.WeekStart}.String()...)
	}

	buf = appendInts(buf, "BYMONTH", r.ByMonth)
	buf = appendInts(buf, "BYWEEKNO", r.ByWeekNo)
	buf = appendInts(buf, "BYYEARDAY", r.ByYearDay)
	buf = appendInts(buf, "BYMONTHDAY", r.ByMonthDay)
	if len(r.ByDay) > 0 {
		buf = append(buf, ";BYDAY="...)
		for i, wd := range r.ByDay {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = append(buf, wd.String()...)
		}
	}
	buf = appendInts(buf, "BYHOUR", r.ByHour)
	buf = appendInts(buf, "BYMINUTE", r.ByMinute)
	buf = appendInts(buf, "BYSECOND", r.BySecond)
	buf = appendInts(buf, "BYSETPOS", r.BySetPos)
	return string(buf)
}

func appendInts(buf []byte, name string, values []int) []byte {
	if len(values) == 0 {
		return buf
	}
	buf = append(buf, ';')
	buf = append(buf, name...)
	buf = append(buf, '=')
	for i, v := range values {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendInt(buf, int64(v), 10)
	}
	return buf
}
