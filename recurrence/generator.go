package recurrence

import (
	"slices"
	"time"

	"github.com/cyp0633/librecur/internal/civil"
)

// Periods are numbered per frequency so that consecutive periods differ by
// one: years, months since year 0, weeks (aligned on WKST), days since
// 1970-01-01, and hours, minutes or seconds since 1970-01-01T00:00 in wall
// clock time of the rule's location.

// nthScope is the range an ordinal BYDAY entry counts within.
type nthScope int

const (
	scopeNone nthScope = iota
	scopeMonth
	scopeYear
)

// generator is a Rule compiled against its DTSTART. It maps a period index to
// the sorted candidates of that period and keeps no iteration state, so one
// generator is shared by every clone of a cursor.
type generator struct {
	freq     Frequency
	interval int64
	wkst     time.Weekday
	weekOff  int64
	loc      *time.Location

	// Time parts finer than the frequency expand each day into instants.
	hours, minutes, seconds []int

	// Time parts at or above the frequency only limit which periods count.
	limitHour, limitMinute, limitSecond bool
	hourOK                              [24]bool
	minuteOK                            [60]bool
	secondOK                            [61]bool

	hasMonth  bool
	monthOK   [13]bool
	monthDays []int
	yearDays  []int
	weekNos   []int
	hasByDay  bool
	weekdayOK [7]bool
	nth       [7][]int
	scope     nthScope
	setPos    []int
}

func compile(r Rule, dtstart time.Time) *generator {
	g := &generator{
		freq:     r.Freq,
		interval: int64(r.Interval),
		wkst:     r.WeekStart,
		weekOff:  civil.FloorMod(int64(r.WeekStart)-4, 7),
		loc:      dtstart.Location(),
		setPos:   sortedSet(r.BySetPos),
	}

	if r.Freq > Hourly {
		g.hours = sortedSetOr(r.ByHour, dtstart.Hour())
	} else if len(r.ByHour) > 0 {
		g.limitHour = true
		for _, h := range r.ByHour {
			g.hourOK[h] = true
		}
	}
	if r.Freq > Minutely {
		g.minutes = sortedSetOr(r.ByMinute, dtstart.Minute())
	} else if len(r.ByMinute) > 0 {
		g.limitMinute = true
		for _, m := range r.ByMinute {
			g.minuteOK[m] = true
		}
	}
	if r.Freq > Secondly {
		g.seconds = sortedSetOr(r.BySecond, dtstart.Second())
	} else if len(r.BySecond) > 0 {
		g.limitSecond = true
		for _, s := range r.BySecond {
			g.secondOK[s] = true
		}
	}

	byDay, monthDays, months := r.ByDay, r.ByMonthDay, r.ByMonth
	if len(r.ByWeekNo) == 0 && len(r.ByYearDay) == 0 && len(r.ByMonthDay) == 0 && len(r.ByDay) == 0 {
		switch r.Freq {
		case Weekly:
			byDay = []WeekdayNum{{Weekday: dtstart.Weekday()}}
		case Monthly:
			monthDays = []int{dtstart.Day()}
		case Yearly:
			if len(months) == 0 {
				months = []int{int(dtstart.Month())}
			}
			monthDays = []int{dtstart.Day()}
		}
	}

	for _, m := range months {
		g.monthOK[m] = true
		g.hasMonth = true
	}
	g.monthDays = sortedSet(monthDays)
	g.yearDays = sortedSet(r.ByYearDay)
	g.weekNos = sortedSet(r.ByWeekNo)

	switch {
	case r.Freq == Monthly, r.Freq == Yearly && g.hasMonth:
		g.scope = scopeMonth
	case r.Freq == Yearly:
		g.scope = scopeYear
	}
	for _, wd := range byDay {
		g.hasByDay = true
		if wd.N == 0 {
			g.weekdayOK[wd.Weekday] = true
			continue
		}
		g.nth[wd.Weekday] = append(g.nth[wd.Weekday], wd.N)
	}
	return g
}

func sortedSet(values []int) []int {
	if len(values) == 0 {
		return nil
	}
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}

func sortedSetOr(values []int, def int) []int {
	if len(values) == 0 {
		return []int{def}
	}
	return sortedSet(values)
}

// candidates returns the sorted, deduplicated instants of period p that
// satisfy every BY* part, BYSETPOS applied last.
func (g *generator) candidates(p int64) []time.Time {
	var (
		first int64
		n     int
	)
	switch g.freq {
	case Yearly:
		y := int(p)
		first, n = civil.DaysFromCivil(y, time.January, 1), civil.YearLength(y)
	case Monthly:
		y, m := g.month(p)
		first, n = civil.DaysFromCivil(y, m, 1), civil.DaysIn(y, m)
	case Weekly:
		first, n = p*7+g.weekOff, 7
	case Daily:
		first, n = p, 1
	default:
		return g.subDaily(p)
	}

	days := make([]int64, 0, n)
	for d := first; d < first+int64(n); d++ {
		if g.dayOK(d) {
			days = append(days, d)
		}
	}
	return g.expand(days, g.hours, g.minutes, g.seconds)
}

func (g *generator) subDaily(p int64) []time.Time {
	day, h, mi, s := g.decode(p)
	if !g.dayOK(day) ||
		g.limitHour && !g.hourOK[h] ||
		g.limitMinute && !g.minuteOK[mi] ||
		g.limitSecond && !g.secondOK[s] {
		return nil
	}

	minutes, seconds := []int{mi}, []int{s}
	if g.freq > Minutely {
		minutes = g.minutes
	}
	if g.freq > Secondly {
		seconds = g.seconds
	}
	return g.expand([]int64{day}, []int{h}, minutes, seconds)
}

// expand builds the day × time grid of a period, applies BYSETPOS to it and
// converts the survivors into instants.
func (g *generator) expand(days []int64, hours, minutes, seconds []int) []time.Time {
	if len(days) == 0 {
		return nil
	}
	perDay := len(hours) * len(minutes) * len(seconds)
	total := len(days) * perDay

	at := func(i int) time.Time {
		y, m, d := civil.FromDays(days[i/perDay])
		r := i % perDay
		s := seconds[r%len(seconds)]
		r /= len(seconds)
		return time.Date(y, m, d, hours[r/len(minutes)], minutes[r%len(minutes)], s, 0, g.loc)
	}

	var out []time.Time
	if len(g.setPos) > 0 {
		idx := make([]int, 0, len(g.setPos))
		for _, pos := range g.setPos {
			i := pos - 1
			if pos < 0 {
				i = total + pos
			}
			if i >= 0 && i < total {
				idx = append(idx, i)
			}
		}
		slices.Sort(idx)
		idx = slices.Compact(idx)
		out = make([]time.Time, 0, len(idx))
		for _, i := range idx {
			out = append(out, at(i))
		}
	} else {
		out = make([]time.Time, 0, total)
		for i := 0; i < total; i++ {
			out = append(out, at(i))
		}
	}

	// Wall-clock times inside a DST gap normalize forward and may collide.
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return slices.CompactFunc(out, func(a, b time.Time) bool { return a.Equal(b) })
}

// dayOK reports whether day n passes the day-level parts of the rule.
func (g *generator) dayOK(n int64) bool {
	y, m, d := civil.FromDays(n)
	if g.hasMonth && !g.monthOK[m] {
		return false
	}
	if len(g.weekNos) > 0 {
		_, week, weeks := civil.Week(n, g.wkst)
		if !matchSigned(g.weekNos, week, weeks) {
			return false
		}
	}
	if len(g.yearDays) > 0 && !matchSigned(g.yearDays, civil.YearDay(y, m, d), civil.YearLength(y)) {
		return false
	}
	if len(g.monthDays) > 0 && !matchSigned(g.monthDays, d, civil.DaysIn(y, m)) {
		return false
	}
	if g.hasByDay {
		wd := civil.Weekday(n)
		if g.weekdayOK[wd] {
			return true
		}
		ords := g.nth[wd]
		if len(ords) == 0 {
			return false
		}
		var idx, length int
		if g.scope == scopeMonth {
			idx, length = d-1, civil.DaysIn(y, m)
		} else {
			idx, length = civil.YearDay(y, m, d)-1, civil.YearLength(y)
		}
		first, last := civil.Nth(idx, length)
		for _, o := range ords {
			if o == first || o == last {
				return true
			}
		}
		return false
	}
	return true
}

// matchSigned reports whether v (1-based within a range of length values)
// is selected by a set that counts negatives from the end of the range.
func matchSigned(set []int, v, length int) bool {
	for _, x := range set {
		if x == v || x == v-length-1 {
			return true
		}
	}
	return false
}

func (g *generator) month(p int64) (int, time.Month) {
	return int(civil.FloorDiv(p, 12)), time.Month(civil.FloorMod(p, 12) + 1)
}

func (g *generator) decode(p int64) (day int64, h, mi, s int) {
	switch g.freq {
	case Hourly:
		return civil.FloorDiv(p, 24), int(civil.FloorMod(p, 24)), 0, 0
	case Minutely:
		r := civil.FloorMod(p, 1440)
		return civil.FloorDiv(p, 1440), int(r / 60), int(r % 60), 0
	case Secondly:
		r := civil.FloorMod(p, 86400)
		return civil.FloorDiv(p, 86400), int(r / 3600), int(r / 60 % 60), int(r % 60)
	}
	return p, 0, 0, 0
}

// encode is linear in each argument, so h, mi and s may overflow into the
// next unit.
func (g *generator) encode(day int64, h, mi, s int) int64 {
	switch g.freq {
	case Hourly:
		return day*24 + int64(h)
	case Minutely:
		return (day*24+int64(h))*60 + int64(mi)
	case Secondly:
		return ((day*24+int64(h))*60+int64(mi))*60 + int64(s)
	}
	return day
}

// periodOf returns the index of the period containing t.
func (g *generator) periodOf(t time.Time) int64 {
	t = t.In(g.loc)
	y, m, d := t.Date()
	switch g.freq {
	case Yearly:
		return int64(y)
	case Monthly:
		return int64(y)*12 + int64(m) - 1
	}
	day := civil.DaysFromCivil(y, m, d)
	if g.freq == Weekly {
		return civil.FloorDiv(day-g.weekOff, 7)
	}
	return g.encode(day, t.Hour(), t.Minute(), t.Second())
}

// periodStart returns the earliest instant of period p.
func (g *generator) periodStart(p int64) time.Time {
	var (
		day      int64
		h, mi, s int
	)
	switch g.freq {
	case Yearly:
		return time.Date(int(p), time.January, 1, 0, 0, 0, 0, g.loc)
	case Monthly:
		y, m := g.month(p)
		return time.Date(y, m, 1, 0, 0, 0, 0, g.loc)
	case Weekly:
		day = p*7 + g.weekOff
	default:
		day, h, mi, s = g.decode(p)
	}
	y, m, d := civil.FromDays(day)
	return time.Date(y, m, d, h, mi, s, 0, g.loc)
}

// skipForward reports, for a sub-daily period that lies in an ineligible
// day, hour or minute, the first period of the next unit that could match.
func (g *generator) skipForward(p int64) (int64, bool) {
	if g.freq >= Daily {
		return 0, false
	}
	day, h, mi, _ := g.decode(p)
	switch {
	case !g.dayOK(day):
		return g.encode(day+1, 0, 0, 0), true
	case g.freq < Hourly && g.limitHour && !g.hourOK[h]:
		return g.encode(day, h+1, 0, 0), true
	case g.freq < Minutely && g.limitMinute && !g.minuteOK[mi]:
		return g.encode(day, h, mi+1, 0), true
	}
	return 0, false
}

// skipBackward mirrors skipForward, returning the last period of the
// previous unit.
func (g *generator) skipBackward(p int64) (int64, bool) {
	if g.freq >= Daily {
		return 0, false
	}
	day, h, mi, _ := g.decode(p)
	switch {
	case !g.dayOK(day):
		return g.encode(day, 0, 0, 0) - 1, true
	case g.freq < Hourly && g.limitHour && !g.hourOK[h]:
		return g.encode(day, h, 0, 0) - 1, true
	case g.freq < Minutely && g.limitMinute && !g.minuteOK[mi]:
		return g.encode(day, h, mi, 0) - 1, true
	}
	return 0, false
}

// impossible reports whether no period can ever produce a candidate because
// every BYMONTHDAY lies beyond the length of every BYMONTH month.
func (g *generator) impossible() bool {
	if !g.hasMonth || len(g.monthDays) == 0 {
		return false
	}
	for m := time.January; m <= time.December; m++ {
		if !g.monthOK[m] {
			continue
		}
		limit := civil.MaxDaysIn(m)
		for _, md := range g.monthDays {
			if md <= limit && -md <= limit {
				return false
			}
		}
	}
	return true
}

// perPeriod returns the number of candidates every period yields when that
// number does not depend on which period it is, and 0 otherwise.
func (g *generator) perPeriod() int {
	if len(g.setPos) > 0 || len(g.weekNos) > 0 || len(g.yearDays) > 0 {
		return 0
	}

	var times int
	switch g.freq {
	case Secondly:
		if g.limitHour || g.limitMinute || g.limitSecond {
			return 0
		}
		times = 1
	case Minutely:
		if g.limitHour || g.limitMinute {
			return 0
		}
		times = len(g.seconds)
	case Hourly:
		if g.limitHour {
			return 0
		}
		times = len(g.minutes) * len(g.seconds)
	default:
		times = len(g.hours) * len(g.minutes) * len(g.seconds)
	}

	var days int
	switch g.freq {
	case Yearly:
		n := stableMonthDays(g.monthDays)
		if g.hasByDay || n == 0 {
			return 0
		}
		months := 12
		if g.hasMonth {
			months = 0
			for _, ok := range g.monthOK {
				if ok {
					months++
				}
			}
		}
		days = months * n
	case Monthly:
		n := stableMonthDays(g.monthDays)
		if g.hasByDay || g.hasMonth || n == 0 {
			return 0
		}
		days = n
	case Weekly:
		if g.hasMonth || len(g.monthDays) > 0 {
			return 0
		}
		for _, ok := range g.weekdayOK {
			if ok {
				days++
			}
		}
	default:
		if g.hasMonth || len(g.monthDays) > 0 || g.hasByDay {
			return 0
		}
		days = 1
	}
	return days * times
}

// stableMonthDays returns how many days a BYMONTHDAY set selects in every
// month, or 0 when that depends on the month.
func stableMonthDays(mds []int) int {
	if len(mds) == 0 {
		return 0
	}
	pos, neg := 0, 0
	for _, md := range mds {
		switch {
		case md >= 1 && md <= 28:
			pos++
		case md <= -1 && md >= -28:
			neg++
		default:
			return 0
		}
	}
	if pos > 0 && neg > 0 {
		return 0
	}
	return len(mds)
}
