package recurrence

import (
	"slices"
	"time"
)

// maxEmptyPeriods bounds how many consecutive periods without a candidate a
// single search inspects before it gives up with ErrBudgetExhausted.
const maxEmptyPeriods = 50000

// cursor is the position of a RuleIterator. It is a plain value: copying it
// saves the position, and candidate slices are never mutated once built.
type cursor struct {
	period int64
	set    []time.Time
	pos    int
	// index is the 1-based ordinal of the occurrence at (period, pos). It is
	// only maintained for COUNT-bounded rules.
	index int
	done  bool
	err   error
}

// RuleIterator walks the occurrences of one recurrence rule in ascending
// order. DTSTART is always the first occurrence, whether or not it matches
// the rule, and counts toward COUNT.
//
// A RuleIterator is not safe for concurrent use; Clone it instead.
type RuleIterator struct {
	rule       Rule
	g          *generator
	dtstart    time.Time
	first      int64
	firstSet   []time.Time
	perPeriod  int
	impossible bool

	count      int
	until      time.Time
	hasUntil   bool
	horizon    time.Time
	hasHorizon bool

	c cursor
}

// NewRuleIterator validates rule and returns an iterator positioned on
// dtstart. Occurrences keep dtstart's location and wall-clock time of day.
func NewRuleIterator(rule Rule, dtstart time.Time) (*RuleIterator, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	dtstart = dtstart.Truncate(time.Second)
	g := compile(rule, dtstart)

	it := &RuleIterator{
		rule:       rule,
		g:          g,
		dtstart:    dtstart,
		first:      g.periodOf(dtstart),
		impossible: g.impossible(),
		count:      rule.Count.OrEmpty(),
	}
	it.until, it.hasUntil = rule.Until.Get()

	it.firstSet = []time.Time{dtstart}
	if !it.impossible {
		for _, t := range g.candidates(it.first) {
			if t.After(dtstart) {
				it.firstSet = append(it.firstSet, t)
			}
		}
		if fixedOffset(g.loc, dtstart.Year()) {
			it.perPeriod = g.perPeriod()
		}
	}

	it.Reset()
	return it, nil
}

// fixedOffset reports whether loc keeps one UTC offset through year y. Only
// then is the number of candidates per period free of DST collisions.
func fixedOffset(loc *time.Location, y int) bool {
	if loc == time.UTC {
		return true
	}
	_, jan := time.Date(y, time.January, 1, 0, 0, 0, 0, loc).Zone()
	_, jul := time.Date(y, time.July, 1, 0, 0, 0, 0, loc).Zone()
	return jan == jul
}

// Valid reports whether the iterator is positioned on an occurrence.
func (it *RuleIterator) Valid() bool {
	return !it.c.done
}

// Current returns the occurrence under the cursor, or the zero time once
// the iterator is exhausted.
func (it *RuleIterator) Current() time.Time {
	if it.c.done {
		return time.Time{}
	}
	return it.c.set[it.c.pos]
}

// Next moves to the following occurrence.
func (it *RuleIterator) Next() {
	it.c = it.advance(it.c)
}

// Reset moves back to dtstart.
func (it *RuleIterator) Reset() {
	it.c = it.start()
}

// IsInfinite reports whether the rule has neither COUNT nor UNTIL.
func (it *RuleIterator) IsInfinite() bool {
	return it.rule.IsInfinite()
}

// Err returns the error that stopped the iterator, if the stop was not a
// regular end of the sequence.
func (it *RuleIterator) Err() error {
	return it.c.err
}

// Clone returns an independent copy of the iterator at the same position.
func (it *RuleIterator) Clone() *RuleIterator {
	cp := *it
	return &cp
}

// SetHorizon ends the sequence before t without it being an error. Range
// queries use it so that searches never run past the end of the range.
func (it *RuleIterator) SetHorizon(t time.Time) {
	it.horizon, it.hasHorizon = t, true
	it.c = it.settle(it.c)
}

// FastForward positions the cursor on the first occurrence at or after t.
// Without COUNT, or when every period yields the same number of
// candidates, the destination period is computed directly; otherwise
// the intermediate occurrences are counted but never reported.
func (it *RuleIterator) FastForward(t time.Time) {
	it.c = it.seek(t)
}

// FastForwardBefore positions the cursor on the last occurrence strictly
// before t, so that Next yields the first occurrence at or after t. It
// reports false, leaving the iterator reset, when no occurrence precedes t.
func (it *RuleIterator) FastForwardBefore(t time.Time) bool {
	prev, ok := it.stepBack(it.seek(t))
	if !ok {
		it.Reset()
		return false
	}
	it.c = prev
	return true
}

// FastForwardToEnd positions the cursor on the final occurrence of a
// bounded rule. COUNT-bounded rules whose periods differ in size are
// walked occurrence by occurrence.
func (it *RuleIterator) FastForwardToEnd() error {
	if it.IsInfinite() {
		return newError(ErrUsage, "cannot fast-forward to the end of an infinite rule")
	}

	if it.count > 0 {
		if it.perPeriod > 0 {
			it.c = it.at(it.count)
			return nil
		}
		c := it.start()
		for !c.done && c.index < it.count {
			next := it.advance(c)
			if next.done {
				break
			}
			c = next
		}
		it.c = c
		return nil
	}

	if prev, ok := it.stepBack(it.seek(it.until.Add(time.Nanosecond))); ok {
		it.c = prev
	} else {
		it.c = it.start()
	}
	return nil
}

func (it *RuleIterator) start() cursor {
	return it.settle(cursor{period: it.first, set: it.firstSet, index: 1})
}

func (it *RuleIterator) beyond(t time.Time) bool {
	return it.hasUntil && t.After(it.until) || it.hasHorizon && !t.Before(it.horizon)
}

// settle marks c done when its occurrence is outside the rule's bounds.
func (it *RuleIterator) settle(c cursor) cursor {
	if c.done {
		return c
	}
	if it.count > 0 && c.index > it.count || it.beyond(c.set[c.pos]) {
		c.done = true
	}
	return c
}

func (it *RuleIterator) periodSet(p int64) []time.Time {
	if p == it.first {
		return it.firstSet
	}
	return it.g.candidates(p)
}

func (it *RuleIterator) alignUp(q int64) int64 {
	if q <= it.first {
		return it.first
	}
	k := (q - it.first + it.g.interval - 1) / it.g.interval
	return it.first + k*it.g.interval
}

func (it *RuleIterator) alignDown(q int64) int64 {
	d := q - it.first
	k := d / it.g.interval
	if d%it.g.interval != 0 && d < 0 {
		k--
	}
	return it.first + k*it.g.interval
}

func (it *RuleIterator) advance(c cursor) cursor {
	if c.done {
		return c
	}
	prev := c.set[c.pos]
	for {
		c.pos++
		if c.pos >= len(c.set) {
			c = it.scan(c, c.period+it.g.interval)
			if c.done {
				c.index++
				return c
			}
		}
		if c.set[c.pos].After(prev) {
			break
		}
	}
	c.index++
	return it.settle(c)
}

// scan finds the first period at or after p that has candidates. A done
// cursor keeps the period the search stopped at, so stepBack can resume
// from there.
func (it *RuleIterator) scan(c cursor, p int64) cursor {
	c.set, c.pos = nil, 0
	if it.impossible {
		c.period, c.done = p, true
		return c
	}

	empty := 0
	for {
		c.period = p
		if it.beyond(it.g.periodStart(p)) {
			c.done = true
			return c
		}
		if q, ok := it.g.skipForward(p); ok {
			p = it.alignUp(q)
		} else if set := it.periodSet(p); len(set) > 0 {
			c.set = set
			return c
		} else {
			p += it.g.interval
		}

		empty++
		if empty > maxEmptyPeriods {
			c.period, c.done = p, true
			c.err = newError(ErrBudgetExhausted, "no occurrence within %d periods", maxEmptyPeriods)
			return c
		}
	}
}

// stepBack returns the occurrence preceding the position of c.
func (it *RuleIterator) stepBack(c cursor) (cursor, bool) {
	if c.pos > 0 {
		c.pos--
		c.index--
		c.done, c.err = false, nil
		return c, true
	}
	if c.period <= it.first {
		return c, false
	}

	p := c.period - it.g.interval
	if it.impossible {
		p = it.first
	}
	for empty := 0; p >= it.first; empty++ {
		if empty > maxEmptyPeriods {
			return c, false
		}
		if q, ok := it.g.skipBackward(p); ok {
			p = it.alignDown(q)
			continue
		}
		if set := it.periodSet(p); len(set) > 0 {
			return cursor{period: p, set: set, pos: len(set) - 1, index: c.index - 1}, true
		}
		p -= it.g.interval
	}
	return c, false
}

// seek returns the cursor of the first occurrence at or after t.
func (it *RuleIterator) seek(t time.Time) cursor {
	if it.hasUntil && t.After(it.until) {
		t = it.until.Add(time.Nanosecond)
	}
	if it.hasHorizon && t.After(it.horizon) {
		t = it.horizon
	}

	c := it.start()
	if c.done || !c.set[c.pos].Before(t) {
		return c
	}
	if it.count > 0 && it.perPeriod == 0 {
		for !c.done && c.set[c.pos].Before(t) {
			c = it.advance(c)
		}
		return c
	}

	p := it.alignUp(it.g.periodOf(t))
	if p == it.first {
		c = cursor{period: p, set: it.firstSet}
	} else {
		c = it.scan(cursor{}, p)
	}
	if !c.done {
		c.pos, _ = slices.BinarySearchFunc(c.set, t, func(a, b time.Time) int { return a.Compare(b) })
		if c.pos == len(c.set) {
			c = it.scan(c, c.period+it.g.interval)
		}
	}

	if it.count > 0 {
		c.index = it.ordinal(c.period, c.pos)
		if c.index > it.count {
			return it.at(it.count + 1)
		}
	}
	return it.settle(c)
}

// ordinal returns the 1-based ordinal of position pos in period p. It is
// only meaningful when every period after the first yields perPeriod
// candidates.
func (it *RuleIterator) ordinal(p int64, pos int) int {
	if p == it.first {
		return pos + 1
	}
	periods := (p - it.first) / it.g.interval
	return len(it.firstSet) + int(periods-1)*it.perPeriod + pos + 1
}

// at is the inverse of ordinal: the cursor of the n-th occurrence.
func (it *RuleIterator) at(n int) cursor {
	if n <= len(it.firstSet) {
		return it.settle(cursor{period: it.first, set: it.firstSet, pos: n - 1, index: n})
	}
	j := int64(n - len(it.firstSet) - 1)
	k := int64(it.perPeriod)
	p := it.first + (1+j/k)*it.g.interval
	return it.settle(cursor{period: p, set: it.periodSet(p), pos: int(j % k), index: n})
}
