package recurrence

import (
	"slices"
	"sort"
	"time"
)

// Sequence is the cursor interface shared by RuleIterator, DateIterator and
// Merger. A fresh cursor is positioned on its first element; Valid turns
// false once it runs past the last one.
type Sequence interface {
	Valid() bool
	Current() time.Time
	Next()
	Reset()
	FastForward(t time.Time)
	FastForwardBefore(t time.Time) bool
	FastForwardToEnd() error
	IsInfinite() bool
}

var (
	_ Sequence = (*RuleIterator)(nil)
	_ Sequence = (*DateIterator)(nil)
	_ Sequence = (*Merger)(nil)
)

// DateIterator walks a finite list of explicit instants (RDATE values).
type DateIterator struct {
	dates []time.Time
	pos   int
}

// NewDateIterator sorts and deduplicates dates; the caller's slice is not
// modified.
func NewDateIterator(dates []time.Time) *DateIterator {
	sorted := slices.Clone(dates)
	slices.SortFunc(sorted, func(a, b time.Time) int { return a.Compare(b) })
	sorted = slices.CompactFunc(sorted, func(a, b time.Time) bool { return a.Equal(b) })
	return &DateIterator{dates: sorted}
}

func (it *DateIterator) Valid() bool {
	return it.pos < len(it.dates)
}

func (it *DateIterator) Current() time.Time {
	if !it.Valid() {
		return time.Time{}
	}
	return it.dates[it.pos]
}

func (it *DateIterator) Next() {
	if it.pos < len(it.dates) {
		it.pos++
	}
}

func (it *DateIterator) Reset() {
	it.pos = 0
}

// Len returns the number of distinct dates.
func (it *DateIterator) Len() int {
	return len(it.dates)
}

func (it *DateIterator) FastForward(t time.Time) {
	it.pos = it.search(t)
}

func (it *DateIterator) FastForwardBefore(t time.Time) bool {
	i := it.search(t)
	if i == 0 {
		it.pos = 0
		return false
	}
	it.pos = i - 1
	return true
}

// FastForwardToEnd positions the cursor on the last date. It never fails.
func (it *DateIterator) FastForwardToEnd() error {
	if len(it.dates) > 0 {
		it.pos = len(it.dates) - 1
	}
	return nil
}

func (it *DateIterator) IsInfinite() bool {
	return false
}

// Clone returns a copy sharing the immutable date list.
func (it *DateIterator) Clone() *DateIterator {
	cp := *it
	return &cp
}

func (it *DateIterator) search(t time.Time) int {
	return sort.Search(len(it.dates), func(i int) bool { return !it.dates[i].Before(t) })
}
