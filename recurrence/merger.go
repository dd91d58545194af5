package recurrence

import (
	"slices"
	"sort"
	"time"
)

// instantKey normalizes an instant for exclusion and override matching:
// whole seconds since the epoch, so the same moment written in UTC, in a
// zone or as a converted floating time compares equal.
type instantKey int64

func keyOf(t time.Time) instantKey {
	return instantKey(t.Unix())
}

// baseStream is the union of the rule and the explicit dates, duplicates
// removed.
type baseStream struct {
	rule  *RuleIterator
	dates *DateIterator
}

func (b *baseStream) ruleValid() bool {
	return b.rule != nil && b.rule.Valid()
}

func (b *baseStream) Valid() bool {
	return b.ruleValid() || b.dates.Valid()
}

func (b *baseStream) Current() time.Time {
	switch {
	case !b.ruleValid():
		return b.dates.Current()
	case !b.dates.Valid():
		return b.rule.Current()
	}
	r, d := b.rule.Current(), b.dates.Current()
	if d.Before(r) {
		return d
	}
	return r
}

func (b *baseStream) Next() {
	cur := b.Current()
	if b.ruleValid() && b.rule.Current().Equal(cur) {
		b.rule.Next()
	}
	if b.dates.Valid() && b.dates.Current().Equal(cur) {
		b.dates.Next()
	}
}

func (b *baseStream) Reset() {
	if b.rule != nil {
		b.rule.Reset()
	}
	b.dates.Reset()
}

func (b *baseStream) FastForward(t time.Time) {
	if b.rule != nil {
		b.rule.FastForward(t)
	}
	b.dates.FastForward(t)
}

func (b *baseStream) FastForwardBefore(t time.Time) bool {
	ruleOK := b.rule != nil && b.rule.FastForwardBefore(t)
	datesOK := b.dates.FastForwardBefore(t)
	switch {
	case !ruleOK && !datesOK:
		b.Reset()
		return false
	case ruleOK && datesOK:
		// Keep the later of the two predecessors; the other one moves past t.
		r, d := b.rule.Current(), b.dates.Current()
		if r.Before(d) {
			b.rule.FastForward(t)
		} else if d.Before(r) {
			b.dates.FastForward(t)
		}
	case ruleOK:
		b.dates.FastForward(t)
	case datesOK && b.rule != nil:
		b.rule.FastForward(t)
	}
	return true
}

func (b *baseStream) FastForwardToEnd() error {
	if b.rule != nil {
		if err := b.rule.FastForwardToEnd(); err != nil {
			return err
		}
	}
	_ = b.dates.FastForwardToEnd()
	if b.ruleValid() && b.dates.Valid() {
		r, d := b.rule.Current(), b.dates.Current()
		if r.Before(d) {
			b.rule.Next()
		} else if d.Before(r) {
			b.dates.Next()
		}
	}
	return nil
}

// exhaust moves a finite stream past its last element.
func (b *baseStream) exhaust() {
	if b.FastForwardToEnd() == nil {
		b.Next()
	}
}

func (b *baseStream) IsInfinite() bool {
	return b.rule != nil && b.rule.IsInfinite()
}

func (b baseStream) clone() baseStream {
	if b.rule != nil {
		b.rule = b.rule.Clone()
	}
	b.dates = b.dates.Clone()
	return b
}

// Merger produces the occurrences of a MasterEvent in chronological order.
// Excluded and overridden base occurrences are dropped; overrides appear at
// their own start, before any base occurrence starting at the same instant.
//
// A Merger is not safe for concurrent use; Clone it instead.
type Merger struct {
	master   *MasterEvent
	duration time.Duration

	base       baseStream
	excluded   map[instantKey]struct{}
	overridden map[instantKey]struct{}
	overrides  []Override
	ovPos      int
}

// NewMerger builds a merger over m. The master's start is always an
// occurrence; RDATE values add to the rule, duplicates counted once.
// Several overrides with the same RECURRENCE-ID resolve to the last one.
func NewMerger(m *MasterEvent) (*Merger, error) {
	if m == nil {
		return nil, newError(ErrInvalidInput, "nil master event")
	}
	if m.Start.IsZero() {
		return nil, newError(ErrInvalidInput, "master event has no start")
	}
	start := m.Start.Truncate(time.Second)

	mg := &Merger{
		master:     m,
		duration:   m.duration(),
		excluded:   make(map[instantKey]struct{}, len(m.ExDates)),
		overridden: make(map[instantKey]struct{}, len(m.Overrides)),
	}
	if m.Rule != nil {
		rule, err := NewRuleIterator(*m.Rule, start)
		if err != nil {
			return nil, err
		}
		mg.base.rule = rule
	}

	dates := make([]time.Time, 0, len(m.RDates)+1)
	dates = append(dates, start)
	for _, d := range m.RDates {
		dates = append(dates, d.Truncate(time.Second))
	}
	mg.base.dates = NewDateIterator(dates)

	for _, x := range m.ExDates {
		mg.excluded[keyOf(x)] = struct{}{}
	}

	latest := make(map[instantKey]int, len(m.Overrides))
	for i, ov := range m.Overrides {
		latest[keyOf(ov.RecurrenceID)] = i
	}
	for i, ov := range m.Overrides {
		k := keyOf(ov.RecurrenceID)
		if latest[k] != i {
			continue
		}
		ov.Start = ov.start()
		mg.overridden[k] = struct{}{}
		mg.overrides = append(mg.overrides, ov)
	}
	slices.SortStableFunc(mg.overrides, func(a, b Override) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return a.RecurrenceID.Compare(b.RecurrenceID)
	})

	mg.skipSuppressed()
	return mg, nil
}

func (m *Merger) suppressed(t time.Time) bool {
	k := keyOf(t)
	if _, ok := m.excluded[k]; ok {
		return true
	}
	_, ok := m.overridden[k]
	return ok
}

// skipSuppressed moves the base stream off excluded and overridden instants.
// The loop ends: each suppressed instant occurs at most once in the stream.
func (m *Merger) skipSuppressed() {
	for m.base.Valid() && m.suppressed(m.base.Current()) {
		m.base.Next()
	}
}

func (m *Merger) fromOverride() bool {
	if m.ovPos >= len(m.overrides) {
		return false
	}
	return !m.base.Valid() || !m.overrides[m.ovPos].Start.After(m.base.Current())
}

func (m *Merger) Valid() bool {
	return m.base.Valid() || m.ovPos < len(m.overrides)
}

// Current returns the effective start of the current occurrence.
func (m *Merger) Current() time.Time {
	switch {
	case m.fromOverride():
		return m.overrides[m.ovPos].Start
	case m.base.Valid():
		return m.base.Current()
	}
	return time.Time{}
}

// Occurrence returns the current occurrence with its end and source
// component resolved.
func (m *Merger) Occurrence() Occurrence {
	switch {
	case m.fromOverride():
		return m.overrideOccurrence(m.overrides[m.ovPos])
	case m.base.Valid():
		return m.baseOccurrence(m.base.Current())
	}
	return Occurrence{}
}

func (m *Merger) overrideOccurrence(ov Override) Occurrence {
	return Occurrence{
		Start:        ov.Start,
		End:          endOf(ov.Start, ov.duration(m.duration), m.master.AllDay),
		RecurrenceID: ov.RecurrenceID,
		IsException:  true,
		Source:       ov.Component,
	}
}

func (m *Merger) baseOccurrence(t time.Time) Occurrence {
	return Occurrence{
		Start:        t,
		End:          endOf(t, m.duration, m.master.AllDay),
		RecurrenceID: t,
		Source:       m.master.Component,
	}
}

// lookup returns the occurrence standing for the original instant rid.
func (m *Merger) lookup(rid time.Time) (Occurrence, bool) {
	k := keyOf(rid)
	if _, ok := m.overridden[k]; ok {
		for _, ov := range m.overrides {
			if keyOf(ov.RecurrenceID) == k {
				return m.overrideOccurrence(ov), true
			}
		}
	}
	if _, ok := m.excluded[k]; ok {
		return Occurrence{}, false
	}
	b := m.base.clone()
	b.FastForward(rid.Truncate(time.Second))
	if b.Valid() && keyOf(b.Current()) == k {
		return m.baseOccurrence(b.Current()), true
	}
	return Occurrence{}, false
}

func (m *Merger) Next() {
	if m.fromOverride() {
		m.ovPos++
		return
	}
	if m.base.Valid() {
		m.base.Next()
		m.skipSuppressed()
	}
}

func (m *Merger) Reset() {
	m.base.Reset()
	m.ovPos = 0
	m.skipSuppressed()
}

// overrideIndex returns the index of the first override starting at or
// after t.
func (m *Merger) overrideIndex(t time.Time) int {
	return sort.Search(len(m.overrides), func(i int) bool { return !m.overrides[i].Start.Before(t) })
}

// FastForward positions the merger on the first occurrence starting at or
// after t. Both inner streams jump independently.
func (m *Merger) FastForward(t time.Time) {
	m.base.FastForward(t)
	m.skipSuppressed()
	m.ovPos = m.overrideIndex(t)
}

// FastForwardBefore positions the merger on the last occurrence starting
// strictly before t. It reports false, leaving the merger reset, when there
// is none.
func (m *Merger) FastForwardBefore(t time.Time) bool {
	i := m.overrideIndex(t)

	ok := m.base.FastForwardBefore(t)
	for ok && m.suppressed(m.base.Current()) {
		ok = m.base.FastForwardBefore(m.base.Current())
	}

	if !ok {
		if i == 0 {
			m.Reset()
			return false
		}
		m.base.FastForward(t)
		m.skipSuppressed()
		m.ovPos = i - 1
		return true
	}

	// The base occurrence before t is unsuppressed. An override starting
	// strictly later is the predecessor instead; on a tie the override was
	// already emitted before the base one.
	if i > 0 && m.overrides[i-1].Start.After(m.base.Current()) {
		m.base.Next()
		m.skipSuppressed()
		m.ovPos = i - 1
		return true
	}
	m.ovPos = i
	return true
}

// FastForwardToEnd positions the merger on its last occurrence. It fails
// with ErrUsage when the rule is infinite.
func (m *Merger) FastForwardToEnd() error {
	if err := m.base.FastForwardToEnd(); err != nil {
		return err
	}
	ok := m.base.Valid()
	for ok && m.suppressed(m.base.Current()) {
		ok = m.base.FastForwardBefore(m.base.Current())
	}
	if !ok {
		m.base.exhaust()
	}

	last := len(m.overrides) - 1
	switch {
	case last < 0:
		m.ovPos = 0
	case ok && !m.overrides[last].Start.After(m.base.Current()):
		m.ovPos = len(m.overrides)
	default:
		if ok {
			m.base.Next()
			m.skipSuppressed()
		}
		m.ovPos = last
	}
	return nil
}

func (m *Merger) IsInfinite() bool {
	return m.base.IsInfinite()
}

// Err reports why the rule stream stopped early, if it did.
func (m *Merger) Err() error {
	if m.base.rule == nil {
		return nil
	}
	return m.base.rule.Err()
}

// SetHorizon bounds the rule search below t.
func (m *Merger) SetHorizon(t time.Time) {
	if m.base.rule != nil {
		m.base.rule.SetHorizon(t)
	}
	m.skipSuppressed()
}

// Clone returns an independent merger at the same position. The override
// and exclusion tables are shared; they are never modified after NewMerger.
func (m *Merger) Clone() *Merger {
	cp := *m
	cp.base = m.base.clone()
	return &cp
}
