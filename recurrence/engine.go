package recurrence

import (
	"errors"
	"io"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
)

// Engine expands master events with caching and logging on top of the pure
// Merger/Expand machinery. It is safe for concurrent use.
type Engine struct {
	cache  *RecurrenceCache
	config EngineConfig
	logger *slog.Logger
	group  singleflight.Group
}

// Option represents a configuration option for the Engine
type Option func(*Engine)

// WithLogger sets the logger for the engine
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewEngine creates a new recurrence engine with DefaultEngineConfig
func NewEngine(opts ...Option) *Engine {
	return NewEngineWithConfig(DefaultEngineConfig, opts...)
}

// Config returns the engine's configuration.
func (e *Engine) Config() EngineConfig {
	return e.config
}

// Close releases the cache and its cleanup goroutine.
func (e *Engine) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}

// CacheStats returns the cache statistics, or zero stats without a cache.
func (e *Engine) CacheStats() CacheStats {
	if e.cache == nil {
		return CacheStats{}
	}
	return e.cache.Stats()
}

// Expand materializes the occurrences of m starting in [start, end) with
// the configured instance ceiling.
func (e *Engine) Expand(m *MasterEvent, start, end time.Time) ([]Instance, error) {
	return e.ExpandWithOptions(m, start, end, ExpandOptions{MaxInstances: e.config.MaxInstances})
}

// ExpandWithOptions is Expand with a per-call ceiling. Resolved occurrences
// are cached; instance components are rebuilt on every call, so callers may
// modify them freely.
func (e *Engine) ExpandWithOptions(m *MasterEvent, start, end time.Time, opts ExpandOptions) ([]Instance, error) {
	if m == nil {
		return nil, newError(ErrInvalidInput, "nil master event")
	}
	occs, err := e.occurrences(m, start, end, opts.maxInstances())
	if err != nil {
		return nil, err
	}
	return materialize(m, occs), nil
}

func (e *Engine) occurrences(m *MasterEvent, start, end time.Time, limit int) ([]Occurrence, error) {
	if e.cache == nil {
		return e.expand(m, start, end, limit)
	}

	op := "expand:" + strconv.Itoa(limit)
	if cached, ok := e.cache.Get(op, m, start, end); ok {
		occs := cached.([]Occurrence)
		e.logger.Debug("recurrence expansion served from cache",
			"start", start, "end", end, "instances", len(occs))
		return occs, nil
	}

	// Identical concurrent misses share one expansion.
	v, err, _ := e.group.Do(generateCacheKey(op, m, start, end), func() (any, error) {
		occs, err := e.expand(m, start, end, limit)
		if err != nil {
			return nil, err
		}
		e.cache.Set(op, m, start, end, occs)
		return occs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Occurrence), nil
}

func (e *Engine) expand(m *MasterEvent, start, end time.Time, limit int) ([]Occurrence, error) {
	occs, err := expandOccurrences(m, start, end, limit)
	if err != nil {
		e.logLimit(err, "expand", start, end)
		return nil, err
	}
	e.logger.Debug("expanded recurrence",
		"start", start, "end", end, "instances", len(occs))
	return occs, nil
}

func (e *Engine) logLimit(err error, operation string, start, end time.Time) {
	var rerr *Error
	if !errors.As(err, &rerr) {
		return
	}
	switch rerr.Type {
	case ErrTooManyInstances, ErrBudgetExhausted:
		e.logger.Warn("recurrence limit reached",
			"operation", operation, "start", start, "end", end, "error", err)
	}
}

// HasOccurrenceInRange reports whether any occurrence of m overlaps
// [rangeStart, rangeEnd). An instantaneous occurrence overlaps when it
// starts inside the range. At most MaxLookupOccurrences occurrences are
// inspected; beyond that the answer is ErrBudgetExhausted.
func (e *Engine) HasOccurrenceInRange(m *MasterEvent, rangeStart, rangeEnd time.Time) (bool, error) {
	if m == nil {
		return false, newError(ErrInvalidInput, "nil master event")
	}
	const op = "has_occurrence"
	if e.cache != nil {
		if cached, ok := e.cache.Get(op, m, rangeStart, rangeEnd); ok {
			return cached.(bool), nil
		}
	}

	found, err := e.hasOccurrenceInRange(m, rangeStart, rangeEnd)
	if err != nil {
		e.logLimit(err, op, rangeStart, rangeEnd)
		return false, err
	}
	if e.cache != nil {
		e.cache.Set(op, m, rangeStart, rangeEnd, found)
	}
	return found, nil
}

func (e *Engine) hasOccurrenceInRange(m *MasterEvent, rangeStart, rangeEnd time.Time) (bool, error) {
	mg, err := NewMerger(m)
	if err != nil {
		return false, err
	}
	mg.SetHorizon(rangeEnd)
	mg.FastForward(rangeStart.Add(-m.MaxDuration()))

	budget := e.lookupBudget()
	for inspected := 0; mg.Valid(); mg.Next() {
		occ := mg.Occurrence()
		if !occ.Start.Before(rangeEnd) {
			break
		}
		if occ.End.After(rangeStart) || !occ.Start.Before(rangeStart) {
			return true, nil
		}
		inspected++
		if inspected >= budget {
			return false, newError(ErrBudgetExhausted, "no overlapping occurrence among the first %d inspected", budget)
		}
	}
	return false, mg.Err()
}

func (e *Engine) lookupBudget() int {
	if e.config.MaxLookupOccurrences > 0 {
		return e.config.MaxLookupOccurrences
	}
	return DefaultEngineConfig.MaxLookupOccurrences
}

// FirstOccurrence returns the first occurrence of m starting at or after
// t. It fails with ErrNoInstances when m provably has none, and with
// ErrBudgetExhausted when the rule search gave up.
func (e *Engine) FirstOccurrence(m *MasterEvent, t time.Time) (Occurrence, error) {
	mg, err := NewMerger(m)
	if err != nil {
		return Occurrence{}, err
	}
	mg.FastForward(t)
	if mg.Valid() {
		return mg.Occurrence(), nil
	}
	if err := mg.Err(); err != nil {
		e.logLimit(err, "first_occurrence", t, time.Time{})
		return Occurrence{}, err
	}
	return Occurrence{}, newError(ErrNoInstances, "no occurrence at or after %s", t.Format(time.RFC3339))
}

// OccurrenceAt returns the occurrence whose RECURRENCE-ID is rid, which is
// the override when one exists. It fails with ErrNoInstances when rid is
// not an occurrence of m or is excluded.
func (e *Engine) OccurrenceAt(m *MasterEvent, rid time.Time) (Occurrence, error) {
	mg, err := NewMerger(m)
	if err != nil {
		return Occurrence{}, err
	}
	if occ, ok := mg.lookup(rid); ok {
		return occ, nil
	}
	return Occurrence{}, newError(ErrNoInstances, "%s is not an occurrence", rid.Format(time.RFC3339))
}
