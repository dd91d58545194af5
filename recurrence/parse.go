package recurrence

import (
	"strconv"
	"strings"
	"time"

	"github.com/samber/mo"
)

// ParseRule parses the value of an RRULE property, with or without the
// "RRULE:" prefix. Floating and date-only UNTIL values are interpreted in
// loc (UTC when nil); a date-only UNTIL covers the whole day.
func ParseRule(value string, loc *time.Location) (Rule, error) {
	if loc == nil {
		loc = time.UTC
	}
	value = strings.TrimSpace(value)
	if len(value) >= 6 && strings.EqualFold(value[:6], "RRULE:") {
		value = value[6:]
	}

	rule := Rule{Interval: 1, WeekStart: time.Monday}
	seen := make(map[string]bool)
	hasFreq := false

	for _, part := range strings.Split(value, ";") {
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return Rule{}, newError(ErrInvalidRule, "malformed rule part %q", part)
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		if seen[key] {
			return Rule{}, newError(ErrInvalidRule, "duplicate rule part %s", key)
		}
		seen[key] = true

		var err error
		switch key {
		case "FREQ":
			rule.Freq, err = parseFrequency(val)
			hasFreq = true
		case "INTERVAL":
			rule.Interval, err = parseInt(key, val)
		case "COUNT":
			var n int
			n, err = parseInt(key, val)
			rule.Count = mo.Some(n)
		case "UNTIL":
			var t time.Time
			t, err = parseUntil(val, loc)
			rule.Until = mo.Some(t)
		case "WKST":
			rule.WeekStart, err = parseWeekday(val)
		case "BYSECOND":
			rule.BySecond, err = parseIntList(key, val)
		case "BYMINUTE":
			rule.ByMinute, err = parseIntList(key, val)
		case "BYHOUR":
			rule.ByHour, err = parseIntList(key, val)
		case "BYDAY":
			rule.ByDay, err = parseByDay(val)
		case "BYMONTHDAY":
			rule.ByMonthDay, err = parseIntList(key, val)
		case "BYYEARDAY":
			rule.ByYearDay, err = parseIntList(key, val)
		case "BYWEEKNO":
			rule.ByWeekNo, err = parseIntList(key, val)
		case "BYMONTH":
			rule.ByMonth, err = parseIntList(key, val)
		case "BYSETPOS":
			rule.BySetPos, err = parseIntList(key, val)
		default:
			if !strings.HasPrefix(key, "X-") {
				err = newError(ErrInvalidRule, "unknown rule part %s", key)
			}
		}
		if err != nil {
			return Rule{}, err
		}
	}

	if !hasFreq {
		return Rule{}, newError(ErrInvalidRule, "missing FREQ")
	}
	if err := rule.Validate(); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

func parseFrequency(s string) (Frequency, error) {
	s = strings.ToUpper(s)
	for f, name := range frequencyNames {
		if name == s {
			return Frequency(f), nil
		}
	}
	return 0, newError(ErrInvalidRule, "unknown frequency %q", s)
}

func parseWeekday(s string) (time.Weekday, error) {
	s = strings.ToUpper(s)
	for i, name := range weekdayNames {
		if name == s {
			return time.Weekday(i), nil
		}
	}
	return 0, newError(ErrInvalidRule, "unknown weekday %q", s)
}

func parseInt(key, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &Error{Type: ErrInvalidRule, Message: "bad " + key + " value " + strconv.Quote(s), Err: err}
	}
	return n, nil
}

func parseIntList(key, s string) ([]int, error) {
	fields := strings.Split(s, ",")
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := parseInt(key, strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func parseByDay(s string) ([]WeekdayNum, error) {
	fields := strings.Split(s, ",")
	out := make([]WeekdayNum, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if len(f) < 2 {
			return nil, newError(ErrInvalidRule, "malformed BYDAY entry %q", f)
		}
		day, err := parseWeekday(f[len(f)-2:])
		if err != nil {
			return nil, err
		}
		wd := WeekdayNum{Weekday: day}
		if prefix := f[:len(f)-2]; prefix != "" {
			n, err := strconv.Atoi(prefix)
			if err != nil || n == 0 {
				return nil, newError(ErrInvalidRule, "malformed BYDAY ordinal %q", f)
			}
			wd.N = n
		}
		out = append(out, wd)
	}
	return out, nil
}

func parseUntil(s string, loc *time.Location) (time.Time, error) {
	var (
		t   time.Time
		err error
	)
	switch {
	case strings.HasSuffix(s, "Z"):
		t, err = time.Parse("20060102T150405Z", s)
	case strings.Contains(s, "T"):
		t, err = time.ParseInLocation("20060102T150405", s, loc)
	default:
		t, err = time.ParseInLocation("20060102", s, loc)
		if err == nil {
			t = time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, loc)
		}
	}
	if err != nil {
		return time.Time{}, &Error{Type: ErrInvalidRule, Message: "bad UNTIL value " + strconv.Quote(s), Err: err}
	}
	return t, nil
}
