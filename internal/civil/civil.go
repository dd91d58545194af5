// Package civil implements proleptic Gregorian calendar arithmetic on day
// numbers, where day 0 is 1970-01-01.
package civil

import "time"

// FloorDiv divides a by b rounding toward negative infinity. b must be positive.
func FloorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

// FloorMod returns the non-negative remainder of a divided by b. b must be positive.
func FloorMod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// DaysFromCivil returns the day number of y-m-d.
func DaysFromCivil(y int, m time.Month, d int) int64 {
	yy := int64(y)
	if m <= time.February {
		yy--
	}
	era := FloorDiv(yy, 400)
	yoe := yy - era*400
	mp := (int64(m) + 9) % 12
	doy := (153*mp+2)/5 + int64(d) - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 719468
}

// FromDays is the inverse of DaysFromCivil.
func FromDays(n int64) (int, time.Month, int) {
	z := n + 719468
	era := FloorDiv(z, 146097)
	doe := z - era*146097
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365
	y := yoe + era*400
	doy := doe - (365*yoe + yoe/4 - yoe/100)
	mp := (5*doy + 2) / 153
	d := doy - (153*mp+2)/5 + 1
	m := mp + 3
	if m > 12 {
		m -= 12
	}
	if m <= 2 {
		y++
	}
	return int(y), time.Month(m), int(d)
}

// Weekday returns the day of the week of day number n.
func Weekday(n int64) time.Weekday {
	// 1970-01-01 was a Thursday.
	return time.Weekday(FloorMod(n+4, 7))
}

// IsLeap reports whether y is a leap year.
func IsLeap(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

// YearLength returns the number of days in year y.
func YearLength(y int) int {
	if IsLeap(y) {
		return 366
	}
	return 365
}

var monthDays = [...]int{0, 31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// DaysIn returns the number of days in month m of year y.
func DaysIn(y int, m time.Month) int {
	if m == time.February && IsLeap(y) {
		return 29
	}
	return monthDays[m]
}

// MaxDaysIn returns the largest number of days month m has in any year.
func MaxDaysIn(m time.Month) int {
	if m == time.February {
		return 29
	}
	return monthDays[m]
}

// YearDay returns the 1-based ordinal of y-m-d within its year.
func YearDay(y int, m time.Month, d int) int {
	return int(DaysFromCivil(y, m, d)-DaysFromCivil(y, time.January, 1)) + 1
}

// WeekOneStart returns the day number on which week 1 of year y begins.
// Week 1 is the first week starting on wkst that holds at least four days
// of the year.
func WeekOneStart(y int, wkst time.Weekday) int64 {
	jan1 := DaysFromCivil(y, time.January, 1)
	off := FloorMod(int64(Weekday(jan1))-int64(wkst), 7)
	start := jan1 - off
	if off > 3 {
		start += 7
	}
	return start
}

// Week returns the week-numbering year of day n, its week number within that
// year, and the number of weeks the week-numbering year has.
func Week(n int64, wkst time.Weekday) (year, week, weeks int) {
	year, _, _ = FromDays(n)
	start := WeekOneStart(year, wkst)
	next := WeekOneStart(year+1, wkst)
	switch {
	case n < start:
		year--
		next = start
		start = WeekOneStart(year, wkst)
	case n >= next:
		year++
		start = next
		next = WeekOneStart(year+1, wkst)
	}
	return year, int((n-start)/7) + 1, int((next - start) / 7)
}

// Nth returns the ordinal of the weekday at 0-based position idx within a
// range of length days, counted from the start (1, 2, ...) and from the end
// (-1, -2, ...). "The 2nd Tuesday" and "the 3rd-to-last Tuesday" of a month
// are both answered with the month's length and the day's index.
func Nth(idx, length int) (first, last int) {
	return idx/7 + 1, -((length-1-idx)/7 + 1)
}
