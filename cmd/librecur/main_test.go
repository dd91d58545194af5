package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCalendar = strings.Join([]string{
	"BEGIN:VCALENDAR",
	"VERSION:2.0",
	"PRODID:-//librecur//tests//EN",
	"BEGIN:VEVENT",
	"UID:standup@example.com",
	"DTSTAMP:20240101T000000Z",
	"DTSTART;TZID=Europe/Berlin:20240101T090000",
	"DTEND;TZID=Europe/Berlin:20240101T091500",
	"SUMMARY:Standup",
	"RRULE:FREQ=WEEKLY;BYDAY=MO,WE,FR",
	"EXDATE;TZID=Europe/Berlin:20240103T090000",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:standup@example.com",
	"DTSTAMP:20240101T000000Z",
	"RECURRENCE-ID;TZID=Europe/Berlin:20240105T090000",
	"DTSTART;TZID=Europe/Berlin:20240105T110000",
	"DTEND;TZID=Europe/Berlin:20240105T113000",
	"SUMMARY:Standup (late)",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:lunch@example.com",
	"DTSTAMP:20240101T000000Z",
	"DTSTART:20240102T120000",
	"DTEND:20240102T130000",
	"SUMMARY:Lunch",
	"END:VEVENT",
	"END:VCALENDAR",
	"",
}, "\r\n")

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func decode(t *testing.T, out string) *ical.Calendar {
	t.Helper()
	cal, err := ical.NewDecoder(strings.NewReader(out)).Decode()
	require.NoError(t, err)
	return cal
}

func TestExpandCommand(t *testing.T) {
	out, err := run(t, testCalendar, "expand", "--tz", "Europe/Berlin", "--from", "2024-01-01", "--to", "2024-01-08")
	require.NoError(t, err)

	cal := decode(t, out)
	var summaries []string
	var starts []time.Time
	for _, child := range cal.Children {
		require.Equal(t, ical.CompEvent, child.Name)
		assert.Nil(t, child.Props.Get(ical.PropRecurrenceRule))
		summary, err := child.Props.Text(ical.PropSummary)
		require.NoError(t, err)
		summaries = append(summaries, summary)
		start, err := child.Props.DateTime(ical.PropDateTimeStart, time.UTC)
		require.NoError(t, err)
		starts = append(starts, start)
	}

	// Monday, the floating lunch read in Berlin, and the moved Friday.
	assert.Equal(t, []string{"Standup", "Lunch", "Standup (late)"}, summaries)
	require.Len(t, starts, 3)
	assert.True(t, starts[0].Equal(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)))
	assert.True(t, starts[1].Equal(time.Date(2024, 1, 2, 11, 0, 0, 0, time.UTC)))
	assert.True(t, starts[2].Equal(time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)))
}

func TestExpandCommand_EmptyRange(t *testing.T) {
	out, err := run(t, testCalendar, "expand", "--from", "2023-01-01", "--to", "2023-02-01")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestExpandCommand_CopiesTimezones(t *testing.T) {
	berlin := strings.Join([]string{
		"BEGIN:VTIMEZONE",
		"TZID:Europe/Berlin",
		"BEGIN:STANDARD",
		"DTSTART:19701025T030000",
		"TZOFFSETFROM:+0200",
		"TZOFFSETTO:+0100",
		"RRULE:FREQ=YEARLY;BYMONTH=10;BYDAY=-1SU",
		"END:STANDARD",
		"BEGIN:DAYLIGHT",
		"DTSTART:19700329T020000",
		"TZOFFSETFROM:+0100",
		"TZOFFSETTO:+0200",
		"RRULE:FREQ=YEARLY;BYMONTH=3;BYDAY=-1SU",
		"END:DAYLIGHT",
		"END:VTIMEZONE",
		"BEGIN:VEVENT",
	}, "\r\n")
	input := strings.Replace(testCalendar, "BEGIN:VEVENT", berlin, 1)

	out, err := run(t, input, "expand", "--tz", "Europe/Berlin", "--from", "2024-01-01", "--to", "2024-01-08")
	require.NoError(t, err)

	cal := decode(t, out)
	require.Len(t, cal.Children, 4)
	tz := cal.Children[0]
	assert.Equal(t, ical.CompTimezone, tz.Name)
	tzid, err := tz.Props.Text(ical.PropTimezoneID)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", tzid)
	assert.Len(t, tz.Children, 2)
	for _, child := range cal.Children[1:] {
		assert.Equal(t, ical.CompEvent, child.Name)
	}

	// Without instances the zones alone are not printed.
	out, err = run(t, input, "expand", "--from", "2023-01-01", "--to", "2023-02-01")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestExpandCommand_FromFileWithLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calendar.ics")
	require.NoError(t, os.WriteFile(path, []byte(testCalendar), 0o600))

	_, err := run(t, "", "expand", path, "--from", "2024-01-01T00:00:00Z", "--to", "2024-03-01T00:00:00Z", "--max", "5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "standup@example.com")

	configPath := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("cache_enabled: false\nmax_instances: 3\n"), 0o600))
	_, err = run(t, "", "expand", path, "--config", configPath, "--from", "2024-01-01T00:00:00Z", "--to", "2024-03-01T00:00:00Z")
	require.Error(t, err)

	out, err := run(t, "", "expand", path, "--config", configPath, "--from", "2024-01-08T00:00:00Z", "--to", "2024-01-11T00:00:00Z")
	require.NoError(t, err)
	assert.Len(t, decode(t, out).Children, 2)
}

func TestFreeBusyCommand(t *testing.T) {
	out, err := run(t, testCalendar, "freebusy", "--tz", "Europe/Berlin", "--from", "2024-01-01", "--to", "2024-01-03")
	require.NoError(t, err)

	cal := decode(t, out)
	require.Len(t, cal.Children, 1)
	fb := cal.Children[0].Props.Get("FREEBUSY")
	require.NotNil(t, fb)
	assert.Equal(t, "20240101T080000Z/20240101T081500Z,20240102T110000Z/20240102T120000Z", fb.Value)
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{"bad from", testCalendar, []string{"expand", "--from", "someday"}},
		{"reversed range", testCalendar, []string{"expand", "--from", "2024-02-01", "--to", "2024-01-01"}},
		{"bad zone", testCalendar, []string{"freebusy", "--tz", "Mars/Olympus"}},
		{"not a calendar", "hello", []string{"expand", "--from", "2024-01-01"}},
		{"missing file", "", []string{"expand", filepath.Join(t.TempDir(), "nope.ics")}},
		{"missing config", testCalendar, []string{"expand", "--config", filepath.Join(t.TempDir(), "nope.yaml")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.stdin, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestParseRange(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	now := time.Date(2024, 6, 15, 20, 0, 0, 0, time.UTC) // already June 16 in Tokyo

	from, to, err := parseRange("", "", tokyo, now)
	require.NoError(t, err)
	assert.True(t, from.Equal(time.Date(2024, 6, 16, 0, 0, 0, 0, tokyo)))
	assert.Equal(t, defaultRange, to.Sub(from))

	from, to, err = parseRange("2024-01-01T09:30", "2024-01-01T10:00:00+09:00", tokyo, now)
	require.NoError(t, err)
	assert.True(t, from.Equal(time.Date(2024, 1, 1, 9, 30, 0, 0, tokyo)))
	assert.Equal(t, 30*time.Minute, to.Sub(from))
}
