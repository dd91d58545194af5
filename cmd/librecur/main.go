// Command librecur expands the recurring events of an iCalendar file into
// standalone instances, or summarizes them as free/busy time.
package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/emersion/go-ical"
	"github.com/spf13/cobra"

	"github.com/cyp0633/librecur/freebusy"
	"github.com/cyp0633/librecur/recurrence"
)

const (
	productID    = "-//librecur//librecur CLI//EN"
	defaultRange = 30 * 24 * time.Hour
)

type options struct {
	configPath   string
	timezone     string
	from         string
	to           string
	maxInstances int
	verbose      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "librecur",
		Short:        "Expand recurring iCalendar events",
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "engine configuration YAML file")
	flags.StringVar(&opts.timezone, "tz", "UTC", "zone for floating times and range bounds")
	flags.StringVar(&opts.from, "from", "", "range start (RFC 3339, local date-time or date; default today)")
	flags.StringVar(&opts.to, "to", "", "range end, exclusive (default 30 days after --from)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log debug records to stderr")

	expand := &cobra.Command{
		Use:   "expand [file.ics]",
		Short: "Print every instance starting in the range as a VCALENDAR",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExpand(cmd, opts, args)
		},
	}
	expand.Flags().IntVar(&opts.maxInstances, "max", 0, "instance ceiling per event (default from config)")

	busy := &cobra.Command{
		Use:   "freebusy [file.ics]",
		Short: "Print the busy time in the range as a VFREEBUSY",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFreeBusy(cmd, opts, args)
		},
	}

	root.AddCommand(expand, busy)
	return root
}

// session holds what both subcommands need after flag parsing.
type session struct {
	engine    *recurrence.Engine
	logger    *slog.Logger
	events    []*recurrence.MasterEvent
	timezones []*ical.Component
	from      time.Time
	to        time.Time
}

func newSession(cmd *cobra.Command, opts *options, args []string) (*session, error) {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	loc, err := time.LoadLocation(opts.timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid --tz: %w", err)
	}
	from, to, err := parseRange(opts.from, opts.to, loc, time.Now())
	if err != nil {
		return nil, err
	}

	config := recurrence.DefaultEngineConfig
	if opts.configPath != "" {
		if config, err = recurrence.LoadEngineConfig(opts.configPath); err != nil {
			return nil, err
		}
	}

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, fmt.Errorf("failed to open calendar: %w", err)
		}
		defer f.Close()
		in = f
	}
	cal, err := readCalendar(in)
	if err != nil {
		return nil, err
	}
	events, err := recurrence.MasterEventsFromCalendar(cal, loc)
	if err != nil {
		return nil, err
	}
	logger.Debug("loaded calendar", "events", len(events), "from", from, "to", to)

	var timezones []*ical.Component
	for _, child := range cal.Children {
		if child.Name == ical.CompTimezone {
			timezones = append(timezones, child)
		}
	}

	return &session{
		engine:    recurrence.NewEngineWithConfig(config, recurrence.WithLogger(logger)),
		logger:    logger,
		events:    events,
		timezones: timezones,
		from:      from,
		to:        to,
	}, nil
}

func runExpand(cmd *cobra.Command, opts *options, args []string) error {
	s, err := newSession(cmd, opts, args)
	if err != nil {
		return err
	}
	defer s.engine.Close()

	expandOpts := recurrence.ExpandOptions{MaxInstances: opts.maxInstances}
	if expandOpts.MaxInstances == 0 {
		expandOpts.MaxInstances = s.engine.Config().MaxInstances
	}

	var instances []recurrence.Instance
	for _, m := range s.events {
		got, err := s.engine.ExpandWithOptions(m, s.from, s.to, expandOpts)
		if err != nil {
			return fmt.Errorf("failed to expand %s: %w", uidOf(m), err)
		}
		instances = append(instances, got...)
	}
	slices.SortStableFunc(instances, func(a, b recurrence.Instance) int {
		return a.Start.Compare(b.Start)
	})

	cal := instancesCalendar(instances, s.timezones)
	if cal == nil {
		// A VCALENDAR needs at least one component, so an empty range prints nothing.
		s.logger.Debug("no instances in range", "from", s.from, "to", s.to)
		return nil
	}
	return writeCalendar(cmd.OutOrStdout(), cal)
}

func runFreeBusy(cmd *cobra.Command, opts *options, args []string) error {
	s, err := newSession(cmd, opts, args)
	if err != nil {
		return err
	}
	defer s.engine.Close()

	calc := freebusy.New(s.engine, freebusy.WithLogger(s.logger))
	periods, err := calc.Busy(s.events, s.from, s.to)
	if err != nil {
		return err
	}
	return writeCalendar(cmd.OutOrStdout(), calc.Calendar(periods, s.from, s.to))
}

// parseRange resolves the --from and --to flags. Values without a zone are
// read in loc; an empty --from means the start of today.
func parseRange(fromValue, toValue string, loc *time.Location, now time.Time) (from, to time.Time, err error) {
	if fromValue == "" {
		y, m, d := now.In(loc).Date()
		from = time.Date(y, m, d, 0, 0, 0, 0, loc)
	} else if from, err = parseTime(fromValue, loc); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
	}

	if toValue == "" {
		to = from.Add(defaultRange)
	} else if to, err = parseTime(toValue, loc); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to %s is before --from %s", toValue, fromValue)
	}
	return from, to, nil
}

func parseTime(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", value)
}

func readCalendar(r io.Reader) (*ical.Calendar, error) {
	cal, err := ical.NewDecoder(r).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to decode calendar: %w", err)
	}
	return cal, nil
}

func writeCalendar(w io.Writer, cal *ical.Calendar) error {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// instancesCalendar wraps instances and the input's VTIMEZONEs in a
// VCALENDAR. It returns nil when no instance has a component.
func instancesCalendar(instances []recurrence.Instance, timezones []*ical.Component) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	for _, inst := range instances {
		if inst.Component == nil {
			continue
		}
		// Ensure DTSTAMP is present
		if inst.Component.Props.Get(ical.PropDateTimeStamp) == nil {
			inst.Component.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
		}
		cal.Children = append(cal.Children, inst.Component)
	}
	if len(cal.Children) == 0 {
		return nil
	}
	cal.Children = append(slices.Clone(timezones), cal.Children...)
	return cal
}

func uidOf(m *recurrence.MasterEvent) string {
	if m.Component != nil {
		if uid, err := m.Component.Props.Text(ical.PropUID); err == nil && uid != "" {
			return uid
		}
	}
	return "event at " + m.Start.Format(time.RFC3339)
}
