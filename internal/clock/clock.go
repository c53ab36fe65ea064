package clock

import (
	"fmt"
	"time"
)

const (
	// DateLayout is the wire format for schedule dates.
	DateLayout = "2006-01-02"
	// TimeLayout is the wire format for times of day.
	TimeLayout = "15:04"
)

// Clock resolves calendar dates and local times of day into absolute
// instants in one canonical reference timezone. Internally everything is a
// time.Time; unix-millisecond conversion happens exactly once, at the
// realtime boundary, never by magnitude sniffing.
type Clock struct {
	loc *time.Location
}

// New creates a Clock for the named timezone. An empty name means UTC.
func New(timezone string) (*Clock, error) {
	if timezone == "" {
		return &Clock{loc: time.UTC}, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", timezone, err)
	}
	return &Clock{loc: loc}, nil
}

// MustUTC returns a UTC clock, for tests and defaults.
func MustUTC() *Clock {
	return &Clock{loc: time.UTC}
}

// Location returns the canonical reference timezone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Now returns the current instant.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// ResolveInterval resolves a schedule to a half-open [start, end) interval.
//
// endDate nil means single-day. startTime nil means the day starts at 00:00.
// endTime nil applies end-of-day semantics: 23:59:59 of the last date, so an
// all-day booking never touches the following day's 00:00 and adjacent
// ranges do not spuriously overlap. An explicit endTime refines the end
// instant to that time on the end date.
//
// The resolved end must be strictly after the resolved start.
func (c *Clock) ResolveInterval(startDate string, endDate, startTime, endTime *string) (time.Time, time.Time, error) {
	sd, err := c.parseDate(startDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	ed := sd
	if endDate != nil {
		ed, err = c.parseDate(*endDate)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		if ed.Before(sd) {
			return time.Time{}, time.Time{}, fmt.Errorf("end date %s is before start date %s", *endDate, startDate)
		}
	}

	start := sd
	if startTime != nil {
		start, err = c.atTime(sd, *startTime)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}

	var end time.Time
	if endTime != nil {
		end, err = c.atTime(ed, *endTime)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		end = ed.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
	}

	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end instant %s is not after start instant %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return start, end, nil
}

func (c *Clock) parseDate(d string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, d, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", d, err)
	}
	return t, nil
}

func (c *Clock) atTime(day time.Time, tod string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, tod, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time of day %q: %w", tod, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, c.loc), nil
}
