// Package calendar implements business-day arithmetic over a configurable
// set of weekend days and holidays.
package calendar

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Calendar shifts dates by working days.
type Calendar interface {
	// AddBusinessDays returns from moved forward by n working days, keeping
	// the time of day. Non-positive n returns from unchanged.
	AddBusinessDays(from time.Time, n int) time.Time

	// IsBusinessDay reports whether the date of t is a working day.
	IsBusinessDay(t time.Time) bool
}

// ErrInvalidCalendar is returned when a calendar definition cannot be used.
var ErrInvalidCalendar = errors.New("invalid calendar")

const dateLayout = "2006-01-02"

// Holiday is a named non-working date.
type Holiday struct {
	Date time.Time
	Name string
}

// BusinessCalendar treats weekend days and listed holidays as non-working.
type BusinessCalendar struct {
	weekend  map[time.Weekday]bool
	holidays map[string]string
}

var _ Calendar = (*BusinessCalendar)(nil)

// New creates a calendar. A nil weekend defaults to Saturday and Sunday.
func New(weekend []time.Weekday, holidays []Holiday) (*BusinessCalendar, error) {
	if weekend == nil {
		weekend = []time.Weekday{time.Saturday, time.Sunday}
	}
	c := &BusinessCalendar{
		weekend:  make(map[time.Weekday]bool, len(weekend)),
		holidays: make(map[string]string, len(holidays)),
	}
	for _, d := range weekend {
		c.weekend[d] = true
	}
	if len(c.weekend) >= 7 {
		return nil, fmt.Errorf("%w: every day of the week is a weekend day", ErrInvalidCalendar)
	}
	for _, h := range holidays {
		c.holidays[h.Date.Format(dateLayout)] = h.Name
	}
	return c, nil
}

// Default returns a Saturday/Sunday weekend calendar with no holidays.
func Default() *BusinessCalendar {
	c, _ := New(nil, nil)
	return c
}

// IsBusinessDay implements Calendar.
func (c *BusinessCalendar) IsBusinessDay(t time.Time) bool {
	if c.weekend[t.Weekday()] {
		return false
	}
	_, holiday := c.holidays[t.Format(dateLayout)]
	return !holiday
}

// HolidayName returns the holiday falling on t, if any.
func (c *BusinessCalendar) HolidayName(t time.Time) (string, bool) {
	name, ok := c.holidays[t.Format(dateLayout)]
	return name, ok
}

// AddBusinessDays implements Calendar.
func (c *BusinessCalendar) AddBusinessDays(from time.Time, n int) time.Time {
	d := from
	for n > 0 {
		d = d.AddDate(0, 0, 1)
		if c.IsBusinessDay(d) {
			n--
		}
	}
	return d
}

// BusinessDaysBetween counts working days in (from, to].
func (c *BusinessCalendar) BusinessDaysBetween(from, to time.Time) int {
	count := 0
	for d := from.AddDate(0, 0, 1); !d.After(to); d = d.AddDate(0, 0, 1) {
		if c.IsBusinessDay(d) {
			count++
		}
	}
	return count
}

type fileFormat struct {
	Weekend  []string `yaml:"weekend"`
	Holidays []struct {
		Date string `yaml:"date"`
		Name string `yaml:"name"`
	} `yaml:"holidays"`
}

// Parse reads a YAML calendar definition:
//
//	weekend: [saturday, sunday]
//	holidays:
//	  - date: 2025-12-25
//	    name: Christmas Day
func Parse(data []byte) (*BusinessCalendar, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCalendar, err)
	}

	var weekend []time.Weekday
	if f.Weekend != nil {
		weekend = make([]time.Weekday, 0, len(f.Weekend))
		for _, name := range f.Weekend {
			wd, err := parseWeekday(name)
			if err != nil {
				return nil, err
			}
			weekend = append(weekend, wd)
		}
	}

	holidays := make([]Holiday, 0, len(f.Holidays))
	for _, h := range f.Holidays {
		date, err := time.Parse(dateLayout, h.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: holiday %q: %v", ErrInvalidCalendar, h.Name, err)
		}
		holidays = append(holidays, Holiday{Date: date, Name: h.Name})
	}

	return New(weekend, holidays)
}

// LoadFile reads a YAML calendar definition from disk.
func LoadFile(path string) (*BusinessCalendar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calendar file: %w", err)
	}
	return Parse(data)
}

func parseWeekday(name string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), strings.TrimSpace(name)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown weekday %q", ErrInvalidCalendar, name)
}
