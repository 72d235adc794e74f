package delivery

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/outreach/internal/model"
)

// ParseClock parses an "HH:MM" time of day into minutes after midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// InWindow reports whether t, already in the campaign's zone, falls on
// an allowed weekday and inside the campaign's time-of-day window. The
// end minute is inclusive. A start later than the end wraps midnight.
// A window that fails to parse never matches.
func InWindow(c *model.Campaign, t time.Time) bool {
	days := c.AllowedDays
	if len(days) == 0 {
		days = model.DefaultWeekdays
	}
	if !days.Contains(t.Weekday()) {
		return false
	}

	start, err := ParseClock(c.WindowStart)
	if err != nil {
		return false
	}
	end, err := ParseClock(c.WindowEnd)
	if err != nil {
		return false
	}

	now := t.Hour()*60 + t.Minute()
	if start <= end {
		return now >= start && now <= end
	}
	return now >= start || now <= end
}

// StartOfDay returns local midnight of t's day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// locationCache resolves IANA zone names once per name.
type locationCache struct {
	fallback *time.Location
	zones    map[string]*time.Location
}

func newLocationCache(defaultZone string) (*locationCache, error) {
	lc := &locationCache{fallback: time.Local, zones: make(map[string]*time.Location)}
	if defaultZone != "" {
		loc, err := time.LoadLocation(defaultZone)
		if err != nil {
			return nil, fmt.Errorf("loading timezone %q: %w", defaultZone, err)
		}
		lc.fallback = loc
	}
	return lc, nil
}

// For returns the campaign's zone, or the fallback when it has none or
// its name does not resolve.
func (lc *locationCache) For(name string) (*time.Location, error) {
	if name == "" {
		return lc.fallback, nil
	}
	if loc, ok := lc.zones[name]; ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		lc.zones[name] = lc.fallback
		return lc.fallback, fmt.Errorf("loading timezone %q: %w", name, err)
	}
	lc.zones[name] = loc
	return loc, nil
}
