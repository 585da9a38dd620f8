package domain

import (
	"fmt"
	"time"
)

// Region is an inclusive latitude/longitude bounding box in degrees.
type Region struct {
	LatMin float64
	LatMax float64
	LonMin float64 // Longitude in the -180..180 convention.
	LonMax float64
}

// Validate checks that the bounds are ordered and inside the globe.
func (r Region) Validate() error {
	if r.LatMin > r.LatMax {
		return fmt.Errorf("lat_min %.4f must not exceed lat_max %.4f", r.LatMin, r.LatMax)
	}
	if r.LonMin > r.LonMax {
		return fmt.Errorf("lon_min %.4f must not exceed lon_max %.4f", r.LonMin, r.LonMax)
	}
	if r.LatMin < -90 || r.LatMax > 90 {
		return fmt.Errorf("latitude must be between -90 and 90")
	}
	if r.LonMin < -180 || r.LonMax > 180 {
		return fmt.Errorf("longitude must be between -180 and 180")
	}
	return nil
}

// ContainsLat reports whether lat lies inside the latitude bounds.
func (r Region) ContainsLat(lat float64) bool {
	return lat >= r.LatMin && lat <= r.LatMax
}

// ContainsLon reports whether lon lies inside the longitude bounds.
func (r Region) ContainsLon(lon float64) bool {
	return lon >= r.LonMin && lon <= r.LonMax
}

// TimeRange is an inclusive date range. End covers the whole end day.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// dateLayout is the YYYY-MM-DD form used throughout configuration.
const dateLayout = "2006-01-02"

// ParseTimeRange parses two YYYY-MM-DD dates into a TimeRange.
func ParseTimeRange(start, end string) (TimeRange, error) {
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return TimeRange{}, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return TimeRange{}, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	tr := TimeRange{Start: s.UTC(), End: e.UTC()}
	if err := tr.Validate(); err != nil {
		return TimeRange{}, err
	}
	return tr, nil
}

// Validate checks that the range is not inverted.
func (tr TimeRange) Validate() error {
	if tr.End.Before(tr.Start) {
		return fmt.Errorf("end date %s is before start date %s", tr.End.Format(dateLayout), tr.Start.Format(dateLayout))
	}
	return nil
}

// Contains reports whether t falls inside the range. Label selection is
// inclusive of the entire end day, matching date-string slicing.
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && t.Before(tr.endExclusive())
}

func (tr TimeRange) endExclusive() time.Time {
	return tr.End.AddDate(0, 0, 1)
}

// Years lists every calendar year touched by the range.
func (tr TimeRange) Years() []int {
	years := make([]int, 0, tr.End.Year()-tr.Start.Year()+1)
	for y := tr.Start.Year(); y <= tr.End.Year(); y++ {
		years = append(years, y)
	}
	return years
}

// StartDate returns the start date as YYYY-MM-DD.
func (tr TimeRange) StartDate() string { return tr.Start.Format(dateLayout) }

// EndDate returns the end date as YYYY-MM-DD.
func (tr TimeRange) EndDate() string { return tr.End.Format(dateLayout) }
