package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// granuleIDPattern captures the MMYYYY token embedded in GranuleID attributes.
var granuleIDPattern = regexp.MustCompile(`_(\d{6})_`)

// attrTimeLayouts are tried in order when parsing time attributes.
var attrTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006/01/02",
	"20060102",
	"2006-01",
}

// ResolveTime determines a representative timestamp for one granule from, in
// order: its time coordinate, time_coverage_start, RangeBeginningDate, or a
// MMYYYY token in GranuleID.
func ResolveTime(ds *Dataset) (time.Time, error) {
	if c, ok := ds.Coords[TimeDim]; ok && c.IsTime() && c.Len() > 0 {
		return c.Times[0], nil
	}
	if s, ok := ds.Attrs.String("time_coverage_start"); ok {
		if t, err := ParseTimeAttr(s); err == nil {
			return t, nil
		}
	}
	if s, ok := ds.Attrs.String("RangeBeginningDate"); ok {
		if t, err := ParseTimeAttr(s); err == nil {
			return t, nil
		}
	}
	if s, ok := ds.Attrs.String("GranuleID"); ok {
		if m := granuleIDPattern.FindStringSubmatch(s); m != nil {
			if t, err := time.Parse("012006", m[1]); err == nil {
				return t.UTC(), nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("%s: %w", ds.Source, ErrTimeUnresolved)
}

// ParseTimeAttr parses an ISO-8601-like timestamp attribute into UTC.
func ParseTimeAttr(s string) (time.Time, error) {
	s = strings.TrimSpace(strings.Trim(s, "\x00"))
	for _, layout := range attrTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", s)
}

// DecodeCFTime converts numeric offsets with CF units ("days since
// 1970-01-01 00:00:00") into UTC times.
func DecodeCFTime(values []float64, units string) ([]time.Time, error) {
	parts := strings.SplitN(strings.TrimSpace(units), " since ", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("unsupported time units %q", units)
	}
	step, err := unitDuration(strings.ToLower(strings.TrimSpace(parts[0])))
	if err != nil {
		return nil, err
	}
	ref, err := parseCFReference(parts[1])
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(values))
	for i, v := range values {
		// Split into whole and fractional seconds to keep precision for large offsets.
		secs := v * step.Seconds()
		whole := int64(secs)
		frac := secs - float64(whole)
		out[i] = ref.Add(time.Duration(whole) * time.Second).Add(time.Duration(frac * float64(time.Second))).UTC()
	}
	return out, nil
}

// EncodeCFTime converts times into seconds since the Unix epoch.
func EncodeCFTime(times []time.Time) (values []float64, units string) {
	values = make([]float64, len(times))
	for i, t := range times {
		values[i] = float64(t.Unix())
	}
	return values, "seconds since 1970-01-01 00:00:00"
}

func unitDuration(unit string) (time.Duration, error) {
	switch unit {
	case "seconds", "second", "secs", "sec", "s":
		return time.Second, nil
	case "minutes", "minute", "mins", "min":
		return time.Minute, nil
	case "hours", "hour", "hrs", "hr", "h":
		return time.Hour, nil
	case "days", "day", "d":
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported time unit %q", unit)
	}
}

func parseCFReference(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	// Drop a trailing "UTC" or numeric zone of zero offset.
	for _, suffix := range []string{" UTC", " utc", " +00:00", " 00:00", "Z"} {
		s = strings.TrimSuffix(s, suffix)
	}
	// CF allows single-digit months/days ("1900-1-1 0:0:0").
	date, clock, _ := strings.Cut(s, " ")
	if strings.Contains(date, "T") {
		date, clock, _ = strings.Cut(date, "T")
	}
	ymd := strings.Split(date, "-")
	if len(ymd) != 3 {
		return time.Time{}, fmt.Errorf("invalid time reference %q", s)
	}
	nums := make([]int, 6)
	for i, p := range ymd {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid time reference %q: %w", s, err)
		}
		nums[i] = n
	}
	if clock != "" {
		hms := strings.Split(clock, ":")
		for i, p := range hms {
			if i > 2 {
				break
			}
			f, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return time.Time{}, fmt.Errorf("invalid time reference %q: %w", s, err)
			}
			nums[3+i] = int(f)
		}
	}
	return time.Date(nums[0], time.Month(nums[1]), nums[2], nums[3], nums[4], nums[5], 0, time.UTC), nil
}
