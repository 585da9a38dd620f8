package domain

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// TimeDim is the dimension name of the time axis in the common convention.
const TimeDim = "time"

// Common dimension names every loader output is mapped to.
const (
	LatDim = "latitude"
	LonDim = "longitude"
)

var (
	latCandidates = []string{"lat", "latitude", "Latitude", "LATITUDE"}
	lonCandidates = []string{"lon", "longitude", "Longitude", "LONGITUDE"}
)

// DetectSpatialCoords returns the latitude and longitude coordinate names.
func DetectSpatialCoords(ds *Dataset) (lat, lon string, err error) {
	for _, c := range latCandidates {
		if ds.HasCoord(c) {
			lat = c
			break
		}
	}
	for _, c := range lonCandidates {
		if ds.HasCoord(c) {
			lon = c
			break
		}
	}
	if lat == "" || lon == "" {
		return "", "", fmt.Errorf("%s: %w (tried %v and %v)", ds.Source, ErrCoordinatesNotFound, latCandidates, lonCandidates)
	}
	return lat, lon, nil
}

// IsLatName reports whether name is one of the recognised latitude names.
func IsLatName(name string) bool { return contains(latCandidates, name) }

// IsLonName reports whether name is one of the recognised longitude names.
func IsLonName(name string) bool { return contains(lonCandidates, name) }

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// WrapLon180 maps a longitude in degrees into [-180, 180).
func WrapLon180(lon float64) float64 {
	return math.Mod(math.Mod(lon+180, 360)+360, 360) - 180
}

// NormalizeLongitude converts a 0..360 longitude axis to -180..180 and
// re-sorts ascending. Axes already in convention are returned as is.
func NormalizeLongitude(ds *Dataset, lon string) (*Dataset, error) {
	c, ok := ds.Coords[lon]
	if !ok {
		return nil, fmt.Errorf("longitude %q: %w", lon, ErrCoordinatesNotFound)
	}
	if c.Len() == 0 || floats.Max(c.Values) <= 180 {
		return ds.shallow(), nil
	}
	wrapped := make([]float64, c.Len())
	for i, x := range c.Values {
		wrapped[i] = WrapLon180(x)
	}
	out := ds.shallow()
	nc := *c
	nc.Values = wrapped
	out.Coords[lon] = &nc
	return out.SortBy(lon)
}

// ensureAscending sorts dim ascending when its first label exceeds its last.
func ensureAscending(ds *Dataset, dim string) (*Dataset, error) {
	c, ok := ds.Coords[dim]
	if !ok {
		return nil, fmt.Errorf("%q: %w", dim, ErrCoordinatesNotFound)
	}
	if c.Len() > 1 && c.Values[0] > c.Values[c.Len()-1] {
		return ds.SortBy(dim)
	}
	return ds, nil
}

// SpatialSubset detects coordinates, normalizes longitude, orders latitude
// ascending and keeps the inclusive region window.
func SpatialSubset(ds *Dataset, r Region) (*Dataset, error) {
	lat, lon, err := DetectSpatialCoords(ds)
	if err != nil {
		return nil, err
	}
	ds, err = NormalizeLongitude(ds, lon)
	if err != nil {
		return nil, err
	}
	return selectWindow(ds, r, lat, lon)
}

// SpatialSubsetNamed selects the region on explicitly named coordinates
// without longitude normalization.
func SpatialSubsetNamed(ds *Dataset, r Region, lat, lon string) (*Dataset, error) {
	if !ds.HasCoord(lat) || !ds.HasCoord(lon) {
		return nil, fmt.Errorf("%s: %w (expected %s/%s)", ds.Source, ErrCoordinatesNotFound, lat, lon)
	}
	return selectWindow(ds, r, lat, lon)
}

func selectWindow(ds *Dataset, r Region, lat, lon string) (*Dataset, error) {
	ds, err := ensureAscending(ds, lat)
	if err != nil {
		return nil, err
	}
	ds, err = ds.SelectRange(lat, r.LatMin, r.LatMax)
	if err != nil {
		return nil, err
	}
	return ds.SelectRange(lon, r.LonMin, r.LonMax)
}

// TemporalSubset keeps time labels inside the inclusive range.
func TemporalSubset(ds *Dataset, tr TimeRange) (*Dataset, error) {
	c, ok := ds.Coords[TimeDim]
	if !ok || !c.IsTime() {
		return nil, fmt.Errorf("%s: %w", ds.Source, ErrTimeCoordinateNotFound)
	}
	idx := make([]int, 0, c.Len())
	for i, t := range c.Times {
		if tr.Contains(t) {
			idx = append(idx, i)
		}
	}
	return ds.Take(TimeDim, idx), nil
}
