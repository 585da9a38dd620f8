// Package csv exports the merged grid as a long-format CSV table and reads
// it back.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.ngs.io/ph-pollution/internal/domain"
)

var gridDims = []string{domain.TimeDim, domain.LatDim, domain.LonDim}

// Row is one (time, latitude, longitude) cell of the table.
type Row struct {
	Time      time.Time
	Latitude  float64
	Longitude float64
	Values    map[string]float64
}

// WriteFile writes ds to path, replacing any existing file only once the
// table is complete. Cells where every variable is missing are skipped when
// skipEmpty is set.
func WriteFile(path string, ds *domain.Dataset, skipEmpty bool) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".grid-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temporary CSV: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if err := Write(tmp, ds, skipEmpty); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary CSV: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move CSV into place: %w", err)
	}
	return nil
}

// Write encodes every variable of ds laid out on (time, latitude, longitude).
func Write(w io.Writer, ds *domain.Dataset, skipEmpty bool) error {
	times, lats, lons, err := axes(ds)
	if err != nil {
		return err
	}
	names := ds.VarNames()
	vars := make([]*domain.Variable, len(names))
	for i, n := range names {
		v := ds.Vars[n]
		if !equalDims(v.Dims, gridDims) {
			return fmt.Errorf("%w: variable %s has dims %v, expected %v", domain.ErrShape, n, v.Dims, gridDims)
		}
		vars[i] = v
	}

	cw := csv.NewWriter(w)
	header := append([]string{domain.TimeDim, domain.LatDim, domain.LonDim}, names...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	record := make([]string, len(header))
	for t := range times.Times {
		for i, lat := range lats.Values {
			for j, lon := range lons.Values {
				empty := true
				for k, v := range vars {
					x := v.At(t, i, j)
					record[3+k] = formatValue(x)
					if !math.IsNaN(x) {
						empty = false
					}
				}
				if skipEmpty && empty {
					continue
				}
				record[0] = times.Times[t].Format(time.RFC3339)
				record[1] = strconv.FormatFloat(lat, 'f', -1, 64)
				record[2] = strconv.FormatFloat(lon, 'f', -1, 64)
				if err := cw.Write(record); err != nil {
					return fmt.Errorf("failed to write CSV record: %w", err)
				}
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

// ReadFile loads a table written by WriteFile.
func ReadFile(path string) ([]Row, error) {
	_, rows, err := readTable(path)
	return rows, err
}

// ReadDataset rebuilds the (time, latitude, longitude) grid from a table
// written by WriteFile. Cells missing from the table are NaN.
func ReadDataset(path string) (*domain.Dataset, error) {
	names, rows, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s has no rows", domain.ErrShape, path)
	}

	seen := make(map[time.Time]bool)
	var times []time.Time
	latVals := make([]float64, 0, len(rows))
	lonVals := make([]float64, 0, len(rows))
	for _, r := range rows {
		if t := r.Time.UTC(); !seen[t] {
			seen[t] = true
			times = append(times, t)
		}
		latVals = append(latVals, r.Latitude)
		lonVals = append(lonVals, r.Longitude)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	lats, latIdx := uniqueSorted(latVals)
	lons, lonIdx := uniqueSorted(lonVals)
	timeIdx := make(map[time.Time]int, len(times))
	for i, t := range times {
		timeIdx[t] = i
	}

	ds := domain.NewDataset()
	ds.Source = path
	ds.AddCoord(domain.NewTimeCoord(domain.TimeDim, times))
	ds.AddCoord(domain.NewCoord(domain.LatDim, lats))
	ds.AddCoord(domain.NewCoord(domain.LonDim, lons))

	shape := []int{len(times), len(lats), len(lons)}
	for _, n := range names {
		data := make([]float64, shape[0]*shape[1]*shape[2])
		for i := range data {
			data[i] = math.NaN()
		}
		for _, r := range rows {
			k := (timeIdx[r.Time.UTC()]*shape[1]+latIdx[r.Latitude])*shape[2] + lonIdx[r.Longitude]
			data[k] = r.Values[n]
		}
		v, err := domain.NewVariable(n, gridDims, shape, data)
		if err != nil {
			return nil, err
		}
		if err := ds.AddVar(v); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func uniqueSorted(values []float64) ([]float64, map[float64]int) {
	idx := make(map[float64]int)
	out := make([]float64, 0)
	for _, v := range values {
		if _, ok := idx[v]; !ok {
			idx[v] = 0
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	for i, v := range out {
		idx[v] = i
	}
	return out, idx
}

func readTable(path string) ([]string, []Row, error) {
	//nolint:gosec // G304: Path comes from configuration.
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open CSV file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) < len(gridDims) {
		return nil, nil, fmt.Errorf("invalid CSV header: expected at least %v, got %v", gridDims, header)
	}
	for i, h := range gridDims {
		if header[i] != h {
			return nil, nil, fmt.Errorf("invalid CSV header: expected column %d to be %s, got %s", i, h, header[i])
		}
	}
	names := header[len(gridDims):]

	rows := make([]Row, 0)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		row, err := parseRow(record, names)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, row)
	}
	return names, rows, nil
}

func parseRow(record, names []string) (Row, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(record[0]))
	if err != nil {
		return Row{}, fmt.Errorf("invalid time %q: %w", record[0], err)
	}
	lat, err := strconv.ParseFloat(record[1], 64)
	if err != nil {
		return Row{}, fmt.Errorf("invalid latitude %q: %w", record[1], err)
	}
	lon, err := strconv.ParseFloat(record[2], 64)
	if err != nil {
		return Row{}, fmt.Errorf("invalid longitude %q: %w", record[2], err)
	}
	row := Row{Time: t, Latitude: lat, Longitude: lon, Values: make(map[string]float64, len(names))}
	for k, n := range names {
		s := record[3+k]
		if s == "" {
			row.Values[n] = math.NaN()
			continue
		}
		x, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Row{}, fmt.Errorf("invalid %s value %q: %w", n, s, err)
		}
		row.Values[n] = x
	}
	return row, nil
}

func axes(ds *domain.Dataset) (times, lats, lons *domain.Coord, err error) {
	times, ok := ds.Coords[domain.TimeDim]
	if !ok || !times.IsTime() {
		return nil, nil, nil, fmt.Errorf("%w: dataset has no time axis", domain.ErrTimeCoordinateNotFound)
	}
	lats, ok1 := ds.Coords[domain.LatDim]
	lons, ok2 := ds.Coords[domain.LonDim]
	if !ok1 || !ok2 {
		return nil, nil, nil, domain.ErrCoordinatesNotFound
	}
	return times, lats, lons, nil
}

func equalDims(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// formatValue writes missing values as empty cells.
func formatValue(x float64) string {
	if math.IsNaN(x) {
		return ""
	}
	return strconv.FormatFloat(x, 'g', -1, 64)
}
