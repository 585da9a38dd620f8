package usecase

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.ngs.io/ph-pollution/internal/domain"
)

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// cube builds a (time, latitude, longitude) dataset with values fn(t, lat, lon).
func cube(t *testing.T, name string, times []time.Time, lats, lons []float64, fn func(k int, lat, lon float64) float64) *domain.Dataset {
	t.Helper()
	ds := domain.NewDataset()
	ds.AddCoord(domain.NewTimeCoord(domain.TimeDim, times))
	ds.AddCoord(domain.NewCoord(domain.LatDim, lats))
	ds.AddCoord(domain.NewCoord(domain.LonDim, lons))
	data := make([]float64, 0, len(times)*len(lats)*len(lons))
	for k := range times {
		for _, la := range lats {
			for _, lo := range lons {
				data = append(data, fn(k, la, lo))
			}
		}
	}
	v, err := domain.NewVariable(name, gridDims, []int{len(times), len(lats), len(lons)}, data)
	require.NoError(t, err)
	v.Attrs["units"] = name + "-units"
	require.NoError(t, ds.AddVar(v))
	return ds
}

func TestMerge_TwoByTwo(t *testing.T) {
	lats, lons := []float64{4, 21}, []float64{116, 127}
	ref := cube(t, "skt", []time.Time{month(2019, 1), month(2019, 2)}, lats, lons,
		func(k int, lat, lon float64) float64 { return float64(k) + 25 })
	no2 := cube(t, "NO2", []time.Time{month(2019, 1), month(2019, 3)}, []float64{0, 25}, []float64{110, 130},
		func(k int, lat, lon float64) float64 { return lat + lon + float64(k) })
	aod := cube(t, "AOD", []time.Time{month(2019, 2)}, lats, lons,
		func(_ int, lat, lon float64) float64 { return lat / 100 })

	out, err := Merge(ref, []Layer{
		{Name: "NO2", Data: no2},
		{Name: "AOD", Data: aod},
		{Name: "LST", Var: "skt", Data: ref},
	}, MergeOptions{})
	require.NoError(t, err)

	require.Equal(t, []string{"AOD", "LST", "NO2"}, out.VarNames())
	require.Equal(t, []time.Time{month(2019, 1), month(2019, 2), month(2019, 3)}, out.Coords[domain.TimeDim].Times)
	require.Equal(t, lats, out.Coords[domain.LatDim].Values)
	require.Equal(t, lons, out.Coords[domain.LonDim].Values)

	for _, name := range out.VarNames() {
		v := out.Vars[name]
		require.Equal(t, gridDims, v.Dims, name)
		require.Equal(t, []int{3, 2, 2}, v.Shape, name)
	}

	no2v := out.Vars["NO2"]
	require.InDelta(t, 120, no2v.At(0, 0, 0), 1e-9)
	require.InDelta(t, 148, no2v.At(0, 1, 1), 1e-9)
	require.True(t, math.IsNaN(no2v.At(1, 0, 0)), "missing time step must be NaN")
	require.InDelta(t, 121, no2v.At(2, 0, 0), 1e-9)
	require.Equal(t, "NO2-units", no2v.Attrs["units"])

	aodv := out.Vars["AOD"]
	require.True(t, math.IsNaN(aodv.At(0, 0, 0)))
	require.InDelta(t, 0.21, aodv.At(1, 1, 0), 1e-12)

	lst := out.Vars["LST"]
	require.Equal(t, 25.0, lst.At(0, 1, 1))
	require.Equal(t, 26.0, lst.At(1, 0, 0))
	require.True(t, math.IsNaN(lst.At(2, 0, 0)))
}

func TestMerge_NoExtrapolation(t *testing.T) {
	ref := cube(t, "skt", []time.Time{month(2019, 1)}, []float64{4, 21}, []float64{116, 127},
		func(int, float64, float64) float64 { return 0 })
	// Source covers only the southern half of the reference grid.
	src := cube(t, "NO2", []time.Time{month(2019, 1)}, []float64{0, 10}, []float64{110, 130},
		func(int, float64, float64) float64 { return 1 })

	out, err := Merge(ref, []Layer{{Name: "NO2", Data: src}}, MergeOptions{})
	require.NoError(t, err)
	v := out.Vars["NO2"]
	require.Equal(t, 1.0, v.At(0, 0, 0))
	require.True(t, math.IsNaN(v.At(0, 1, 0)), "targets outside the source hull must be NaN")
}

func TestMerge_NaNCornerPropagates(t *testing.T) {
	ref := cube(t, "skt", []time.Time{month(2019, 1)}, []float64{5}, []float64{115},
		func(int, float64, float64) float64 { return 0 })
	src := cube(t, "NO2", []time.Time{month(2019, 1)}, []float64{0, 10}, []float64{110, 120},
		func(_ int, lat, lon float64) float64 {
			if lat == 10 && lon == 120 {
				return math.NaN()
			}
			return 1
		})
	out, err := Merge(ref, []Layer{{Name: "NO2", Data: src}}, MergeOptions{})
	require.NoError(t, err)
	require.True(t, math.IsNaN(out.Vars["NO2"].At(0, 0, 0)))
}

func TestMerge_MonthAlignment(t *testing.T) {
	lats, lons := []float64{4, 21}, []float64{116, 127}
	ref := cube(t, "skt", []time.Time{month(2019, 1)}, lats, lons,
		func(int, float64, float64) float64 { return 1 })
	mid := cube(t, "NO2", []time.Time{time.Date(2019, 1, 16, 12, 0, 0, 0, time.UTC)}, lats, lons,
		func(int, float64, float64) float64 { return 2 })

	exact, err := Merge(ref, []Layer{{Name: "LST", Var: "skt", Data: ref}, {Name: "NO2", Data: mid}}, MergeOptions{TimeAlignment: AlignExact})
	require.NoError(t, err)
	require.Equal(t, 2, exact.Coords[domain.TimeDim].Len())

	aligned, err := Merge(ref, []Layer{{Name: "LST", Var: "skt", Data: ref}, {Name: "NO2", Data: mid}}, MergeOptions{TimeAlignment: AlignMonth})
	require.NoError(t, err)
	require.Equal(t, 1, aligned.Coords[domain.TimeDim].Len())
	require.Equal(t, 2.0, aligned.Vars["NO2"].At(0, 0, 0))

	twice := cube(t, "NO2", []time.Time{time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2019, 1, 15, 0, 0, 0, 0, time.UTC)}, lats, lons,
		func(int, float64, float64) float64 { return 2 })
	_, err = Merge(ref, []Layer{{Name: "NO2", Data: twice}}, MergeOptions{TimeAlignment: AlignMonth})
	require.ErrorIs(t, err, domain.ErrShape)

	_, err = Merge(ref, []Layer{{Name: "NO2", Data: mid}}, MergeOptions{TimeAlignment: "weekly"})
	require.Error(t, err)
}

func TestMerge_Errors(t *testing.T) {
	lats, lons := []float64{4, 21}, []float64{116, 127}
	ref := cube(t, "skt", []time.Time{month(2019, 1)}, lats, lons,
		func(int, float64, float64) float64 { return 1 })

	_, err := Merge(ref, []Layer{{Name: "NO2", Data: ref}}, MergeOptions{})
	require.ErrorIs(t, err, domain.ErrVariableNotFound)

	noTime := domain.NewDataset()
	noTime.AddCoord(domain.NewCoord(domain.LatDim, lats))
	noTime.AddCoord(domain.NewCoord(domain.LonDim, lons))
	_, err = Merge(ref, []Layer{{Name: "NO2", Data: noTime}}, MergeOptions{})
	require.ErrorIs(t, err, domain.ErrTimeCoordinateNotFound)

	_, err = Merge(domain.NewDataset(), nil, MergeOptions{})
	require.ErrorIs(t, err, domain.ErrCoordinatesNotFound)
}
