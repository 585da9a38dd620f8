package product

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fhs/go-netcdf/netcdf"
	"github.com/stretchr/testify/require"

	"go.ngs.io/ph-pollution/internal/adapter/catalog"
	"go.ngs.io/ph-pollution/internal/adapter/granule"
	"go.ngs.io/ph-pollution/internal/domain"
)

func ptr(f float64) *float64 { return &f }

func testLoader(t *testing.T, root string, region domain.Region) *Loader {
	t.Helper()
	tr, err := domain.ParseTimeRange("2019-01-01", "2024-12-31")
	require.NoError(t, err)
	return &Loader{
		Streamer: &Streamer{
			Catalog:    &catalog.Local{Root: root},
			Downloader: &catalog.Downloader{Dir: t.TempDir(), Concurrency: 2},
		},
		Region: region,
		Range:  tr,
		Margin: 1,
	}
}

func writeRaw(t *testing.T, path string, f granule.RawFile) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, granule.WriteRaw(path, f))
}

// no2File has lat [3 4 5 6] and lon [115 116 117 128] with values
// lat*100 + (lon-100) + month/100 and a fill value at (5, 117).
func no2File(month time.Month) granule.RawFile {
	lats := []float64{3, 4, 5, 6}
	lons := []float64{115, 116, 117, 128}
	data := make([]float64, 0, 16)
	for _, la := range lats {
		for _, lo := range lons {
			data = append(data, la*100+(lo-100)+float64(month)/100)
		}
	}
	data[2*4+2] = -9999
	return granule.RawFile{
		Dims: []granule.Dim{{Name: "lat", Len: 4}, {Name: "lon", Len: 4}},
		Vars: []granule.RawVar{
			{Name: "lat", Dims: []string{"lat"}, Type: netcdf.DOUBLE, Data: lats},
			{Name: "lon", Dims: []string{"lon"}, Type: netcdf.DOUBLE, Data: lons},
			{Name: "Tropospheric_NO2", Dims: []string{"lat", "lon"}, Type: netcdf.DOUBLE, Data: data, FillValue: ptr(-9999)},
		},
		Attrs: domain.Attrs{"GranuleID": "HAQ_TROPOMI_NO2_GLOBAL_M_L3_" + time.Date(2021, month, 1, 0, 0, 0, 0, time.UTC).Format("012006") + "_v2.nc"},
	}
}

func TestLoad_NO2(t *testing.T) {
	root := t.TempDir()
	// File order is the reverse of time order.
	writeRaw(t, filepath.Join(root, NO2ShortName, "a.nc"), no2File(time.February))
	writeRaw(t, filepath.Join(root, NO2ShortName, "b.nc"), no2File(time.January))

	l := testLoader(t, root, domain.Region{LatMin: 4, LatMax: 5, LonMin: 116, LonMax: 117})
	ds, err := l.Load(context.Background(), NO2)
	require.NoError(t, err)

	v, err := ds.Var("NO2")
	require.NoError(t, err)
	require.Equal(t, []string{domain.TimeDim, domain.LatDim, domain.LonDim}, v.Dims)
	require.Equal(t, []int{2, 2, 2}, v.Shape)

	times := ds.Coords[domain.TimeDim].Times
	require.Equal(t, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), times[0])
	require.Equal(t, time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC), times[1])
	require.Equal(t, []float64{4, 5}, ds.Coords[domain.LatDim].Values)
	require.Equal(t, []float64{116, 117}, ds.Coords[domain.LonDim].Values)

	require.InDelta(t, 416.01, v.At(0, 0, 0), 1e-9)
	require.InDelta(t, 516.02, v.At(1, 1, 0), 1e-9)
	require.True(t, math.IsNaN(v.At(0, 1, 1)), "fill value must be masked")
	_, hasFill := v.Attrs["_FillValue"]
	require.False(t, hasFill)
}

func TestLoad_RequireFillValue(t *testing.T) {
	root := t.TempDir()
	f := no2File(time.January)
	f.Vars[2].FillValue = nil
	writeRaw(t, filepath.Join(root, NO2ShortName, "a.nc"), f)

	l := testLoader(t, root, domain.Region{LatMin: 4, LatMax: 5, LonMin: 116, LonMax: 117})
	ds, err := l.Load(context.Background(), NO2)
	require.NoError(t, err)
	v, _ := ds.Var("NO2")
	require.Equal(t, -9999.0, v.At(0, 1, 1), "without a declared fill value nothing is masked")

	l.RequireFillValue = true
	_, err = l.Load(context.Background(), NO2)
	require.ErrorIs(t, err, domain.ErrFillValueMissing)
}

func TestLoad_TimeUnresolved(t *testing.T) {
	root := t.TempDir()
	f := no2File(time.January)
	f.Attrs = nil
	writeRaw(t, filepath.Join(root, NO2ShortName, "a.nc"), f)

	_, err := testLoader(t, root, domain.Region{LatMin: 4, LatMax: 5, LonMin: 116, LonMax: 117}).Load(context.Background(), NO2)
	require.ErrorIs(t, err, domain.ErrTimeUnresolved)
}

func aodFile(withTime bool, days float64) granule.RawFile {
	lats := []float64{6, 5, 4, 3}
	lons := []float64{115, 116, 117, 118}
	f := granule.RawFile{
		Format: netcdf.NETCDF4,
		Dims:   []granule.Dim{{Name: "Latitude", Len: 4}, {Name: "Longitude", Len: 4}},
		Attrs:  domain.Attrs{"time_coverage_start": "2020-06-01T00:00:00Z"},
	}
	data := make([]float64, 0, 16)
	for _, la := range lats {
		for _, lo := range lons {
			data = append(data, la+(lo-115)/10)
		}
	}
	data[0] = -9999
	dims := []string{"Latitude", "Longitude"}
	if withTime {
		f.Dims = append([]granule.Dim{{Name: "Time", Len: 1}}, f.Dims...)
		f.Vars = append(f.Vars, granule.RawVar{
			Name: "Time", Dims: []string{"Time"}, Type: netcdf.DOUBLE, Data: []float64{days},
			Attrs: domain.Attrs{"units": "days since 2020-01-01 00:00:00"},
		})
		dims = append([]string{"Time"}, dims...)
	}
	f.Vars = append(f.Vars,
		granule.RawVar{Name: "Latitude", Dims: []string{"Latitude"}, Type: netcdf.DOUBLE, Data: lats},
		granule.RawVar{Name: "Longitude", Dims: []string{"Longitude"}, Type: netcdf.DOUBLE, Data: lons},
		granule.RawVar{Name: "COMBINE_AOD_550_AVG", Dims: dims, Type: netcdf.DOUBLE, Data: data, FillValue: ptr(-9999)},
		granule.RawVar{Name: "Other", Dims: dims, Type: netcdf.DOUBLE, Data: data},
	)
	return f
}

func TestLoad_AOD(t *testing.T) {
	root := t.TempDir()
	writeRaw(t, filepath.Join(root, AODShortName, "a.nc"), aodFile(false, 0))
	writeRaw(t, filepath.Join(root, AODShortName, "b.nc"), aodFile(true, 31))

	l := testLoader(t, root, domain.Region{LatMin: 4, LatMax: 6, LonMin: 115, LonMax: 116})
	ds, err := l.Load(context.Background(), AOD)
	require.NoError(t, err)
	require.Equal(t, []string{"AOD"}, ds.VarNames())

	times := ds.Coords[domain.TimeDim].Times
	require.Equal(t, []time.Time{
		time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC),
	}, times)
	require.Equal(t, []float64{4, 5, 6}, ds.Coords[domain.LatDim].Values)
	require.Equal(t, []float64{115, 116}, ds.Coords[domain.LonDim].Values)

	v, _ := ds.Var("AOD")
	require.Equal(t, []int{2, 3, 2}, v.Shape)
	require.InDelta(t, 4.1, v.At(0, 0, 1), 1e-9)
	require.True(t, math.IsNaN(v.At(1, 2, 0)), "fill at (6, 115) must be masked")
}

// lstFile is a 1 degree global grid without coordinate variables.
func lstFile() granule.RawFile {
	const rows, cols = 180, 360
	lst := make([]float64, rows*cols)
	qc := make([]float64, rows*cols)
	for i := range lst {
		lst[i] = 15000
	}
	// Row 84 is lat 5.5, row 85 lat 4.5; col 296 is lon 116.5, col 297 lon 117.5.
	qc[84*cols+296] = 2
	lst[85*cols+297] = 0
	return granule.RawFile{
		Dims: []granule.Dim{{Name: "YDim", Len: rows}, {Name: "XDim", Len: cols}},
		Vars: []granule.RawVar{
			{Name: "LST_Day_CMG", Dims: []string{"YDim", "XDim"}, Type: netcdf.INT, Data: lst, FillValue: ptr(0),
				Attrs: domain.Attrs{"scale_factor": 0.02}},
			{Name: "QC_Day", Dims: []string{"YDim", "XDim"}, Type: netcdf.SHORT, Data: qc},
		},
		Attrs: domain.Attrs{"RangeBeginningDate": "2020-03-01"},
	}
}

func TestLoad_LST(t *testing.T) {
	root := t.TempDir()
	writeRaw(t, filepath.Join(root, LSTShortName, "MOD11C3.A2020061.hdf"), lstFile())

	spec := LST
	spec.Grid = &RegularGrid{Step: 1}
	l := testLoader(t, root, domain.Region{LatMin: 4, LatMax: 6, LonMin: 116, LonMax: 118})
	ds, err := l.Load(context.Background(), spec)
	require.NoError(t, err)

	require.Equal(t, []float64{4.5, 5.5}, ds.Coords[domain.LatDim].Values)
	require.Equal(t, []float64{116.5, 117.5}, ds.Coords[domain.LonDim].Values)
	require.Equal(t, time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC), ds.Coords[domain.TimeDim].Times[0])

	v, _ := ds.Var("LST")
	require.Equal(t, "degC", v.Attrs["units"])
	require.InDelta(t, 26.85, v.At(0, 0, 0), 1e-9)
	require.True(t, math.IsNaN(v.At(0, 1, 0)), "bad QC must be masked")
	require.True(t, math.IsNaN(v.At(0, 0, 1)), "raw fill must be masked")
}

func TestStream_NoGranules(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, NO2ShortName), 0o755))
	_, err := testLoader(t, root, domain.Region{LatMin: 4, LatMax: 5, LonMin: 116, LonMax: 117}).Load(context.Background(), NO2)
	require.ErrorIs(t, err, domain.ErrNoGranules)
	require.False(t, errors.Is(err, domain.ErrTransport))
	require.False(t, errors.Is(err, domain.ErrVariableNotFound))
}
