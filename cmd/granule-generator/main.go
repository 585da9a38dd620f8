// Package main writes synthetic NO2, AOD, LST and ERA5-Land files laid out
// like the provider downloads, for offline pipeline runs.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/ph-pollution/internal/adapter/granule"
	"go.ngs.io/ph-pollution/internal/domain"
	"go.ngs.io/ph-pollution/internal/logging"
	"go.ngs.io/ph-pollution/internal/product"
)

// RegionalGrid defines the geographic bounds and resolution.
type RegionalGrid struct {
	LatMin     float64
	LatMax     float64
	LonMin     float64
	LonMax     float64
	Resolution float64 // degrees
}

func (g RegionalGrid) axes() (lat, lon []float64) {
	nLat := int(math.Round((g.LatMax-g.LatMin)/g.Resolution)) + 1
	nLon := int(math.Round((g.LonMax-g.LonMin)/g.Resolution)) + 1
	lat = make([]float64, nLat)
	for i := range lat {
		lat[i] = g.LatMin + float64(i)*g.Resolution
	}
	lon = make([]float64, nLon)
	for j := range lon {
		lon[j] = g.LonMin + float64(j)*g.Resolution
	}
	return lat, lon
}

// Metro Manila, the hotspot of the synthetic NO2 and AOD fields.
const hotspotLat, hotspotLon = 14.6, 121.0

func main() {
	outDir := flag.String("out", "./data", "Output directory")
	start := flag.String("start", "2019-01-01", "First month (YYYY-MM-DD)")
	end := flag.String("end", "2019-03-31", "Last month (YYYY-MM-DD)")
	latMin := flag.Float64("lat-min", 4, "Minimum latitude")
	latMax := flag.Float64("lat-max", 21, "Maximum latitude")
	lonMin := flag.Float64("lon-min", 116, "Minimum longitude")
	lonMax := flag.Float64("lon-max", 127, "Maximum longitude")
	era5Res := flag.Float64("era5-resolution", 0.1, "ERA5-Land grid resolution in degrees")
	noLST := flag.Bool("no-lst", false, "Skip the global 0.05° MODIS LST granules (about 100 MB per month)")
	flag.Parse()

	logger := logging.New("info", "text", os.Stderr)

	tr, err := domain.ParseTimeRange(*start, *end)
	if err != nil {
		logger.Error("invalid time range", "err", err)
		os.Exit(1)
	}
	region := domain.Region{LatMin: *latMin, LatMax: *latMax, LonMin: *lonMin, LonMax: *lonMax}
	if err := region.Validate(); err != nil {
		logger.Error("invalid region", "err", err)
		os.Exit(1)
	}

	months := monthsIn(tr)
	granules := filepath.Join(*outDir, "granules")
	// Satellite products cover a one degree margin around the region.
	padded := RegionalGrid{LatMin: region.LatMin - 1, LatMax: region.LatMax + 1, LonMin: region.LonMin - 1, LonMax: region.LonMax + 1}

	type job struct {
		name string
		dir  string
		file func(time.Time) (string, granule.RawFile)
	}
	jobs := []job{
		{"NO2", product.NO2ShortName, func(m time.Time) (string, granule.RawFile) {
			g := padded
			g.Resolution = 0.25
			return fmt.Sprintf("%s_%s_v2.nc", product.NO2ShortName, m.Format("012006")), no2Granule(g, m)
		}},
		{"AOD", product.AODShortName, func(m time.Time) (string, granule.RawFile) {
			g := padded
			g.Resolution = 0.1
			return fmt.Sprintf("%s_%s.nc", product.AODShortName, m.Format("200601")), aodGranule(g, m)
		}},
	}
	if !*noLST {
		jobs = append(jobs, job{"LST", product.LSTShortName, func(m time.Time) (string, granule.RawFile) {
			return fmt.Sprintf("%s.A%s.061.nc", product.LSTShortName, m.Format("2006002")), lstGranule(product.LST.Grid.Step, m)
		}})
	}

	for _, j := range jobs {
		dir := filepath.Join(granules, j.dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("failed to create output directory", "dir", dir, "err", err)
			os.Exit(1)
		}
		for _, m := range months {
			name, f := j.file(m)
			path := filepath.Join(dir, name)
			if err := granule.WriteRaw(path, f); err != nil {
				logger.Error("failed to write granule", "product", j.name, "path", path, "err", err)
				os.Exit(1)
			}
		}
		logger.Info("generated granules", "product", j.name, "dir", dir, "months", len(months))
	}

	era5 := RegionalGrid{LatMin: region.LatMin, LatMax: region.LatMax, LonMin: region.LonMin, LonMax: region.LonMax, Resolution: *era5Res}
	era5Path := filepath.Join(*outDir, "ERA5_PH.nc")
	if err := granule.WriteRaw(era5Path, era5File(era5, months)); err != nil {
		logger.Error("failed to write ERA5 file", "path", era5Path, "err", err)
		os.Exit(1)
	}
	lat, lon := era5.axes()
	logger.Info("generated ERA5-Land skin temperature", "path", era5Path, "grid", fmt.Sprintf("%d × %d", len(lat), len(lon)), "months", len(months))
}

func monthsIn(tr domain.TimeRange) []time.Time {
	var out []time.Time
	for m := time.Date(tr.Start.Year(), tr.Start.Month(), 1, 0, 0, 0, 0, time.UTC); tr.Contains(m); m = m.AddDate(0, 1, 0) {
		out = append(out, m)
	}
	return out
}

// seasonal is +1 in the hot season (April/May) and -1 six months later.
func seasonal(m time.Time) float64 {
	return math.Cos(float64(m.Month()-5) * math.Pi / 6)
}

func hotspot(lat, lon, width float64) float64 {
	d2 := (lat-hotspotLat)*(lat-hotspotLat) + (lon-hotspotLon)*(lon-hotspotLon)
	return math.Exp(-d2 / (2 * width * width))
}

// no2Granule mimics the TROPOMI monthly L3 file: lat/lon coordinates, a
// GranuleID carrying MMYYYY and -9999 over a stripe of missing orbits.
func no2Granule(g RegionalGrid, m time.Time) granule.RawFile {
	lat, lon := g.axes()
	data := make([]float64, 0, len(lat)*len(lon))
	for _, la := range lat {
		for _, lo := range lon {
			v := 1.5e15 + 6e15*hotspot(la, lo, 0.8) + 2e14*seasonal(m)
			if int(lo*4)%37 == int(m.Month()) {
				v = -9999
			}
			data = append(data, v)
		}
	}
	fill := -9999.0
	return granule.RawFile{
		Format: netcdf.NETCDF4,
		Dims:   []granule.Dim{{Name: "lat", Len: len(lat)}, {Name: "lon", Len: len(lon)}},
		Vars: []granule.RawVar{
			{Name: "lat", Dims: []string{"lat"}, Type: netcdf.DOUBLE, Data: lat, Attrs: domain.Attrs{"units": "degrees_north"}},
			{Name: "lon", Dims: []string{"lon"}, Type: netcdf.DOUBLE, Data: lon, Attrs: domain.Attrs{"units": "degrees_east"}},
			{Name: product.NO2.Variable, Dims: []string{"lat", "lon"}, Type: netcdf.DOUBLE, Data: data, FillValue: &fill,
				Attrs: domain.Attrs{"units": "molecules/cm^2"}},
		},
		Attrs: domain.Attrs{"GranuleID": fmt.Sprintf("%s_%s_v2.nc", product.NO2ShortName, m.Format("012006"))},
	}
}

// aodGranule mimics the Deep Blue/Dark Target monthly file: descending
// Latitude and a time_coverage_start attribute.
func aodGranule(g RegionalGrid, m time.Time) granule.RawFile {
	lat, lon := g.axes()
	for i, j := 0, len(lat)-1; i < j; i, j = i+1, j-1 {
		lat[i], lat[j] = lat[j], lat[i]
	}
	data := make([]float64, 0, len(lat)*len(lon))
	for _, la := range lat {
		for _, lo := range lon {
			data = append(data, 0.15+0.35*hotspot(la, lo, 1.5)+0.05*seasonal(m))
		}
	}
	fill := -9999.0
	return granule.RawFile{
		Format: netcdf.NETCDF4,
		Dims:   []granule.Dim{{Name: "Latitude", Len: len(lat)}, {Name: "Longitude", Len: len(lon)}},
		Vars: []granule.RawVar{
			{Name: "Latitude", Dims: []string{"Latitude"}, Type: netcdf.FLOAT, Data: lat},
			{Name: "Longitude", Dims: []string{"Longitude"}, Type: netcdf.FLOAT, Data: lon},
			{Name: product.AOD.Variable, Dims: []string{"Latitude", "Longitude"}, Type: netcdf.FLOAT, Data: data, FillValue: &fill},
		},
		Attrs: domain.Attrs{"time_coverage_start": m.Format("2006-01-02T15:04:05Z")},
	}
}

// lstGranule mimics a MOD11C3 CMG file: a global grid without coordinate
// variables, packed Kelvin with scale 0.02 and a QC layer.
func lstGranule(step float64, m time.Time) granule.RawFile {
	rows, cols := int(math.Round(180/step)), int(math.Round(360/step))
	lst := make([]float64, rows*cols)
	qc := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		la := 90 - step*(float64(i)+0.5)
		for j := 0; j < cols; j++ {
			k := i*cols + j
			kelvin := 303 - 30*math.Abs(la)/90 + 3*seasonal(m)
			lst[k] = math.Round(kelvin / 0.02)
			if (i+j)%53 == 0 {
				qc[k] = 2
			}
		}
	}
	fill := 0.0
	return granule.RawFile{
		Format: netcdf.NETCDF4,
		Dims:   []granule.Dim{{Name: "YDim", Len: rows}, {Name: "XDim", Len: cols}},
		Vars: []granule.RawVar{
			{Name: product.LST.Variable, Dims: []string{"YDim", "XDim"}, Type: netcdf.SHORT, Data: lst, FillValue: &fill,
				Attrs: domain.Attrs{"scale_factor": 0.02, "units": "K"}},
			{Name: product.LST.QCVariable, Dims: []string{"YDim", "XDim"}, Type: netcdf.SHORT, Data: qc},
		},
		Attrs: domain.Attrs{"RangeBeginningDate": m.Format(time.DateOnly)},
	}
}

// era5File mimics a CDS ERA5-Land monthly download: valid_time in seconds,
// descending latitude and packed int16 skt with scale 0.01 around 300 K.
func era5File(g RegionalGrid, months []time.Time) granule.RawFile {
	lat, lon := g.axes()
	for i, j := 0, len(lat)-1; i < j; i, j = i+1, j-1 {
		lat[i], lat[j] = lat[j], lat[i]
	}
	times := make([]float64, len(months))
	for i, m := range months {
		times[i] = float64(m.Unix())
	}
	skt := make([]float64, 0, len(months)*len(lat)*len(lon))
	for _, m := range months {
		for _, la := range lat {
			for _, lo := range lon {
				kelvin := 301 - 0.2*(la-4) + 2*seasonal(m) + 0.5*math.Sin(lo)
				skt = append(skt, math.Round((kelvin-300)/0.01))
			}
		}
	}
	fill := -32767.0
	return granule.RawFile{
		Dims: []granule.Dim{
			{Name: "valid_time", Len: len(months)},
			{Name: "latitude", Len: len(lat)},
			{Name: "longitude", Len: len(lon)},
		},
		Vars: []granule.RawVar{
			{Name: "valid_time", Dims: []string{"valid_time"}, Type: netcdf.DOUBLE, Data: times,
				Attrs: domain.Attrs{"units": "seconds since 1970-01-01", "calendar": "proleptic_gregorian"}},
			{Name: "latitude", Dims: []string{"latitude"}, Type: netcdf.DOUBLE, Data: lat, Attrs: domain.Attrs{"units": "degrees_north"}},
			{Name: "longitude", Dims: []string{"longitude"}, Type: netcdf.DOUBLE, Data: lon, Attrs: domain.Attrs{"units": "degrees_east"}},
			{Name: "skt", Dims: []string{"valid_time", "latitude", "longitude"}, Type: netcdf.SHORT, Data: skt, FillValue: &fill,
				Attrs: domain.Attrs{"scale_factor": 0.01, "add_offset": 300.0, "units": "K", "long_name": "Skin temperature"}},
		},
		Attrs: domain.Attrs{"institution": "synthetic", "Conventions": "CF-1.7"},
	}
}
