// Package granule reads satellite granules and writes merged grids as NetCDF
// through the netCDF-C library.
package granule

import (
	"fmt"
	"strings"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/ph-pollution/internal/domain"
)

// Options controls what Open reads from a file.
type Options struct {
	// Variables limits the data variables read. Empty reads every
	// non-coordinate variable.
	Variables []string

	// Region, when set, restricts latitude/longitude axes to the index hull
	// of labels inside the region, padded by Margin cells on each side.
	Region *domain.Region
	Margin int
}

// Open reads a NetCDF/HDF5 granule into a Dataset. Coordinate variables with
// CF time units are decoded into time coordinates.
//
//nolint:gocyclo // One pass over dims, coordinates and variables.
func Open(path string, opts Options) (*domain.Dataset, error) {
	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open NetCDF file %s: %w", path, err)
	}
	defer func() { _ = nc.Close() }()

	ds := domain.NewDataset()
	ds.Source = path

	if ds.Attrs, err = readGlobalAttrs(nc); err != nil {
		return nil, fmt.Errorf("failed to read global attributes of %s: %w", path, err)
	}

	names, err := dataVarNames(nc, opts.Variables)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	// Index windows per dimension, shared by all variables.
	windows := make(map[string]window)

	for _, name := range names {
		v, err := nc.Var(name)
		if err != nil {
			return nil, fmt.Errorf("%s in %s: %w", name, path, domain.ErrVariableNotFound)
		}
		dims, err := v.Dims()
		if err != nil {
			return nil, fmt.Errorf("failed to get dimensions of %s: %w", name, err)
		}

		dimNames := make([]string, len(dims))
		start := make([]uint64, len(dims))
		count := make([]uint64, len(dims))
		for i, d := range dims {
			dn, err := d.Name()
			if err != nil {
				return nil, fmt.Errorf("failed to get dimension name: %w", err)
			}
			dimNames[i] = dn

			w, ok := windows[dn]
			if !ok {
				if w, err = loadDim(nc, ds, d, dn, opts); err != nil {
					return nil, fmt.Errorf("failed to load dimension %s of %s: %w", dn, path, err)
				}
				windows[dn] = w
			}
			start[i], count[i] = uint64(w.start), uint64(w.count)
		}

		shape := make([]int, len(count))
		total := 1
		for i, c := range count {
			shape[i] = int(c)
			total *= int(c)
		}

		var data []float64
		switch {
		case total == 0:
			data = []float64{}
		case len(dims) == 0:
			data, err = readAll(v, 1)
		default:
			data, err = readSlice(v, start, count, total)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s from %s: %w", name, path, err)
		}

		variable, err := domain.NewVariable(name, dimNames, shape, data)
		if err != nil {
			return nil, err
		}
		if variable.Attrs, err = readVarAttrs(v); err != nil {
			return nil, fmt.Errorf("failed to read attributes of %s: %w", name, err)
		}
		if err := ds.AddVar(variable); err != nil {
			return nil, err
		}
	}

	return ds, nil
}

type window struct{ start, count int }

// loadDim reads the coordinate variable of dim d if present, registers it on
// ds and returns the index window to read along d.
func loadDim(nc netcdf.Dataset, ds *domain.Dataset, d netcdf.Dim, name string, opts Options) (window, error) {
	n, err := d.Len()
	if err != nil {
		return window{}, err
	}
	full := window{0, int(n)}

	cv, err := nc.Var(name)
	if err != nil {
		// Dimension without a coordinate variable.
		return full, nil
	}
	values, err := readFloat64Var(cv, int(n))
	if err != nil {
		return window{}, err
	}
	attrs, err := readVarAttrs(cv)
	if err != nil {
		return window{}, err
	}

	w := full
	if opts.Region != nil {
		switch {
		case domain.IsLatName(name):
			w = hull(values, opts.Region.ContainsLat, opts.Margin)
		case domain.IsLonName(name):
			w = hull(values, func(x float64) bool { return opts.Region.ContainsLon(domain.WrapLon180(x)) }, opts.Margin)
		}
	}
	values = values[w.start : w.start+w.count]

	if units, ok := attrs.String("units"); ok && strings.Contains(units, " since ") {
		times, err := domain.DecodeCFTime(values, units)
		if err != nil {
			return window{}, fmt.Errorf("failed to decode time axis %s: %w", name, err)
		}
		c := domain.NewTimeCoord(name, times)
		c.Attrs = attrs
		ds.AddCoord(c)
		return w, nil
	}

	c := domain.NewCoord(name, values)
	c.Attrs = attrs
	ds.AddCoord(c)
	return w, nil
}

// hull returns the smallest index window covering every label accepted by
// inside, widened by margin cells and clamped to the axis.
func hull(values []float64, inside func(float64) bool, margin int) window {
	lo, hi := -1, -1
	for i, x := range values {
		if inside(x) {
			if lo < 0 {
				lo = i
			}
			hi = i
		}
	}
	if lo < 0 {
		return window{0, 0}
	}
	lo = max(lo-margin, 0)
	hi = min(hi+margin, len(values)-1)
	return window{lo, hi - lo + 1}
}

// dataVarNames returns requested names, or every variable that is not a
// coordinate variable or scalar.
func dataVarNames(nc netcdf.Dataset, requested []string) ([]string, error) {
	if len(requested) > 0 {
		return requested, nil
	}
	n, err := nc.NVars()
	if err != nil {
		return nil, fmt.Errorf("failed to count variables: %w", err)
	}
	var names []string
	for i := 0; i < n; i++ {
		v := nc.VarN(i)
		name, err := v.Name()
		if err != nil {
			return nil, fmt.Errorf("failed to get variable name: %w", err)
		}
		dims, err := v.Dims()
		if err != nil {
			return nil, fmt.Errorf("failed to get dimensions of %s: %w", name, err)
		}
		if len(dims) == 0 {
			continue
		}
		if len(dims) == 1 {
			if dn, err := dims[0].Name(); err == nil && dn == name {
				continue
			}
		}
		t, err := v.Type()
		if err != nil || t == netcdf.CHAR || t == netcdf.STRING {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// readFloat64Var reads a whole 1-D numeric variable.
func readFloat64Var(v netcdf.Var, n int) ([]float64, error) {
	if n == 0 {
		return []float64{}, nil
	}
	return readAll(v, n)
}

// readAll reads every element of v converted to float64.
func readAll(v netcdf.Var, n int) ([]float64, error) {
	t, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("failed to get var type: %w", err)
	}
	switch t {
	case netcdf.DOUBLE:
		data := make([]float64, n)
		return data, v.ReadFloat64s(data)
	case netcdf.FLOAT:
		tmp := make([]float32, n)
		if err := v.ReadFloat32s(tmp); err != nil {
			return nil, err
		}
		return widen(tmp), nil
	case netcdf.INT:
		tmp := make([]int32, n)
		if err := v.ReadInt32s(tmp); err != nil {
			return nil, err
		}
		return widen(tmp), nil
	case netcdf.SHORT:
		tmp := make([]int16, n)
		if err := v.ReadInt16s(tmp); err != nil {
			return nil, err
		}
		return widen(tmp), nil
	case netcdf.USHORT:
		tmp := make([]uint16, n)
		if err := v.ReadUint16s(tmp); err != nil {
			return nil, err
		}
		return widen(tmp), nil
	case netcdf.BYTE:
		tmp := make([]int8, n)
		if err := v.ReadInt8s(tmp); err != nil {
			return nil, err
		}
		return widen(tmp), nil
	case netcdf.UBYTE:
		tmp := make([]uint8, n)
		if err := v.ReadUint8s(tmp); err != nil {
			return nil, err
		}
		return widen(tmp), nil
	case netcdf.CHAR, netcdf.UINT, netcdf.INT64, netcdf.UINT64, netcdf.STRING:
		return nil, fmt.Errorf("unsupported var type: %v", t)
	default:
		return nil, fmt.Errorf("unsupported var type: %v", t)
	}
}

// readSlice reads the hyperslab [start, start+count) converted to float64.
func readSlice(v netcdf.Var, start, count []uint64, n int) ([]float64, error) {
	t, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("failed to get var type: %w", err)
	}
	switch t {
	case netcdf.DOUBLE:
		data := make([]float64, n)
		return data, v.ReadFloat64Slice(data, start, count)
	case netcdf.FLOAT:
		tmp := make([]float32, n)
		if err := v.ReadFloat32Slice(tmp, start, count); err != nil {
			return nil, err
		}
		return widen(tmp), nil
	case netcdf.INT:
		tmp := make([]int32, n)
		if err := v.ReadInt32Slice(tmp, start, count); err != nil {
			return nil, err
		}
		return widen(tmp), nil
	case netcdf.SHORT:
		tmp := make([]int16, n)
		if err := v.ReadInt16Slice(tmp, start, count); err != nil {
			return nil, err
		}
		return widen(tmp), nil
	case netcdf.USHORT:
		tmp := make([]uint16, n)
		if err := v.ReadUint16Slice(tmp, start, count); err != nil {
			return nil, err
		}
		return widen(tmp), nil
	case netcdf.BYTE:
		tmp := make([]int8, n)
		if err := v.ReadInt8Slice(tmp, start, count); err != nil {
			return nil, err
		}
		return widen(tmp), nil
	case netcdf.UBYTE:
		tmp := make([]uint8, n)
		if err := v.ReadUint8Slice(tmp, start, count); err != nil {
			return nil, err
		}
		return widen(tmp), nil
	case netcdf.CHAR, netcdf.UINT, netcdf.INT64, netcdf.UINT64, netcdf.STRING:
		return nil, fmt.Errorf("unsupported data type: %v", t)
	default:
		return nil, fmt.Errorf("unsupported data type: %v", t)
	}
}

type number interface {
	~float32 | ~int8 | ~uint8 | ~int16 | ~uint16 | ~int32
}

func widen[T number](in []T) []float64 {
	out := make([]float64, len(in))
	for i, x := range in {
		out[i] = float64(x)
	}
	return out
}

func readGlobalAttrs(nc netcdf.Dataset) (domain.Attrs, error) {
	n, err := nc.NAttrs()
	if err != nil {
		return nil, err
	}
	attrs := make(domain.Attrs, n)
	for i := 0; i < n; i++ {
		a, err := nc.AttrN(i)
		if err != nil {
			return nil, err
		}
		if val, ok := readAttr(a); ok {
			attrs[a.Name()] = val
		}
	}
	return attrs, nil
}

func readVarAttrs(v netcdf.Var) (domain.Attrs, error) {
	n, err := v.NAttrs()
	if err != nil {
		return nil, err
	}
	attrs := make(domain.Attrs, n)
	for i := 0; i < n; i++ {
		a, err := v.AttrN(i)
		if err != nil {
			return nil, err
		}
		if val, ok := readAttr(a); ok {
			attrs[a.Name()] = val
		}
	}
	return attrs, nil
}

// readAttr decodes character attributes as strings and numeric attributes
// as a scalar or slice. Unsupported types are skipped.
func readAttr(a netcdf.Attr) (any, bool) {
	n, err := a.Len()
	if err != nil || n == 0 {
		return nil, false
	}
	t, err := a.Type()
	if err != nil {
		return nil, false
	}
	switch t {
	case netcdf.CHAR:
		buf := make([]byte, n)
		if err := a.ReadBytes(buf); err != nil {
			return nil, false
		}
		return strings.TrimRight(string(buf), "\x00"), true
	case netcdf.DOUBLE:
		buf := make([]float64, n)
		if err := a.ReadFloat64s(buf); err != nil {
			return nil, false
		}
		return scalarOrSlice(buf), true
	case netcdf.FLOAT:
		buf := make([]float32, n)
		if err := a.ReadFloat32s(buf); err != nil {
			return nil, false
		}
		return scalarOrSlice(buf), true
	case netcdf.INT:
		buf := make([]int32, n)
		if err := a.ReadInt32s(buf); err != nil {
			return nil, false
		}
		return scalarOrSlice(buf), true
	case netcdf.SHORT:
		buf := make([]int16, n)
		if err := a.ReadInt16s(buf); err != nil {
			return nil, false
		}
		return scalarOrSlice(buf), true
	case netcdf.USHORT:
		buf := make([]uint16, n)
		if err := a.ReadUint16s(buf); err != nil {
			return nil, false
		}
		return scalarOrSlice(buf), true
	case netcdf.BYTE:
		buf := make([]int8, n)
		if err := a.ReadInt8s(buf); err != nil {
			return nil, false
		}
		return scalarOrSlice(buf), true
	case netcdf.UBYTE:
		buf := make([]uint8, n)
		if err := a.ReadUint8s(buf); err != nil {
			return nil, false
		}
		return scalarOrSlice(buf), true
	default:
		return nil, false
	}
}

func scalarOrSlice[T any](buf []T) any {
	if len(buf) == 1 {
		return buf[0]
	}
	return buf
}
