package granule

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/ph-pollution/internal/domain"
)

// dimOrder ranks the common dimensions first in the written file.
var dimOrder = map[string]int{domain.TimeDim: 0, domain.LatDim: 1, domain.LonDim: 2}

// WriteDataset writes ds as a NetCDF-4 file. Data is written to a temporary
// file in the target directory and renamed into place on success, so a
// failed write never leaves a partial file at path.
func WriteDataset(path string, ds *domain.Dataset) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := write(tmpPath, ds); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

//nolint:gocyclo // Define-mode and data-mode passes over every coordinate and variable.
func write(path string, ds *domain.Dataset) (err error) {
	nc, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if cerr := nc.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close file: %w", cerr)
		}
	}()

	lengths, err := dimLengths(ds)
	if err != nil {
		return err
	}
	dimNames := make([]string, 0, len(lengths))
	for name := range lengths {
		dimNames = append(dimNames, name)
	}
	sort.Slice(dimNames, func(i, j int) bool {
		ri, iok := dimOrder[dimNames[i]]
		rj, jok := dimOrder[dimNames[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return dimNames[i] < dimNames[j]
		}
	})

	dims := make(map[string]netcdf.Dim, len(dimNames))
	for _, name := range dimNames {
		d, err := nc.AddDim(name, uint64(lengths[name]))
		if err != nil {
			return fmt.Errorf("failed to add dimension %s: %w", name, err)
		}
		dims[name] = d
	}

	type pending struct {
		v    netcdf.Var
		data []float64
	}
	var writes []pending

	for _, name := range dimNames {
		c, ok := ds.Coords[name]
		if !ok {
			continue
		}
		v, err := nc.AddVar(name, netcdf.DOUBLE, []netcdf.Dim{dims[name]})
		if err != nil {
			return fmt.Errorf("failed to add coordinate %s: %w", name, err)
		}
		attrs := c.Attrs.Clone()
		values := c.Values
		if c.IsTime() {
			var units string
			values, units = domain.EncodeCFTime(c.Times)
			attrs["units"] = units
			attrs["calendar"] = "standard"
			attrs["standard_name"] = "time"
		}
		if err := writeAttrs(v.Attr, attrs); err != nil {
			return fmt.Errorf("failed to write attributes of %s: %w", name, err)
		}
		writes = append(writes, pending{v, values})
	}

	for _, name := range ds.VarNames() {
		src := ds.Vars[name]
		vdims := make([]netcdf.Dim, len(src.Dims))
		for i, d := range src.Dims {
			vdims[i] = dims[d]
		}
		v, err := nc.AddVar(name, netcdf.DOUBLE, vdims)
		if err != nil {
			return fmt.Errorf("failed to add variable %s: %w", name, err)
		}
		attrs := src.Attrs.Clone()
		for _, k := range []string{"_FillValue", "missing_value", "scale_factor", "add_offset"} {
			delete(attrs, k)
		}
		if err := v.Attr("_FillValue").WriteFloat64s([]float64{math.NaN()}); err != nil {
			return fmt.Errorf("failed to write _FillValue of %s: %w", name, err)
		}
		if err := writeAttrs(v.Attr, attrs); err != nil {
			return fmt.Errorf("failed to write attributes of %s: %w", name, err)
		}
		writes = append(writes, pending{v, src.Data})
	}

	if err := writeAttrs(nc.Attr, ds.Attrs); err != nil {
		return fmt.Errorf("failed to write global attributes: %w", err)
	}

	if err := nc.EndDef(); err != nil {
		return fmt.Errorf("failed to end define mode: %w", err)
	}

	for _, w := range writes {
		if len(w.data) == 0 {
			continue
		}
		if err := w.v.WriteFloat64s(w.data); err != nil {
			return fmt.Errorf("failed to write data: %w", err)
		}
	}
	return nil
}

func dimLengths(ds *domain.Dataset) (map[string]int, error) {
	lengths := make(map[string]int)
	for name, c := range ds.Coords {
		lengths[name] = c.Len()
	}
	for _, v := range ds.Vars {
		for i, d := range v.Dims {
			if n, ok := lengths[d]; ok && n != v.Shape[i] {
				return nil, fmt.Errorf("%w: variable %s dim %s has length %d, expected %d", domain.ErrShape, v.Name, d, v.Shape[i], n)
			}
			lengths[d] = v.Shape[i]
		}
	}
	return lengths, nil
}

// writeAttrs writes string and numeric attributes; other values are skipped.
func writeAttrs(attr func(string) netcdf.Attr, attrs domain.Attrs) error {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if s, ok := attrs.String(k); ok {
			if s == "" {
				continue
			}
			if err := attr(k).WriteBytes([]byte(s)); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			continue
		}
		if f, ok := attrs.Float(k); ok {
			if err := attr(k).WriteFloat64s([]float64{f}); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
	}
	return nil
}
