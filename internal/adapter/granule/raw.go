package granule

import (
	"fmt"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/ph-pollution/internal/domain"
)

// Dim is a named dimension of a raw file.
type Dim struct {
	Name string
	Len  int
}

// RawVar is a variable stored with its on-disk type. A one-dimensional
// variable named after its dimension is a coordinate variable.
type RawVar struct {
	Name  string
	Dims  []string
	Type  netcdf.Type
	Data  []float64
	Attrs domain.Attrs
	// FillValue, when set, is written as _FillValue in the variable's type.
	FillValue *float64
}

// RawFile describes a granule laid out the way a data provider ships it,
// with packed integer types and native fill values.
type RawFile struct {
	Format netcdf.FileMode
	Dims   []Dim
	Vars   []RawVar
	Attrs  domain.Attrs
}

// WriteRaw writes f to path. It is used to produce synthetic granules for
// offline runs and tests.
func WriteRaw(path string, f RawFile) (err error) {
	nc, err := netcdf.CreateFile(path, netcdf.CLOBBER|f.Format)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := nc.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()

	dims := make(map[string]netcdf.Dim, len(f.Dims))
	for _, d := range f.Dims {
		nd, err := nc.AddDim(d.Name, uint64(d.Len))
		if err != nil {
			return fmt.Errorf("failed to add dimension %s: %w", d.Name, err)
		}
		dims[d.Name] = nd
	}

	vars := make([]netcdf.Var, len(f.Vars))
	for i, rv := range f.Vars {
		vdims := make([]netcdf.Dim, len(rv.Dims))
		for j, dn := range rv.Dims {
			d, ok := dims[dn]
			if !ok {
				return fmt.Errorf("%w: variable %s uses undeclared dimension %s", domain.ErrShape, rv.Name, dn)
			}
			vdims[j] = d
		}
		v, err := nc.AddVar(rv.Name, rv.Type, vdims)
		if err != nil {
			return fmt.Errorf("failed to add variable %s: %w", rv.Name, err)
		}
		if rv.FillValue != nil {
			if err := writeTyped(v.Attr("_FillValue"), rv.Type, []float64{*rv.FillValue}); err != nil {
				return fmt.Errorf("failed to write _FillValue of %s: %w", rv.Name, err)
			}
		}
		if err := writeAttrs(v.Attr, rv.Attrs); err != nil {
			return fmt.Errorf("failed to write attributes of %s: %w", rv.Name, err)
		}
		vars[i] = v
	}
	if err := writeAttrs(nc.Attr, f.Attrs); err != nil {
		return fmt.Errorf("failed to write global attributes: %w", err)
	}

	if err := nc.EndDef(); err != nil {
		return fmt.Errorf("failed to end define mode: %w", err)
	}
	for i, rv := range f.Vars {
		if len(rv.Data) == 0 {
			continue
		}
		if err := writeTyped(vars[i], rv.Type, rv.Data); err != nil {
			return fmt.Errorf("failed to write %s: %w", rv.Name, err)
		}
	}
	return nil
}

type typedWriter interface {
	WriteFloat64s([]float64) error
	WriteFloat32s([]float32) error
	WriteInt32s([]int32) error
	WriteInt16s([]int16) error
}

func writeTyped(w typedWriter, t netcdf.Type, data []float64) error {
	switch t {
	case netcdf.DOUBLE:
		return w.WriteFloat64s(data)
	case netcdf.FLOAT:
		return w.WriteFloat32s(narrow[float32](data))
	case netcdf.INT:
		return w.WriteInt32s(narrow[int32](data))
	case netcdf.SHORT:
		return w.WriteInt16s(narrow[int16](data))
	default:
		return fmt.Errorf("unsupported raw type %v", t)
	}
}

func narrow[T number](in []float64) []T {
	out := make([]T, len(in))
	for i, x := range in {
		out[i] = T(x)
	}
	return out
}
