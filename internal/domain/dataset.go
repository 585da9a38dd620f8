// Package domain holds the gridded-dataset model and the pure coordinate,
// subsetting and time-resolution logic shared by every product loader.
package domain

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Attrs holds NetCDF-style attributes of a dataset or variable.
type Attrs map[string]any

// String returns the attribute as a string.
func (a Attrs) String(key string) (string, bool) {
	v, ok := a[key]
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}

// Float returns the first numeric element of the attribute as float64.
func (a Attrs) Float(key string) (float64, bool) {
	v, ok := a[key]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// Clone returns a shallow copy of the attribute map.
func (a Attrs) Clone() Attrs {
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

//nolint:gocyclo // Attribute values arrive as any numeric scalar or slice type.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case []float64:
		if len(n) > 0 {
			return n[0], true
		}
	case []float32:
		if len(n) > 0 {
			return float64(n[0]), true
		}
	case []int16:
		if len(n) > 0 {
			return float64(n[0]), true
		}
	case []int32:
		if len(n) > 0 {
			return float64(n[0]), true
		}
	case []int64:
		if len(n) > 0 {
			return float64(n[0]), true
		}
	case []int8:
		if len(n) > 0 {
			return float64(n[0]), true
		}
	case []uint8:
		if len(n) > 0 {
			return float64(n[0]), true
		}
	case []uint16:
		if len(n) > 0 {
			return float64(n[0]), true
		}
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}

// Coord is a 1-D dimension coordinate. Time axes carry decoded Times and
// store Unix seconds in Values so that sorting and selection work uniformly.
type Coord struct {
	Name   string
	Values []float64
	Times  []time.Time
	Attrs  Attrs
}

// NewCoord creates a numeric coordinate.
func NewCoord(name string, values []float64) *Coord {
	return &Coord{Name: name, Values: values, Attrs: Attrs{}}
}

// NewTimeCoord creates a time coordinate from UTC timestamps.
func NewTimeCoord(name string, times []time.Time) *Coord {
	values := make([]float64, len(times))
	utc := make([]time.Time, len(times))
	for i, t := range times {
		utc[i] = t.UTC()
		values[i] = float64(utc[i].Unix())
	}
	return &Coord{Name: name, Values: values, Times: utc, Attrs: Attrs{}}
}

// Len returns the number of labels.
func (c *Coord) Len() int { return len(c.Values) }

// IsTime reports whether the coordinate holds timestamps.
func (c *Coord) IsTime() bool { return c.Times != nil }

func (c *Coord) take(idx []int) *Coord {
	out := &Coord{Name: c.Name, Values: make([]float64, len(idx)), Attrs: c.Attrs}
	if c.IsTime() {
		out.Times = make([]time.Time, len(idx))
	}
	for i, j := range idx {
		out.Values[i] = c.Values[j]
		if c.IsTime() {
			out.Times[i] = c.Times[j]
		}
	}
	return out
}

func (c *Coord) renamed(name string) *Coord {
	out := *c
	out.Name = name
	return &out
}

// Variable is an N-dimensional row-major array. NaN marks missing data.
type Variable struct {
	Name  string
	Dims  []string
	Shape []int
	Data  []float64
	Attrs Attrs
}

// NewVariable validates the shape against the data length.
func NewVariable(name string, dims []string, shape []int, data []float64) (*Variable, error) {
	if len(dims) != len(shape) {
		return nil, fmt.Errorf("%w: variable %s has %d dims but %d extents", ErrShape, name, len(dims), len(shape))
	}
	if n := product(shape); n != len(data) {
		return nil, fmt.Errorf("%w: variable %s shape %v needs %d values, got %d", ErrShape, name, shape, n, len(data))
	}
	return &Variable{
		Name:  name,
		Dims:  append([]string(nil), dims...),
		Shape: append([]int(nil), shape...),
		Data:  data,
		Attrs: Attrs{},
	}, nil
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// DimIndex returns the axis of dim, or -1.
func (v *Variable) DimIndex(dim string) int {
	for i, d := range v.Dims {
		if d == dim {
			return i
		}
	}
	return -1
}

// Len returns the number of elements.
func (v *Variable) Len() int { return len(v.Data) }

func (v *Variable) offset(idx []int) int {
	off := 0
	for i, n := range v.Shape {
		off = off*n + idx[i]
	}
	return off
}

// At returns the element at the given index tuple.
func (v *Variable) At(idx ...int) float64 {
	return v.Data[v.offset(idx)]
}

// Clone deep-copies the data and shallow-copies attributes.
func (v *Variable) Clone() *Variable {
	return &Variable{
		Name:  v.Name,
		Dims:  append([]string(nil), v.Dims...),
		Shape: append([]int(nil), v.Shape...),
		Data:  append([]float64(nil), v.Data...),
		Attrs: v.Attrs.Clone(),
	}
}

// Take selects the given positions along dim. Variables without dim are
// returned unchanged.
func (v *Variable) Take(dim string, idx []int) *Variable {
	axis := v.DimIndex(dim)
	if axis < 0 {
		return v
	}
	outer := product(v.Shape[:axis])
	inner := product(v.Shape[axis+1:])
	n := v.Shape[axis]

	data := make([]float64, outer*len(idx)*inner)
	for o := 0; o < outer; o++ {
		for j, src := range idx {
			dst := (o*len(idx) + j) * inner
			from := (o*n + src) * inner
			copy(data[dst:dst+inner], v.Data[from:from+inner])
		}
	}
	shape := append([]int(nil), v.Shape...)
	shape[axis] = len(idx)
	return &Variable{Name: v.Name, Dims: append([]string(nil), v.Dims...), Shape: shape, Data: data, Attrs: v.Attrs}
}

// Transpose reorders the axes to match order, which must name every dim.
func (v *Variable) Transpose(order []string) (*Variable, error) {
	if len(order) != len(v.Dims) {
		return nil, fmt.Errorf("%w: cannot transpose %s %v to %v", ErrShape, v.Name, v.Dims, order)
	}
	perm := make([]int, len(order))
	for i, d := range order {
		perm[i] = v.DimIndex(d)
		if perm[i] < 0 {
			return nil, fmt.Errorf("%w: %s has no dimension %q", ErrShape, v.Name, d)
		}
	}
	identity := true
	for i, p := range perm {
		if p != i {
			identity = false
			break
		}
	}
	if identity {
		return v, nil
	}

	shape := make([]int, len(perm))
	for i, p := range perm {
		shape[i] = v.Shape[p]
	}
	oldStrides := strides(v.Shape)
	data := make([]float64, len(v.Data))
	idx := make([]int, len(shape))
	for k := range data {
		off := 0
		for i, p := range perm {
			off += idx[i] * oldStrides[p]
		}
		data[k] = v.Data[off]
		// Advance the odometer over the new shape.
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < shape[i] {
				break
			}
			idx[i] = 0
		}
	}
	return &Variable{Name: v.Name, Dims: append([]string(nil), order...), Shape: shape, Data: data, Attrs: v.Attrs}, nil
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

// Map applies fn to every element and returns a new variable.
func (v *Variable) Map(fn func(float64) float64) *Variable {
	out := v.Clone()
	for i, x := range out.Data {
		out.Data[i] = fn(x)
	}
	return out
}

// Where keeps elements for which keep returns true and sets the rest to NaN.
func (v *Variable) Where(keep func(i int, x float64) bool) *Variable {
	out := v.Clone()
	for i, x := range out.Data {
		if !keep(i, x) {
			out.Data[i] = math.NaN()
		}
	}
	return out
}

// Dataset is a set of variables sharing named dimension coordinates.
type Dataset struct {
	Coords map[string]*Coord
	Vars   map[string]*Variable
	Attrs  Attrs
	Source string // Originating file, for diagnostics.
}

// NewDataset creates an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{
		Coords: make(map[string]*Coord),
		Vars:   make(map[string]*Variable),
		Attrs:  Attrs{},
	}
}

// shallow copies the maps; Coord and Variable values are treated as immutable.
func (ds *Dataset) shallow() *Dataset {
	out := &Dataset{
		Coords: make(map[string]*Coord, len(ds.Coords)),
		Vars:   make(map[string]*Variable, len(ds.Vars)),
		Attrs:  ds.Attrs,
		Source: ds.Source,
	}
	for k, c := range ds.Coords {
		out.Coords[k] = c
	}
	for k, v := range ds.Vars {
		out.Vars[k] = v
	}
	return out
}

// AddCoord registers a dimension coordinate.
func (ds *Dataset) AddCoord(c *Coord) {
	ds.Coords[c.Name] = c
}

// AddVar registers a variable after checking it against known coordinates.
func (ds *Dataset) AddVar(v *Variable) error {
	for i, d := range v.Dims {
		if c, ok := ds.Coords[d]; ok && c.Len() != v.Shape[i] {
			return fmt.Errorf("%w: variable %s dim %s has length %d, coordinate has %d",
				ErrShape, v.Name, d, v.Shape[i], c.Len())
		}
	}
	ds.Vars[v.Name] = v
	return nil
}

// HasCoord reports whether a coordinate named name exists.
func (ds *Dataset) HasCoord(name string) bool {
	_, ok := ds.Coords[name]
	return ok
}

// Var returns the named variable or ErrVariableNotFound.
func (ds *Dataset) Var(name string) (*Variable, error) {
	v, ok := ds.Vars[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrVariableNotFound)
	}
	return v, nil
}

// VarNames returns the variable names in sorted order.
func (ds *Dataset) VarNames() []string {
	names := make([]string, 0, len(ds.Vars))
	for n := range ds.Vars {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Take selects positions along dim in the coordinate and every variable.
func (ds *Dataset) Take(dim string, idx []int) *Dataset {
	out := ds.shallow()
	if c, ok := ds.Coords[dim]; ok {
		out.Coords[dim] = c.take(idx)
	}
	for name, v := range ds.Vars {
		out.Vars[name] = v.Take(dim, idx)
	}
	return out
}

// SortBy stably sorts the dataset ascending along the coordinate dim.
func (ds *Dataset) SortBy(dim string) (*Dataset, error) {
	c, ok := ds.Coords[dim]
	if !ok {
		return nil, fmt.Errorf("cannot sort by %q: coordinate not found", dim)
	}
	idx := make([]int, c.Len())
	for i := range idx {
		idx[i] = i
	}
	sorted := sort.SliceIsSorted(idx, func(a, b int) bool { return c.Values[idx[a]] < c.Values[idx[b]] })
	if sorted {
		return ds.shallow(), nil
	}
	sort.SliceStable(idx, func(a, b int) bool { return c.Values[idx[a]] < c.Values[idx[b]] })
	return ds.Take(dim, idx), nil
}

// SelectRange keeps labels lo <= x <= hi along dim.
func (ds *Dataset) SelectRange(dim string, lo, hi float64) (*Dataset, error) {
	c, ok := ds.Coords[dim]
	if !ok {
		return nil, fmt.Errorf("cannot select on %q: coordinate not found", dim)
	}
	idx := make([]int, 0, c.Len())
	for i, x := range c.Values {
		if x >= lo && x <= hi {
			idx = append(idx, i)
		}
	}
	return ds.Take(dim, idx), nil
}

// Select keeps only the named variables.
func (ds *Dataset) Select(names ...string) (*Dataset, error) {
	out := ds.shallow()
	out.Vars = make(map[string]*Variable, len(names))
	for _, n := range names {
		v, err := ds.Var(n)
		if err != nil {
			return nil, err
		}
		out.Vars[n] = v
	}
	return out, nil
}

// Rename renames coordinates, dimensions and variables according to names.
func (ds *Dataset) Rename(names map[string]string) *Dataset {
	rename := func(s string) string {
		if r, ok := names[s]; ok {
			return r
		}
		return s
	}
	out := &Dataset{
		Coords: make(map[string]*Coord, len(ds.Coords)),
		Vars:   make(map[string]*Variable, len(ds.Vars)),
		Attrs:  ds.Attrs,
		Source: ds.Source,
	}
	for name, c := range ds.Coords {
		out.Coords[rename(name)] = c.renamed(rename(name))
	}
	for name, v := range ds.Vars {
		dims := make([]string, len(v.Dims))
		for i, d := range v.Dims {
			dims[i] = rename(d)
		}
		out.Vars[rename(name)] = &Variable{Name: rename(name), Dims: dims, Shape: v.Shape, Data: v.Data, Attrs: v.Attrs}
	}
	return out
}

// Transpose reorders every variable whose dims are exactly the set in order.
func (ds *Dataset) Transpose(order ...string) (*Dataset, error) {
	out := ds.shallow()
	for name, v := range ds.Vars {
		if !sameDimSet(v.Dims, order) {
			continue
		}
		t, err := v.Transpose(order)
		if err != nil {
			return nil, err
		}
		out.Vars[name] = t
	}
	return out, nil
}

func sameDimSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, d := range a {
		seen[d] = true
	}
	for _, d := range b {
		if !seen[d] {
			return false
		}
	}
	return true
}

// ExpandDims adds the length-one coordinate c and prepends its dimension to
// every variable.
func (ds *Dataset) ExpandDims(c *Coord) (*Dataset, error) {
	if c.Len() != 1 {
		return nil, fmt.Errorf("%w: expanded coordinate %s must have length 1, got %d", ErrShape, c.Name, c.Len())
	}
	if ds.HasCoord(c.Name) {
		return nil, fmt.Errorf("%w: dimension %s already exists", ErrShape, c.Name)
	}
	out := ds.shallow()
	out.Coords[c.Name] = c
	for name, v := range ds.Vars {
		out.Vars[name] = &Variable{
			Name:  v.Name,
			Dims:  append([]string{c.Name}, v.Dims...),
			Shape: append([]int{1}, v.Shape...),
			Data:  v.Data,
			Attrs: v.Attrs,
		}
	}
	return out, nil
}

// coordTolerance bounds label differences treated as equal when aligning grids.
const coordTolerance = 1e-6

// Concat joins datasets along dim. Every part must carry the same variables
// and identical non-concatenated coordinates.
//
//nolint:gocyclo // Shape checks for each part and variable.
func Concat(dim string, parts []*Dataset) (*Dataset, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: nothing to concatenate along %s", ErrShape, dim)
	}
	first := parts[0]
	out := first.shallow()

	// Coordinates.
	for name, c := range first.Coords {
		if name == dim {
			continue
		}
		for _, p := range parts[1:] {
			pc, ok := p.Coords[name]
			if !ok || !coordsEqual(c, pc) {
				return nil, fmt.Errorf("%w: coordinate %s differs between %s and %s", ErrShape, name, first.Source, p.Source)
			}
		}
	}
	if c, ok := first.Coords[dim]; ok {
		joined := &Coord{Name: dim, Attrs: c.Attrs}
		if c.IsTime() {
			joined.Times = []time.Time{}
		}
		for _, p := range parts {
			pc, ok := p.Coords[dim]
			if !ok || pc.IsTime() != c.IsTime() {
				return nil, fmt.Errorf("%w: %s lacks a compatible %s coordinate", ErrShape, p.Source, dim)
			}
			joined.Values = append(joined.Values, pc.Values...)
			if c.IsTime() {
				joined.Times = append(joined.Times, pc.Times...)
			}
		}
		out.Coords[dim] = joined
	}

	// Variables.
	for name, v := range first.Vars {
		axis := v.DimIndex(dim)
		if axis < 0 {
			continue
		}
		pieces := make([]*Variable, len(parts))
		total := 0
		for i, p := range parts {
			pv, ok := p.Vars[name]
			if !ok {
				return nil, fmt.Errorf("%w: variable %s missing from %s", ErrShape, name, p.Source)
			}
			if !sameExtentsExcept(v, pv, axis) {
				return nil, fmt.Errorf("%w: variable %s has shape %v in %s, expected %v", ErrShape, name, pv.Shape, p.Source, v.Shape)
			}
			pieces[i] = pv
			total += pv.Shape[axis]
		}
		outer := product(v.Shape[:axis])
		inner := product(v.Shape[axis+1:])
		data := make([]float64, 0, outer*total*inner)
		for o := 0; o < outer; o++ {
			for _, pv := range pieces {
				block := pv.Shape[axis] * inner
				data = append(data, pv.Data[o*block:(o+1)*block]...)
			}
		}
		shape := append([]int(nil), v.Shape...)
		shape[axis] = total
		out.Vars[name] = &Variable{Name: name, Dims: append([]string(nil), v.Dims...), Shape: shape, Data: data, Attrs: v.Attrs}
	}
	return out, nil
}

func sameExtentsExcept(a, b *Variable, axis int) bool {
	if len(a.Dims) != len(b.Dims) {
		return false
	}
	for i := range a.Dims {
		if a.Dims[i] != b.Dims[i] {
			return false
		}
		if i != axis && a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

func coordsEqual(a, b *Coord) bool {
	if a.Len() != b.Len() {
		return false
	}
	for i := range a.Values {
		if math.Abs(a.Values[i]-b.Values[i]) > coordTolerance {
			return false
		}
	}
	return true
}
