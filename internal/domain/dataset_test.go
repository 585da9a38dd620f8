package domain

import (
	"errors"
	"testing"
	"time"
)

func TestVariable_Transpose(t *testing.T) {
	// (a=2, b=3) with value 10*a + b.
	v, err := NewVariable("v", []string{"a", "b"}, []int{2, 3}, []float64{0, 1, 2, 10, 11, 12})
	if err != nil {
		t.Fatal(err)
	}
	tr, err := v.Transpose([]string{"b", "a"})
	if err != nil {
		t.Fatalf("Transpose: %v", err)
	}
	if tr.Shape[0] != 3 || tr.Shape[1] != 2 {
		t.Fatalf("expected shape [3 2], got %v", tr.Shape)
	}
	for a := 0; a < 2; a++ {
		for b := 0; b < 3; b++ {
			if got, want := tr.At(b, a), float64(10*a+b); got != want {
				t.Errorf("(%d,%d): expected %v, got %v", b, a, want, got)
			}
		}
	}
	if _, err := v.Transpose([]string{"a", "c"}); !errors.Is(err, ErrShape) {
		t.Errorf("expected ErrShape for unknown dim, got %v", err)
	}
}

func TestVariable_Transpose3D(t *testing.T) {
	data := make([]float64, 2*3*4)
	for i := range data {
		data[i] = float64(i)
	}
	v, _ := NewVariable("v", []string{"lat", "lon", "time"}, []int{2, 3, 4}, data)
	tr, err := v.Transpose([]string{"time", "lat", "lon"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 4; k++ {
				if tr.At(k, i, j) != v.At(i, j, k) {
					t.Fatalf("mismatch at lat=%d lon=%d time=%d", i, j, k)
				}
			}
		}
	}
}

func TestNewVariable_ShapeMismatch(t *testing.T) {
	if _, err := NewVariable("v", []string{"a"}, []int{3}, []float64{1, 2}); !errors.Is(err, ErrShape) {
		t.Errorf("expected ErrShape, got %v", err)
	}
}

func monthSlice(t *testing.T, month time.Month, value float64) *Dataset {
	t.Helper()
	ds := NewDataset()
	ds.Source = month.String()
	ds.AddCoord(NewCoord(LatDim, []float64{0, 1}))
	ds.AddCoord(NewCoord(LonDim, []float64{0, 1}))
	v, _ := NewVariable("x", []string{LatDim, LonDim}, []int{2, 2}, []float64{value, value, value, value})
	if err := ds.AddVar(v); err != nil {
		t.Fatal(err)
	}
	out, err := ds.ExpandDims(NewTimeCoord(TimeDim, []time.Time{time.Date(2020, month, 1, 0, 0, 0, 0, time.UTC)}))
	if err != nil {
		t.Fatalf("ExpandDims: %v", err)
	}
	return out
}

func TestConcatAndSortByTime(t *testing.T) {
	parts := []*Dataset{monthSlice(t, time.March, 3), monthSlice(t, time.January, 1), monthSlice(t, time.February, 2)}

	joined, err := Concat(TimeDim, parts)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	sorted, err := joined.SortBy(TimeDim)
	if err != nil {
		t.Fatal(err)
	}
	x := sorted.Vars["x"]
	if x.Shape[0] != 3 || x.Dims[0] != TimeDim {
		t.Fatalf("expected leading time dim of 3, got %v %v", x.Dims, x.Shape)
	}
	for i, want := range []float64{1, 2, 3} {
		if got := x.At(i, 1, 1); got != want {
			t.Errorf("time %d: expected %v, got %v", i, want, got)
		}
		if m := sorted.Coords[TimeDim].Times[i].Month(); m != time.Month(want) {
			t.Errorf("time %d: expected month %d, got %v", i, int(want), m)
		}
	}
}

func TestConcat_Mismatch(t *testing.T) {
	a := monthSlice(t, time.January, 1)
	b := monthSlice(t, time.February, 2)
	b.Coords[LatDim] = NewCoord(LatDim, []float64{5, 6})
	if _, err := Concat(TimeDim, []*Dataset{a, b}); !errors.Is(err, ErrShape) {
		t.Errorf("expected ErrShape for differing coordinates, got %v", err)
	}

	c := monthSlice(t, time.March, 3)
	delete(c.Vars, "x")
	if _, err := Concat(TimeDim, []*Dataset{a, c}); !errors.Is(err, ErrShape) {
		t.Errorf("expected ErrShape for missing variable, got %v", err)
	}
}

func TestExpandDims_Errors(t *testing.T) {
	ds := monthSlice(t, time.January, 1)
	if _, err := ds.ExpandDims(NewTimeCoord(TimeDim, []time.Time{time.Now()})); !errors.Is(err, ErrShape) {
		t.Errorf("expected ErrShape for existing dim, got %v", err)
	}
	if _, err := NewDataset().ExpandDims(NewCoord("band", []float64{1, 2})); !errors.Is(err, ErrShape) {
		t.Errorf("expected ErrShape for length 2, got %v", err)
	}
}

func TestDataset_RenameAndTranspose(t *testing.T) {
	ds := NewDataset()
	ds.AddCoord(NewCoord("Longitude", []float64{116, 117, 118}))
	ds.AddCoord(NewCoord("Latitude", []float64{4, 5}))
	v, _ := NewVariable("COMBINE_AOD_550_AVG", []string{"Longitude", "Latitude"}, []int{3, 2}, []float64{1, 2, 3, 4, 5, 6})
	if err := ds.AddVar(v); err != nil {
		t.Fatal(err)
	}

	out, err := ds.Rename(map[string]string{"Latitude": LatDim, "Longitude": LonDim, "COMBINE_AOD_550_AVG": "AOD"}).
		Transpose(LatDim, LonDim)
	if err != nil {
		t.Fatal(err)
	}
	aod, err := out.Var("AOD")
	if err != nil {
		t.Fatal(err)
	}
	if aod.Dims[0] != LatDim || aod.Dims[1] != LonDim {
		t.Fatalf("expected (latitude, longitude), got %v", aod.Dims)
	}
	// Original (lon=2, lat=1) = 6.
	if aod.At(1, 2) != 6 {
		t.Errorf("expected 6, got %v", aod.At(1, 2))
	}
	if _, err := out.Var("COMBINE_AOD_550_AVG"); !errors.Is(err, ErrVariableNotFound) {
		t.Errorf("expected ErrVariableNotFound, got %v", err)
	}
}

func TestAttrs_Float(t *testing.T) {
	a := Attrs{"f32": float32(2.5), "i16": []int16{-9999}, "s": "1e3", "empty": []float64{}}
	if f, ok := a.Float("f32"); !ok || f != 2.5 {
		t.Errorf("f32: got %v %v", f, ok)
	}
	if f, ok := a.Float("i16"); !ok || f != -9999 {
		t.Errorf("i16: got %v %v", f, ok)
	}
	if f, ok := a.Float("s"); !ok || f != 1000 {
		t.Errorf("s: got %v %v", f, ok)
	}
	if _, ok := a.Float("empty"); ok {
		t.Error("empty slice should not yield a value")
	}
}
