package product

import "go.ngs.io/ph-pollution/internal/domain"

// Spec maps one catalog product onto the common cube layout.
type Spec struct {
	// Name is the variable name in the merged output.
	Name      string
	ShortName string
	Variable  string

	// Native coordinate names. Empty names are detected and the longitude
	// axis is normalized to [-180, 180).
	LatName  string
	LonName  string
	TimeName string

	// QCVariable, when set, masks every cell whose flag is not zero.
	QCVariable string

	// Scale and Offset convert masked raw values; applied when Scale != 0.
	Scale  float64
	Offset float64
	Units  string

	// Grid supplies coordinates for files that ship none.
	Grid *RegularGrid
}

// RegularGrid describes a global cell-centered grid indexed as (row, col),
// with rows running north to south.
type RegularGrid struct {
	Step float64
}

// Product short names and variables.
const (
	NO2ShortName = "HAQ_TROPOMI_NO2_GLOBAL_M_L3"
	AODShortName = "AER_DBDT_M10KM_L3_MODIS_AQUA"
	LSTShortName = "MOD11C3"
)

// NO2 is the TROPOMI tropospheric NO2 monthly L3 product.
var NO2 = Spec{
	Name:      "NO2",
	ShortName: NO2ShortName,
	Variable:  "Tropospheric_NO2",
}

// AOD is the MODIS Aqua Dark Target / Deep Blue combined 550 nm AOD.
var AOD = Spec{
	Name:      "AOD",
	ShortName: AODShortName,
	Variable:  "COMBINE_AOD_550_AVG",
	LatName:   "Latitude",
	LonName:   "Longitude",
	TimeName:  "Time",
}

// LST is the MODIS Terra monthly daytime land surface temperature on the
// 0.05 degree climate modeling grid, in degrees Celsius.
var LST = Spec{
	Name:       "LST",
	ShortName:  LSTShortName,
	Variable:   "LST_Day_CMG",
	QCVariable: "QC_Day",
	Scale:      0.02,
	Offset:     -domain.KelvinOffset,
	Units:      "degC",
	Grid:       &RegularGrid{Step: 0.05},
}

// variables returns the file variables the spec reads.
func (s Spec) variables() []string {
	if s.QCVariable != "" {
		return []string{s.Variable, s.QCVariable}
	}
	return []string{s.Variable}
}
