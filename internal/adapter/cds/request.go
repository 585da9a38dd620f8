package cds

import (
	"fmt"
	"strconv"

	"go.ngs.io/ph-pollution/internal/domain"
)

// MonthlyRequest builds the request body for monthly averaged reanalysis of
// variable over region, for every year the time range touches.
func MonthlyRequest(variable string, r domain.Region, tr domain.TimeRange) map[string]any {
	years := make([]string, 0)
	for _, y := range tr.Years() {
		years = append(years, strconv.Itoa(y))
	}
	months := make([]string, 12)
	for m := 1; m <= 12; m++ {
		months[m-1] = fmt.Sprintf("%02d", m)
	}
	return map[string]any{
		"format":          "netcdf",
		"data_format":     "netcdf",
		"download_format": "unarchived",
		"product_type":    []string{"monthly_averaged_reanalysis"},
		"variable":        []string{variable},
		"year":            years,
		"month":           months,
		"time":            []string{"00:00"},
		// North, West, South, East.
		"area": []float64{r.LatMax, r.LonMin, r.LatMin, r.LonMax},
	}
}
