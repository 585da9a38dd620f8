// Package usecase orchestrates the pollution pipeline and serves queries
// over its merged output.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.ngs.io/ph-pollution/internal/adapter/cds"
	"go.ngs.io/ph-pollution/internal/adapter/earthengine"
	"go.ngs.io/ph-pollution/internal/adapter/era5"
	"go.ngs.io/ph-pollution/internal/adapter/granule"
	"go.ngs.io/ph-pollution/internal/adapter/sink"
	"go.ngs.io/ph-pollution/internal/adapter/store/csv"
	"go.ngs.io/ph-pollution/internal/domain"
	"go.ngs.io/ph-pollution/internal/metrics"
	"go.ngs.io/ph-pollution/internal/product"
)

// ProductLoader loads one satellite product as a cube.
type ProductLoader interface {
	Load(ctx context.Context, s product.Spec) (*domain.Dataset, error)
}

// Reanalysis retrieves a reanalysis dataset to a local file.
type Reanalysis interface {
	Retrieve(ctx context.Context, dataset string, request map[string]any, target string) error
}

// Exporter starts a background nighttime-lights export.
type Exporter interface {
	Start(ctx context.Context, spec earthengine.ExportSpec) *earthengine.Job
}

// Pipeline wires the loaders, the reanalysis client and the merger.
type Pipeline struct {
	Products ProductLoader
	NO2      product.Spec
	AOD      product.Spec
	LST      product.Spec
	// IncludeMODISLST adds the MODIS cube as LST_MODIS next to the
	// reanalysis skin temperature.
	IncludeMODISLST bool

	// Reanalysis may be nil when ReanalysisPath already exists.
	Reanalysis     Reanalysis
	ReanalysisPath string
	// ReuseReanalysis skips the retrieval when ReanalysisPath exists.
	ReuseReanalysis bool

	// Exporter may be nil to skip the nighttime-lights export.
	Exporter    Exporter
	Export      earthengine.ExportSpec
	ExportGrace time.Duration

	Region domain.Region
	Range  domain.TimeRange
	Merge  MergeOptions

	OutputPath string
	CSVPath    string
	Sinks      []sink.Sink

	Log *slog.Logger
}

// Result summarizes a run.
type Result struct {
	OutputPath      string
	CSVPath         string
	Variables       []string
	TimeSteps       int
	ExportOperation string
	ExportErr       error
	Published       []string
}

// Run executes the whole pipeline. The merged file is written only when
// every stage succeeded; the export job never fails the run.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	defer metrics.ObserveStage("pipeline", start)

	var job *earthengine.Job
	if p.Exporter != nil {
		job = p.Exporter.Start(ctx, p.Export)
	}

	no2, err := p.Products.Load(ctx, p.NO2)
	if err != nil {
		return nil, err
	}
	aod, err := p.Products.Load(ctx, p.AOD)
	if err != nil {
		return nil, err
	}
	lst, err := p.Products.Load(ctx, p.LST)
	if err != nil {
		return nil, err
	}

	ref, err := p.reanalysis(ctx)
	if err != nil {
		return nil, err
	}

	mergeStart := time.Now()
	layers := []Layer{
		{Name: "NO2", Var: p.NO2.Name, Data: no2},
		{Name: "AOD", Var: p.AOD.Name, Data: aod},
		{Name: "LST", Var: era5.SkinTemperature, Data: ref},
	}
	if p.IncludeMODISLST {
		layers = append(layers, Layer{Name: "LST_MODIS", Var: p.LST.Name, Data: lst})
	}
	merged, err := Merge(ref, layers, p.Merge)
	if err != nil {
		return nil, fmt.Errorf("failed to merge: %w", err)
	}
	merged.Attrs = domain.Attrs{
		"title":          "Philippines pollution grid",
		"Conventions":    "CF-1.8",
		"time_range":     p.Range.StartDate() + "/" + p.Range.EndDate(),
		"history":        time.Now().UTC().Format(time.RFC3339) + " merged onto the ERA5-Land grid",
		"source_NO2":     p.NO2.ShortName,
		"source_AOD":     p.AOD.ShortName,
		"source_LST":     cds.ERA5LandMonthly,
		"geospatial_box": fmt.Sprintf("%g,%g,%g,%g", p.Region.LonMin, p.Region.LatMin, p.Region.LonMax, p.Region.LatMax),
	}
	metrics.ObserveStage("merge", mergeStart)

	if err := granule.WriteDataset(p.OutputPath, merged); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", p.OutputPath, err)
	}
	res := &Result{
		OutputPath: p.OutputPath,
		Variables:  merged.VarNames(),
		TimeSteps:  merged.Coords[domain.TimeDim].Len(),
	}
	p.logger().Info("merged file written", "path", p.OutputPath, "variables", res.Variables, "time_steps", res.TimeSteps)

	if p.CSVPath != "" {
		if err := csv.WriteFile(p.CSVPath, merged, true); err != nil {
			return nil, fmt.Errorf("failed to export CSV: %w", err)
		}
		res.CSVPath = p.CSVPath
	}

	for _, s := range p.Sinks {
		for _, local := range []string{res.OutputPath, res.CSVPath} {
			if local == "" {
				continue
			}
			dest, err := s.Upload(ctx, local, filepath.Base(local))
			if err != nil {
				return nil, fmt.Errorf("failed to publish: %w", err)
			}
			res.Published = append(res.Published, dest)
			p.logger().Info("output published", "destination", dest)
		}
	}

	if job != nil {
		p.awaitExport(ctx, job, res)
	}
	return res, nil
}

func (p *Pipeline) reanalysis(ctx context.Context) (*domain.Dataset, error) {
	_, statErr := os.Stat(p.ReanalysisPath)
	exists := statErr == nil
	switch {
	case exists && (p.ReuseReanalysis || p.Reanalysis == nil):
		p.logger().Info("reusing reanalysis file", "path", p.ReanalysisPath)
	case p.Reanalysis == nil:
		return nil, fmt.Errorf("reanalysis file %s not found and no client configured: %w", p.ReanalysisPath, statErr)
	default:
		req := cds.MonthlyRequest("skin_temperature", p.Region, p.Range)
		if err := p.Reanalysis.Retrieve(ctx, cds.ERA5LandMonthly, req, p.ReanalysisPath); err != nil {
			return nil, fmt.Errorf("failed to retrieve reanalysis: %w", err)
		}
	}
	ds, err := era5.Load(p.ReanalysisPath, era5.SkinTemperature)
	if err != nil {
		return nil, err
	}
	// Keep the reference grid inside the configured window.
	if ds, err = domain.SpatialSubset(ds, p.Region); err != nil {
		return nil, err
	}
	return domain.TemporalSubset(ds, p.Range)
}

// awaitExport waits up to ExportGrace for the export to finish.
func (p *Pipeline) awaitExport(ctx context.Context, job *earthengine.Job, res *Result) {
	grace := time.NewTimer(p.ExportGrace)
	defer grace.Stop()
	select {
	case <-job.Done():
		res.ExportOperation = job.Operation()
		res.ExportErr = job.Err()
	case <-grace.C:
		res.ExportErr = errors.New("export still running after grace period")
		p.logger().Warn("nighttime-lights export still running", "grace", p.ExportGrace)
	case <-ctx.Done():
		res.ExportErr = ctx.Err()
	}
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.Log
}
