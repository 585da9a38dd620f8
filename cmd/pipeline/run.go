package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"go.ngs.io/ph-pollution/internal/adapter/catalog"
	"go.ngs.io/ph-pollution/internal/adapter/cds"
	"go.ngs.io/ph-pollution/internal/adapter/earthengine"
	"go.ngs.io/ph-pollution/internal/adapter/sink"
	"go.ngs.io/ph-pollution/internal/adapter/transport"
	"go.ngs.io/ph-pollution/internal/config"
	"go.ngs.io/ph-pollution/internal/product"
	"go.ngs.io/ph-pollution/internal/usecase"
)

// run builds the pipeline from cfg and executes it once.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	region := cfg.DomainRegion()
	tr, err := cfg.TimeRange()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}

	httpCfg := transport.DefaultConfig()
	httpCfg.RateLimit = cfg.Catalog.RateLimit
	httpCfg.MaxRetries = cfg.Catalog.MaxRetries
	earthdata := httpCfg
	earthdata.TokenSource = transport.StaticToken(cfg.Catalog.Token)
	earthdataClient := transport.New(earthdata, logger)

	var cat catalog.Catalog
	switch cfg.Catalog.Kind {
	case config.CatalogLocal:
		cat = &catalog.Local{Root: cfg.Resolve(cfg.Catalog.Root)}
	default:
		cmr := catalog.NewCMR(cfg.Catalog.URL, earthdataClient)
		cmr.BoundingBox = &region
		cat = cmr
	}

	loader := &product.Loader{
		Streamer: &product.Streamer{
			Catalog: cat,
			Downloader: &catalog.Downloader{
				Client:      earthdataClient,
				Dir:         cfg.Resolve(cfg.Catalog.DownloadDir),
				Concurrency: cfg.Catalog.Concurrency,
				Log:         logger,
			},
			Log: logger,
		},
		Region:           region,
		Range:            tr,
		RequireFillValue: cfg.Products.RequireFillValue,
		Margin:           cfg.Products.Margin,
		Log:              logger,
	}

	p := &usecase.Pipeline{
		Products:        loader,
		NO2:             product.NO2,
		AOD:             product.AOD,
		LST:             product.LST,
		IncludeMODISLST: cfg.Merge.IncludeMODISLST,
		ReanalysisPath:  cfg.Resolve(cfg.Reanalysis.Path),
		ReuseReanalysis: cfg.Reanalysis.Reuse,
		Region:          region,
		Range:           tr,
		Merge:           usecase.MergeOptions{TimeAlignment: cfg.Merge.TimeAlignment},
		OutputPath:      cfg.Resolve(cfg.Output.Path),
		CSVPath:         cfg.Resolve(cfg.Output.CSV),
		Log:             logger,
	}

	creds, err := reanalysisCredentials(cfg)
	if err != nil {
		return err
	}
	if creds != nil {
		p.Reanalysis = &cds.Client{
			HTTP:         transport.New(httpCfg, logger),
			Credentials:  creds,
			PollInterval: config.Duration(cfg.Reanalysis.PollInterval),
			Log:          logger,
		}
	}

	var gcpOpts []option.ClientOption
	if cfg.Export.CredentialsFile != "" {
		gcpOpts = append(gcpOpts, option.WithCredentialsFile(cfg.Export.CredentialsFile))
	}

	if cfg.Export.Enabled {
		exp, err := earthengine.NewExporter(ctx, cfg.Export.Project, cfg.Export.CredentialsFile, httpCfg, logger)
		if err != nil {
			return err
		}
		exp.PollInterval = config.Duration(cfg.Export.PollInterval)
		p.Exporter = exp
		p.Export = exportSpec(cfg, tr.Start, tr.End.AddDate(0, 0, 1))
		p.ExportGrace = config.Duration(cfg.Export.Grace)
	}

	for _, dest := range cfg.Output.Sinks {
		s, err := sink.Open(ctx, dest, sink.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
			Secure:    cfg.S3.Secure,
		}, gcpOpts...)
		if err != nil {
			return err
		}
		p.Sinks = append(p.Sinks, s)
	}

	res, err := p.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("pipeline finished",
		"output", res.OutputPath,
		"csv", res.CSVPath,
		"variables", res.Variables,
		"time_steps", res.TimeSteps,
		"published", res.Published)
	if cfg.Export.Enabled {
		if res.ExportErr != nil {
			logger.Warn("nighttime-lights export did not complete", "operation", res.ExportOperation, "err", res.ExportErr)
		} else {
			logger.Info("nighttime-lights export submitted", "operation", res.ExportOperation)
		}
		if res.ExportErr == nil && cfg.Export.Bucket != "" && config.Duration(cfg.Export.PollInterval) > 0 {
			verifyExport(ctx, cfg, gcpOpts, logger)
		}
	}
	return nil
}

// reanalysisCredentials returns nil when no CDS key is available, in which
// case the pipeline can only reuse an existing reanalysis file.
func reanalysisCredentials(cfg *config.Config) (cds.CredentialProvider, error) {
	if cfg.Reanalysis.Key != "" {
		if cfg.Reanalysis.WriteRC {
			url := cfg.Reanalysis.URL
			if url == "" {
				url = cds.DefaultURL
			}
			if err := cds.WriteRC(cfg.Reanalysis.RCPath, url, cfg.Reanalysis.Key); err != nil {
				return nil, err
			}
		}
		return cds.StaticCredentials{URL: cfg.Reanalysis.URL, Key: cfg.Reanalysis.Key}, nil
	}
	if _, err := os.Stat(cfg.Reanalysis.RCPath); err == nil {
		return cds.EnvCredentials{RCPath: cfg.Reanalysis.RCPath}, nil
	}
	return nil, nil
}

// exportSpec covers [start, end) at the configured scale and destination.
func exportSpec(cfg *config.Config, start, end time.Time) earthengine.ExportSpec {
	spec := earthengine.DefaultSpec(cfg.DomainRegion(), start)
	spec.End = end
	if cfg.Export.ScaleMeters > 0 {
		spec.ScaleMeters = cfg.Export.ScaleMeters
	}
	if cfg.Export.FilePrefix != "" {
		spec.FilePrefix = cfg.Export.FilePrefix
		spec.Description = cfg.Export.FilePrefix
	}
	spec.Bucket = cfg.Export.Bucket
	spec.DriveFolder = cfg.Export.DriveFolder
	return spec
}

// verifyExport lists the tiles a finished bucket export produced.
func verifyExport(ctx context.Context, cfg *config.Config, opts []option.ClientOption, logger *slog.Logger) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		logger.Warn("export not verified", "err", err)
		return
	}
	defer client.Close()

	objects, err := earthengine.ListExports(ctx, client, cfg.Export.Bucket, cfg.Export.FilePrefix)
	if err != nil {
		logger.Warn("export not verified", "err", err)
		return
	}
	var size int64
	for _, o := range objects {
		size += o.Size
	}
	logger.Info("nighttime-lights tiles in bucket", "bucket", cfg.Export.Bucket, "tiles", len(objects), "bytes", size)
}
