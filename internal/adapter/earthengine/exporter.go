package earthengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"go.ngs.io/ph-pollution/internal/adapter/transport"
	"go.ngs.io/ph-pollution/internal/domain"
	"go.ngs.io/ph-pollution/internal/metrics"
)

// Defaults for the VIIRS monthly nighttime-lights export.
const (
	VIIRSMonthly    = "NOAA/VIIRS/DNB/MONTHLY_V1/VCMSLCFG"
	AverageRadiance = "avg_rad"
	DefaultPrefix   = "NTL_PH_2019_2024"
	DefaultFolder   = "EarthEngineExports"

	metersPerDegree = 111320.0
)

// ExportSpec describes one composite export.
type ExportSpec struct {
	Collection string
	Band       string
	Region     domain.Region
	// Start is inclusive, End exclusive.
	Start, End      time.Time
	ScaleMeters     float64
	CRS             string
	ReduceMaxPixels int
	MaxPixels       int64
	Description     string
	FilePrefix      string
	// Exactly one destination is used; Bucket wins when both are set.
	Bucket      string
	DriveFolder string
}

// DefaultSpec returns the nighttime-lights export over region from start
// through the end of 2024.
func DefaultSpec(region domain.Region, start time.Time) ExportSpec {
	return ExportSpec{
		Collection:      VIIRSMonthly,
		Band:            AverageRadiance,
		Region:          region,
		Start:           start,
		End:             time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ScaleMeters:     10000,
		CRS:             "EPSG:4326",
		ReduceMaxPixels: 1024,
		MaxPixels:       1e13,
		Description:     DefaultPrefix,
		FilePrefix:      DefaultPrefix,
		DriveFolder:     DefaultFolder,
	}
}

// Validate checks that the spec can be submitted.
func (s ExportSpec) Validate() error {
	if s.Collection == "" || s.Band == "" {
		return errors.New("collection and band are required")
	}
	if err := s.Region.Validate(); err != nil {
		return err
	}
	if !s.End.After(s.Start) {
		return fmt.Errorf("export end %s is not after start %s", s.End.Format(time.DateOnly), s.Start.Format(time.DateOnly))
	}
	if s.ScaleMeters <= 0 {
		return fmt.Errorf("invalid export scale %v", s.ScaleMeters)
	}
	if s.Bucket == "" && s.DriveFolder == "" {
		return errors.New("export needs a bucket or a drive folder")
	}
	return nil
}

// DefaultEndpoint is the Earth Engine REST API root.
const DefaultEndpoint = "https://earthengine.googleapis.com"

// Scopes requested for export credentials.
var Scopes = []string{
	"https://www.googleapis.com/auth/earthengine",
	"https://www.googleapis.com/auth/cloud-platform",
}

// Exporter submits image exports for one cloud project.
type Exporter struct {
	HTTP *transport.Client
	// Endpoint defaults to DefaultEndpoint.
	Endpoint string
	// Project is the bare project id.
	Project string
	// PollInterval of zero disables completion polling: the job is done
	// once the export has been accepted.
	PollInterval time.Duration
	Log          *slog.Logger
}

// NewExporter creates an exporter authenticated with the service account or
// user credentials in credentialsFile, or with application default
// credentials when it is empty. Submissions carry a request id, so POST
// retries are enabled on cfg.
func NewExporter(ctx context.Context, project, credentialsFile string, cfg transport.Config, logger *slog.Logger) (*Exporter, error) {
	ts, err := tokenSource(ctx, credentialsFile)
	if err != nil {
		return nil, err
	}
	cfg.TokenSource = ts
	cfg.RetryPost = true
	return &Exporter{
		HTTP:     transport.New(cfg, logger),
		Endpoint: DefaultEndpoint,
		Project:  project,
		Log:      logger,
	}, nil
}

func tokenSource(ctx context.Context, credentialsFile string) (oauth2.TokenSource, error) {
	if credentialsFile == "" {
		ts, err := google.DefaultTokenSource(ctx, Scopes...)
		if err != nil {
			return nil, fmt.Errorf("failed to find default Earth Engine credentials: %w", err)
		}
		return ts, nil
	}
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", credentialsFile, err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials %s: %w", credentialsFile, err)
	}
	return creds.TokenSource, nil
}

// ExportImageRequest is the body of projects.image.export.
type ExportImageRequest struct {
	Expression        *Expression             `json:"expression"`
	Description       string                  `json:"description,omitempty"`
	FileExportOptions *ImageFileExportOptions `json:"fileExportOptions"`
	Grid              *PixelGrid              `json:"grid,omitempty"`
	MaxPixels         int64                   `json:"maxPixels,string,omitempty"`
	RequestID         string                  `json:"requestId,omitempty"`
}

type ImageFileExportOptions struct {
	FileFormat              string                   `json:"fileFormat"`
	DriveDestination        *DriveDestination        `json:"driveDestination,omitempty"`
	CloudStorageDestination *CloudStorageDestination `json:"cloudStorageDestination,omitempty"`
}

type DriveDestination struct {
	Folder         string `json:"folder,omitempty"`
	FilenamePrefix string `json:"filenamePrefix"`
}

type CloudStorageDestination struct {
	Bucket         string `json:"bucket"`
	FilenamePrefix string `json:"filenamePrefix"`
}

// PixelGrid fixes the output projection, transform and size.
type PixelGrid struct {
	CrsCode         string           `json:"crsCode"`
	AffineTransform *AffineTransform `json:"affineTransform"`
	Dimensions      *GridDimensions  `json:"dimensions"`
}

type AffineTransform struct {
	ScaleX     float64 `json:"scaleX"`
	ShearX     float64 `json:"shearX"`
	TranslateX float64 `json:"translateX"`
	ShearY     float64 `json:"shearY"`
	ScaleY     float64 `json:"scaleY"`
	TranslateY float64 `json:"translateY"`
}

type GridDimensions struct {
	Width  int64 `json:"width"`
	Height int64 `json:"height"`
}

// Operation is a long-running export as returned by the API.
type Operation struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Error    *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Job tracks an export running on its own goroutine.
type Job struct {
	done chan struct{}
	name string
	err  error
}

// Done is closed when the job has finished, successfully or not.
func (j *Job) Done() <-chan struct{} { return j.done }

// Err reports the outcome; only meaningful after Done is closed.
func (j *Job) Err() error {
	select {
	case <-j.done:
		return j.err
	default:
		return nil
	}
}

// Operation returns the long-running operation name, once known.
func (j *Job) Operation() string {
	select {
	case <-j.done:
		return j.name
	default:
		return ""
	}
}

// Start submits the export in the background and returns immediately.
func (e *Exporter) Start(ctx context.Context, spec ExportSpec) *Job {
	j := &Job{done: make(chan struct{})}
	go func() {
		defer close(j.done)
		j.name, j.err = e.run(ctx, spec)
		status := "success"
		if j.err != nil {
			status = "failure"
			e.logger().Error("nighttime-lights export failed", "error", j.err)
		}
		metrics.ExportJobs.WithLabelValues(status).Inc()
	}()
	return j
}

func (e *Exporter) run(ctx context.Context, spec ExportSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", fmt.Errorf("invalid export: %w", err)
	}
	req := exportRequest(spec)
	var op Operation
	if err := e.HTTP.PostJSON(ctx, e.url("projects/"+e.Project+"/image:export"), nil, req, &op); err != nil {
		return "", fmt.Errorf("failed to submit export: %w", err)
	}
	if op.Name == "" {
		return "", fmt.Errorf("%w: export submission returned no operation", domain.ErrTransport)
	}
	e.logger().Info("nighttime-lights export submitted",
		"operation", op.Name, "description", spec.Description, "request_id", req.RequestID)
	if e.PollInterval <= 0 {
		return op.Name, operationError(&op)
	}
	return op.Name, e.wait(ctx, &op)
}

func (e *Exporter) wait(ctx context.Context, op *Operation) error {
	ticker := time.NewTicker(e.PollInterval)
	defer ticker.Stop()
	state := ""
	for !op.Done {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for export %s: %w", domain.ErrTransport, op.Name, ctx.Err())
		case <-ticker.C:
		}
		var next Operation
		if _, err := e.HTTP.GetJSON(ctx, e.url(op.Name), nil, &next); err != nil {
			return fmt.Errorf("failed to poll export %s: %w", op.Name, err)
		}
		op = &next
		if s := operationState(op); s != state {
			state = s
			e.logger().Info("nighttime-lights export status", "operation", op.Name, "state", s)
		}
	}
	return operationError(op)
}

func (e *Exporter) url(resource string) string {
	base := e.Endpoint
	if base == "" {
		base = DefaultEndpoint
	}
	return strings.TrimRight(base, "/") + "/v1/" + strings.TrimLeft(resource, "/")
}

func operationError(op *Operation) error {
	if op.Error != nil {
		return fmt.Errorf("%w: export %s failed: %s", domain.ErrTransport, op.Name, op.Error.Message)
	}
	return nil
}

func operationState(op *Operation) string {
	var meta struct {
		State string `json:"state"`
	}
	if len(op.Metadata) > 0 {
		_ = json.Unmarshal(op.Metadata, &meta)
	}
	if meta.State == "" && op.Done {
		return "SUCCEEDED"
	}
	return meta.State
}

func exportRequest(s ExportSpec) *ExportImageRequest {
	opts := &ImageFileExportOptions{FileFormat: "GEO_TIFF"}
	if s.Bucket != "" {
		opts.CloudStorageDestination = &CloudStorageDestination{
			Bucket:         s.Bucket,
			FilenamePrefix: s.FilePrefix,
		}
	} else {
		opts.DriveDestination = &DriveDestination{
			Folder:         s.DriveFolder,
			FilenamePrefix: s.FilePrefix,
		}
	}
	return &ExportImageRequest{
		Expression:        compositeExpression(s),
		Description:       s.Description,
		FileExportOptions: opts,
		Grid:              pixelGrid(s),
		MaxPixels:         s.MaxPixels,
		RequestID:         uuid.NewString(),
	}
}

// pixelGrid lays a geographic grid of ScaleMeters cells over the region,
// anchored at its north-west corner.
func pixelGrid(s ExportSpec) *PixelGrid {
	step := s.ScaleMeters / metersPerDegree
	width := int64(math.Ceil((s.Region.LonMax - s.Region.LonMin) / step))
	height := int64(math.Ceil((s.Region.LatMax - s.Region.LatMin) / step))
	return &PixelGrid{
		CrsCode: strings.ToUpper(s.CRS),
		AffineTransform: &AffineTransform{
			ScaleX:     step,
			ScaleY:     -step,
			TranslateX: s.Region.LonMin,
			TranslateY: s.Region.LatMax,
		},
		Dimensions: &GridDimensions{Width: width, Height: height},
	}
}

func (e *Exporter) logger() *slog.Logger {
	if e.Log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.Log
}
