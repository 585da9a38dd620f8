// Package cds retrieves datasets from the Copernicus Climate Data Store
// retrieve API: submit a process execution, poll the job, download the
// result asset.
package cds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.ngs.io/ph-pollution/internal/adapter/transport"
	"go.ngs.io/ph-pollution/internal/domain"
)

// DefaultURL is the public CDS API root.
const DefaultURL = "https://cds.climate.copernicus.eu/api"

// ERA5LandMonthly is the ERA5-Land monthly means dataset.
const ERA5LandMonthly = "reanalysis-era5-land-monthly-means"

// Credentials identifies a CDS account.
type Credentials struct {
	URL string
	Key string
}

// CredentialProvider supplies credentials at request time.
type CredentialProvider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticCredentials is a CredentialProvider for fixed values.
type StaticCredentials Credentials

// Credentials returns the fixed credentials.
func (s StaticCredentials) Credentials(context.Context) (Credentials, error) {
	if s.Key == "" {
		return Credentials{}, errors.New("CDS API key is not configured")
	}
	c := Credentials(s)
	if c.URL == "" {
		c.URL = DefaultURL
	}
	return c, nil
}

// EnvCredentials reads CDS_API_URL and CDS_API_KEY, falling back to the
// credentials file at RCPath when the key is unset.
type EnvCredentials struct {
	RCPath string
}

// Credentials resolves the environment or file credentials.
func (e EnvCredentials) Credentials(ctx context.Context) (Credentials, error) {
	c := Credentials{URL: os.Getenv("CDS_API_URL"), Key: os.Getenv("CDS_API_KEY")}
	if c.Key == "" && e.RCPath != "" {
		rc, err := ReadRC(e.RCPath)
		if err != nil {
			return Credentials{}, err
		}
		if c.URL == "" {
			c.URL = rc.URL
		}
		c.Key = rc.Key
	}
	return StaticCredentials(c).Credentials(ctx)
}

// WriteRC writes the two-line url/key credentials file read by CDS tooling,
// readable only by the owner.
func WriteRC(path, url, key string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	content := fmt.Sprintf("url: %s\nkey: %s\n", url, key)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("failed to restrict %s: %w", path, err)
	}
	return nil
}

// ReadRC parses a credentials file written by WriteRC.
func ReadRC(path string) (Credentials, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var c Credentials
	for _, line := range strings.Split(string(b), "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "url":
			c.URL = strings.TrimSpace(v)
		case "key":
			c.Key = strings.TrimSpace(v)
		}
	}
	if c.Key == "" {
		return Credentials{}, fmt.Errorf("%s has no key entry", path)
	}
	return c, nil
}

// Client submits and downloads CDS jobs.
type Client struct {
	HTTP         *transport.Client
	Credentials  CredentialProvider
	PollInterval time.Duration
	Log          *slog.Logger
}

type jobStatus struct {
	JobID   string `json:"jobID"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type jobResults struct {
	Asset struct {
		Value struct {
			Href string `json:"href"`
			Size int64  `json:"file:size"`
		} `json:"value"`
	} `json:"asset"`
}

// Retrieve submits request for dataset, waits for the job to finish and
// downloads the result to target. The file appears at target only after a
// complete download.
func (c *Client) Retrieve(ctx context.Context, dataset string, request map[string]any, target string) error {
	creds, err := c.Credentials.Credentials(ctx)
	if err != nil {
		return fmt.Errorf("failed to get CDS credentials: %w", err)
	}
	base := strings.TrimRight(creds.URL, "/")
	header := http.Header{"PRIVATE-TOKEN": {creds.Key}}

	var job jobStatus
	submit := base + "/retrieve/v1/processes/" + dataset + "/execution"
	if err := c.HTTP.PostJSON(ctx, submit, header, map[string]any{"inputs": request}, &job); err != nil {
		return fmt.Errorf("failed to submit %s request: %w", dataset, err)
	}
	if job.JobID == "" {
		return fmt.Errorf("%w: job submission returned no job id", domain.ErrTransport)
	}
	c.logger().Info("reanalysis job submitted", "dataset", dataset, "job", job.JobID)

	if err := c.wait(ctx, base, job.JobID, header); err != nil {
		return err
	}

	var results jobResults
	if _, err := c.HTTP.GetJSON(ctx, base+"/retrieve/v1/jobs/"+job.JobID+"/results", header, &results); err != nil {
		return fmt.Errorf("failed to get results of job %s: %w", job.JobID, err)
	}
	href := results.Asset.Value.Href
	if href == "" {
		return fmt.Errorf("%w: job %s has no result asset", domain.ErrTransport, job.JobID)
	}
	return c.download(ctx, href, header, target)
}

func (c *Client) wait(ctx context.Context, base, id string, header http.Header) error {
	interval := c.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := ""
	for {
		var st jobStatus
		if _, err := c.HTTP.GetJSON(ctx, base+"/retrieve/v1/jobs/"+id, header, &st); err != nil {
			return fmt.Errorf("failed to poll job %s: %w", id, err)
		}
		if st.Status != last {
			c.logger().Info("reanalysis job status", "job", id, "status", st.Status)
			last = st.Status
		}
		switch st.Status {
		case "successful":
			return nil
		case "failed", "rejected", "dismissed", "deleted":
			return fmt.Errorf("%w: job %s %s: %s", domain.ErrTransport, id, st.Status, st.Message)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for job %s: %w", domain.ErrTransport, id, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) download(ctx context.Context, href string, header http.Header, target string) (err error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", target, err)
	}
	part := target + ".part"
	f, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", part, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(part)
		}
	}()
	n, err := c.HTTP.Download(ctx, href, header, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to download result: %w", err)
	}
	if err := os.Rename(part, target); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", target, err)
	}
	c.logger().Info("reanalysis result downloaded", "path", target, "bytes", n)
	return nil
}

func (c *Client) logger() *slog.Logger {
	if c.Log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Log
}
