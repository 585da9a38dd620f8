package earthengine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.ngs.io/ph-pollution/internal/adapter/transport"
	"go.ngs.io/ph-pollution/internal/domain"
)

var philippines = domain.Region{LatMin: 4, LatMax: 21, LonMin: 116, LonMax: 127}

func testSpec() ExportSpec {
	return DefaultSpec(philippines, time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC))
}

func testExporter(t *testing.T, h http.Handler) *Exporter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := transport.DefaultConfig()
	cfg.RateLimit = 0
	cfg.MaxRetries = 0
	return &Exporter{HTTP: transport.New(cfg, nil), Endpoint: srv.URL, Project: "demo"}
}

func waitJob(t *testing.T, j *Job) {
	t.Helper()
	select {
	case <-j.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("export job did not finish")
	}
}

func functionNames(expr *Expression) map[string]bool {
	names := make(map[string]bool)
	var walk func(n ValueNode)
	walk = func(n ValueNode) {
		if f := n.FunctionInvocationValue; f != nil {
			names[f.FunctionName] = true
			for _, a := range f.Arguments {
				walk(a)
			}
		}
		if a := n.ArrayValue; a != nil {
			for _, v := range a.Values {
				walk(v)
			}
		}
	}
	for _, v := range expr.Values {
		walk(v)
	}
	return names
}

func TestCompositeExpression(t *testing.T) {
	expr := compositeExpression(testSpec())

	root := expr.Values[expr.Result]
	require.NotNil(t, root.FunctionInvocationValue)
	require.Equal(t, "ImageCollection.toBands", root.FunctionInvocationValue.FunctionName)

	names := functionNames(expr)
	for _, want := range []string{
		"ImageCollection.load", "Collection.filter", "Collection.map", "Image.select",
		"Image.reduceResolution", "Reducer.mean", "Image.reproject", "Image.clip",
		"Element.set", "GeometryConstructors.Rectangle",
	} {
		require.True(t, names[want], "missing %s", want)
	}

	// Every value reference must resolve inside the graph.
	for _, v := range expr.Values {
		if f := v.FunctionDefinitionValue; f != nil {
			_, ok := expr.Values[f.Body]
			require.True(t, ok, "dangling body %s", f.Body)
		}
	}
}

func TestPixelGrid(t *testing.T) {
	g := pixelGrid(testSpec())
	require.Equal(t, "EPSG:4326", g.CrsCode)
	require.InDelta(t, 10000/metersPerDegree, g.AffineTransform.ScaleX, 1e-12)
	require.InDelta(t, -g.AffineTransform.ScaleX, g.AffineTransform.ScaleY, 1e-12)
	require.Equal(t, 116.0, g.AffineTransform.TranslateX)
	require.Equal(t, 21.0, g.AffineTransform.TranslateY)
	require.Equal(t, int64(123), g.Dimensions.Width)
	require.Equal(t, int64(190), g.Dimensions.Height)
}

func TestExporter_StartAndPoll(t *testing.T) {
	var polls atomic.Int32
	bodies := make(chan map[string]any, 1)
	e := testExporter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/projects/demo/image:export":
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			bodies <- body
			_, _ = io.WriteString(w, `{"name":"projects/demo/operations/op1","metadata":{"state":"PENDING"}}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/projects/demo/operations/op1":
			if polls.Add(1) < 2 {
				_, _ = io.WriteString(w, `{"name":"projects/demo/operations/op1","metadata":{"state":"RUNNING"}}`)
				return
			}
			_, _ = io.WriteString(w, `{"name":"projects/demo/operations/op1","done":true,"metadata":{"state":"SUCCEEDED"}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	e.PollInterval = time.Millisecond

	j := e.Start(context.Background(), testSpec())
	waitJob(t, j)
	require.NoError(t, j.Err())
	require.Equal(t, "projects/demo/operations/op1", j.Operation())
	require.Equal(t, int32(2), polls.Load())

	body := <-bodies
	require.Equal(t, DefaultPrefix, body["description"])
	require.Equal(t, "10000000000000", body["maxPixels"])
	require.NotEmpty(t, body["requestId"])
	opts := body["fileExportOptions"].(map[string]any)
	require.Equal(t, "GEO_TIFF", opts["fileFormat"])
	require.Equal(t, DefaultFolder, opts["driveDestination"].(map[string]any)["folder"])
	require.NotContains(t, opts, "cloudStorageDestination")
	expr := body["expression"].(map[string]any)
	require.Contains(t, expr["values"], expr["result"])
}

func TestExporter_BearerToken(t *testing.T) {
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `{"name":"projects/demo/operations/op3","done":true}`)
	}))
	defer srv.Close()

	cfg := transport.DefaultConfig()
	cfg.RateLimit = 0
	cfg.TokenSource = transport.StaticToken("ee-token")
	e := &Exporter{HTTP: transport.New(cfg, nil), Endpoint: srv.URL, Project: "demo"}

	j := e.Start(context.Background(), testSpec())
	waitJob(t, j)
	require.NoError(t, j.Err())
	require.Equal(t, "Bearer ee-token", <-auth)
}

func TestExportRequest_Bucket(t *testing.T) {
	s := testSpec()
	s.Bucket = "ph-exports"
	req := exportRequest(s)
	require.Nil(t, req.FileExportOptions.DriveDestination)
	require.Equal(t, "ph-exports", req.FileExportOptions.CloudStorageDestination.Bucket)
	require.Equal(t, DefaultPrefix, req.FileExportOptions.CloudStorageDestination.FilenamePrefix)

	b, err := json.Marshal(req)
	require.NoError(t, err)
	require.Contains(t, string(b), `"geodesic":{"constantValue":false}`)
}

func TestTokenSource_CredentialsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "type": "authorized_user",
  "client_id": "id.apps.googleusercontent.com",
  "client_secret": "secret",
  "refresh_token": "refresh"
}`), 0o600))

	ts, err := tokenSource(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, ts)

	_, err = tokenSource(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("not json"), 0o600))
	_, err = tokenSource(context.Background(), bad)
	require.Error(t, err)
}

func TestExporter_OperationFailed(t *testing.T) {
	e := testExporter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"name":"projects/demo/operations/op2","done":true,"error":{"code":3,"message":"too many pixels"}}`)
	}))

	j := e.Start(context.Background(), testSpec())
	waitJob(t, j)
	require.ErrorIs(t, j.Err(), domain.ErrTransport)
	require.ErrorContains(t, j.Err(), "too many pixels")
}

func TestExporter_SubmitRejected(t *testing.T) {
	e := testExporter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"denied"}}`, http.StatusForbidden)
	}))

	j := e.Start(context.Background(), testSpec())
	waitJob(t, j)
	require.ErrorIs(t, j.Err(), domain.ErrTransport)
}

func TestExportSpec_Validate(t *testing.T) {
	s := testSpec()
	require.NoError(t, s.Validate())

	s.DriveFolder = ""
	require.Error(t, s.Validate())

	s = testSpec()
	s.End = s.Start
	require.Error(t, s.Validate())
}

func TestIsExportTile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"exports/NTL_PH_2019_2024.tif", true},
		{"exports/NTL_PH_2019_2024-0000000000-0000000000.tif", true},
		{"exports/NTL_PH_2019_2024.json", false},
		{"exports/OTHER.tif", false},
	}
	for _, tt := range tests {
		if got := isExportTile(tt.name, "exports/NTL_PH_2019_2024"); got != tt.want {
			t.Errorf("isExportTile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
