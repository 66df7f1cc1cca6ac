package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subsentry/subsentry/pkg/config"
	"github.com/subsentry/subsentry/pkg/jobs"
	"github.com/subsentry/subsentry/pkg/jsonutil"
	"github.com/subsentry/subsentry/pkg/metrics"
	"github.com/subsentry/subsentry/pkg/tools"
)

func testServer(t *testing.T, opts ...jobs.Option) (*httptest.Server, *jobs.Manager) {
	t.Helper()
	t.Setenv("PATH", t.TempDir())

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.MaxConcurrency = 2
	cfg.LogBufferLines = 200

	manager := jobs.NewManager(&cfg, opts...)
	srv := httptest.NewServer(NewServer(manager, WithMetrics(metrics.New())))
	t.Cleanup(srv.Close)
	return srv, manager
}

func fakeCatalog(lines string) map[string]tools.Definition {
	return map[string]tools.Definition{
		"fake": {
			Name:       "fake",
			OutputFile: "fake.txt",
			Runner: func(_ context.Context, tc tools.Context, _ tools.Sink) (string, error) {
				path := filepath.Join(tc.Workdir, "fake.txt")
				if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
					return "", err
				}
				return path, nil
			},
		},
	}
}

func postJob(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/jobs", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeSubmit(t *testing.T, resp *http.Response) submitResponse {
	t.Helper()
	defer resp.Body.Close()
	var ack submitResponse
	require.NoError(t, jsonutil.Decode(resp.Body, &ack))
	return ack
}

func decodeJob(t *testing.T, resp *http.Response) jobResponse {
	t.Helper()
	defer resp.Body.Close()
	var job jobResponse
	require.NoError(t, jsonutil.Decode(resp.Body, &job))
	return job
}

func waitForJob(t *testing.T, manager *jobs.Manager, id string) {
	t.Helper()
	job, err := manager.Get(id)
	require.NoError(t, err)
	select {
	case <-job.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("job %s did not finish", id)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateJobAccepted(t *testing.T) {
	srv, manager := testServer(t, jobs.WithCatalog(fakeCatalog("a.com\n")))

	resp := postJob(t, srv, `{"targets":["example.com"]}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	ack := decodeSubmit(t, resp)
	assert.NotEmpty(t, ack.JobID)
	assert.False(t, ack.CreatedAt.IsZero())

	waitForJob(t, manager, ack.JobID)
}

func TestCreateJobRejectsMissingTargets(t *testing.T) {
	srv, _ := testServer(t)

	resp := postJob(t, srv, `{"targets":[]}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateJobRejectsMalformedBody(t *testing.T) {
	srv, _ := testServer(t)

	resp := postJob(t, srv, `{"targets":`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetJob(t *testing.T) {
	srv, manager := testServer(t, jobs.WithCatalog(fakeCatalog("a.com\n")))

	created := decodeSubmit(t, postJob(t, srv, `{"targets":["example.com"]}`))
	waitForJob(t, manager, created.JobID)

	resp, err := http.Get(srv.URL + "/jobs/" + created.JobID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	job := decodeJob(t, resp)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, []string{"example.com"}, job.Targets)
	require.Len(t, job.Results, 1)
	assert.Equal(t, "fake", job.Results[0].Tool)
	assert.NotEmpty(t, job.MergedFile)
	assert.Contains(t, job.Artifacts, "subs.txt")
}

func TestGetJobNotFound(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/jobs/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListJobs(t *testing.T) {
	srv, manager := testServer(t, jobs.WithCatalog(fakeCatalog("a.com\n")))

	a := decodeSubmit(t, postJob(t, srv, `{"targets":["a.example"]}`))
	b := decodeSubmit(t, postJob(t, srv, `{"targets":["b.example"]}`))
	waitForJob(t, manager, a.JobID)
	waitForJob(t, manager, b.JobID)

	resp, err := http.Get(srv.URL + "/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()
	var listing struct {
		Jobs []jobResponse `json:"jobs"`
	}
	require.NoError(t, jsonutil.Decode(resp.Body, &listing))
	assert.Len(t, listing.Jobs, 2)
}

func TestJobLogs(t *testing.T) {
	srv, manager := testServer(t, jobs.WithCatalog(fakeCatalog("a.com\n")))

	created := decodeSubmit(t, postJob(t, srv, `{"targets":["example.com"]}`))
	waitForJob(t, manager, created.JobID)

	resp, err := http.Get(srv.URL + "/jobs/" + created.JobID + "/logs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Lines []string `json:"lines"`
	}
	require.NoError(t, jsonutil.Decode(resp.Body, &payload))
	require.NotEmpty(t, payload.Lines)
	assert.Contains(t, payload.Lines[0], "Job started")
	assert.Contains(t, payload.Lines[len(payload.Lines)-1], "Job completed successfully")
}

func TestArtifactsEndpoints(t *testing.T) {
	srv, manager := testServer(t, jobs.WithCatalog(fakeCatalog("a.com\nb.com\n")))

	created := decodeSubmit(t, postJob(t, srv, `{"targets":["example.com"]}`))
	waitForJob(t, manager, created.JobID)

	resp, err := http.Get(srv.URL + "/jobs/" + created.JobID + "/artifacts")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listing struct {
		Files []string `json:"files"`
	}
	require.NoError(t, jsonutil.Decode(resp.Body, &listing))
	resp.Body.Close()
	assert.Contains(t, listing.Files, "subs.txt")
	assert.Contains(t, listing.Files, "fake.txt")

	resp, err = http.Get(srv.URL + "/jobs/" + created.JobID + "/artifacts/subs.txt")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "a.com\nb.com\n", buf.String())

	resp, err = http.Get(srv.URL + "/jobs/" + created.JobID + "/artifacts/missing.txt")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestArchiveEndpoint(t *testing.T) {
	srv, manager := testServer(t, jobs.WithCatalog(fakeCatalog("a.com\n")))

	created := decodeSubmit(t, postJob(t, srv, `{"targets":["example.com"]}`))
	waitForJob(t, manager, created.JobID)

	resp, err := http.Get(srv.URL + "/jobs/" + created.JobID + "/archive")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), created.JobID+".tar.gz")

	gz, err := gzip.NewReader(resp.Body)
	require.NoError(t, err)
	gz.Close()
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestLogSocketUnknownJob(t *testing.T) {
	srv, _ := testServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/jobs/nope/logs"), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, closeUnknownJob, closeErr.Code)
}

func TestLogSocketReplaysHistory(t *testing.T) {
	srv, manager := testServer(t, jobs.WithCatalog(fakeCatalog("a.com\n")))

	created := decodeSubmit(t, postJob(t, srv, `{"targets":["example.com"]}`))
	waitForJob(t, manager, created.JobID)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/jobs/"+created.JobID+"/logs"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var lines []string
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr)
			assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
			break
		}
		lines = append(lines, string(data))
	}
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "Job started")
	assert.Contains(t, lines[len(lines)-1], "Job completed successfully")
}

func TestLogSocketStreamsLiveLines(t *testing.T) {
	release := make(chan struct{})
	catalog := map[string]tools.Definition{
		"slow": {
			Name:       "slow",
			OutputFile: "slow.txt",
			Runner: func(_ context.Context, tc tools.Context, sink tools.Sink) (string, error) {
				sink("phase one")
				<-release
				sink("phase two")
				path := filepath.Join(tc.Workdir, "slow.txt")
				return path, os.WriteFile(path, []byte("a.com\n"), 0o644)
			},
		},
	}
	srv, manager := testServer(t, jobs.WithCatalog(catalog))

	created := decodeSubmit(t, postJob(t, srv, `{"targets":["example.com"]}`))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/jobs/"+created.JobID+"/logs"), nil)
	require.NoError(t, err)
	defer conn.Close()

	readUntil := func(substr string) {
		t.Helper()
		for {
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, data, err := conn.ReadMessage()
			require.NoError(t, err)
			if strings.Contains(string(data), substr) {
				return
			}
		}
	}

	readUntil("phase one")
	close(release)
	readUntil("phase two")
	readUntil("Job completed successfully")

	waitForJob(t, manager, created.JobID)
}
