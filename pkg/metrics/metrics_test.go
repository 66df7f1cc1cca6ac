package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	c := New()

	c.JobStarted()
	c.JobStarted()
	c.JobFinished("completed")
	c.ToolRun("subfinder", "completed")
	c.ToolRun("gau", "skipped")
	c.MergedLines(42)

	families, err := c.registry.Gather()
	require.NoError(t, err)

	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	assert.True(t, found["subsentry_jobs_total"])
	assert.True(t, found["subsentry_jobs_running"])
	assert.True(t, found["subsentry_tool_runs_total"])
	assert.True(t, found["subsentry_merged_lines_total"])
}

func TestHandlerServesMetrics(t *testing.T) {
	c := New()
	c.JobStarted()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "subsentry_jobs_running 1"))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.JobStarted()
	c.JobFinished("failed")
	c.ToolRun("gau", "error")
	c.MergedLines(10)
}
