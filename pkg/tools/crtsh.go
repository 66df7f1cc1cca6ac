package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/subsentry/subsentry/pkg/httpclient"
	"github.com/subsentry/subsentry/pkg/iohelper"
	"github.com/subsentry/subsentry/pkg/jsonutil"
)

// CrtshClient queries crt.sh certificate-transparency logs and extracts
// hostnames from the returned certificate records.
type CrtshClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// NewCrtshClient creates a crt.sh client. Queries are paced to one per
// second so multi-target jobs stay polite to the public service.
func NewCrtshClient() *CrtshClient {
	return &CrtshClient{
		httpClient: httpclient.New(httpclient.WithTimeout(30 * time.Second)),
		baseURL:    "https://crt.sh",
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

type crtshRecord struct {
	NameValue string `json:"name_value"`
}

// Run queries crt.sh once per target, deduplicates every hostname found
// in the name_value fields and writes the sorted set to crtsh.txt in the
// job workspace. Per-target lookup failures are logged and skipped; the
// output file is written even when no records were found.
func (c *CrtshClient) Run(ctx context.Context, tc Context, sink Sink) (string, error) {
	outputPath := filepath.Join(tc.Workdir, "crtsh.txt")
	entries := make(map[string]struct{})

	for _, target := range tc.Targets {
		records, err := c.fetch(ctx, target)
		if err != nil {
			sink(fmt.Sprintf("crt.sh lookup failed for %s: %v", target, err))
			continue
		}
		for _, record := range records {
			// name_value packs multiple hostnames separated by newlines.
			for _, name := range strings.Split(record.NameValue, "\n") {
				if clean := strings.TrimSpace(name); clean != "" {
					entries[clean] = struct{}{}
				}
			}
		}
		sink(fmt.Sprintf("crt.sh retrieved %d certificates for %s", len(records), target))
	}

	if len(entries) == 0 {
		sink("No crt.sh entries found")
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(name)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(outputPath, []byte(sb.String()), 0o644); err != nil {
		return "", fmt.Errorf("crtsh: write output: %w", err)
	}
	return outputPath, nil
}

func (c *CrtshClient) fetch(ctx context.Context, target string) ([]crtshRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	lookupURL := c.baseURL + "/?output=json&q=" + url.QueryEscape(target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer iohelper.DrainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("crt.sh returned status %d", resp.StatusCode)
	}

	body, err := iohelper.ReadBodyLarge(resp.Body)
	if err != nil {
		return nil, err
	}

	var records []crtshRecord
	if err := jsonutil.Unmarshal(body, &records); err != nil {
		// crt.sh occasionally returns HTML error pages with status 200.
		return nil, fmt.Errorf("crt.sh response not parseable: %w", err)
	}
	return records, nil
}
