// Package merge consolidates a job's per-tool output files into one
// canonical deduplicated file, maintains the append-only cross-run
// history, and triggers the liveness-probe pass over the merged set.
package merge

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/subsentry/subsentry/pkg/runner"
)

const (
	// MergedFile is the canonical deduplicated output.
	MergedFile = "subs.txt"

	// HistoryFile is the append-only record of every name ever
	// discovered for a workspace. It never shrinks.
	HistoryFile = "subs_history.txt"

	// ProbeFile holds the liveness-probe output.
	ProbeFile = "httpx_probed.txt"

	probeExecutable = "httpx"
)

// Sink receives human-readable progress lines.
type Sink func(line string)

// Summary describes the result of one merge pass.
type Summary struct {
	MergedPath  string
	ProbePath   string
	UniqueLines int
	NewHistory  int
}

// Run merges every plain-text output file in workdir into the canonical
// merged file, appends previously-unseen lines to the history file, and
// runs the probe pass. History and probe are best-effort: their failures
// are logged through sink but never returned.
func Run(ctx context.Context, workdir string, sink Sink) (Summary, error) {
	sink("Merging artifacts")

	mergedPath := filepath.Join(workdir, MergedFile)
	entries, err := mergeFiles(workdir, mergedPath)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{MergedPath: mergedPath, UniqueLines: len(entries)}
	sink(fmt.Sprintf("Merged %d unique entries into %s", len(entries), MergedFile))

	appended, err := appendHistory(workdir, entries)
	if err != nil {
		sink(fmt.Sprintf("history update failed: %v", err))
	} else if appended == 0 {
		sink("history: no new entries to append")
	} else {
		sink(fmt.Sprintf("history: appended %d new entries to %s", appended, HistoryFile))
	}
	summary.NewHistory = appended

	summary.ProbePath = probe(ctx, workdir, mergedPath, sink)
	return summary, nil
}

// mergeFiles writes each first-seen, trimmed, non-blank line from the
// workspace's *.txt files into mergedPath exactly once, preserving the
// order in which files and lines are encountered.
func mergeFiles(workdir, mergedPath string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(workdir, "*.txt"))
	if err != nil {
		return nil, fmt.Errorf("merge: glob workspace: %w", err)
	}

	seen := make(map[string]struct{})
	var entries []string
	for _, file := range files {
		if file == mergedPath {
			continue
		}
		lines, err := readLines(file)
		if err != nil {
			return nil, fmt.Errorf("merge: read %s: %w", filepath.Base(file), err)
		}
		for _, line := range lines {
			if _, dup := seen[line]; !dup {
				seen[line] = struct{}{}
				entries = append(entries, line)
			}
		}
	}

	var sb strings.Builder
	for _, entry := range entries {
		sb.WriteString(entry)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(mergedPath, []byte(sb.String()), 0o644); err != nil {
		return nil, fmt.Errorf("merge: write %s: %w", MergedFile, err)
	}
	return entries, nil
}

// appendHistory appends only lines not already present in the history
// file. Existing lines are never rewritten or reordered.
func appendHistory(workdir string, entries []string) (int, error) {
	historyPath := filepath.Join(workdir, HistoryFile)

	existing := make(map[string]struct{})
	if lines, err := readLines(historyPath); err == nil {
		for _, line := range lines {
			existing[line] = struct{}{}
		}
	}

	var novel []string
	for _, entry := range entries {
		if _, dup := existing[entry]; !dup {
			novel = append(novel, entry)
		}
	}
	if len(novel) == 0 {
		return 0, nil
	}

	f, err := os.OpenFile(historyPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	for _, entry := range novel {
		if _, err := f.WriteString(entry + "\n"); err != nil {
			return 0, err
		}
	}
	return len(novel), nil
}

// probe runs the liveness check over the merged file. Skips with a log
// line when there is nothing to probe or the probe tool is absent.
func probe(ctx context.Context, workdir, mergedPath string, sink Sink) string {
	info, err := os.Stat(mergedPath)
	if err != nil || info.Size() == 0 {
		sink("Merged file is empty; skipping httpx probe")
		return ""
	}
	if !runner.Available(probeExecutable) {
		sink("httpx command not found; skipping probe")
		return ""
	}

	outputPath := filepath.Join(workdir, ProbeFile)
	command := []string{probeExecutable, "-silent", "-l", mergedPath, "-o", outputPath}
	path, _, err := runner.Run(ctx, runner.Command{
		Argv:       command,
		Dir:        workdir,
		OutputPath: outputPath,
	}, func(line string) { sink("[httpx] " + line) })
	if err != nil || path == "" {
		sink("httpx probe failed")
		return ""
	}
	sink(fmt.Sprintf("httpx probe completed: %s", outputPath))
	return path
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if clean := strings.TrimSpace(scanner.Text()); clean != "" {
			lines = append(lines, clean)
		}
	}
	return lines, scanner.Err()
}
