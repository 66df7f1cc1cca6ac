// Package bruteforce runs the two sequential DNS resolution phases.
// Each phase is bound to one fixed external resolver tool and walks the
// target list one target at a time, accumulating a deduplicated,
// order-preserving result set that extends any output left behind by a
// previous run of the same phase.
package bruteforce

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/subsentry/subsentry/pkg/runner"
)

// Phase identifies one of the two bruteforce passes.
type Phase string

const (
	PhaseStatic  Phase = "static"
	PhaseDynamic Phase = "dynamic"
)

// Executable returns the fixed resolver tool for the phase.
func (p Phase) Executable() string {
	if p == PhaseStatic {
		return "puredns"
	}
	return "shuffledns"
}

// OutputFile returns the phase output file name inside a job workspace.
func (p Phase) OutputFile() string {
	return string(p) + "_bruteforce.txt"
}

// Title returns the phase name for log lines.
func (p Phase) Title() string {
	if p == PhaseStatic {
		return "Static bruteforce"
	}
	return "Dynamic bruteforce"
}

// Config holds one phase's resolution settings. Wordlist and Resolvers
// are populated with bundled defaults before execution when left empty.
type Config struct {
	Enabled   bool   `json:"enabled"`
	Wordlist  string `json:"wordlist,omitempty"`
	Resolvers string `json:"resolvers,omitempty"`
	Threads   int    `json:"threads,omitempty"`
	// ExtraArgs are appended verbatim to every constructed command.
	ExtraArgs []string `json:"tools,omitempty"`
}

// Command builds the phase's argv for one target.
func (p Phase) Command(target string, cfg Config) []string {
	resolvers := cfg.Resolvers
	if resolvers == "" {
		resolvers = "resolvers.txt"
	}

	var command []string
	if p == PhaseStatic {
		command = []string{"puredns", "bruteforce", cfg.Wordlist, target, "-r", resolvers}
	} else {
		command = []string{"shuffledns", "-d", target, "-w", cfg.Wordlist, "-r", resolvers}
	}
	if cfg.Threads > 0 {
		command = append(command, "-t", strconv.Itoa(cfg.Threads))
	}
	return append(command, cfg.ExtraArgs...)
}

// Status classifies a phase outcome.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusError     Status = "error"
)

// Outcome is the typed result of one phase run.
type Outcome struct {
	Status     Status
	OutputPath string
	ReturnCode *int
	Err        error
}

// Run executes the phase against each target sequentially and rewrites
// the phase output file from the deduplicated accumulator when at least
// one target produced output. Individual target failures are logged and
// skipped; the phase fails only when every target failed.
func Run(ctx context.Context, phase Phase, cfg Config, workdir string, targets []string, env map[string]string, sink runner.Sink) Outcome {
	title := phase.Title()

	if cfg.Wordlist == "" {
		sink(fmt.Sprintf("%s: no wordlist provided, skipping", title))
		return Outcome{Status: StatusSkipped}
	}
	if !runner.Available(phase.Executable()) {
		sink(fmt.Sprintf("%s: command %s not found, skipping", title, phase.Executable()))
		return Outcome{Status: StatusSkipped}
	}

	valid := make([]string, 0, len(targets))
	for _, target := range targets {
		if clean := strings.TrimSpace(target); clean != "" {
			valid = append(valid, clean)
		}
	}
	if len(valid) == 0 {
		sink(fmt.Sprintf("%s: no valid targets provided, skipping", title))
		return Outcome{Status: StatusSkipped}
	}

	outputPath := filepath.Join(workdir, phase.OutputFile())

	// Seed the dedup state from a previous run so repeated phases
	// extend prior results instead of discarding them.
	seen := make(map[string]struct{})
	var entries []string
	if lines, err := readLines(outputPath); err == nil {
		for _, line := range lines {
			if _, dup := seen[line]; !dup {
				seen[line] = struct{}{}
				entries = append(entries, line)
			}
		}
	}

	successful := false
	var lastFailCode *int

	for _, target := range valid {
		command := phase.Command(target, cfg)
		tempPath := filepath.Join(workdir, fmt.Sprintf("%s_bruteforce_%s.txt", phase, hexID()))

		sink(fmt.Sprintf("%s: running against %s", title, target))
		path, code, err := runner.Run(ctx, runner.Command{
			Argv:       command,
			Dir:        workdir,
			OutputPath: tempPath,
			Env:        env,
		}, func(line string) { sink(fmt.Sprintf("[%s_bruteforce] %s", phase, line)) })
		if err != nil {
			return Outcome{Status: StatusError, Err: err}
		}

		if path != "" {
			successful = true
			lines, err := readLines(path)
			if err != nil {
				return Outcome{Status: StatusError, Err: err}
			}
			for _, line := range lines {
				if _, dup := seen[line]; !dup {
					seen[line] = struct{}{}
					entries = append(entries, line)
				}
			}
		} else {
			rc := code
			lastFailCode = &rc
			sink(fmt.Sprintf("%s: command failed for %s with code %d", title, target, code))
		}
		_ = os.Remove(tempPath)
	}

	if !successful {
		return Outcome{Status: StatusFailed, ReturnCode: lastFailCode}
	}
	zero := 0
	finalReturnCode := &zero

	// Full rewrite: the accumulator already contains prior content.
	var sb strings.Builder
	for _, entry := range entries {
		sb.WriteString(entry)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(outputPath, []byte(sb.String()), 0o644); err != nil {
		return Outcome{Status: StatusError, Err: err, ReturnCode: finalReturnCode}
	}
	return Outcome{Status: StatusCompleted, OutputPath: outputPath, ReturnCode: finalReturnCode}
}

// readLines returns the trimmed, non-blank lines of the file at path.
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

func hexID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")
}
