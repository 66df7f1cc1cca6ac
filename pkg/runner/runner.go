// Package runner executes one external discovery tool at a time,
// streaming its combined output line by line to a sink while writing the
// same lines to a destination file.
//
// There is deliberately no timeout or watchdog here: a hung tool blocks
// only the goroutine that invoked it.
package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Sink receives each output line as it is produced.
type Sink func(line string)

// Command describes one external process invocation.
type Command struct {
	// Argv is the program and its arguments.
	Argv []string

	// Dir is the working directory for the process.
	Dir string

	// OutputPath is the file the combined output is written to.
	// Its parent directory is created if absent.
	OutputPath string

	// Env holds extra environment variables layered over the
	// process environment.
	Env map[string]string
}

// Run launches the command, merges stdout and stderr into one stream and
// forwards every line to both the sink and the output file. It returns
// the output path paired with the exit code on success, or an empty path
// when the process exits non-zero: callers treat a non-zero exit as "no
// usable output" regardless of what reached the file.
//
// A non-nil error is returned only for invocation failures (bad command,
// unwritable output file); tool exit codes are not errors.
func Run(ctx context.Context, cmd Command, sink Sink) (string, int, error) {
	if len(cmd.Argv) == 0 {
		return "", 0, ErrEmptyCommand
	}
	if sink == nil {
		sink = func(string) {}
	}

	if err := os.MkdirAll(filepath.Dir(cmd.OutputPath), 0o755); err != nil {
		return "", 0, fmt.Errorf("runner: create output dir: %w", err)
	}
	out, err := os.Create(cmd.OutputPath)
	if err != nil {
		return "", 0, fmt.Errorf("runner: create output file: %w", err)
	}
	defer out.Close()

	proc := exec.CommandContext(ctx, cmd.Argv[0], cmd.Argv[1:]...)
	proc.Dir = cmd.Dir
	proc.Env = mergedEnv(cmd.Env)

	pr, pw := io.Pipe()
	proc.Stdout = pw
	proc.Stderr = pw

	if err := proc.Start(); err != nil {
		pw.Close()
		return "", 0, fmt.Errorf("runner: start %s: %w", cmd.Argv[0], err)
	}

	scanned := make(chan struct{})
	go func() {
		defer close(scanned)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			sink(line)
			_, _ = out.WriteString(line + "\n")
		}
	}()

	waitErr := proc.Wait()
	pw.Close()
	<-scanned

	code := proc.ProcessState.ExitCode()
	if waitErr != nil && code < 0 {
		return "", code, fmt.Errorf("runner: wait %s: %w", cmd.Argv[0], waitErr)
	}

	sink(fmt.Sprintf("Command %s finished with code %d", strings.Join(cmd.Argv, " "), code))
	if code != 0 {
		return "", code, nil
	}
	return cmd.OutputPath, code, nil
}

// Available reports whether executable resolves on the search path.
func Available(executable string) bool {
	_, err := exec.LookPath(executable)
	return err == nil
}

func mergedEnv(overrides map[string]string) []string {
	if len(overrides) == 0 {
		return os.Environ()
	}
	env := os.Environ()
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}
