// Package tools defines the catalog of external discovery tools.
//
// A tool is either a command template (argv built from the execution
// context, run through pkg/runner) or a custom runner such as the
// certificate-transparency lookup. The catalog is built once and is
// immutable for the process lifetime; dispatch is on which of the two
// strategy fields is set, never on open-ended polymorphism.
package tools

import "context"

// Context carries the per-job execution context shared by every tool.
type Context struct {
	JobID       string
	Targets     []string
	Workdir     string
	Environment map[string]string
}

// Sink receives human-readable progress lines from a tool run.
type Sink func(line string)

// RunnerFunc is the custom-runner strategy. It returns the produced
// output path, or an empty path for "no usable output".
type RunnerFunc func(ctx context.Context, tc Context, sink Sink) (string, error)

// Definition describes one catalog entry.
type Definition struct {
	Name        string
	OutputFile  string
	Description string

	// Command builds the argv for command-template tools.
	Command func(tc Context) []string

	// Runner is set instead of Command for custom tools.
	Runner RunnerFunc
}

// HasOutput reports whether the tool declares an output file and is
// therefore eligible for job execution.
func (d Definition) HasOutput() bool {
	return d.OutputFile != ""
}

// simpleCommand returns a definition whose argv is the tool name, fixed
// arguments, then the target list appended as trailing arguments.
func simpleCommand(name string, args ...string) Definition {
	return Definition{
		Name:       name,
		OutputFile: name + ".txt",
		Command: func(tc Context) []string {
			command := append([]string{name}, args...)
			return append(command, tc.Targets...)
		},
	}
}

// Catalog returns the static tool table keyed by tool name.
func Catalog() map[string]Definition {
	crtsh := NewCrtshClient()

	defs := []Definition{
		{
			Name:        "crtsh",
			OutputFile:  "crtsh.txt",
			Description: "Fetches certificates from crt.sh",
			Runner:      crtsh.Run,
		},
		simpleCommand("waybackurls"),
		simpleCommand("gau"),
		simpleCommand("waymore"),
		simpleCommand("subfinder", "-silent"),
		simpleCommand("chaos", "-silent"),
		simpleCommand("github-subdomains"),
		simpleCommand("gitlab-subdomains"),
		simpleCommand("source_scan"),
		simpleCommand("urlfinder"),
		simpleCommand("httpx", "-silent"),
		simpleCommand("dnsx", "-silent"),
		simpleCommand("puredns", "resolve"),
		simpleCommand("shuffledns", "-silent"),
		simpleCommand("gotator"),
		simpleCommand("alterx"),
	}

	catalog := make(map[string]Definition, len(defs))
	for _, d := range defs {
		catalog[d.Name] = d
	}
	return catalog
}
