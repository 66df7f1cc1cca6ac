package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/subsentry/subsentry/pkg/bruteforce"
	"github.com/subsentry/subsentry/pkg/config"
	"github.com/subsentry/subsentry/pkg/merge"
	"github.com/subsentry/subsentry/pkg/metrics"
	"github.com/subsentry/subsentry/pkg/runner"
	"github.com/subsentry/subsentry/pkg/tools"
	"github.com/subsentry/subsentry/pkg/wordlist"
)

// Manager owns job identity and lookup, allocates workspaces, and drives
// every job through its lifecycle. The registry map is the only state
// mutated by multiple callers and is guarded by its own mutex; each
// job's fields are written only by the goroutine executing that job.
type Manager struct {
	cfg      *config.Settings
	logger   *slog.Logger
	metrics  *metrics.Collector
	catalog  map[string]tools.Definition
	defaults wordlist.Paths

	mu   sync.Mutex
	jobs map[string]*Job

	// gate bounds concurrently executing jobs, not individual tool
	// processes. A permit is held for the full duration of one job body.
	gate chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a structured logger for process-level events.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithCatalog replaces the built-in tool catalog.
func WithCatalog(catalog map[string]tools.Definition) Option {
	return func(m *Manager) { m.catalog = catalog }
}

// NewManager creates a Manager using the given settings.
func NewManager(cfg *config.Settings, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		logger:   slog.Default(),
		catalog:  tools.Catalog(),
		defaults: wordlist.Paths{Root: cfg.WordlistRoot},
		jobs:     make(map[string]*Job),
		gate:     make(chan struct{}, cfg.MaxConcurrency),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Create validates the request, allocates a workspace, registers the job
// and schedules its execution. It returns as soon as the job is
// registered; callers observe bounded latency regardless of backlog.
func (m *Manager) Create(req Request) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := newID()
	dataDir := filepath.Join(m.cfg.DataDir, id)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("jobs: create workspace: %w", err)
	}
	job := newJob(id, req, dataDir, filepath.Join(dataDir, "job.log"), m.cfg.LogBufferLines)
	m.jobs[id] = job

	go m.execute(job)
	return job, nil
}

// Get returns the job registered under id.
func (m *Manager) Get(id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// List returns all registered jobs ordered by creation time.
func (m *Manager) List() []*Job {
	m.mu.Lock()
	all := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		all = append(all, job)
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i].Snapshot(), all[j].Snapshot()
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return all
}

// Artifacts returns the sorted file names in a job's workspace.
func (m *Manager) Artifacts(id string) ([]string, error) {
	job, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(job.DataDir)
	if err != nil {
		return nil, fmt.Errorf("jobs: read workspace: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Artifact resolves one workspace file by name. Name must be a bare file
// name; anything resembling a path is rejected.
func (m *Manager) Artifact(id, name string) (string, error) {
	job, err := m.Get(id)
	if err != nil {
		return "", err
	}
	if name == "" || name != filepath.Base(name) {
		return "", ErrArtifactNotFound
	}
	path := filepath.Join(job.DataDir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrArtifactNotFound
	}
	return path, nil
}

// execute runs one job to its terminal status. The transition to running
// happens before gate admission on purpose: the label means "accepted
// for execution", not "actively holding a slot".
func (m *Manager) execute(job *Job) {
	defer close(job.done)
	ctx := context.Background()

	job.transition(StatusRunning, "")
	job.Hub.Emit("Job started")
	m.metrics.JobStarted()
	m.logger.Info("job started", slog.String("job_id", job.ID))

	if err := m.runGated(ctx, job); err != nil {
		job.transition(StatusFailed, err.Error())
		job.Hub.Emitf("Job failed: %v", err)
		m.metrics.JobFinished(string(StatusFailed))
		m.logger.Error("job failed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		return
	}
	job.transition(StatusCompleted, "")
	job.Hub.Emit("Job completed successfully")
	m.metrics.JobFinished(string(StatusCompleted))
	m.logger.Info("job completed", slog.String("job_id", job.ID))
}

// runGated is the job's single failure boundary. The permit is released
// on every exit path, and a panic anywhere in the body surfaces as the
// job's failure message instead of destabilizing the process.
func (m *Manager) runGated(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job body panicked: %v", r)
		}
	}()

	m.gate <- struct{}{}
	defer func() { <-m.gate }()

	return m.runBody(ctx, job)
}

func (m *Manager) runBody(ctx context.Context, job *Job) error {
	m.applyBruteforceDefaults(&job.Request)

	active := m.resolveTools(job.Request)
	names := make([]string, 0, len(active))
	for name := range active {
		names = append(names, name)
	}
	sort.Strings(names)
	job.Hub.Emitf("Resolved tools: %s", strings.Join(names, ", "))

	tc := tools.Context{
		JobID:       job.ID,
		Targets:     job.Request.Targets,
		Workdir:     job.DataDir,
		Environment: m.buildEnvironment(job.Request),
	}

	// Discovery tools run concurrently; bruteforce phases run in order
	// alongside them and everything joins before the merge pass.
	var wg sync.WaitGroup
	for _, name := range names {
		def := active[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.runTool(ctx, job, tc, def)
		}()
	}

	if job.Request.StaticBruteforce.Enabled {
		m.runBruteforce(ctx, job, tc, bruteforce.PhaseStatic, job.Request.StaticBruteforce)
	}
	if job.Request.DynamicBruteforce.Enabled {
		m.runBruteforce(ctx, job, tc, bruteforce.PhaseDynamic, job.Request.DynamicBruteforce)
	}

	wg.Wait()

	summary, err := merge.Run(ctx, job.DataDir, job.Hub.Emit)
	if err != nil {
		return err
	}
	job.setArtifacts(summary.MergedPath, summary.ProbePath)
	m.metrics.MergedLines(summary.UniqueLines)
	return nil
}

// applyBruteforceDefaults populates enabled phases with the bundled
// wordlist and resolver paths before any command is built.
func (m *Manager) applyBruteforceDefaults(req *Request) {
	if req.StaticBruteforce.Enabled {
		if req.StaticBruteforce.Wordlist == "" {
			req.StaticBruteforce.Wordlist = m.defaults.Static()
		}
		if req.StaticBruteforce.Resolvers == "" {
			req.StaticBruteforce.Resolvers = m.defaults.Resolvers()
		}
	}
	if req.DynamicBruteforce.Enabled {
		if req.DynamicBruteforce.Wordlist == "" {
			req.DynamicBruteforce.Wordlist = m.defaults.Dynamic()
		}
		if req.DynamicBruteforce.Resolvers == "" {
			req.DynamicBruteforce.Resolvers = m.defaults.Resolvers()
		}
	}
}

// resolveTools intersects the catalog with the request's allow-list,
// then subtracts its exclude-list.
func (m *Manager) resolveTools(req Request) map[string]tools.Definition {
	active := make(map[string]tools.Definition)
	for name, def := range m.catalog {
		if def.HasOutput() {
			active[name] = def
		}
	}
	if len(req.Tools) > 0 {
		requested := make(map[string]tools.Definition, len(req.Tools))
		for _, name := range req.Tools {
			if def, ok := active[name]; ok {
				requested[name] = def
			}
		}
		active = requested
	}
	for _, name := range req.ExcludeTools {
		delete(active, name)
	}
	return active
}

// buildEnvironment merges process API credentials under the
// request-supplied variables; explicit request values win.
func (m *Manager) buildEnvironment(req Request) map[string]string {
	env := make(map[string]string, len(req.Environment)+3)
	for k, v := range req.Environment {
		env[k] = v
	}
	setDefault := func(key, value string) {
		if value == "" {
			return
		}
		if _, ok := env[key]; !ok {
			env[key] = value
		}
	}
	setDefault("CHAOS_KEY", m.cfg.API.ChaosKey)
	setDefault("GITHUB_TOKEN", m.cfg.API.GithubToken)
	setDefault("GITLAB_TOKEN", m.cfg.API.GitlabToken)
	return env
}

// runTool executes one catalog entry with per-tool isolation: any
// failure, including a panic, is recorded on the ToolResult and never
// propagates to the job body.
func (m *Manager) runTool(ctx context.Context, job *Job, tc tools.Context, def tools.Definition) {
	result := &ToolResult{
		Tool:       def.Name,
		OutputFile: filepath.Join(job.DataDir, def.OutputFile),
		Status:     ResultRunning,
		StartedAt:  time.Now().UTC(),
	}
	job.addResult(result)
	job.Hub.Emitf("Starting tool %s", def.Name)

	defer func() {
		if r := recover(); r != nil {
			job.updateResult(func() {
				result.Status = ResultError
				result.Error = fmt.Sprintf("panic: %v", r)
			})
			job.Hub.Emitf("Tool %s failed: %v", def.Name, r)
		}
		now := time.Now().UTC()
		var status string
		job.updateResult(func() {
			result.FinishedAt = &now
			status = result.Status
		})
		m.metrics.ToolRun(def.Name, status)
	}()

	sink := func(line string) { job.Hub.Emitf("[%s] %s", def.Name, line) }

	var outputPath string
	switch {
	case def.Runner != nil:
		path, err := def.Runner(ctx, tc, sink)
		if err != nil {
			job.updateResult(func() {
				result.Status = ResultError
				result.Error = err.Error()
			})
			job.Hub.Emitf("Tool %s failed: %v", def.Name, err)
			return
		}
		outputPath = path

	case def.Command != nil:
		command := def.Command(tc)
		if len(command) == 0 || !runner.Available(command[0]) {
			job.Hub.Emitf("Tool %s not found on PATH. Skipping.", def.Name)
			job.updateResult(func() { result.Status = ResultSkipped })
			return
		}
		path, code, err := runner.Run(ctx, runner.Command{
			Argv:       command,
			Dir:        job.DataDir,
			OutputPath: filepath.Join(job.DataDir, def.OutputFile),
			Env:        tc.Environment,
		}, sink)
		if err != nil {
			job.updateResult(func() {
				result.Status = ResultError
				result.Error = err.Error()
			})
			job.Hub.Emitf("Tool %s failed: %v", def.Name, err)
			return
		}
		job.updateResult(func() { result.ReturnCode = &code })
		outputPath = path

	default:
		job.Hub.Emitf("Tool %s has no runner configured", def.Name)
		job.updateResult(func() { result.Status = ResultSkipped })
		return
	}

	if outputPath != "" {
		job.updateResult(func() {
			result.Status = ResultCompleted
			result.OutputFile = outputPath
		})
	} else {
		job.updateResult(func() { result.Status = ResultFailed })
	}
}

// runBruteforce executes one sequential resolution phase and records its
// typed outcome as a ToolResult.
func (m *Manager) runBruteforce(ctx context.Context, job *Job, tc tools.Context, phase bruteforce.Phase, cfg bruteforce.Config) {
	job.Hub.Emitf("Starting %s", phase.Title())

	result := &ToolResult{
		Tool:       string(phase) + "_bruteforce",
		OutputFile: filepath.Join(job.DataDir, phase.OutputFile()),
		Status:     ResultRunning,
		StartedAt:  time.Now().UTC(),
	}
	job.addResult(result)

	outcome := bruteforce.Run(ctx, phase, cfg, job.DataDir, tc.Targets, tc.Environment, job.Hub.Emit)

	now := time.Now().UTC()
	var status string
	job.updateResult(func() {
		result.FinishedAt = &now
		result.ReturnCode = outcome.ReturnCode
		switch outcome.Status {
		case bruteforce.StatusCompleted:
			result.Status = ResultCompleted
			result.OutputFile = outcome.OutputPath
		case bruteforce.StatusSkipped:
			result.Status = ResultSkipped
		case bruteforce.StatusError:
			result.Status = ResultError
			if outcome.Err != nil {
				result.Error = outcome.Err.Error()
			}
		default:
			result.Status = ResultFailed
		}
		status = result.Status
	})
	m.metrics.ToolRun(result.Tool, status)

	if outcome.Err != nil {
		job.Hub.Emitf("%s failed: %v", phase.Title(), outcome.Err)
	}
}
