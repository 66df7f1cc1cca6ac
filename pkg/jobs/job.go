// Package jobs implements the orchestration core: the in-memory job
// registry, the per-job lifecycle state machine and the execution body
// that drives tool runs, bruteforce phases and the merge pass.
package jobs

import (
	"sync"
	"time"

	"github.com/subsentry/subsentry/pkg/bruteforce"
	"github.com/subsentry/subsentry/pkg/loghub"
)

// Status is the job lifecycle state. Transitions are monotonic:
// queued -> running -> {completed, failed}. Cancelled is reserved for
// forward compatibility; nothing currently triggers it.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ToolResult statuses.
const (
	ResultRunning   = "running"
	ResultCompleted = "completed"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
	ResultError     = "error"
)

// Request describes one job submission. It is immutable once accepted,
// except for bruteforce default injection which populates empty
// wordlist/resolver paths before execution begins.
type Request struct {
	Targets           []string          `json:"targets"`
	Tools             []string          `json:"tools,omitempty"`
	ExcludeTools      []string          `json:"exclude_tools,omitempty"`
	StaticBruteforce  bruteforce.Config `json:"static_bruteforce"`
	DynamicBruteforce bruteforce.Config `json:"dynamic_bruteforce"`
	Environment       map[string]string `json:"environment,omitempty"`
	Options           map[string]any    `json:"options,omitempty"`
}

// Validate rejects requests without targets.
func (r *Request) Validate() error {
	if len(r.Targets) == 0 {
		return ErrNoTargets
	}
	return nil
}

// ToolResult tracks one tool or phase execution. It is appended to the
// job's result list before execution starts and mutated in place by the
// same task until completion; results are never removed.
type ToolResult struct {
	Tool       string     `json:"tool"`
	ReturnCode *int       `json:"return_code"`
	OutputFile string     `json:"output_file,omitempty"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Error      string     `json:"error,omitempty"`
}

// Job is one orchestrated pipeline run. Identity and lookup belong to
// the Manager; mutable fields are written only by the goroutine driving
// the job and read through Snapshot.
type Job struct {
	ID      string
	Request Request
	DataDir string
	LogPath string
	Hub     *loghub.Hub

	done chan struct{}

	mu         sync.RWMutex
	status     Status
	message    string
	createdAt  time.Time
	updatedAt  time.Time
	results    []*ToolResult
	mergedFile string
	probeFile  string
}

func newJob(id string, req Request, dataDir, logPath string, bufferLines int) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        id,
		Request:   req,
		DataDir:   dataDir,
		LogPath:   logPath,
		Hub:       loghub.New(logPath, bufferLines),
		done:      make(chan struct{}),
		status:    StatusQueued,
		createdAt: now,
		updatedAt: now,
	}
}

// Done is closed when the job reaches a terminal status.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Snapshot is a consistent copy of a job's observable state.
type Snapshot struct {
	ID         string
	Status     Status
	Message    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Targets    []string
	Results    []ToolResult
	MergedFile string
	ProbeFile  string
	DataDir    string
}

// Snapshot copies the job state for readers outside the job's goroutine.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	results := make([]ToolResult, len(j.results))
	for i, r := range j.results {
		results[i] = *r
	}
	targets := make([]string, len(j.Request.Targets))
	copy(targets, j.Request.Targets)

	return Snapshot{
		ID:         j.ID,
		Status:     j.status,
		Message:    j.message,
		CreatedAt:  j.createdAt,
		UpdatedAt:  j.updatedAt,
		Targets:    targets,
		Results:    results,
		MergedFile: j.mergedFile,
		ProbeFile:  j.probeFile,
		DataDir:    j.DataDir,
	}
}

func (j *Job) transition(s Status, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = s
	j.message = message
	j.updatedAt = time.Now().UTC()
}

func (j *Job) addResult(r *ToolResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = append(j.results, r)
	j.updatedAt = time.Now().UTC()
}

// updateResult applies fn under the job lock so API readers never see a
// half-written ToolResult.
func (j *Job) updateResult(fn func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn()
	j.updatedAt = time.Now().UTC()
}

func (j *Job) setArtifacts(merged, probe string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.mergedFile = merged
	j.probeFile = probe
	j.updatedAt = time.Now().UTC()
}
