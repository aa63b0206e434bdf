package configuration

import (
	"time"

	"k8s.io/apimachinery/pkg/api/resource"
)

const (
	ModeTorque = "torque"
	ModeLocal  = "local"

	RetainNever     = "never"
	RetainAlways    = "always"
	RetainOnFailure = "onFailure"

	RepositorySQLite = "sqlite"
	RepositoryMemory = "memory"
)

type KernelConfiguration struct {
	// torque submits the program as a batch job, local runs the interpreter directly.
	Mode string `validate:"oneof=torque local"`
	// Path of the interpreter that runs the submitted program, e.g. regent.
	Interpreter string `validate:"required"`
	// Prefix for the interpreter in the job script. Defaults to "<this executable> launch --".
	Launcher string
	// Interpreter flags used in local mode.
	LocalArgs []string
	// Parent directory for per-execution scratch workspaces. Must be visible to the compute nodes in torque mode.
	ScratchRoot string `validate:"required"`
	MetricsPort uint16
	// Issue a best-effort "cancel all" when a submission is rejected, as a half registered job may linger.
	CancelAllOnSubmitFailure bool

	ResourceManager ResourceManagerConfiguration
	Resources       ResourceConfiguration
	Polling         PollingConfiguration
	Collection      CollectionConfiguration
	Profiling       ProfilingConfiguration
	Workspace       WorkspaceConfiguration
	Repository      RepositoryConfiguration
}

type ResourceManagerConfiguration struct {
	// Commands may carry arguments, e.g. "sudo -u notebook qsub".
	SubmitCommand string `validate:"required"`
	StatusCommand string `validate:"required"`
	CancelCommand string `validate:"required"`
	// Working directory of the job on the compute node; "~" is expanded.
	WorkingDir string
}

type ResourceConfiguration struct {
	JobName     string
	NodeCount   int `validate:"gte=1"`
	CpuCount    int `validate:"gte=1"`
	GpuCount    int `validate:"gte=0"`
	CacheSizeMB int `validate:"gte=1"`
	// Zero leaves the walltime to the queue's default.
	Walltime time.Duration
	// Appended verbatim to the interpreter command line, e.g. "-ll:rsize 2048".
	ExtraArgs []string
}

type PollingConfiguration struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Zero means wait for as long as the caller's context allows.
	MaxWait time.Duration
	// Consecutive failed status queries tolerated before giving up on a job.
	MaxQueryRetries int `validate:"gte=0"`
	// Cancel the remote job when MaxWait expires. By default the job is left to run.
	CancelOnTimeout bool
}

type CollectionConfiguration struct {
	// Upper bound on the bytes read from each of stdout and stderr.
	MaxOutputSize resource.Quantity
	// How long to wait for the scheduler to stage output files back after completion.
	OutputWait         time.Duration
	OutputWaitInterval time.Duration
}

type ProfilingConfiguration struct {
	Enabled bool
	// Number of nodes Legion profiles, passed as -hl:prof.
	Nodes  int `validate:"gte=0"`
	Python string
	// Path of legion_prof.py.
	Tool string
	// Rendered timelines are written to OutputRoot/<workspace>/ and served from UrlPrefix/<workspace>/.
	OutputRoot string
	UrlPrefix  string
}

type WorkspaceConfiguration struct {
	Retention string `validate:"oneof=never always onFailure"`
	// Retained workspaces older than this are removed by the janitor in serve mode, unless their execution is
	// still in progress. Zero disables the janitor.
	RetentionPeriod time.Duration
	JanitorInterval time.Duration
}

type RepositoryConfiguration struct {
	Type string `validate:"oneof=sqlite memory"`
	// Only read when Type is sqlite; "~" is expanded.
	DatabasePath string
}
