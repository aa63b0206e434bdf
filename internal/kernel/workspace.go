package kernel

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"

	"github.com/armadaproject/torquekernel/internal/common/util"
	"github.com/armadaproject/torquekernel/internal/kernel/configuration"
	"github.com/armadaproject/torquekernel/internal/pbs"
)

const (
	PayloadFileName = "program.rg"
	ScriptFileName  = "job.sh"
	StdoutFileName  = "stdout"
	StderrFileName  = "stderr"
)

// Workspace is the scratch directory of one execution. Its name is a ULID, so workspaces sort by creation
// time and a name is never handed out twice.
type Workspace struct {
	Name string
	Dir  string
}

// NewWorkspace creates a fresh workspace under root, creating root if needed.
func NewWorkspace(root string) (*Workspace, error) {
	root, err := homedir.Expand(root)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating scratch root %s", root)
	}
	name := util.NewULID()
	dir := filepath.Join(root, name)
	// Mkdir rather than MkdirAll: an existing directory must be an error, never shared.
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating workspace %s", dir)
	}
	return &Workspace{Name: name, Dir: dir}, nil
}

func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// JobFiles returns the paths a batch job for this workspace uses. The profile log is only set when profile is true.
func (w *Workspace) JobFiles(profile bool) pbs.JobFiles {
	files := pbs.JobFiles{
		Dir:     w.Dir,
		Payload: w.Path(PayloadFileName),
		Script:  w.Path(ScriptFileName),
		Stdout:  w.Path(StdoutFileName),
		Stderr:  w.Path(StderrFileName),
	}
	if profile {
		files.ProfileLog = w.Path(pbs.ProfileLogName)
	}
	return files
}

// WritePayload stores the program text and returns its path.
func (w *Workspace) WritePayload(code string) (string, error) {
	path := w.Path(PayloadFileName)
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return "", errors.Wrap(err, "writing payload")
	}
	return path, nil
}

func (w *Workspace) Remove() error {
	return errors.Wrapf(os.RemoveAll(w.Dir), "removing workspace %s", w.Dir)
}

// Retain reports whether a workspace should outlive its execution under the given retention policy.
func Retain(retention string, ok bool) bool {
	switch retention {
	case configuration.RetainAlways:
		return true
	case configuration.RetainNever:
		return false
	default:
		return !ok
	}
}
