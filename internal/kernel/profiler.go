package kernel

import (
	"bytes"
	"context"
	"html/template"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattn/go-zglob"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/torquekernel/internal/common/logging"
	"github.com/armadaproject/torquekernel/internal/kernel/configuration"
	"github.com/armadaproject/torquekernel/internal/pbs"
)

const (
	profileSource     = "LegionProf"
	profileOutputName = "legion_prof"
	profileLogGlob    = "legion_prof_*.log"
)

var profileHtml = template.Must(template.New("profile").Parse(
	`<p>Legion Prof timeline (<a href="{{ . }}" target="_blank">open in a new window</a>)</p>
<iframe src="{{ . }}" width="800" height="600"></iframe>`))

// ProfileRenderer renders the Legion profiler logs of a job into an HTML timeline.
type ProfileRenderer struct {
	config configuration.ProfilingConfiguration
	log    *log.Entry
}

func NewProfileRenderer(config configuration.ProfilingConfiguration, logger *log.Entry) *ProfileRenderer {
	return &ProfileRenderer{
		config: config,
		log:    logging.EntryOrNull(logger),
	}
}

// Render runs the profiler tool over the logs in workspace. Without logs there is nothing to render and
// no artifact is returned. Failures are reported as *pbs.ErrPostProcessingFailed.
func (r *ProfileRenderer) Render(ctx context.Context, workspace *Workspace) (*DisplayArtifact, error) {
	logs, err := zglob.Glob(filepath.Join(workspace.Dir, profileLogGlob))
	if err != nil && !os.IsNotExist(err) {
		return nil, &pbs.ErrPostProcessingFailed{Step: "find profile logs", Err: errors.WithStack(err)}
	}
	if len(logs) == 0 {
		r.log.Debugf("no profile logs in %s", workspace.Dir)
		return nil, nil
	}
	sort.Strings(logs)

	outputDir := filepath.Join(r.config.OutputRoot, workspace.Name)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, &pbs.ErrPostProcessingFailed{Step: "create profile output directory", Err: errors.WithStack(err)}
	}

	python := r.config.Python
	if python == "" {
		python = "python"
	}
	args := append([]string{r.config.Tool, "-o", filepath.Join(outputDir, profileOutputName), "-T"}, logs...)
	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, python, args...)
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return nil, &pbs.ErrPostProcessingFailed{
			Step: filepath.Base(r.config.Tool),
			Err:  errors.Wrap(err, strings.TrimSpace(output.String())),
		}
	}

	url := strings.TrimRight(r.config.UrlPrefix, "/") + "/" + workspace.Name + "/" + profileOutputName + ".html"
	var html strings.Builder
	if err := profileHtml.Execute(&html, url); err != nil {
		return nil, &pbs.ErrPostProcessingFailed{Step: "render profile html", Err: errors.WithStack(err)}
	}
	return &DisplayArtifact{
		MimeType: "text/html",
		Source:   profileSource,
		Url:      url,
		Html:     html.String(),
	}, nil
}
