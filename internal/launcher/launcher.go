package launcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/torquekernel/internal/common/logging"
)

const (
	NodeFileEnv       = "PBS_NODEFILE"
	gasnetSpawnerEnv  = "LAUNCHER"
	gasnetCSpawnEnv   = "GASNET_CSPAWN_CMD"
	gasnetCSpawnValue = "mpirun -npernode 1 -bind-to-none -x INCLUDE_PATH -x LD_LIBRARY_PATH -x TERRA_PATH %C"
)

// Launcher starts a program on every node Torque allocated to the job, by telling GASNet how many nodes
// there are and how to spawn onto them.
type Launcher struct {
	// Environment of the launched program, before the GASNet variables are added. Defaults to os.Environ().
	Environ []string
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
	log     *log.Entry
}

func NewLauncher(logger *log.Entry) *Launcher {
	return &Launcher{
		Environ: os.Environ(),
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		log:     logging.EntryOrNull(logger),
	}
}

// Launch runs argv and returns its exit code. An error means argv could not be run at all.
func (l *Launcher) Launch(ctx context.Context, argv []string) (int, error) {
	if len(argv) == 0 {
		return -1, errors.New("nothing to launch")
	}
	nodes, err := l.nodeCount()
	if err != nil {
		return -1, err
	}
	l.log.Debugf("launching %s on %d nodes", argv[0], nodes)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = Environment(l.Environ, nodes)
	cmd.Stdin = l.Stdin
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return exitErr.ExitCode(), nil
		}
		return -1, errors.Wrapf(err, "launching %s", argv[0])
	}
	return 0, nil
}

func (l *Launcher) nodeCount() (int, error) {
	nodeFile := lookup(l.Environ, NodeFileEnv)
	if nodeFile == "" {
		l.log.Warnf("%s unset. Running outside of Torque?", NodeFileEnv)
		return 1, nil
	}
	return CountNodes(nodeFile)
}

// CountNodes returns the number of distinct hosts in a Torque node file, which lists one host per
// allocated core.
func CountNodes(nodeFile string) (int, error) {
	data, err := os.ReadFile(nodeFile)
	if err != nil {
		return 0, errors.Wrap(err, "reading node file")
	}
	hosts := map[string]bool{}
	for _, host := range strings.Fields(string(data)) {
		hosts[host] = true
	}
	if len(hosts) == 0 {
		return 0, errors.Errorf("node file %s lists no hosts", nodeFile)
	}
	return len(hosts), nil
}

// Environment returns environ with the GASNet spawner variables for nodes set, replacing any existing values.
func Environment(environ []string, nodes int) []string {
	env := make([]string, 0, len(environ)+2)
	for _, kv := range environ {
		if strings.HasPrefix(kv, gasnetSpawnerEnv+"=") || strings.HasPrefix(kv, gasnetCSpawnEnv+"=") {
			continue
		}
		env = append(env, kv)
	}
	return append(env,
		fmt.Sprintf("%s=amudprun -np %d -spawn C", gasnetSpawnerEnv, nodes),
		gasnetCSpawnEnv+"="+gasnetCSpawnValue)
}

func lookup(environ []string, key string) string {
	value := ""
	for _, kv := range environ {
		if strings.HasPrefix(kv, key+"=") {
			value = kv[len(key)+1:]
		}
	}
	return value
}
