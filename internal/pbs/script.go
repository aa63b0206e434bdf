package pbs

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/pkg/errors"

	"github.com/armadaproject/torquekernel/internal/kernel/configuration"
)

// ProfileLogName is the per-node Legion profiler log pattern; Legion replaces % with the node number.
const ProfileLogName = "legion_prof_%.log"

var jobScriptTemplate = template.Must(template.New("job").Parse(`#!/bin/bash -l
{{- if .Name }}
#PBS -N {{ .Name }}
{{- end }}
#PBS -l nodes={{ .Resources.NodeCount }}:ppn={{ .Resources.CpuCount }}{{ if gt .Resources.GpuCount 0 }}:gpus={{ .Resources.GpuCount }}{{ end }}
{{- if .WalltimeLimit }}
#PBS -l walltime={{ .WalltimeLimit }}
{{- end }}
{{ .CommandLine }}
`))

// JobScript describes the batch script that runs one program.
type JobScript struct {
	Name string
	// Command prefix that starts the interpreter on the allocated nodes. May be empty.
	Launcher    string
	Interpreter string
	PayloadPath string
	Resources   configuration.ResourceConfiguration
	// When ProfileLogPath is set the program runs with the Legion profiler enabled on ProfileNodes nodes.
	ProfileNodes   int
	ProfileLogPath string
}

func (s JobScript) Validate() error {
	if s.Interpreter == "" {
		return errors.New("job script has no interpreter")
	}
	if s.PayloadPath == "" {
		return errors.New("job script has no payload")
	}
	r := s.Resources
	if r.NodeCount < 1 || r.CpuCount < 1 || r.CacheSizeMB < 1 || r.GpuCount < 0 {
		return errors.Errorf("invalid job resources: nodes=%d cpus=%d gpus=%d cacheSizeMB=%d",
			r.NodeCount, r.CpuCount, r.GpuCount, r.CacheSizeMB)
	}
	if s.Name != "" && strings.ContainsAny(s.Name, " \t\n") {
		return errors.Errorf("job name %q must not contain whitespace", s.Name)
	}
	return nil
}

// Command returns the shell command line the job runs.
func (s JobScript) Command() string {
	var argv []string
	argv = append(argv, quoteFields(s.Launcher)...)
	argv = append(argv, shellQuote(s.Interpreter), shellQuote(s.PayloadPath))
	if s.ProfileLogPath != "" {
		nodes := s.ProfileNodes
		if nodes < 1 {
			nodes = s.Resources.NodeCount
		}
		argv = append(argv,
			"-hl:prof", fmt.Sprint(nodes),
			"-level", "legion_prof=2",
			"-logfile", shellQuote(s.ProfileLogPath))
	}
	argv = append(argv,
		"-ll:cpu", fmt.Sprint(s.Resources.CpuCount),
		"-ll:gpu", fmt.Sprint(s.Resources.GpuCount),
		"-ll:csize", fmt.Sprint(s.Resources.CacheSizeMB))
	for _, extra := range s.Resources.ExtraArgs {
		argv = append(argv, quoteFields(extra)...)
	}
	return strings.Join(argv, " ")
}

// Render produces the text of the job script.
func (s JobScript) Render() (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	var sb strings.Builder
	err := jobScriptTemplate.Execute(&sb, struct {
		JobScript
		WalltimeLimit string
		CommandLine   string
	}{
		JobScript:     s,
		WalltimeLimit: formatWalltime(s.Resources.Walltime),
		CommandLine:   s.Command(),
	})
	if err != nil {
		return "", errors.WithStack(err)
	}
	return sb.String(), nil
}

// formatWalltime renders d as the HH:MM:SS form PBS expects, or "" for no limit.
func formatWalltime(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	seconds := int64(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds/60)%60, seconds%60)
}

func quoteFields(s string) []string {
	fields := strings.Fields(s)
	for i, field := range fields {
		fields[i] = shellQuote(field)
	}
	return fields
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuoting) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuoting(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("-_./:=,+@%", r):
		return false
	default:
		return true
	}
}
