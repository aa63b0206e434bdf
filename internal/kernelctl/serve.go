package kernelctl

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/armadaproject/torquekernel/internal/common"
	"github.com/armadaproject/torquekernel/internal/common/task"
	"github.com/armadaproject/torquekernel/internal/common/util"
	"github.com/armadaproject/torquekernel/internal/kernel"
)

const (
	EventStream  = "stream"
	EventDisplay = "display"
	EventResult  = "result"
	EventError   = "error"
)

// Request is one line of serve's input.
type Request struct {
	// Echoed on every event of the execution. Assigned when empty.
	Id     string `json:"id"`
	Code   string `json:"code"`
	Silent bool   `json:"silent"`
}

// Event is one line of serve's output.
type Event struct {
	Id          string                  `json:"id,omitempty"`
	Type        string                  `json:"type"`
	Channel     kernel.Channel          `json:"channel,omitempty"`
	Text        string                  `json:"text,omitempty"`
	Artifact    *kernel.DisplayArtifact `json:"artifact,omitempty"`
	Status      string                  `json:"status,omitempty"`
	ExitCode    int                     `json:"exitCode"`
	ExecutionId string                  `json:"executionId,omitempty"`
	JobId       string                  `json:"jobId,omitempty"`
	Warnings    []string                `json:"warnings,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

// Serve reads execution requests from In, one JSON object per line, and writes the events of every execution
// to Out as JSON lines. Executions run concurrently; Serve returns once In is exhausted and every execution
// has finished, or ctx is done.
func (a *App) Serve(ctx context.Context) error {
	config := a.Params.Config
	if config.MetricsPort > 0 {
		shutdownMetricsServer := common.ServeMetrics(config.MetricsPort)
		defer shutdownMetricsServer()
	}

	repo, cleanup, err := a.repository(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	orchestrator := kernel.NewOrchestrator(config, a.resourceManager(), repo, nil, log.WithField("component", "orchestrator"))

	taskManager := task.NewBackgroundTaskManager(kernel.MetricPrefix, nil, log.WithField("component", "tasks"))
	kernel.NewJanitor(config, orchestrator.Active, nil, log.WithField("component", "janitor")).Start(taskManager)
	defer taskManager.StopAll(5 * time.Second)

	out := &eventWriter{encoder: json.NewEncoder(a.Out)}

	g, ctx := errgroup.WithContext(ctx)
	if a.Params.MaxConcurrentExecutions > 0 {
		g.SetLimit(a.Params.MaxConcurrentExecutions)
	}
	reader := bufio.NewReader(a.In)
	for ctx.Err() == nil {
		line, readErr := reader.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			request, err := parseRequest(line)
			if err != nil {
				out.write(&Event{Id: request.Id, Type: EventError, Error: err.Error()})
			} else {
				g.Go(func() error {
					a.execute(ctx, orchestrator, request, out)
					return nil
				})
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = g.Wait()
			return errors.Wrap(readErr, "reading requests")
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return out.err()
}

func parseRequest(line string) (Request, error) {
	var request Request
	if err := json.Unmarshal([]byte(line), &request); err != nil {
		return request, errors.Wrap(err, "malformed request")
	}
	if request.Id == "" {
		request.Id = util.NewUUID()
	}
	return request, nil
}

func (a *App) execute(ctx context.Context, orchestrator *kernel.Orchestrator, request Request, out *eventWriter) {
	sink := &eventSink{id: request.Id, out: out}
	result := orchestrator.Execute(ctx, kernel.ExecutionRequest{Code: request.Code, Silent: request.Silent}, sink)
	event := &Event{
		Id:          request.Id,
		Type:        EventResult,
		Status:      result.Status,
		ExitCode:    result.ExitCode,
		ExecutionId: result.ExecutionId,
		JobId:       result.JobId,
		Warnings:    result.Warnings,
	}
	if result.Err != nil {
		event.Error = result.Err.Error()
	}
	out.write(event)
}

// eventWriter serialises events from concurrent executions onto one stream.
type eventWriter struct {
	mu       sync.Mutex
	encoder  *json.Encoder
	writeErr error
}

func (w *eventWriter) write(event *Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writeErr != nil {
		return
	}
	if err := w.encoder.Encode(event); err != nil {
		w.writeErr = errors.Wrap(err, "writing event")
		log.WithError(err).Error("event stream broken, further events are dropped")
	}
}

func (w *eventWriter) err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeErr
}

type eventSink struct {
	id  string
	out *eventWriter
}

func (s *eventSink) Stream(channel kernel.Channel, text string) {
	s.out.write(&Event{Id: s.id, Type: EventStream, Channel: channel, Text: text})
}

func (s *eventSink) Display(artifact *kernel.DisplayArtifact) {
	s.out.write(&Event{Id: s.id, Type: EventDisplay, Artifact: artifact})
}
