package task

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/torquekernel/internal/common/logging"
)

type task struct {
	function    func()
	interval    time.Duration
	metricName  string
	stopChannel chan struct{}
}

// BackgroundTaskManager runs functions periodically until stopped.
// It is not threadsafe, it should only be accessed from a single goroutine.
type BackgroundTaskManager struct {
	tasks         []*task
	metricsPrefix string
	clock         clock.Clock
	log           *log.Entry
	wg            *sync.WaitGroup
}

func NewBackgroundTaskManager(metricsPrefix string, clk clock.Clock, logger *log.Entry) *BackgroundTaskManager {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &BackgroundTaskManager{
		tasks:         []*task{},
		metricsPrefix: metricsPrefix,
		clock:         clk,
		log:           logging.EntryOrNull(logger),
		wg:            &sync.WaitGroup{},
	}
}

// Register runs backgroundTask immediately and then every interval, until StopAll is called.
func (m *BackgroundTaskManager) Register(backgroundTask func(), interval time.Duration, metricName string) {
	task := &task{
		function:    backgroundTask,
		interval:    interval,
		metricName:  metricName,
		stopChannel: make(chan struct{}),
	}
	m.startBackgroundTask(task)
	m.tasks = append(m.tasks, task)
}

// StopAll stops every task and waits up to timeout for running ones to return. It reports whether the
// timeout was hit.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	m.stopTasks()
	return m.waitForShutdownCompletion(timeout)
}

func (m *BackgroundTaskManager) startBackgroundTask(task *task) {
	histogram := m.latencyHistogram(task.metricName)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			start := m.clock.Now()
			m.run(task)
			histogram.Observe(m.clock.Since(start).Seconds())

			select {
			case <-m.clock.After(task.interval):
			case <-task.stopChannel:
				return
			}
		}
	}()
}

// run calls the task function, logging rather than propagating panics so that one bad sweep does not take
// the process down.
func (m *BackgroundTaskManager) run(task *task) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("task", task.metricName).Errorf("background task panicked: %v", r)
		}
	}()
	task.function()
}

func (m *BackgroundTaskManager) latencyHistogram(metricName string) prometheus.Observer {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    m.metricsPrefix + metricName + "_latency_seconds",
		Help:    "Background loop " + metricName + " latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
	})
	if err := prometheus.Register(histogram); err != nil {
		var registered prometheus.AlreadyRegisteredError
		if errors.As(err, &registered) {
			return registered.ExistingCollector.(prometheus.Histogram)
		}
		m.log.WithError(err).Warnf("not recording latency of %s", metricName)
	}
	return histogram
}

func (m *BackgroundTaskManager) waitForShutdownCompletion(timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		m.wg.Wait()
	}()
	select {
	case <-c:
		return false
	case <-time.After(timeout):
		return true
	}
}

func (m *BackgroundTaskManager) stopTasks() {
	for _, task := range m.tasks {
		close(task.stopChannel)
	}
	m.tasks = nil
}
