// Package fanout runs a fixed set of independent tasks on a bounded worker
// pool and returns their outcomes in input order.
//
// Example usage:
//
//	outcomes := fanout.Run(ctx, fanout.DefaultConfig(), courses,
//		func(ctx context.Context, i int, course lms.Item) (CourseReport, error) {
//			return buildCourse(ctx, course)
//		})
//
// Run:
//   - Spawns a worker pool (default 6 workers)
//   - Distributes task indices across workers
//   - Each task writes only its own outcome slot
//   - Waits for every task; there is no cancellation
//   - Recovers panics into that task's error
package fanout

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lms_fanout_tasks_total",
		Help: "Total fan-out tasks by result",
	}, []string{"result"})

	taskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lms_fanout_task_duration_seconds",
		Help:    "Duration of a single fan-out task",
		Buckets: prometheus.DefBuckets,
	})
)

// Config holds task group configuration.
type Config struct {
	// MaxConcurrency is the maximum number of tasks running at once.
	MaxConcurrency int
}

// DefaultConfig returns the default task group configuration.
func DefaultConfig() Config {
	return Config{MaxConcurrency: 6}
}

// Outcome is the result of one task.
type Outcome[T any] struct {
	Index    int
	Value    T
	Err      error
	Start    time.Time
	Duration time.Duration
}

// Task processes one input. i is the input's index.
type Task[In, Out any] func(ctx context.Context, i int, in In) (Out, error)

// Run executes task for every input and blocks until all of them finish.
// outcomes[i] always belongs to inputs[i], regardless of completion order.
// A failing or panicking task never affects its siblings.
func Run[In, Out any](ctx context.Context, cfg Config, inputs []In, task Task[In, Out]) []Outcome[Out] {
	outcomes := make([]Outcome[Out], len(inputs))
	if len(inputs) == 0 {
		return outcomes
	}

	workers := cfg.MaxConcurrency
	if workers <= 0 {
		workers = DefaultConfig().MaxConcurrency
	}
	if workers > len(inputs) {
		workers = len(inputs)
	}

	logger := logging.NewLogger(logging.ComponentFanout)
	start := time.Now()

	queue := make(chan int, len(inputs))
	for i := range inputs {
		queue <- i
	}
	close(queue)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				outcomes[i] = runOne(ctx, i, inputs[i], task)
			}
		}()
	}
	wg.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}

	logger.Debug().
		Int("tasks", len(inputs)).
		Int("workers", workers).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Fan-out complete")

	return outcomes
}

func runOne[In, Out any](ctx context.Context, i int, in In, task Task[In, Out]) (out Outcome[Out]) {
	out.Index = i
	out.Start = time.Now()

	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("task %d panicked: %v", i, r)
			logger := logging.NewLogger(logging.ComponentFanout)
			logger.Error().
				Int("task", i).
				Str("stack", string(debug.Stack())).
				Msg("Fan-out task panicked")
		}

		out.Duration = time.Since(out.Start)
		taskDuration.Observe(out.Duration.Seconds())
		if out.Err != nil {
			tasksTotal.WithLabelValues("error").Inc()
		} else {
			tasksTotal.WithLabelValues("ok").Inc()
		}
	}()

	out.Value, out.Err = task(ctx, i, in)
	return out
}
