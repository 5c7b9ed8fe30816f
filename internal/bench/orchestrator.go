package bench

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Orchestrator runs a benchmark: dispatch everything, wait, aggregate.
type Orchestrator struct {
	dispatcher *Dispatcher
	log        logrus.FieldLogger
	now        func() time.Time
}

// NewOrchestrator creates an orchestrator around a dispatcher.
func NewOrchestrator(dispatcher *Dispatcher, log logrus.FieldLogger) *Orchestrator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Orchestrator{
		dispatcher: dispatcher,
		log:        log,
		now:        time.Now,
	}
}

// Run dispatches all requests and aggregates once every one of them has
// finished. Individual request failures only lower the completed count.
func (o *Orchestrator) Run(ctx context.Context, requests []RequestSpec, metrics []Metric, percentiles []float64) (*BenchmarkReport, error) {
	if len(requests) == 0 {
		return nil, ErrNoRequests
	}

	o.log.WithFields(logrus.Fields{
		"requests":    len(requests),
		"concurrency": o.dispatcher.concurrency,
		"url":         requests[0].APIURL,
	}).Info("starting benchmark")

	start := o.now()
	outcomes := o.dispatcher.Dispatch(ctx, requests)
	duration := o.now().Sub(start)

	report := Aggregate(outcomes, duration, metrics, percentiles)

	o.log.WithFields(logrus.Fields{
		"completed": report.Completed,
		"failed":    report.Failed,
		"duration":  duration.Round(time.Millisecond).String(),
	}).Info("benchmark finished")

	return report, nil
}
