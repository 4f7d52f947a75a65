// Copyright (c) 2026 RouteOps and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// path where the event-loop metrics are exposed
	prometheusControllerPath = "/metrics/controller"

	eventsProcessedMetric  = "bgpcfgd_events_processed_total"
	batchesCommittedMetric = "bgpcfgd_batches_committed_total"
	batchesFailedMetric    = "bgpcfgd_batches_failed_total"
	loopStateMetric        = "bgpcfgd_loop_state"
	dirtyBacklogMetric     = "bgpcfgd_dirty_backlog"
)

// registerMetrics creates the event-loop metrics registry. NOOP when the
// prometheus plugin is not injected.
func (c *Controller) registerMetrics() error {
	if c.Prometheus == nil {
		return nil
	}
	err := c.Prometheus.NewRegistry(prometheusControllerPath,
		promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError, ErrorLog: c.Log})
	if err != nil {
		return err
	}

	c.eventsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: eventsProcessedMetric,
		Help: "Number of events processed by the event loop",
	})
	c.batchesCommitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: batchesCommittedMetric,
		Help: "Number of command batches committed to the control plane",
	})
	c.batchesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: batchesFailedMetric,
		Help: "Number of command batches that exhausted the retry budget",
	})
	c.loopState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: loopStateMetric,
		Help: "Event-loop state (0=resyncing, 1=steady, 2=draining, 3=stopped)",
	})
	c.dirtyBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: dirtyBacklogMetric,
		Help: "Number of identities waiting for the next render cycle",
	})

	for _, collector := range []prometheus.Collector{
		c.eventsProcessed, c.batchesCommitted, c.batchesFailed,
		c.loopState, c.dirtyBacklog,
	} {
		if err := c.Prometheus.Register(prometheusControllerPath, collector); err != nil {
			return err
		}
	}
	return nil
}

// exportLoopMetrics refreshes the state and backlog gauges. Called from
// within the event loop after every processed event.
func (c *Controller) exportLoopMetrics() {
	if c.eventsProcessed == nil {
		return
	}
	c.eventsProcessed.Inc()
	c.loopState.Set(float64(c.state))
	c.dirtyBacklog.Set(float64(c.dirtyCount()))
}
