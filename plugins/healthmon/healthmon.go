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

// Package healthmon consumes the control-plane health published into the
// operational state store by the monitor process, turns it into
// HealthUpdate events for the event loop and exports it to prometheus.
// A health record that stops refreshing is treated as Down.
package healthmon

import (
	"strconv"
	"sync"
	"time"

	"github.com/ligato/cn-infra/infra"
	prometheusplugin "github.com/ligato/cn-infra/rpc/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/routeops/bgpcfgd/plugins/controller/api"
	"github.com/routeops/bgpcfgd/plugins/statestore"
)

const (
	// HealthTable/HealthKey locate the aggregate health record published
	// by the monitor process.
	HealthTable = "BGP_STATE"
	HealthKey   = "health"

	// NeighborStateTable holds one record per established/idle session.
	NeighborStateTable = "BGP_NEIGHBOR_STATE"

	// path where the BGP health metrics are exposed
	prometheusHealthPath = "/metrics/bgp"

	neighborLabel = "neighbor"

	healthStatusMetric        = "bgp_health_status"
	sessionsEstablishedMetric = "bgp_sessions_established"
	sessionsTotalMetric       = "bgp_sessions_total"
	neighborUpMetric          = "bgp_neighbor_up"
)

// Config holds the healthmon plugin configuration.
type Config struct {
	// StateDB is the logical store DB holding operational state.
	StateDB int `json:"state-db"`

	// StaleAfter bounds the age of the health record; older means Down.
	StaleAfter time.Duration `json:"stale-after"`

	// ReconnectDelay is the pause before re-subscribing after the watch
	// stream dies.
	ReconnectDelay time.Duration `json:"reconnect-delay"`
}

// DefaultConfig returns the configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		StateDB:        6,
		StaleAfter:     30 * time.Second,
		ReconnectDelay: 3 * time.Second,
	}
}

// Plugin watches published health state and feeds it to the event loop.
type Plugin struct {
	Deps

	config *Config

	sync.Mutex
	current  api.HealthState
	lastSeen time.Time

	healthStatus        prometheus.Gauge
	sessionsEstablished prometheus.Gauge
	sessionsTotal       prometheus.Gauge
	neighborUp          *prometheus.GaugeVec

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// Deps groups the dependencies of the Plugin.
type Deps struct {
	infra.PluginDeps

	StateStore statestore.API
	EventLoop  api.EventLoop

	// Prometheus plugin used to stream the health metrics
	Prometheus prometheusplugin.API
}

// Init loads the configuration and registers the prometheus metrics.
func (p *Plugin) Init() error {
	p.config = DefaultConfig()
	if p.Cfg != nil {
		if _, err := p.Cfg.LoadValue(p.config); err != nil {
			return err
		}
	}
	p.closeCh = make(chan struct{})
	p.current = api.HealthUnknown

	if p.Prometheus != nil {
		err := p.Prometheus.NewRegistry(prometheusHealthPath, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError, ErrorLog: p.Log})
		if err != nil {
			return err
		}
		p.healthStatus = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: healthStatusMetric,
			Help: "Control-plane health (0=unknown, 1=up, 2=restarting, 3=down)",
		})
		p.sessionsEstablished = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: sessionsEstablishedMetric,
			Help: "Number of established BGP sessions",
		})
		p.sessionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: sessionsTotalMetric,
			Help: "Number of configured BGP sessions",
		})
		p.neighborUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: neighborUpMetric,
			Help: "Per-neighbor session state (1=established)",
		}, []string{neighborLabel})

		for _, collector := range []prometheus.Collector{
			p.healthStatus, p.sessionsEstablished, p.sessionsTotal, p.neighborUp,
		} {
			if err := p.Prometheus.Register(prometheusHealthPath, collector); err != nil {
				return err
			}
		}
	}
	return nil
}

// AfterInit starts the watch and staleness goroutines.
func (p *Plugin) AfterInit() error {
	p.wg.Add(2)
	go p.watchHealth()
	go p.watchStaleness()
	return nil
}

// Close stops the background goroutines.
func (p *Plugin) Close() error {
	close(p.closeCh)
	p.wg.Wait()
	return nil
}

// watchHealth subscribes to the operational tables and keeps re-subscribing
// for as long as the plugin lives.
func (p *Plugin) watchHealth() {
	defer p.wg.Done()
	for {
		ch, stop, err := p.StateStore.Watch(p.config.StateDB,
			[]string{HealthTable, NeighborStateTable})
		if err != nil {
			p.Log.Warnf("Health subscription failed: %v", err)
			if !p.sleep(p.config.ReconnectDelay) {
				return
			}
			continue
		}

		if !p.consume(ch) {
			stop()
			return
		}
		stop()
		p.Log.Warn("Health subscription died, re-subscribing")
		if !p.sleep(p.config.ReconnectDelay) {
			return
		}
	}
}

// consume drains one subscription; returns false on shutdown.
func (p *Plugin) consume(ch <-chan statestore.Change) bool {
	for {
		select {
		case <-p.closeCh:
			return false
		case change, ok := <-ch:
			if !ok {
				return true
			}
			p.handleChange(change)
		}
	}
}

func (p *Plugin) handleChange(change statestore.Change) {
	switch change.Table {
	case HealthTable:
		if change.Key != HealthKey {
			return
		}
		if change.Op == api.DeleteOp {
			p.transition(api.HealthDown)
			return
		}
		p.Lock()
		p.lastSeen = time.Now()
		p.Unlock()
		p.exportCounts(change.Fields)
		p.transition(parseStatus(change.Fields["status"]))

	case NeighborStateTable:
		if p.neighborUp == nil {
			return
		}
		if change.Op == api.DeleteOp {
			p.neighborUp.Delete(prometheus.Labels{neighborLabel: change.Key})
			return
		}
		up := float64(0)
		if change.Fields["state"] == "Established" {
			up = 1
		}
		p.neighborUp.With(prometheus.Labels{neighborLabel: change.Key}).Set(up)
	}
}

// watchStaleness downgrades the health to Down when the monitor stops
// refreshing the health record.
func (p *Plugin) watchStaleness() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.StaleAfter / 2)
	defer ticker.Stop()
	for {
		select {
		case <-p.closeCh:
			return
		case <-ticker.C:
			p.Lock()
			stale := !p.lastSeen.IsZero() && time.Since(p.lastSeen) > p.config.StaleAfter
			p.Unlock()
			if stale {
				p.transition(api.HealthDown)
			}
		}
	}
}

// transition pushes a HealthUpdate event whenever the state changes.
func (p *Plugin) transition(next api.HealthState) {
	p.Lock()
	prev := p.current
	if prev == next {
		p.Unlock()
		return
	}
	p.current = next
	p.Unlock()

	if p.healthStatus != nil {
		p.healthStatus.Set(float64(next))
	}
	err := p.EventLoop.PushEvent(&api.HealthUpdate{
		Previous: prev,
		Current:  next,
	})
	if err != nil {
		p.Log.Warnf("Failed to push health update: %v", err)
	}
}

func (p *Plugin) exportCounts(fields api.Fields) {
	if p.sessionsEstablished == nil {
		return
	}
	if established, err := strconv.Atoi(fields["established"]); err == nil {
		p.sessionsEstablished.Set(float64(established))
	}
	if total, err := strconv.Atoi(fields["total"]); err == nil {
		p.sessionsTotal.Set(float64(total))
	}
}

func parseStatus(status string) api.HealthState {
	switch status {
	case "up":
		return api.HealthUp
	case "restarting":
		return api.HealthRestarting
	default:
		return api.HealthDown
	}
}

func (p *Plugin) sleep(d time.Duration) bool {
	select {
	case <-p.closeCh:
		return false
	case <-time.After(d):
		return true
	}
}
