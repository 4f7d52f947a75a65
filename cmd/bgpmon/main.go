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

// bgpmon samples the BGP session state reported by FRR and publishes it
// into the operational state store: one aggregate health record consumed
// by bgpcfgd to gate reconciliation, plus one record per neighbor session.
package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ligato/cn-infra/logging"
	"github.com/ligato/cn-infra/logging/logrus"
	"github.com/namsral/flag"

	"github.com/routeops/bgpcfgd/plugins/controller/api"
	"github.com/routeops/bgpcfgd/plugins/controlplane"
	"github.com/routeops/bgpcfgd/plugins/statestore"
)

const (
	healthTable        = "BGP_STATE"
	healthKey          = "health"
	neighborStateTable = "BGP_NEIGHBOR_STATE"

	summaryCommand = "show bgp summary json"
)

var (
	redisAddress  = flag.String("redis-address", "localhost:6379", "address of the state store")
	redisPassword = flag.String("redis-password", "", "password of the state store")
	stateDB       = flag.Int("state-db", 6, "logical DB holding operational state")
	vtyshPath     = flag.String("vtysh-path", "vtysh", "path to the vtysh binary")
	vtyshTimeout  = flag.Duration("vtysh-timeout", 10*time.Second, "timeout of one vtysh invocation")
	interval      = flag.Duration("interval", 5*time.Second, "sampling interval")
)

// afiSummary is one address family of the FRR summary output.
type afiSummary struct {
	RouterID string                  `json:"routerId"`
	AS       int                     `json:"as"`
	Peers    map[string]*peerSummary `json:"peers"`
}

// peerSummary is one neighbor of the FRR summary output.
type peerSummary struct {
	RemoteAS   int    `json:"remoteAs"`
	State      string `json:"state"`
	PeerUptime string `json:"peerUptime"`
}

// bgpSummary is the FRR "show bgp summary json" output.
type bgpSummary struct {
	IPv4Unicast *afiSummary `json:"ipv4Unicast"`
	IPv6Unicast *afiSummary `json:"ipv6Unicast"`
}

// monitor holds the sampling state.
type monitor struct {
	log    logging.Logger
	store  statestore.API
	runner *controlplane.VtyshRunner

	// neighbors published in the previous sample, removed from the store
	// once they disappear from the summary
	published map[string]struct{}
}

func main() {
	flag.Parse()
	log := logrus.DefaultLogger()

	store := statestore.NewPlugin(statestore.UseConf(statestore.Config{
		Address:   *redisAddress,
		Password:  *redisPassword,
		StateDB:   *stateDB,
		Separator: "|",
	}))
	if err := store.Init(); err != nil {
		log.Fatalf("Failed to initialize the state store: %v", err)
	}
	defer store.Close()

	m := &monitor{
		log:   log,
		store: store,
		runner: &controlplane.VtyshRunner{
			Path:    *vtyshPath,
			Timeout: *vtyshTimeout,
		},
		published: make(map[string]struct{}),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	m.sample()
	for {
		select {
		case <-sigChan:
			log.Info("Terminating")
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

// sample runs one vtysh probe and publishes the result.
func (m *monitor) sample() {
	output, err := m.runner.Show(summaryCommand)
	if err != nil {
		m.log.Warnf("Failed to sample FRR: %v", err)
		m.publishHealth("down", 0, 0)
		return
	}

	var summary bgpSummary
	if err := json.Unmarshal([]byte(output), &summary); err != nil {
		// vtysh answered but the daemon is not serving yet
		m.log.Warnf("Failed to parse FRR summary: %v", err)
		m.publishHealth("restarting", 0, 0)
		return
	}

	established, total := 0, 0
	current := make(map[string]struct{})
	for _, afi := range []*afiSummary{summary.IPv4Unicast, summary.IPv6Unicast} {
		if afi == nil {
			continue
		}
		for addr, peer := range afi.Peers {
			total++
			if peer.State == "Established" {
				established++
			}
			current[addr] = struct{}{}
			m.publishNeighbor(addr, peer)
		}
	}

	// withdraw the neighbors that disappeared from the summary
	for addr := range m.published {
		if _, has := current[addr]; !has {
			if err := m.store.Publish(*stateDB, neighborStateTable, addr, nil); err != nil {
				m.log.Warnf("Failed to withdraw neighbor state %s: %v", addr, err)
			}
		}
	}
	m.published = current

	m.publishHealth("up", established, total)
}

func (m *monitor) publishHealth(status string, established, total int) {
	fields := api.Fields{
		"status":      status,
		"established": strconv.Itoa(established),
		"total":       strconv.Itoa(total),
		"timestamp":   strconv.FormatInt(time.Now().Unix(), 10),
	}
	if err := m.store.Publish(*stateDB, healthTable, healthKey, fields); err != nil {
		m.log.Warnf("Failed to publish health: %v", err)
	}
}

func (m *monitor) publishNeighbor(addr string, peer *peerSummary) {
	fields := api.Fields{
		"state":  peer.State,
		"asn":    strconv.Itoa(peer.RemoteAS),
		"uptime": peer.PeerUptime,
	}
	if err := m.store.Publish(*stateDB, neighborStateTable, addr, fields); err != nil {
		m.log.Warnf("Failed to publish neighbor state %s: %v", addr, err)
	}
}
