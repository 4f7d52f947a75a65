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

// bgpcfgd is the reactive BGP configuration daemon: it watches the config
// store for intent changes and keeps the FRR configuration converged with
// it, without ever restarting the routing daemon wholesale.
package main

import (
	"os"

	"github.com/ligato/cn-infra/agent"
	"github.com/ligato/cn-infra/logging/logrus"

	"github.com/routeops/bgpcfgd/pkg/templates"
	"github.com/routeops/bgpcfgd/plugins/controller"
	"github.com/routeops/bgpcfgd/plugins/controller/api"
	"github.com/routeops/bgpcfgd/plugins/controlplane"
	"github.com/routeops/bgpcfgd/plugins/globalcfg"
	"github.com/routeops/bgpcfgd/plugins/healthmon"
	"github.com/routeops/bgpcfgd/plugins/neighbors"
	"github.com/routeops/bgpcfgd/plugins/prefixlists"
	"github.com/routeops/bgpcfgd/plugins/routemaps"
	"github.com/routeops/bgpcfgd/plugins/statestore"
	"github.com/routeops/bgpcfgd/plugins/vrfs"
)

const (
	// optional on-disk template customization
	defaultTemplateDir   = "/etc/bgpcfgd/templates"
	defaultConstantsFile = "/etc/bgpcfgd/constants.yml"
)

// BgpCfgd groups the plugins of the daemon.
type BgpCfgd struct {
	StateStore   *statestore.Plugin
	ControlPlane *controlplane.Plugin
	GlobalCfg    *globalcfg.Plugin
	VRFs         *vrfs.Plugin
	PrefixLists  *prefixlists.Plugin
	RouteMaps    *routemaps.Plugin
	Neighbors    *neighbors.Plugin
	HealthMon    *healthmon.Plugin
	Controller   *controller.Controller

	templates *templates.Engine
}

// New wires the daemon together.
func New() (*BgpCfgd, error) {
	var opts []templates.Option
	if dir := envOr("BGPCFGD_TEMPLATE_DIR", defaultTemplateDir); dirExists(dir) {
		opts = append(opts, templates.WithOverrideDir(dir))
	}
	if path := envOr("BGPCFGD_CONSTANTS_FILE", defaultConstantsFile); fileExists(path) {
		opts = append(opts, templates.WithConstantsFile(path))
	}
	engine, err := templates.NewEngine(logrus.NewLogger("templates"), opts...)
	if err != nil {
		return nil, err
	}

	store := &statestore.DefaultPlugin
	applier := &controlplane.DefaultPlugin

	globalCfg := globalcfg.NewPlugin(globalcfg.UseDeps(func(deps *globalcfg.Deps) {
		deps.Templates = engine
	}))
	vrfMgr := vrfs.NewPlugin(vrfs.UseDeps(func(deps *vrfs.Deps) {
		deps.Templates = engine
		deps.Globals = globalCfg
	}))
	prefixMgr := prefixlists.NewPlugin(prefixlists.UseDeps(func(deps *prefixlists.Deps) {
		deps.Templates = engine
	}))
	routeMapMgr := routemaps.NewPlugin(routemaps.UseDeps(func(deps *routemaps.Deps) {
		deps.Templates = engine
	}))
	neighborMgr := neighbors.NewPlugin(neighbors.UseDeps(func(deps *neighbors.Deps) {
		deps.Templates = engine
		deps.Globals = globalCfg
		deps.VRFs = vrfMgr
	}))

	ctrl := controller.NewPlugin(controller.UseDeps(func(deps *controller.Deps) {
		deps.StateStore = store
		deps.ControlPlane = applier
		// registration order matters: neighbors read the state of
		// globalcfg and vrfs
		deps.EventHandlers = []api.EventHandler{
			globalCfg,
			vrfMgr,
			prefixMgr,
			routeMapMgr,
			neighborMgr,
		}
	}))

	healthMon := healthmon.NewPlugin(healthmon.UseDeps(func(deps *healthmon.Deps) {
		deps.StateStore = store
		deps.EventLoop = ctrl
	}))

	return &BgpCfgd{
		StateStore:   store,
		ControlPlane: applier,
		GlobalCfg:    globalCfg,
		VRFs:         vrfMgr,
		PrefixLists:  prefixMgr,
		RouteMaps:    routeMapMgr,
		Neighbors:    neighborMgr,
		HealthMon:    healthMon,
		Controller:   ctrl,
		templates:    engine,
	}, nil
}

// String returns the daemon name.
func (b *BgpCfgd) String() string {
	return "bgpcfgd"
}

// Init starts the template reloading.
func (b *BgpCfgd) Init() error {
	return b.templates.StartWatching()
}

// Close drains the event loop before the plugins are closed.
func (b *BgpCfgd) Close() error {
	shutdown := api.NewShutdownEvent()
	if err := b.Controller.PushEvent(shutdown); err == nil {
		if err := shutdown.Wait(); err != nil {
			b.Controller.Log.Errorf("Shutdown flush failed: %v", err)
		}
	}
	return b.templates.Close()
}

func main() {
	bgpcfgd, err := New()
	if err != nil {
		logrus.DefaultLogger().Fatalf("Failed to initialize bgpcfgd: %v", err)
	}

	a := agent.NewAgent(agent.AllPlugins(bgpcfgd))
	if err := a.Run(); err != nil {
		logrus.DefaultLogger().Fatal(err)
	}
}

func envOr(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
